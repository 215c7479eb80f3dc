// Package library is the answer library: a semantic cache mapping previously
// seen questions (by embedding similarity) to previously generated answers,
// with a feedback-driven confidence score.
package library

import (
	"context"
	"errors"

	"github.com/askspm/backend/internal/storage/models"
)

var ErrEntryNotFound = errors.New("answer library entry not found")

// Params are the confidence tuning knobs. Defaults documented in config:
// initial 0.5, step 0.1, range [0, 1].
type Params struct {
	InitialConfidence float64
	ConfidenceStep    float64
	ConfidenceMin     float64
	ConfidenceMax     float64
}

type Library interface {
	// Lookup returns the best entry whose similarity to the question
	// embedding meets threshold. Anything below is a miss, not a weak hit.
	// A hit bumps the entry's hit counter.
	Lookup(ctx context.Context, embedding []float32, threshold float64) (*models.AnswerLibraryEntry, bool, error)

	// Store inserts a fresh entry at the configured initial confidence.
	Store(ctx context.Context, question string, embedding []float32, answer string) (*models.AnswerLibraryEntry, error)

	// UpdateConfidence nudges confidence by one configured step, clamped to
	// the valid range, atomically with respect to concurrent updates on the
	// same entry. Returns the new confidence or ErrEntryNotFound.
	UpdateConfidence(ctx context.Context, entryID string, polarity string) (float64, error)
}

func (p Params) delta(polarity string) float64 {
	if polarity == models.PolarityDown {
		return -p.ConfidenceStep
	}
	return p.ConfidenceStep
}
