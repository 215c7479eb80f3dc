// Package feedback records thumbs-up/down submissions against past answers
// and nudges the answer library's confidence scores.
package feedback

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/askspm/backend/internal/library"
	"github.com/askspm/backend/internal/metrics"
	"github.com/askspm/backend/internal/storage/models"
	"github.com/askspm/backend/internal/storage/sqlite"
	"github.com/askspm/backend/pkg/logger"
)

var (
	ErrQueryNotFound     = errors.New("query not found")
	ErrDuplicateFeedback = errors.New("feedback already submitted for this query")
	ErrInvalidPolarity   = errors.New("invalid feedback polarity")
)

// QueryStore is the slice of the storage client the processor needs. It
// reports sqlite.ErrNotFound / sqlite.ErrDuplicate, which the processor maps
// to its own error taxonomy.
type QueryStore interface {
	GetAskQuery(ctx context.Context, id string) (*models.AskQuery, error)
	InsertFeedback(ctx context.Context, fb *models.QueryFeedback) (int64, error)
}

type Submission struct {
	QueryID     string
	Polarity    string
	LibraryID   string
	Comment     string
	Fingerprint string
}

type Result struct {
	FeedbackID    int64
	NewConfidence *float64
}

type Processor struct {
	queries QueryStore
	library library.Library
}

func NewProcessor(queries QueryStore, lib library.Library) *Processor {
	return &Processor{queries: queries, library: lib}
}

// Submit validates and records one feedback event. The confidence nudge on
// the answer library is a secondary side effect: if the referenced entry no
// longer exists the feedback is still recorded and NewConfidence stays nil.
func (p *Processor) Submit(ctx context.Context, sub Submission) (*Result, error) {
	if sub.Polarity != models.PolarityUp && sub.Polarity != models.PolarityDown {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPolarity, sub.Polarity)
	}

	query, err := p.queries.GetAskQuery(ctx, sub.QueryID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, ErrQueryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up query: %w", err)
	}

	feedbackID, err := p.queries.InsertFeedback(ctx, &models.QueryFeedback{
		QueryID:     sub.QueryID,
		LibraryID:   sub.LibraryID,
		Polarity:    sub.Polarity,
		Comment:     sub.Comment,
		Fingerprint: sub.Fingerprint,
	})
	if errors.Is(err, sqlite.ErrDuplicate) {
		return nil, ErrDuplicateFeedback
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}

	metrics.FeedbackTotal.WithLabelValues(sub.Polarity).Inc()

	result := &Result{FeedbackID: feedbackID}

	libraryID := sub.LibraryID
	if libraryID == "" {
		libraryID = query.LibraryID
	}
	if libraryID == "" {
		return result, nil
	}

	confidence, err := p.library.UpdateConfidence(ctx, libraryID, sub.Polarity)
	if err != nil {
		// The feedback row is already recorded; a missing library entry is
		// only a soft warning.
		logger.Warn("Confidence update skipped",
			zap.String("query_id", sub.QueryID),
			zap.String("library_id", libraryID),
			zap.Error(err),
		)
		return result, nil
	}

	metrics.LibraryConfidence.Observe(confidence)
	result.NewConfidence = &confidence
	return result, nil
}
