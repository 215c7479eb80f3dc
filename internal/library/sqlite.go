package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askspm/backend/internal/embedding"
	"github.com/askspm/backend/internal/storage/models"
	"github.com/askspm/backend/internal/storage/sqlite"
	"github.com/askspm/backend/pkg/logger"
)

// SQLiteLibrary persists entries in SQLite. Similarity scan happens in
// process; the confidence adjustment is a single atomic UPDATE in the
// database, never a load-modify-save.
type SQLiteLibrary struct {
	db     *sqlite.Client
	params Params
}

func NewSQLiteLibrary(db *sqlite.Client, params Params) *SQLiteLibrary {
	return &SQLiteLibrary{db: db, params: params}
}

func (l *SQLiteLibrary) Lookup(ctx context.Context, queryEmbedding []float32, threshold float64) (*models.AnswerLibraryEntry, bool, error) {
	entries, err := l.db.ListLibraryEntries(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan answer library: %w", err)
	}

	var best *models.AnswerLibraryEntry
	bestSim := -1.0
	for i := range entries {
		sim := embedding.Cosine(queryEmbedding, entries[i].Embedding)
		if sim > bestSim {
			bestSim = sim
			best = &entries[i]
		}
	}

	if best == nil || bestSim < threshold {
		return nil, false, nil
	}

	if err := l.db.BumpLibraryHits(ctx, best.ID); err != nil {
		logger.Warn("Failed to bump library hits", zap.String("entry_id", best.ID), zap.Error(err))
	}

	logger.Debug("Answer library hit",
		zap.String("entry_id", best.ID),
		zap.Float64("similarity", bestSim),
	)
	return best, true, nil
}

func (l *SQLiteLibrary) Store(ctx context.Context, question string, queryEmbedding []float32, answer string) (*models.AnswerLibraryEntry, error) {
	now := time.Now()
	entry := &models.AnswerLibraryEntry{
		ID:         uuid.New().String(),
		Question:   question,
		Embedding:  queryEmbedding,
		Answer:     answer,
		Confidence: l.params.InitialConfidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := l.db.InsertLibraryEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (l *SQLiteLibrary) UpdateConfidence(ctx context.Context, entryID string, polarity string) (float64, error) {
	confidence, err := l.db.AdjustLibraryConfidence(ctx, entryID,
		l.params.delta(polarity), l.params.ConfidenceMin, l.params.ConfidenceMax)
	if errors.Is(err, sqlite.ErrNotFound) {
		return 0, ErrEntryNotFound
	}
	if err != nil {
		return 0, err
	}

	logger.Debug("Library confidence updated",
		zap.String("entry_id", entryID),
		zap.String("polarity", polarity),
		zap.Float64("confidence", confidence),
	)
	return confidence, nil
}
