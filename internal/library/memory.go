package library

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askspm/backend/internal/embedding"
	"github.com/askspm/backend/internal/storage/models"
)

// MemoryLibrary keeps entries in process memory. Used in tests and in
// deployments without a database.
type MemoryLibrary struct {
	mu      sync.Mutex
	entries map[string]*models.AnswerLibraryEntry
	params  Params
}

func NewMemoryLibrary(params Params) *MemoryLibrary {
	return &MemoryLibrary{
		entries: make(map[string]*models.AnswerLibraryEntry),
		params:  params,
	}
}

func (l *MemoryLibrary) Lookup(ctx context.Context, queryEmbedding []float32, threshold float64) (*models.AnswerLibraryEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var best *models.AnswerLibraryEntry
	bestSim := -1.0
	for _, entry := range l.entries {
		sim := embedding.Cosine(queryEmbedding, entry.Embedding)
		if sim > bestSim {
			bestSim = sim
			best = entry
		}
	}

	if best == nil || bestSim < threshold {
		return nil, false, nil
	}

	best.Hits++
	cp := *best
	return &cp, true, nil
}

func (l *MemoryLibrary) Store(ctx context.Context, question string, queryEmbedding []float32, answer string) (*models.AnswerLibraryEntry, error) {
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

	l.mu.Lock()
	l.entries[entry.ID] = entry
	l.mu.Unlock()

	cp := *entry
	return &cp, nil
}

func (l *MemoryLibrary) UpdateConfidence(ctx context.Context, entryID string, polarity string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[entryID]
	if !ok {
		return 0, ErrEntryNotFound
	}

	confidence := entry.Confidence + l.params.delta(polarity)
	if confidence < l.params.ConfidenceMin {
		confidence = l.params.ConfidenceMin
	}
	if confidence > l.params.ConfidenceMax {
		confidence = l.params.ConfidenceMax
	}

	entry.Confidence = confidence
	entry.UpdatedAt = time.Now()
	return confidence, nil
}
