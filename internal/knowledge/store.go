// Package knowledge holds the retrievable corpus of pre-embedded knowledge
// cards and serves similarity search over it.
package knowledge

import (
	"context"

	"github.com/askspm/backend/internal/storage/models"
)

// Filter narrows a search to a taxonomy slice. Empty fields match everything.
type Filter struct {
	Pillar   string
	Category string
}

// Match is one search result, most similar first.
type Match struct {
	Card       models.KnowledgeCard
	Similarity float64
}

// Store serves read-only similarity search over the card corpus.
type Store interface {
	Search(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Match, error)
}

func (f Filter) matches(card models.KnowledgeCard) bool {
	if f.Pillar != "" && card.Pillar != f.Pillar {
		return false
	}
	if f.Category != "" && card.Category != f.Category {
		return false
	}
	return true
}
