package knowledge

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/askspm/backend/internal/embedding"
	"github.com/askspm/backend/internal/storage/models"
	"github.com/askspm/backend/pkg/logger"
)

// simEpsilon is the floating-point tolerance under which two similarity
// scores count as tied; ties keep stable ingestion order.
const simEpsilon = 1e-9

// MemoryStore is an in-memory corpus, loaded once at startup in ingestion
// order. The corpus is immutable after construction, so Search needs no
// locking.
type MemoryStore struct {
	cards []models.KnowledgeCard
}

func NewMemoryStore(cards []models.KnowledgeCard) *MemoryStore {
	logger.Info("In-memory knowledge store loaded", zap.Int("cards", len(cards)))
	return &MemoryStore{cards: cards}
}

func (s *MemoryStore) Search(ctx context.Context, queryEmbedding []float32, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(s.cards))
	for _, card := range s.cards {
		if !filter.matches(card) {
			continue
		}
		matches = append(matches, Match{
			Card:       card,
			Similarity: embedding.Cosine(queryEmbedding, card.Embedding),
		})
	}

	// Stable sort preserves ingestion order across equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		if math.Abs(matches[i].Similarity-matches[j].Similarity) <= simEpsilon {
			return false
		}
		return matches[i].Similarity > matches[j].Similarity
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

func (s *MemoryStore) Size() int {
	return len(s.cards)
}
