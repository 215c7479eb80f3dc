package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askspm/backend/internal/storage/models"
)

func card(id string, embedding []float32, pillar, category string) models.KnowledgeCard {
	return models.KnowledgeCard{
		ID:        id,
		Keyword:   id,
		Content:   "content for " + id,
		Embedding: embedding,
		Pillar:    pillar,
		Category:  category,
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	store := NewMemoryStore([]models.KnowledgeCard{
		card("far", []float32{0, 1, 0}, "comp", ""),
		card("close", []float32{1, 0.1, 0}, "comp", ""),
		card("exact", []float32{1, 0, 0}, "comp", ""),
	})

	matches, err := store.Search(context.Background(), []float32{1, 0, 0}, 3, Filter{})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "exact", matches[0].Card.ID)
	assert.Equal(t, "close", matches[1].Card.ID)
	assert.Equal(t, "far", matches[2].Card.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
	assert.Greater(t, matches[1].Similarity, matches[2].Similarity)
}

func TestSearchTiesKeepIngestionOrder(t *testing.T) {
	// Identical embeddings produce identical scores; the earlier card must
	// come first no matter how many times we search.
	vec := []float32{0.5, 0.5, 0}
	store := NewMemoryStore([]models.KnowledgeCard{
		card("first", vec, "", ""),
		card("second", vec, "", ""),
		card("third", vec, "", ""),
	})

	for i := 0; i < 10; i++ {
		matches, err := store.Search(context.Background(), []float32{1, 1, 0}, 3, Filter{})
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, "first", matches[0].Card.ID)
		assert.Equal(t, "second", matches[1].Card.ID)
		assert.Equal(t, "third", matches[2].Card.ID)
	}
}

func TestSearchTruncatesToTopK(t *testing.T) {
	store := NewMemoryStore([]models.KnowledgeCard{
		card("a", []float32{1, 0}, "", ""),
		card("b", []float32{0.9, 0.1}, "", ""),
		card("c", []float32{0.8, 0.2}, "", ""),
	})

	matches, err := store.Search(context.Background(), []float32{1, 0}, 2, Filter{})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSearchFiltersByPillarAndCategory(t *testing.T) {
	store := NewMemoryStore([]models.KnowledgeCard{
		card("comp-claw", []float32{1, 0}, "compensation", "clawbacks"),
		card("comp-quota", []float32{1, 0}, "compensation", "quotas"),
		card("territory", []float32{1, 0}, "territory", "design"),
	})

	matches, err := store.Search(context.Background(), []float32{1, 0}, 10, Filter{Pillar: "compensation"})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	matches, err = store.Search(context.Background(), []float32{1, 0}, 10, Filter{
		Pillar:   "compensation",
		Category: "clawbacks",
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "comp-claw", matches[0].Card.ID)
}

func TestSearchEmptyCorpus(t *testing.T) {
	store := NewMemoryStore(nil)

	matches, err := store.Search(context.Background(), []float32{1, 0}, 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchZeroTopK(t *testing.T) {
	store := NewMemoryStore([]models.KnowledgeCard{
		card("a", []float32{1, 0}, "", ""),
	})

	matches, err := store.Search(context.Background(), []float32{1, 0}, 0, Filter{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}
