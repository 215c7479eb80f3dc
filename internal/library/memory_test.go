package library

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askspm/backend/internal/storage/models"
)

func testParams() Params {
	return Params{
		InitialConfidence: 0.5,
		ConfidenceStep:    0.1,
		ConfidenceMin:     0.0,
		ConfidenceMax:     1.0,
	}
}

func TestStoreAssignsInitialConfidence(t *testing.T) {
	lib := NewMemoryLibrary(testParams())

	entry, err := lib.Store(context.Background(), "what is a clawback?", []float32{1, 0}, "A clawback is...")
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, 0.5, entry.Confidence)
	assert.Equal(t, "A clawback is...", entry.Answer)
}

func TestLookupThreshold(t *testing.T) {
	lib := NewMemoryLibrary(testParams())

	_, err := lib.Store(context.Background(), "q", []float32{1, 0, 0}, "a")
	require.NoError(t, err)

	// Identical embedding scores 1.0 and clears the threshold.
	entry, hit, err := lib.Lookup(context.Background(), []float32{1, 0, 0}, 0.92)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "a", entry.Answer)

	// An orthogonal embedding scores 0 and must miss, not weakly hit.
	_, hit, err = lib.Lookup(context.Background(), []float32{0, 1, 0}, 0.92)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestLookupBumpsHits(t *testing.T) {
	lib := NewMemoryLibrary(testParams())

	_, err := lib.Store(context.Background(), "q", []float32{1, 0}, "a")
	require.NoError(t, err)

	entry, hit, err := lib.Lookup(context.Background(), []float32{1, 0}, 0.9)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, 1, entry.Hits)

	entry, hit, err = lib.Lookup(context.Background(), []float32{1, 0}, 0.9)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, 2, entry.Hits)
}

func TestUpdateConfidenceClampsAtBounds(t *testing.T) {
	lib := NewMemoryLibrary(testParams())

	entry, err := lib.Store(context.Background(), "q", []float32{1, 0}, "a")
	require.NoError(t, err)

	// Six thumbs-up from 0.5 would overshoot 1.0 without clamping.
	var confidence float64
	for i := 0; i < 6; i++ {
		confidence, err = lib.UpdateConfidence(context.Background(), entry.ID, models.PolarityUp)
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, confidence)

	for i := 0; i < 12; i++ {
		confidence, err = lib.UpdateConfidence(context.Background(), entry.ID, models.PolarityDown)
		require.NoError(t, err)
	}
	assert.Equal(t, 0.0, confidence)
}

func TestUpdateConfidenceUnknownEntry(t *testing.T) {
	lib := NewMemoryLibrary(testParams())

	_, err := lib.UpdateConfidence(context.Background(), "nope", models.PolarityUp)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestUpdateConfidenceConcurrent(t *testing.T) {
	lib := NewMemoryLibrary(testParams())

	entry, err := lib.Store(context.Background(), "q", []float32{1, 0}, "a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lib.UpdateConfidence(context.Background(), entry.ID, models.PolarityUp)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	confidence, err := lib.UpdateConfidence(context.Background(), entry.ID, models.PolarityDown)
	require.NoError(t, err)
	assert.Equal(t, 0.9, confidence)
}
