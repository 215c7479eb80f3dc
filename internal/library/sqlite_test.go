package library

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askspm/backend/internal/storage/models"
	"github.com/askspm/backend/internal/storage/sqlite"
)

func newSQLiteLibrary(t *testing.T) *SQLiteLibrary {
	t.Helper()

	client, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.InitSchema())

	return NewSQLiteLibrary(client, testParams())
}

func TestSQLiteLookupAndStore(t *testing.T) {
	lib := newSQLiteLibrary(t)
	ctx := context.Background()

	_, hit, err := lib.Lookup(ctx, []float32{1, 0}, 0.92)
	require.NoError(t, err)
	assert.False(t, hit)

	stored, err := lib.Store(ctx, "what is a clawback?", []float32{1, 0}, "A clawback...")
	require.NoError(t, err)
	assert.Equal(t, 0.5, stored.Confidence)

	entry, hit, err := lib.Lookup(ctx, []float32{1, 0}, 0.92)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, stored.ID, entry.ID)
	assert.Equal(t, "A clawback...", entry.Answer)

	// Below threshold stays a miss even though an entry exists.
	_, hit, err = lib.Lookup(ctx, []float32{0, 1}, 0.92)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSQLiteUpdateConfidence(t *testing.T) {
	lib := newSQLiteLibrary(t)
	ctx := context.Background()

	stored, err := lib.Store(ctx, "q", []float32{1, 0}, "a")
	require.NoError(t, err)

	confidence, err := lib.UpdateConfidence(ctx, stored.ID, models.PolarityUp)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, confidence, 1e-9)

	confidence, err = lib.UpdateConfidence(ctx, stored.ID, models.PolarityDown)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, confidence, 1e-9)

	_, err = lib.UpdateConfidence(ctx, "missing", models.PolarityUp)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}
