package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askspm/backend/pkg/config"
)

// fakeEmbedServer mimics the single-text local embedding API. The returned
// vector encodes the input length so tests can verify ordering.
func fakeEmbedServer(t *testing.T, dims int, requests *int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*requests++
		mu.Unlock()

		var req localEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vec := make([]float32, dims)
		vec[0] = float32(len(req.Text))
		json.NewEncoder(w).Encode(localEmbedResponse{
			Embedding:  vec,
			Model:      req.Model,
			Dimensions: dims,
		})
	}))
}

func localConfig(url string, dims int, normalize bool) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		LocalURL:         url,
		Model:            "test-embed",
		TargetDimensions: dims,
		NormalizeDims:    normalize,
		TimeoutSec:       5,
	}
}

func TestAdapterBackendPrecedence(t *testing.T) {
	cfg := config.EmbeddingConfig{
		GatewayURL:       "https://gateway.example.com/v1",
		GatewayAPIKey:    "gw-key",
		APIKey:           "api-key",
		LocalURL:         "http://localhost:8089",
		Model:            "test-embed",
		TargetDimensions: 4,
	}

	adapter, err := NewAdapter(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "gateway", adapter.Backend())

	cfg.GatewayURL = ""
	adapter, err = NewAdapter(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", adapter.Backend())

	cfg.APIKey = ""
	adapter, err = NewAdapter(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "local", adapter.Backend())

	cfg.LocalURL = ""
	_, err = NewAdapter(cfg, nil)
	assert.Error(t, err)
}

func TestEmbedTextsPreservesOrder(t *testing.T) {
	var requests int
	server := fakeEmbedServer(t, 4, &requests)
	defer server.Close()

	adapter, err := NewAdapter(localConfig(server.URL, 4, true), nil)
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc"}
	vecs, err := adapter.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, float32(3), vecs[2][0])
	assert.Equal(t, 3, requests)
}

func TestEmbedQueryNormalizesDimensions(t *testing.T) {
	var requests int
	server := fakeEmbedServer(t, 8, &requests)
	defer server.Close()

	adapter, err := NewAdapter(localConfig(server.URL, 4, true), nil)
	require.NoError(t, err)

	vec, err := adapter.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestEmbedQueryDimensionMismatch(t *testing.T) {
	var requests int
	server := fakeEmbedServer(t, 8, &requests)
	defer server.Close()

	adapter, err := NewAdapter(localConfig(server.URL, 4, false), nil)
	require.NoError(t, err)

	_, err = adapter.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]float32
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]float32)}
}

func (c *mapCache) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.data[key]
	return vec, ok, nil
}

func (c *mapCache) SetEmbedding(ctx context.Context, key string, embedding []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = embedding
	return nil
}

func TestEmbedQueryUsesCache(t *testing.T) {
	var requests int
	server := fakeEmbedServer(t, 4, &requests)
	defer server.Close()

	adapter, err := NewAdapter(localConfig(server.URL, 4, true), newMapCache())
	require.NoError(t, err)

	first, err := adapter.EmbedQuery(context.Background(), "repeat me")
	require.NoError(t, err)
	assert.Equal(t, 1, requests)

	second, err := adapter.EmbedQuery(context.Background(), "repeat me")
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
	assert.Equal(t, first, second)
}

func TestEmbedQueryBackendDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter, err := NewAdapter(localConfig(server.URL, 4, true), nil)
	require.NoError(t, err)

	_, err = adapter.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
}
