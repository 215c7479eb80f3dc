package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/askspm/backend/pkg/circuitbreaker"
	"github.com/askspm/backend/pkg/config"
	"github.com/askspm/backend/pkg/logger"
	"github.com/askspm/backend/pkg/retry"
	"github.com/askspm/backend/pkg/utils"
)

// Cache stores embeddings by content hash so repeated questions skip the
// backend entirely. A nil cache disables caching.
type Cache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32) error
}

// Adapter wraps the selected Provider with dimension enforcement, caching,
// retries and a circuit breaker. Backend precedence when several are
// configured: gateway, then hosted API, then the local server.
type Adapter struct {
	provider    Provider
	backend     string
	targetDims  int
	normalize   bool
	timeout     time.Duration
	cache       Cache
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewAdapter(cfg config.EmbeddingConfig, cache Cache) (*Adapter, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	var provider Provider
	var backend string

	switch {
	case cfg.GatewayURL != "":
		provider = NewOpenAIProvider(cfg.GatewayAPIKey, cfg.GatewayURL, cfg.Model, cfg.TargetDimensions)
		backend = "gateway"
	case cfg.APIKey != "":
		provider = NewOpenAIProvider(cfg.APIKey, "", cfg.Model, cfg.TargetDimensions)
		backend = "openai"
	case cfg.LocalURL != "":
		provider = NewLocalProvider(cfg.LocalURL, cfg.Model, cfg.TargetDimensions, timeout)
		backend = "local"
	default:
		return nil, fmt.Errorf("no embedding backend configured")
	}

	cb := circuitbreaker.New("embedding", circuitbreaker.Config{
		MaxRequests:      5,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	logger.Info("Embedding adapter initialized",
		zap.String("backend", backend),
		zap.String("model", cfg.Model),
		zap.Int("target_dimensions", cfg.TargetDimensions),
	)

	return &Adapter{
		provider:    provider,
		backend:     backend,
		targetDims:  cfg.TargetDimensions,
		normalize:   cfg.NormalizeDims,
		timeout:     timeout,
		cache:       cache,
		cb:          cb,
		retryConfig: retry.DefaultConfig(),
	}, nil
}

// EmbedQuery embeds a single text.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds a batch, returning vectors in input order. Cached texts
// are served without touching the backend.
func (a *Adapter) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vec, ok := a.cached(ctx, text); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var fetched [][]float32
	err := a.cb.Execute(ctx, func() error {
		return retry.Do(ctx, a.retryConfig, func() error {
			var err error
			fetched, err = a.provider.Embed(ctx, missing)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for j, vec := range fetched {
		vec, err := a.enforceDimensions(vec)
		if err != nil {
			return nil, err
		}
		results[missingIdx[j]] = vec
		a.store(ctx, missing[j], vec)
	}

	return results, nil
}

func (a *Adapter) Model() string {
	return a.provider.Model()
}

func (a *Adapter) Dimensions() int {
	return a.targetDims
}

func (a *Adapter) Backend() string {
	return a.backend
}

func (a *Adapter) enforceDimensions(vec []float32) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: backend returned empty vector", ErrUnavailable)
	}
	if a.targetDims <= 0 || len(vec) == a.targetDims {
		return vec, nil
	}
	if !a.normalize {
		return nil, fmt.Errorf("%w: backend produced %d dimensions, corpus requires %d",
			ErrDimensionMismatch, len(vec), a.targetDims)
	}
	return Normalize(vec, a.targetDims), nil
}

func (a *Adapter) cached(ctx context.Context, text string) ([]float32, bool) {
	if a.cache == nil {
		return nil, false
	}

	vec, ok, err := a.cache.GetEmbedding(ctx, utils.HashString(a.provider.Model()+":"+text))
	if err != nil {
		logger.Warn("Embedding cache lookup failed", zap.Error(err))
		return nil, false
	}
	return vec, ok
}

func (a *Adapter) store(ctx context.Context, text string, vec []float32) {
	if a.cache == nil {
		return
	}

	if err := a.cache.SetEmbedding(ctx, utils.HashString(a.provider.Model()+":"+text), vec); err != nil {
		logger.Warn("Embedding cache store failed", zap.Error(err))
	}
}
