// Package embedding turns text into fixed-length float vectors. It abstracts
// over multiple backends (gateway proxy, hosted API, local embedding server)
// selected by configuration.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the configured backend is unreachable or returned
	// a non-success status. Retryable by the caller.
	ErrUnavailable = errors.New("embedding backend unavailable")

	// ErrDimensionMismatch means the backend cannot produce (or be normalized
	// to) the required dimensionality. Operator configuration error.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider generates embeddings for batches of text. Implementations that
// only support single-item requests must fan out internally and return
// results in input order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimensions() int
}
