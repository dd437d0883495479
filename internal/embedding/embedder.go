// Package embedding converts text into fixed-length vectors through an external model.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingUnavailable is returned when the embedding model cannot be reached or
// returns no usable vector. It is never papered over with a fallback vector.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}
