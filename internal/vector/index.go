// Package vector provides the vector index abstraction over in-process and external similarity stores.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kensaku/internal/models"
)

// ErrIndexUnavailable is returned when the vector store cannot be reached or rejects an operation.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// ErrChunkTooLarge is returned when a chunk exceeds what the backend can store.
// Retrying does not help; the document has to be split differently or not indexed.
var ErrChunkTooLarge = errors.New("chunk too large for vector index")

// Index stores chunk vectors and answers nearest-neighbour queries. The store is the
// only record of which chunks exist.
type Index interface {
	// EnsureReady initializes the backing collection. It is safe to call repeatedly
	// and concurrently; once it has succeeded further calls are no-ops.
	EnsureReady(ctx context.Context) error
	// Add stores all chunks or none. Every chunk must carry an embedding.
	Add(ctx context.Context, chunks []*models.Chunk) error
	// Query returns at most k matches ordered by ascending distance.
	Query(ctx context.Context, vector []float32, k int) ([]*Match, error)
	// DeleteByDocument removes every chunk whose metadata names documentID.
	// Deleting a document with no chunks is not an error.
	DeleteByDocument(ctx context.Context, documentID string) error
	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Match is a single query hit.
type Match struct {
	ID       string
	Content  string
	Metadata models.ChunkMetadata
	Distance float64
}

// validateChunks rejects batches the index must never store.
func validateChunks(chunks []*models.Chunk) error {
	dim := 0
	for _, ch := range chunks {
		if ch == nil {
			return fmt.Errorf("nil chunk")
		}
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", ch.ID)
		}
		if dim == 0 {
			dim = len(ch.Embedding)
		} else if len(ch.Embedding) != dim {
			return fmt.Errorf("chunk %s: embedding dimension %d, batch uses %d", ch.ID, len(ch.Embedding), dim)
		}
	}
	return nil
}
