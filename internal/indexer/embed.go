package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/models"
)

// EmbedDocument splits text and embeds every chunk in order. It returns either all
// chunks, each with its embedding and metadata, or an error naming the failing chunk.
func (idx *Indexer) EmbedDocument(ctx context.Context, documentID, text, name, fileType string) ([]*models.Chunk, error) {
	pieces := idx.chunker.Split(text)
	chunks := make([]*models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embed document %s: chunk %d: %w", documentID, i, err)
		}
		var vec []float32
		err := idx.retry(ctx, func(ctx context.Context) error {
			var embedErr error
			vec, embedErr = idx.embedChunk(ctx, piece)
			return embedErr
		})
		if err != nil {
			return nil, fmt.Errorf("embed document %s: chunk %d: %w", documentID, i, err)
		}
		chunks = append(chunks, &models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Index:      i,
			Content:    piece,
			Embedding:  vec,
			Metadata: models.ChunkMetadata{
				DocumentID:   documentID,
				DocumentName: name,
				FileType:     fileType,
				ChunkIndex:   i,
			},
		})
	}
	return chunks, nil
}

// embedChunk embeds one chunk under the per-call timeout. A call that runs out its
// own deadline while ctx is still live counts as the model being unavailable.
func (idx *Indexer) embedChunk(ctx context.Context, text string) ([]float32, error) {
	if idx.embedTimeout <= 0 {
		return idx.embedder.Embed(ctx, text)
	}
	callCtx, cancel := context.WithTimeout(ctx, idx.embedTimeout)
	defer cancel()
	vec, err := idx.embedder.Embed(callCtx, text)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: embedding call exceeded %s: %w", embedding.ErrEmbeddingUnavailable, idx.embedTimeout, err)
	}
	return vec, err
}
