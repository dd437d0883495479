// Package search retrieves relevant chunks for a question and turns them into an answer.
package search

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/vector"
	"go.uber.org/zap"
)

// UnknownDocument is reported for matches that carry no document name.
const UnknownDocument = "Unknown"

// Retriever embeds a query and returns the nearest chunks.
type Retriever struct {
	embedder embedding.Embedder
	index    vector.Index
	logger   *zap.Logger
}

// NewRetriever creates a retriever. logger may be nil.
func NewRetriever(embedder embedding.Embedder, index vector.Index, logger *zap.Logger) *Retriever {
	return &Retriever{embedder: embedder, index: index, logger: logger}
}

// Retrieve returns up to k chunks in index order, nearest first. No match is an
// empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]*models.RetrievalResult, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := r.index.Query(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	results := make([]*models.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		name := m.Metadata.DocumentName
		if name == "" {
			name = UnknownDocument
		}
		results = append(results, &models.RetrievalResult{
			Content:      m.Content,
			DocumentName: name,
			Similarity:   Similarity(m.Distance),
		})
	}
	if r.logger != nil {
		r.logger.Debug("retrieved chunks", zap.Int("k", k), zap.Int("results", len(results)))
	}
	return results, nil
}

// Similarity maps a distance to a score in [0, 1] rounded to four decimals.
func Similarity(distance float64) float64 {
	s := 1 - distance
	if s < 0 || math.IsNaN(s) {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return math.Round(s*10000) / 10000
}
