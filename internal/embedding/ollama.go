package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
)

// OllamaEmbedder embeds text with an Ollama embedding model, one call per text.
type OllamaEmbedder struct {
	client embeddings.EmbedderClient
	model  string
	logger *zap.Logger
}

// OllamaOption configures an OllamaEmbedder.
type OllamaOption func(*OllamaEmbedder)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) OllamaOption {
	return func(e *OllamaEmbedder) { e.logger = l }
}

// withClient replaces the model client; used by tests.
func withClient(c embeddings.EmbedderClient) OllamaOption {
	return func(e *OllamaEmbedder) { e.client = c }
}

// NewOllamaEmbedder creates an embedder for model served at baseURL.
func NewOllamaEmbedder(baseURL, model string, opts ...OllamaOption) (*OllamaEmbedder, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	e := &OllamaEmbedder{model: model}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		e.client = llm
	}
	return e, nil
}

// Embed returns the embedding of text. Any failure, including an empty vector,
// is reported as ErrEmbeddingUnavailable.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.client.CreateEmbedding(ctx, []string{text})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: model %s: %w", ErrEmbeddingUnavailable, e.model, ctxErr)
		}
		return nil, fmt.Errorf("%w: model %s: %w", ErrEmbeddingUnavailable, e.model, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: model %s returned no vector", ErrEmbeddingUnavailable, e.model)
	}
	if e.logger != nil {
		e.logger.Debug("embedded text", zap.String("model", e.model), zap.Int("chars", len(text)), zap.Int("dim", len(vectors[0])))
	}
	return vectors[0], nil
}

// Model returns the configured model name.
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// Close is a no-op; the underlying HTTP client holds no resources to release.
func (e *OllamaEmbedder) Close() error {
	return nil
}
