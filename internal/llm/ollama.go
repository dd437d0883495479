package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
)

// Sampling parameters used for every completion.
const (
	Temperature = 0.7
	TopP        = 0.9
	TopK        = 40
)

// OllamaGenerator completes prompts with a model served by Ollama.
type OllamaGenerator struct {
	model   llms.Model
	name    string
	baseURL string
	http    *resty.Client
	logger  *zap.Logger
}

// OllamaOption configures an OllamaGenerator.
type OllamaOption func(*OllamaGenerator)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) OllamaOption {
	return func(g *OllamaGenerator) { g.logger = l }
}

// WithTimeout bounds Ping requests.
func WithTimeout(d time.Duration) OllamaOption {
	return func(g *OllamaGenerator) { g.http.SetTimeout(d) }
}

// withModel replaces the langchaingo model; used by tests.
func withModel(m llms.Model) OllamaOption {
	return func(g *OllamaGenerator) { g.model = m }
}

// NewOllamaGenerator returns a generator for model on the Ollama server at baseURL.
func NewOllamaGenerator(baseURL, model string, opts ...OllamaOption) (*OllamaGenerator, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	g := &OllamaGenerator{
		name:    model,
		baseURL: baseURL,
		http:    resty.New().SetBaseURL(baseURL).SetTimeout(5 * time.Second),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.model == nil {
		llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		g.model = llm
	}
	return g, nil
}

// Generate sends prompt as a single user message and returns the completion text.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	answer, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt,
		llms.WithTemperature(Temperature),
		llms.WithTopP(TopP),
		llms.WithTopK(TopK),
	)
	if err != nil {
		return "", fmt.Errorf("%w: generate with %s: %w", ErrGenerationUnavailable, g.name, err)
	}
	if g.logger != nil {
		g.logger.Debug("llm generated answer",
			zap.String("model", g.name),
			zap.Int("prompt_chars", len(prompt)),
			zap.Int("answer_chars", len(answer)),
			zap.Duration("elapsed", time.Since(start)))
	}
	return answer, nil
}

// Model returns the model name.
func (g *OllamaGenerator) Model() string {
	return g.name
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Ping checks that the model server answers GET /api/tags and returns the names
// of the installed models.
func (g *OllamaGenerator) Ping(ctx context.Context) ([]string, error) {
	var tags tagsResponse
	resp, err := g.http.R().SetContext(ctx).SetResult(&tags).Get("/api/tags")
	if err != nil {
		return nil, fmt.Errorf("%w: ping %s: %w", ErrGenerationUnavailable, g.baseURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: ping %s: status %d", ErrGenerationUnavailable, g.baseURL, resp.StatusCode())
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
