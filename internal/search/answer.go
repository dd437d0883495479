package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kensaku/internal/llm"
	"github.com/hyperjump/kensaku/internal/metrics"
	"github.com/hyperjump/kensaku/internal/models"
	"go.uber.org/zap"
)

// NoResultsAnswer is returned when no chunk is relevant to the question.
const NoResultsAnswer = "I couldn't find any relevant code in your uploaded documents to answer this question. Please try uploading more code files or rephrasing your question."

// ErrInvalidQuery is returned for blank questions.
var ErrInvalidQuery = errors.New("invalid query")

// Answerer runs retrieval, prompt assembly and generation for one question.
type Answerer struct {
	retriever *Retriever
	generator llm.Generator
	topK      int
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// AnswererOption configures an Answerer.
type AnswererOption func(*Answerer)

// WithTimeout bounds the whole pipeline of a single question.
func WithTimeout(d time.Duration) AnswererOption {
	return func(a *Answerer) { a.timeout = d }
}

// WithMetrics records query outcomes and latency on m.
func WithMetrics(m *metrics.Metrics) AnswererOption {
	return func(a *Answerer) { a.metrics = m }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) AnswererOption {
	return func(a *Answerer) { a.logger = l }
}

// NewAnswerer creates an answerer retrieving topK chunks per question by default.
func NewAnswerer(retriever *Retriever, generator llm.Generator, topK int, opts ...AnswererOption) *Answerer {
	a := &Answerer{retriever: retriever, generator: generator, topK: topK}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Answer answers req.Query from the indexed documents. When nothing relevant is
// indexed it returns NoResultsAnswer without calling the generator.
func (a *Answerer) Answer(ctx context.Context, req *models.QueryRequest) (resp *models.QueryResponse, err error) {
	start := time.Now()
	outcome := metrics.OutcomeAnswered
	defer func() {
		if err != nil {
			outcome = metrics.OutcomeError
		}
		a.metrics.QueryObserved(outcome, time.Since(start))
	}()

	if req == nil {
		return nil, fmt.Errorf("%w: missing request", ErrInvalidQuery)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	k := req.TopK
	if k == 0 {
		k = a.topK
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	results, err := a.retriever.Retrieve(ctx, req.Query, k)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		outcome = metrics.OutcomeNoResults
		return &models.QueryResponse{
			Success:        true,
			Answer:         NoResultsAnswer,
			RelevantChunks: results,
			ProcessingTime: time.Since(start).Milliseconds(),
		}, nil
	}

	chunks := make([]string, len(results))
	for i, r := range results {
		chunks[i] = r.Content
	}
	answer, err := a.generator.Generate(ctx, BuildPrompt(req.Query, chunks))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	if a.logger != nil {
		a.logger.Debug("query answered",
			zap.Int("chunks", len(results)),
			zap.Duration("elapsed", time.Since(start)))
	}
	return &models.QueryResponse{
		Success:        true,
		Answer:         answer,
		RelevantChunks: results,
		ProcessingTime: time.Since(start).Milliseconds(),
	}, nil
}
