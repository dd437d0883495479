// Package server provides the HTTP API for kensaku.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/extract"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/metrics"
	"github.com/hyperjump/kensaku/internal/search"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vector"
	"go.uber.org/zap"
)

// WatchService manages watched directories. *watcher.Watcher implements it.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// HealthChecker reports whether the model server is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) ([]string, error)
}

// Server is the HTTP server for the kensaku API.
type Server struct {
	indexer    *indexer.Indexer
	answerer   *search.Answerer
	storage    storage.Storage
	index      vector.Index
	extractor  *extract.Extractor
	config     *config.Config
	configPath string
	configMu   sync.Mutex
	watch      WatchService
	health     HealthChecker
	metrics    *metrics.Metrics
	logger     *zap.Logger
	server     *http.Server
}

// ServerOption configures optional Server dependencies.
type ServerOption func(*Server)

// WithWatch enables the watch directory endpoints. Changes are saved to configPath when it is set.
func WithWatch(w WatchService, configPath string) ServerOption {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// WithHealthChecker includes model server reachability in /health and /api/status.
func WithHealthChecker(h HealthChecker) ServerOption {
	return func(s *Server) { s.health = h }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	idx *indexer.Indexer,
	answerer *search.Answerer,
	store storage.Storage,
	index vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		indexer:   idx,
		answerer:  answerer,
		storage:   store,
		index:     index,
		extractor: extract.NewExtractor(cfg.Server.MaxUploadBytes),
		config:    cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with all API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// Uploads embed chunk by chunk with a timeout on every model call, so the
	// request as a whole has no deadline.
	r.Post("/api/documents/upload", s.handleUpload)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.Ollama.Timeout + 30*time.Second))
		r.Get("/health", s.handleHealth)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		}
		r.Get("/api/documents", s.handleListDocuments)
		r.Get("/api/documents/{id}", s.handleGetDocument)
		r.Delete("/api/documents/{id}", s.handleDeleteDocument)
		r.Post("/api/query", s.handleQuery)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/api/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/api/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
