// Package indexer splits documents into chunks, embeds them, and ingests them into the vector index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/extract"
	"github.com/hyperjump/kensaku/internal/metrics"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vector"
	"go.uber.org/zap"
)

// ErrInvalidDocument is returned for input that cannot be ingested.
var ErrInvalidDocument = errors.New("invalid document")

// Indexer stores documents and keeps their embedded chunks in the vector index.
type Indexer struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	index        vector.Index
	chunker      *Chunker
	extractor    *extract.Extractor
	metrics      *metrics.Metrics
	retryPolicy  RetryPolicy
	embedTimeout time.Duration
	logger       *zap.Logger // optional; when set, logs debug events
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithMetrics records ingested documents and chunks on m.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithRetry retries transient embedding and index failures.
func WithRetry(p RetryPolicy) IndexerOption {
	return func(idx *Indexer) { idx.retryPolicy = p }
}

// WithEmbedTimeout bounds each embedding call. Zero leaves calls bounded only by
// the caller's context.
func WithEmbedTimeout(d time.Duration) IndexerOption {
	return func(idx *Indexer) { idx.embedTimeout = d }
}

// NewIndexer creates an indexer with the given dependencies.
// extractor may be nil; files are then read as plain text.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	index vector.Index,
	chunker *Chunker,
	extractor *extract.Extractor,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:   store,
		embedder:  embedder,
		index:     index,
		chunker:   chunker,
		extractor: extractor,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Ingest stores input and indexes its chunks. When a document with the same name
// already exists it is returned unchanged with created=false.
// Ingestion is all-or-nothing: if embedding or indexing fails the stored document is removed.
func (idx *Indexer) Ingest(ctx context.Context, input *models.DocumentInput) (doc *models.Document, created bool, err error) {
	if input == nil || strings.TrimSpace(input.Name) == "" {
		return nil, false, fmt.Errorf("%w: name is required", ErrInvalidDocument)
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, false, fmt.Errorf("%w: %s is empty", ErrInvalidDocument, input.Name)
	}
	existing, err := idx.storage.GetDocumentByName(ctx, input.Name)
	switch {
	case err == nil:
		if idx.logger != nil {
			idx.logger.Debug("indexer document exists", zap.String("name", input.Name), zap.String("id", existing.ID))
		}
		return existing, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, false, fmt.Errorf("look up document %q: %w", input.Name, err)
	}

	fileType := input.FileType
	if fileType == "" {
		fileType = extract.DetectFileType(input.Name, input.Content)
	}
	doc = &models.Document{
		ID:        uuid.NewString(),
		Name:      input.Name,
		Content:   input.Content,
		FileType:  fileType,
		CreatedAt: time.Now().UTC(),
	}
	if err := idx.storage.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			// Lost a race with a concurrent upload of the same name.
			existing, getErr := idx.storage.GetDocumentByName(ctx, input.Name)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("store document %q: %w", input.Name, err)
	}

	n, err := idx.indexChunks(ctx, doc)
	if err != nil {
		idx.rollback(ctx, doc.ID)
		return nil, false, err
	}
	idx.metrics.DocumentIngested(n)
	if idx.logger != nil {
		idx.logger.Debug("indexer document ingested",
			zap.String("id", doc.ID),
			zap.String("name", doc.Name),
			zap.String("file_type", doc.FileType),
			zap.Int("chunks", n))
	}
	return doc, true, nil
}

func (idx *Indexer) indexChunks(ctx context.Context, doc *models.Document) (int, error) {
	if err := idx.retry(ctx, idx.index.EnsureReady); err != nil {
		return 0, fmt.Errorf("prepare vector index: %w", err)
	}
	chunks, err := idx.EmbedDocument(ctx, doc.ID, doc.Content, doc.Name, doc.FileType)
	if err != nil {
		return 0, err
	}
	err = idx.retry(ctx, func(ctx context.Context) error {
		return idx.index.Add(ctx, chunks)
	})
	if err != nil {
		return 0, fmt.Errorf("add %d chunks of document %s: %w", len(chunks), doc.ID, err)
	}
	return len(chunks), nil
}

// rollback removes a stored document whose chunks could not be indexed. It runs
// even when ctx is already cancelled.
func (idx *Indexer) rollback(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	if err := idx.storage.DeleteDocument(ctx, id); err != nil && idx.logger != nil {
		idx.logger.Warn("indexer rollback failed", zap.String("id", id), zap.Error(err))
	}
}

// IngestFile extracts the file at path and ingests it under its base name.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*models.Document, bool, error) {
	input, err := idx.readFile(path)
	if err != nil {
		return nil, false, err
	}
	return idx.Ingest(ctx, input)
}

// Replace swaps the document named input.Name for input. The new version is fully
// indexed before the old one is removed, so a failed replace leaves the previous
// version searchable. An unknown name is a plain ingest.
func (idx *Indexer) Replace(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: nil input", ErrInvalidDocument)
	}
	existing, err := idx.storage.GetDocumentByName(ctx, input.Name)
	if errors.Is(err, storage.ErrNotFound) {
		doc, _, err := idx.Ingest(ctx, input)
		return doc, err
	}
	if err != nil {
		return nil, fmt.Errorf("look up document %q: %w", input.Name, err)
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidDocument, input.Name)
	}

	fileType := input.FileType
	if fileType == "" {
		fileType = extract.DetectFileType(input.Name, input.Content)
	}
	doc := &models.Document{
		ID:       uuid.NewString(),
		Name:     input.Name,
		Content:  input.Content,
		FileType: fileType,
	}
	n, err := idx.indexChunks(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("replace %q: %w", input.Name, err)
	}
	if err := idx.storage.ReplaceDocument(ctx, existing.ID, doc); err != nil {
		idx.dropChunks(ctx, doc.ID)
		return nil, fmt.Errorf("replace %q: %w", input.Name, err)
	}
	err = idx.retry(ctx, func(ctx context.Context) error {
		return idx.index.DeleteByDocument(ctx, existing.ID)
	})
	if err != nil {
		return doc, fmt.Errorf("delete chunks of replaced document %s: %w", existing.ID, err)
	}
	idx.metrics.DocumentIngested(n)
	if idx.logger != nil {
		idx.logger.Debug("indexer document replaced",
			zap.String("old_id", existing.ID),
			zap.String("id", doc.ID),
			zap.String("name", doc.Name),
			zap.Int("chunks", n))
	}
	return doc, nil
}

// dropChunks removes chunks that were added for a document that never got stored.
func (idx *Indexer) dropChunks(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	if err := idx.index.DeleteByDocument(ctx, id); err != nil && idx.logger != nil {
		idx.logger.Warn("indexer chunk cleanup failed", zap.String("id", id), zap.Error(err))
	}
}

// ReplaceFile re-ingests the file at path, replacing the previous version.
func (idx *Indexer) ReplaceFile(ctx context.Context, path string) (*models.Document, error) {
	input, err := idx.readFile(path)
	if err != nil {
		return nil, err
	}
	return idx.Replace(ctx, input)
}

func (idx *Indexer) readFile(path string) (*models.DocumentInput, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrInvalidDocument, path)
	}
	var text string
	if idx.extractor != nil {
		text, err = idx.extractor.Extract(path)
	} else {
		var b []byte
		b, err = os.ReadFile(path)
		text = string(b)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	return &models.DocumentInput{Name: filepath.Base(path), Content: text}, nil
}

// IngestDirectory walks dir and ingests each regular file whose extension is in
// allowedExts (all files when empty), skipping version control and dependency
// directories. It returns the number of documents created and stops at the first error.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", dir)
	}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != dir && SkippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ExtensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		_, created, ingestErr := idx.IngestFile(ctx, path)
		if ingestErr != nil {
			return ingestErr
		}
		if created {
			n++
		}
		return nil
	})
	return n, err
}

// skippedDirs are version control and dependency directories that are never ingested.
var skippedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
}

// SkippedDir reports whether a directory with this base name is left out of ingestion.
func SkippedDir(name string) bool {
	return skippedDirs[name]
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and the leading dot.
// An empty allowed list admits every extension.
func ExtensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// Delete removes a document's chunks from the vector index and then the document itself.
// It returns storage.ErrNotFound when id is unknown.
func (idx *Indexer) Delete(ctx context.Context, id string) error {
	if _, err := idx.storage.GetDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	err := idx.retry(ctx, func(ctx context.Context) error {
		return idx.index.DeleteByDocument(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete chunks of document %s: %w", id, err)
	}
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer document deleted", zap.String("id", id))
	}
	return nil
}

// DeleteByName deletes the document with the given name.
func (idx *Indexer) DeleteByName(ctx context.Context, name string) error {
	doc, err := idx.storage.GetDocumentByName(ctx, name)
	if err != nil {
		return fmt.Errorf("delete document %q: %w", name, err)
	}
	return idx.Delete(ctx, doc.ID)
}
