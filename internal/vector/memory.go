package vector

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/kensaku/internal/models"
	"go.uber.org/zap"
)

type memoryRecord struct {
	ID       string
	Content  string
	Metadata models.ChunkMetadata
	Vector   []float32
}

// MemoryIndex is an in-process vector index using brute-force distance search.
// When a path is set, contents are loaded on first use and written on Save and Close.
type MemoryIndex struct {
	metric     Metric
	path       string
	dimensions int
	records    []memoryRecord
	closed     bool
	gate       readyGate
	logger     *zap.Logger
	mu         sync.RWMutex
}

// MemoryOption configures a MemoryIndex.
type MemoryOption func(*MemoryIndex)

// WithPath persists the index to path.
func WithPath(path string) MemoryOption {
	return func(m *MemoryIndex) { m.path = path }
}

// WithMetric sets the distance metric (default cosine).
func WithMetric(metric Metric) MemoryOption {
	return func(m *MemoryIndex) { m.metric = metric }
}

// WithMemoryLogger sets a logger for debug output.
func WithMemoryLogger(l *zap.Logger) MemoryOption {
	return func(m *MemoryIndex) { m.logger = l }
}

// NewMemoryIndex creates an empty in-memory index. The dimension is fixed by the first Add.
func NewMemoryIndex(opts ...MemoryOption) *MemoryIndex {
	m := &MemoryIndex{metric: MetricCosine}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureReady loads persisted contents the first time it succeeds.
func (m *MemoryIndex) EnsureReady(ctx context.Context) error {
	return m.gate.Do(ctx, func(context.Context) error {
		if err := m.load(); err != nil {
			return fmt.Errorf("%w: load memory index: %w", ErrIndexUnavailable, err)
		}
		return nil
	})
}

// Add stores all chunks, or none if any chunk is invalid.
func (m *MemoryIndex) Add(ctx context.Context, chunks []*models.Chunk) error {
	if err := validateChunks(chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := m.EnsureReady(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: index closed", ErrIndexUnavailable)
	}
	dim := len(chunks[0].Embedding)
	if m.dimensions != 0 && dim != m.dimensions {
		return fmt.Errorf("%w: vector dimension mismatch: got %d, expected %d", ErrIndexUnavailable, dim, m.dimensions)
	}
	m.dimensions = dim
	for _, ch := range chunks {
		vec := make([]float32, dim)
		copy(vec, ch.Embedding)
		m.records = append(m.records, memoryRecord{
			ID:       ch.ID,
			Content:  ch.Content,
			Metadata: ch.Metadata,
			Vector:   vec,
		})
	}
	if m.logger != nil {
		m.logger.Debug("memory index add", zap.Int("chunks", len(chunks)), zap.Int("size", len(m.records)))
	}
	return nil
}

// Query returns the k nearest records. Ties keep insertion order.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]*Match, error) {
	if err := m.EnsureReady(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("%w: index closed", ErrIndexUnavailable)
	}
	if k <= 0 || len(m.records) == 0 {
		return nil, nil
	}
	if len(vector) != m.dimensions {
		return nil, fmt.Errorf("%w: query dimension mismatch: got %d, expected %d", ErrIndexUnavailable, len(vector), m.dimensions)
	}
	matches := make([]*Match, len(m.records))
	for i, r := range m.records {
		matches[i] = &Match{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Distance: m.metric.Distance(vector, r.Vector),
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// DeleteByDocument removes all records of documentID.
func (m *MemoryIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := m.EnsureReady(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: index closed", ErrIndexUnavailable)
	}
	kept := m.records[:0]
	removed := 0
	for _, r := range m.records {
		if r.Metadata.DocumentID == documentID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	if m.logger != nil {
		m.logger.Debug("memory index delete", zap.String("document_id", documentID), zap.Int("removed", removed))
	}
	return nil
}

// Count returns the number of stored chunks.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	if err := m.EnsureReady(ctx); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Save writes the index to its path. It is a no-op without a path.
func (m *MemoryIndex) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveLocked()
}

// Close saves the index and rejects further operations.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.saveLocked()
}

type memorySnapshot struct {
	Metric     Metric
	Dimensions int
	Records    []memoryRecord
}

func (m *MemoryIndex) saveLocked() error {
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	snap := memorySnapshot{Metric: m.metric, Dimensions: m.dimensions, Records: m.records}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		f.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, m.path)
}

// load replaces the contents with the file at path. A missing file leaves the index empty.
func (m *MemoryIndex) load() error {
	if m.path == "" {
		return nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	var snap memorySnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	if snap.Metric != "" && snap.Metric != m.metric {
		return fmt.Errorf("metric mismatch: file has %s, index uses %s", snap.Metric, m.metric)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimensions = snap.Dimensions
	m.records = snap.Records
	return nil
}
