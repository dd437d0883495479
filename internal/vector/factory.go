package vector

import (
	"fmt"

	"go.uber.org/zap"
)

// Backend names a vector index implementation.
type Backend string

const (
	// BackendMemory keeps vectors in process, optionally persisted to a file.
	BackendMemory Backend = "memory"
	// BackendMilvus uses a Milvus server.
	BackendMilvus Backend = "milvus"
	// BackendQdrant uses a Qdrant server over REST.
	BackendQdrant Backend = "qdrant"
)

// Options selects and configures a backend.
type Options struct {
	Backend      string
	Collection   string
	Dimensions   int
	Metric       string
	MemoryPath   string
	MilvusAddr   string
	QdrantURL    string
	QdrantAPIKey string
	Logger       *zap.Logger
}

// New creates the configured vector index. Nothing is contacted until first use.
// Supported backends: "memory" (default), "milvus", "qdrant".
func New(opts Options) (Index, error) {
	metric, err := ParseMetric(opts.Metric)
	if err != nil {
		return nil, err
	}
	switch Backend(opts.Backend) {
	case BackendMemory, "":
		memOpts := []MemoryOption{WithMetric(metric), WithPath(opts.MemoryPath)}
		if opts.Logger != nil {
			memOpts = append(memOpts, WithMemoryLogger(opts.Logger))
		}
		return NewMemoryIndex(memOpts...), nil
	case BackendMilvus:
		return NewMilvusIndex(opts.MilvusAddr, opts.Collection, opts.Dimensions, metric, opts.Logger)
	case BackendQdrant:
		return NewQdrantIndex(opts.QdrantURL, opts.QdrantAPIKey, opts.Collection, opts.Dimensions, metric, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: memory, milvus, qdrant)", opts.Backend)
	}
}
