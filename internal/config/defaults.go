package config

import "time"

// Default values.
const (
	DefaultPort           = 3001
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultLLMModel       = "qwen2.5-coder:7b"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultCollection     = "code_documents"
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 200
	DefaultTopK           = 5
	DefaultMaxUploadBytes = 10 << 20
)

// DefaultExtensions lists the file types the watcher ingests when none are configured.
var DefaultExtensions = []string{
	".js", ".jsx", ".ts", ".tsx", ".py", ".java", ".c", ".cpp", ".cc", ".cxx", ".cs", ".go",
	".rb", ".php", ".swift", ".rs", ".kt", ".kts", ".scala", ".dart", ".html", ".css",
	".json", ".xml", ".yaml", ".yml", ".md", ".sh", ".sql", ".txt",
	".pdf", ".docx", ".xlsx",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".kensaku/documents.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = ".kensaku/vectors.gob"
	}
	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = DefaultOllamaURL
	}
	if cfg.Ollama.LLMModel == "" {
		cfg.Ollama.LLMModel = DefaultLLMModel
	}
	if cfg.Ollama.EmbeddingModel == "" {
		cfg.Ollama.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Ollama.Timeout == 0 {
		cfg.Ollama.Timeout = 60 * time.Second
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = DefaultCollection
	}
	if cfg.Vector.Dimensions == 0 {
		// nomic-embed-text
		cfg.Vector.Dimensions = 768
	}
	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = "cosine"
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = DefaultChunkSize
	}
	if cfg.Retrieval.ChunkOverlap == 0 {
		cfg.Retrieval.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = DefaultTopK
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.Backoff == 0 {
		cfg.Retry.Backoff = 500 * time.Millisecond
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), DefaultExtensions...)
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
