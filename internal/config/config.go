// Package config provides configuration loading and structs for the kensaku server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate and by malformed environment overrides.
var ErrInvalid = errors.New("invalid config")

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Vector    VectorConfig    `yaml:"vector"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Retry     RetryConfig     `yaml:"retry"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// Addr returns host:port.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for the document database and the memory vector index.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// OllamaConfig holds model server settings.
type OllamaConfig struct {
	BaseURL        string        `yaml:"base_url"`
	LLMModel       string        `yaml:"llm_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

// VectorConfig selects and configures the vector index backend.
type VectorConfig struct {
	Backend       string `yaml:"backend"`
	Collection    string `yaml:"collection"`
	Dimensions    int    `yaml:"dimensions"`
	Metric        string `yaml:"metric"`
	MilvusAddress string `yaml:"milvus_address"`
	QdrantURL     string `yaml:"qdrant_url"`
	QdrantAPIKey  string `yaml:"qdrant_api_key"`
}

// RetrievalConfig holds chunking and retrieval settings.
type RetrievalConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
}

// RetryConfig controls retries of transient embedding and index failures during ingestion.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	cfg.expandPaths(filepath.Dir(path))
	return &cfg, nil
}

// Default returns the default configuration with paths resolved against the working directory.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	cfg.expandPaths(dir)
	return cfg
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	c.Storage.VectorIndexPath = expandPath(c.Storage.VectorIndexPath, configDir)
	for i := range c.Watch.Directories {
		c.Watch.Directories[i] = expandPath(c.Watch.Directories[i], configDir)
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports settings the application cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Retrieval.ChunkSize <= 0 {
		problems = append(problems, "retrieval.chunk_size must be positive")
	}
	if c.Retrieval.ChunkOverlap < 0 {
		problems = append(problems, "retrieval.chunk_overlap must not be negative")
	}
	if c.Retrieval.TopK <= 0 {
		problems = append(problems, "retrieval.top_k must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Vector.Backend {
	case "memory":
	case "milvus":
		if c.Vector.MilvusAddress == "" {
			problems = append(problems, "vector.milvus_address is required for the milvus backend")
		}
	case "qdrant":
		if c.Vector.QdrantURL == "" {
			problems = append(problems, "vector.qdrant_url is required for the qdrant backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown vector.backend %q", c.Vector.Backend))
	}
	if c.Vector.Backend != "memory" && c.Vector.Dimensions <= 0 {
		problems = append(problems, "vector.dimensions must be positive")
	}
	if strings.TrimSpace(c.Ollama.LLMModel) == "" || strings.TrimSpace(c.Ollama.EmbeddingModel) == "" {
		problems = append(problems, "ollama.llm_model and ollama.embedding_model are required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
