package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the .env file at path into the process
// environment. A missing file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with environment variables. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"OLLAMA_BASE_URL": &cfg.Ollama.BaseURL,
		"LLM_MODEL":       &cfg.Ollama.LLMModel,
		"EMBEDDING_MODEL": &cfg.Ollama.EmbeddingModel,
		"COLLECTION_NAME": &cfg.Vector.Collection,
		"VECTOR_BACKEND":  &cfg.Vector.Backend,
		"MILVUS_ADDRESS":  &cfg.Vector.MilvusAddress,
		"QDRANT_URL":      &cfg.Vector.QdrantURL,
		"QDRANT_API_KEY":  &cfg.Vector.QdrantAPIKey,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"CHUNK_SIZE":      &cfg.Retrieval.ChunkSize,
		"CHUNK_OVERLAP":   &cfg.Retrieval.ChunkOverlap,
		"RETRIEVAL_COUNT": &cfg.Retrieval.TopK,
		"PORT":            &cfg.Server.Port,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
		}
		*dst = n
	}
	return nil
}
