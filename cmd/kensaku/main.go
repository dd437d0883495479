// Package main is the kensaku CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kensaku/internal/cli"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/extract"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/llm"
	"github.com/hyperjump/kensaku/internal/metrics"
	"github.com/hyperjump/kensaku/internal/search"
	"github.com/hyperjump/kensaku/internal/server"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vector"
	"github.com/hyperjump/kensaku/internal/watcher"
	"github.com/hyperjump/kensaku/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kensaku/config.yaml"
	defaultServerURL  = "http://localhost:3001"
)

// loadConfig resolves the config file, then applies .env and environment overrides and validates.
// When path is the default, config.yaml in the current directory takes precedence; when
// neither exists the built-in defaults are used. Returns the path that was loaded, or ""
// when running on defaults.
func loadConfig(path string) (*config.Config, string, error) {
	return loadConfigWith(path, os.LookupEnv)
}

func loadConfigWith(path string, lookup func(string) (string, bool)) (*config.Config, string, error) {
	cfg, resolved, err := readConfigFile(path)
	if err != nil {
		return nil, "", err
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func readConfigFile(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "list":
		runList()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kensaku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func mustLoad(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if debugFlag {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := mustLoad(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug),
		zap.String("vector_backend", cfg.Vector.Backend),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchOpts := []watcher.WatcherOption{}
	if cfg.Debug {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(watcher.Options{
		Roots:      cfg.Watch.Directories,
		Extensions: cfg.Watch.Extensions,
		Recursive:  cfg.Watch.RecursiveOrDefault(),
	}, components.Indexer, watchOpts...)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Indexer,
		components.Answerer,
		components.Storage,
		components.VectorIndex,
		cfg,
		logger,
		server.WithWatch(watchSvc, resolvedConfigPath),
		server.WithHealthChecker(components.Generator),
		server.WithMetrics(components.Metrics),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	watchSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "upload through a running server instead of local storage")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsWithFlagsFirst(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: kensaku ingest [flags] <file-or-directory>...")
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serverURL != "" {
		client := cli.NewClient(*serverURL, 5*time.Minute)
		if err := uploadPaths(ctx, client, fs.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, _, logger := mustLoad(*configPath, *debug)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	failed := false
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		if info.IsDir() {
			n, err := components.Indexer.IngestDirectory(ctx, path, cfg.Watch.Extensions)
			fmt.Printf("%s: %d new documents\n", path, n)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed = true
			}
			continue
		}
		doc, created, err := components.Indexer.IngestFile(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		printIngested(doc.Name, doc.ID, created)
	}
	if failed {
		components.Close()
		os.Exit(1)
	}
}

func uploadPaths(ctx context.Context, client *cli.Client, paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory; directories can only be ingested locally", path)
		}
		doc, created, err := client.Upload(ctx, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		printIngested(doc.Name, doc.ID, created)
	}
	return nil
}

func printIngested(name, id string, created bool) {
	if created {
		fmt.Printf("Ingested %s (id %s)\n", name, id)
		return
	}
	fmt.Printf("Skipped %s: already uploaded (id %s)\n", name, id)
}

// argsWithFlagsFirst moves flags (and their values) that appear after positional
// arguments to the front so flag.Parse sees them; the flag package stops at the
// first non-flag argument.
func argsWithFlagsFirst(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins positional args so multi-word questions work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (0 = server default)")
	output := fs.String("output", "text", "output format: text or json")
	timeout := fs.Duration("timeout", 2*time.Minute, "request timeout")
	_ = fs.Parse(argsWithFlagsFirst(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: kensaku query [flags] <question>")
		os.Exit(1)
	}
	format := parseFormat(*output)
	client := cli.NewClient(*serverURL, *timeout)
	resp, err := client.Query(context.Background(), query, *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAnswer(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*output)
	docs, err := cli.NewClient(*serverURL, 30*time.Second).Documents(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(argsWithFlagsFirst(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: kensaku delete [flags] <document-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	if err := cli.NewClient(*serverURL, 30*time.Second).Delete(context.Background(), id); err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted document %s\n", id)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*output)
	st, err := cli.NewClient(*serverURL, 30*time.Second).Status(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// Components holds initialized application components.
type Components struct {
	Storage     *storage.SQLiteStorage
	Embedder    embedding.Embedder
	VectorIndex vector.Index
	Indexer     *indexer.Indexer
	Answerer    *search.Answerer
	Generator   *llm.OllamaGenerator
	Metrics     *metrics.Metrics
	closed      bool
}

// Close releases components in reverse order of creation. The memory index is saved here.
func (c *Components) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Metrics: metrics.New()}
	var debugLogger *zap.Logger
	if cfg.Debug {
		debugLogger = logger
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedOpts := []embedding.OllamaOption{}
	if debugLogger != nil {
		embedOpts = append(embedOpts, embedding.WithLogger(debugLogger))
	}
	embedder, err := embedding.NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Ollama.EmbeddingModel, embedOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	index, err := vector.New(vector.Options{
		Backend:      cfg.Vector.Backend,
		Collection:   cfg.Vector.Collection,
		Dimensions:   cfg.Vector.Dimensions,
		Metric:       cfg.Vector.Metric,
		MemoryPath:   cfg.Storage.VectorIndexPath,
		MilvusAddr:   cfg.Vector.MilvusAddress,
		QdrantURL:    cfg.Vector.QdrantURL,
		QdrantAPIKey: cfg.Vector.QdrantAPIKey,
		Logger:       debugLogger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.VectorIndex = index

	idxOpts := []indexer.IndexerOption{
		indexer.WithMetrics(c.Metrics),
		indexer.WithRetry(indexer.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Base: cfg.Retry.Backoff}),
		indexer.WithEmbedTimeout(cfg.Ollama.Timeout),
	}
	if debugLogger != nil {
		idxOpts = append(idxOpts, indexer.WithLogger(debugLogger))
	}
	c.Indexer = indexer.NewIndexer(
		store,
		embedder,
		index,
		indexer.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap),
		extract.NewExtractor(cfg.Server.MaxUploadBytes),
		idxOpts...,
	)

	genOpts := []llm.OllamaOption{llm.WithTimeout(cfg.Ollama.Timeout)}
	if debugLogger != nil {
		genOpts = append(genOpts, llm.WithLogger(debugLogger))
	}
	generator, err := llm.NewOllamaGenerator(cfg.Ollama.BaseURL, cfg.Ollama.LLMModel, genOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	c.Generator = generator

	answerOpts := []search.AnswererOption{
		search.WithTimeout(cfg.Ollama.Timeout),
		search.WithMetrics(c.Metrics),
	}
	if debugLogger != nil {
		answerOpts = append(answerOpts, search.WithLogger(debugLogger))
	}
	c.Answerer = search.NewAnswerer(
		search.NewRetriever(embedder, index, debugLogger),
		generator,
		cfg.Retrieval.TopK,
		answerOpts...,
	)

	logger.Info("components initialized",
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("embedding_model", cfg.Ollama.EmbeddingModel),
		zap.String("llm_model", cfg.Ollama.LLMModel),
	)
	return c, nil
}

func printUsage() {
	fmt.Println(`kensaku - Ask questions about your code with a local LLM

Usage:
  kensaku server [flags]                 Start the HTTP server
  kensaku ingest [flags] <path>...       Chunk, embed and store files or directories
  kensaku query [flags] <question>       Ask a question about uploaded code
  kensaku list [flags]                   List uploaded documents
  kensaku delete [flags] <id>            Delete a document and its chunks
  kensaku status [flags]                 Show index statistics
  kensaku version                        Show version
  kensaku help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kensaku/config.yaml,
                     or ./config.yaml when present)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path
  --server string    Upload files through a running server instead of local storage
  --debug            Enable debug logging

Query Flags:
  --server string    Server URL (default: http://localhost:3001)
  --top-k int        Number of chunks to retrieve (default: server setting)
  --output string    Output format: text or json (default: text)
  --timeout dur      Request timeout (default: 2m)

List, Delete and Status Flags:
  --server string    Server URL (default: http://localhost:3001)
  --output string    Output format: text or json (list and status only)

Environment:
  OLLAMA_BASE_URL, LLM_MODEL, EMBEDDING_MODEL, CHUNK_SIZE, CHUNK_OVERLAP,
  RETRIEVAL_COUNT, COLLECTION_NAME, PORT, VECTOR_BACKEND, MILVUS_ADDRESS and
  QDRANT_URL override the config file. A .env file in the working directory is
  loaded first.

Examples:
  kensaku server
  kensaku ingest ./src
  kensaku ingest --server http://localhost:3001 main.go
  kensaku query how is authentication handled
  kensaku query --output json "where are retries configured?"
  kensaku list
  kensaku status --output json`)
}
