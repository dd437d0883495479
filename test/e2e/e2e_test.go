package e2e

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
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
	"go.uber.org/zap"
)

const (
	e2eCorpusSize = 25
	e2eDimensions = 16
)

type stack struct {
	client    *cli.Client
	generator *llm.StaticGenerator
	dir       string
}

func startStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "documents.db")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "vectors.gob")

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	embedder := embedding.NewMockEmbedder(e2eDimensions)
	index := vector.NewMemoryIndex(vector.WithPath(cfg.Storage.VectorIndexPath))
	t.Cleanup(func() { _ = index.Close() })
	m := metrics.New()

	idx := indexer.NewIndexer(store, embedder, index,
		indexer.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap),
		extract.NewExtractor(0),
		indexer.WithMetrics(m))
	generator := &llm.StaticGenerator{Answer: "generated answer"}
	answerer := search.NewAnswerer(search.NewRetriever(embedder, index, nil), generator, cfg.Retrieval.TopK,
		search.WithMetrics(m))
	srv := server.NewServer(idx, answerer, store, index, cfg, zap.NewNop(), server.WithMetrics(m))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &stack{client: cli.NewClient(ts.URL, 10*time.Second), generator: generator, dir: dir}
}

func (s *stack) uploadCorpus(t *testing.T, c *Corpus) map[string]string {
	t.Helper()
	ids := make(map[string]string)
	for _, f := range c.Files {
		path := filepath.Join(s.dir, f.Name)
		if err := os.WriteFile(path, []byte(f.Content), 0644); err != nil {
			t.Fatal(err)
		}
		doc, created, err := s.client.Upload(context.Background(), path)
		if err != nil {
			t.Fatalf("upload %s: %v", f.Name, err)
		}
		if !created {
			t.Fatalf("upload %s: reported as existing", f.Name)
		}
		if doc.FileType != f.FileType {
			t.Errorf("%s: file type %q, want %q", f.Name, doc.FileType, f.FileType)
		}
		ids[f.Name] = doc.ID
	}
	return ids
}

func TestE2E_QueryReturnsSourceDocumentFirst(t *testing.T) {
	s := startStack(t)
	corpus := BuildCorpus(e2eCorpusSize)
	s.uploadCorpus(t, corpus)
	ctx := context.Background()

	for _, tc := range corpus.Cases {
		resp, err := s.client.Query(ctx, tc.Query, 3)
		if err != nil {
			t.Fatalf("query for %s: %v", tc.ExpectedDocument, err)
		}
		if len(resp.RelevantChunks) != 3 {
			t.Fatalf("query for %s: %d chunks, want 3", tc.ExpectedDocument, len(resp.RelevantChunks))
		}
		top := resp.RelevantChunks[0]
		if top.DocumentName != tc.ExpectedDocument {
			t.Errorf("top match = %s, want %s", top.DocumentName, tc.ExpectedDocument)
		}
		if top.Similarity != 1 {
			t.Errorf("%s: exact match similarity = %v, want 1", tc.ExpectedDocument, top.Similarity)
		}
		for i := 1; i < len(resp.RelevantChunks); i++ {
			if resp.RelevantChunks[i].Similarity > resp.RelevantChunks[i-1].Similarity {
				t.Errorf("%s: chunks not ordered by similarity: %+v", tc.ExpectedDocument, resp.RelevantChunks)
				break
			}
		}
		if resp.Answer != "generated answer" {
			t.Errorf("answer = %q", resp.Answer)
		}
	}
	if len(s.generator.Prompts) != len(corpus.Cases) {
		t.Errorf("generator called %d times, want %d", len(s.generator.Prompts), len(corpus.Cases))
	}
}

func TestE2E_DeleteRemovesDocumentFromAnswers(t *testing.T) {
	s := startStack(t)
	corpus := BuildCorpus(10)
	ids := s.uploadCorpus(t, corpus)
	ctx := context.Background()

	target := corpus.Cases[4]
	if err := s.client.Delete(ctx, ids[target.ExpectedDocument]); err != nil {
		t.Fatal(err)
	}
	resp, err := s.client.Query(ctx, target.Query, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.RelevantChunks) != 9 {
		t.Errorf("chunks = %d, want 9 after deleting one of 10", len(resp.RelevantChunks))
	}
	for _, c := range resp.RelevantChunks {
		if c.DocumentName == target.ExpectedDocument {
			t.Errorf("deleted document %s still retrieved", target.ExpectedDocument)
		}
	}

	st, err := s.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 9 || st.Chunks != 9 {
		t.Errorf("status documents=%d chunks=%d, want 9 and 9", st.Documents, st.Chunks)
	}
	docs, err := s.client.Documents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 9 {
		t.Errorf("listed %d documents, want 9", len(docs))
	}
}

func TestE2E_UploadSupportedFormats(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()
	for _, ext := range SupportedFileExtensions {
		t.Run(ext, func(t *testing.T) {
			sample := "func handle" + strings.TrimPrefix(ext, ".") + "() {}"
			data, err := WriteMinimalFile(ext, sample)
			if err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(s.dir, "sample"+ext)
			if err := os.WriteFile(path, data, 0644); err != nil {
				t.Fatal(err)
			}
			if _, _, err := s.client.Upload(ctx, path); err != nil {
				t.Fatalf("upload: %v", err)
			}
			resp, err := s.client.Query(ctx, "which handler is defined?", 10)
			if err != nil {
				t.Fatal(err)
			}
			found := false
			for _, c := range resp.RelevantChunks {
				if c.DocumentName == "sample"+ext && strings.Contains(c.Content, sample) {
					found = true
				}
			}
			if !found {
				t.Errorf("no chunk of sample%s contains %q: %+v", ext, sample, resp.RelevantChunks)
			}
		})
	}
}

func TestE2E_EmptyIndexAnswersWithoutGeneration(t *testing.T) {
	s := startStack(t)
	resp, err := s.client.Query(context.Background(), "how does retry work?", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != search.NoResultsAnswer {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(s.generator.Prompts) != 0 {
		t.Error("generator called for an empty index")
	}
}
