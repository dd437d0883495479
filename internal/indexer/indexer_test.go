package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/extract"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vector"
)

// threeChunks splits into three chunks with chunk size 10 and no overlap:
// every line is a boundary and at least 10 characters long.
const threeChunks = "alpha := map{}\nbeta := map{}\ngamma := map{}"

// flakyEmbedder fails the calls listed in failOn (0-based) and delegates the rest.
type flakyEmbedder struct {
	*embedding.MockEmbedder
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()
	if f.failOn[call] {
		return nil, embedding.ErrEmbeddingUnavailable
	}
	return f.MockEmbedder.Embed(ctx, text)
}

// cancelingEmbedder cancels the ingestion context after the first chunk is embedded.
type cancelingEmbedder struct {
	*embedding.MockEmbedder
	cancel context.CancelFunc
}

func (c *cancelingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.MockEmbedder.Embed(ctx, text)
	c.cancel()
	return vec, err
}

type fixture struct {
	idx   *Indexer
	store *storage.SQLiteStorage
	index *vector.MemoryIndex
}

func newFixture(t *testing.T, embedder embedding.Embedder, opts ...IndexerOption) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if embedder == nil {
		embedder = embedding.NewMockEmbedder(4)
	}
	index := vector.NewMemoryIndex()
	t.Cleanup(func() { _ = index.Close() })
	idx := NewIndexer(store, embedder, index, NewChunker(10, 0), extract.NewExtractor(0), opts...)
	return &fixture{idx: idx, store: store, index: index}
}

func (f *fixture) counts(t *testing.T) (docs int64, chunks int) {
	t.Helper()
	ctx := context.Background()
	docs, err := f.store.CountDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	chunks, err = f.index.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return docs, chunks
}

// chunksOf returns every indexed chunk belonging to documentID.
func (f *fixture) chunksOf(t *testing.T, documentID string) []*vector.Match {
	t.Helper()
	probe, _ := embedding.NewMockEmbedder(4).Embed(context.Background(), "probe")
	matches, err := f.index.Query(context.Background(), probe, 1000)
	if err != nil {
		t.Fatal(err)
	}
	var out []*vector.Match
	for _, m := range matches {
		if m.Metadata.DocumentID == documentID {
			out = append(out, m)
		}
	}
	return out
}

func TestIngest_StoresDocumentAndChunks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	doc, created, err := f.idx.Ingest(ctx, &models.DocumentInput{Name: "handlers.go", Content: threeChunks})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !created {
		t.Error("expected created=true")
	}
	if doc.ID == "" || doc.FileType != "go" || doc.CreatedAt.IsZero() {
		t.Errorf("unexpected document %+v", doc)
	}

	stored, err := f.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if stored.Content != threeChunks {
		t.Errorf("stored content = %q", stored.Content)
	}

	chunks := f.chunksOf(t, doc.ID)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	ordinals := make([]int, 0, len(chunks))
	ids := map[string]bool{}
	for _, ch := range chunks {
		ordinals = append(ordinals, ch.Metadata.ChunkIndex)
		ids[ch.ID] = true
		if ch.Metadata.DocumentName != "handlers.go" || ch.Metadata.FileType != "go" {
			t.Errorf("chunk metadata = %+v", ch.Metadata)
		}
	}
	sort.Ints(ordinals)
	for i, o := range ordinals {
		if o != i {
			t.Errorf("ordinals = %v, want 0..2 without gaps", ordinals)
			break
		}
	}
	if len(ids) != 3 {
		t.Errorf("chunk ids not unique: %v", ids)
	}
}

func TestIngest_SameNameIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first, _, err := f.idx.Ingest(ctx, &models.DocumentInput{Name: "a.js", Content: threeChunks})
	if err != nil {
		t.Fatal(err)
	}
	second, created, err := f.idx.Ingest(ctx, &models.DocumentInput{Name: "a.js", Content: "different content"})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("expected created=false for duplicate name")
	}
	if second.ID != first.ID {
		t.Errorf("got id %s, want existing %s", second.ID, first.ID)
	}
	docs, chunks := f.counts(t)
	if docs != 1 || chunks != 3 {
		t.Errorf("counts = %d docs, %d chunks; want 1, 3", docs, chunks)
	}
}

func TestIngest_InvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	for _, in := range []*models.DocumentInput{nil, {Name: " ", Content: "x"}, {Name: "empty.txt", Content: "  \n"}} {
		if _, _, err := f.idx.Ingest(context.Background(), in); !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("Ingest(%+v) err = %v, want ErrInvalidDocument", in, err)
		}
	}
}

func TestIngest_EmbeddingFailureLeavesNothing(t *testing.T) {
	emb := &flakyEmbedder{MockEmbedder: embedding.NewMockEmbedder(4), failOn: map[int]bool{1: true}}
	f := newFixture(t, emb)
	_, _, err := f.idx.Ingest(context.Background(), &models.DocumentInput{Name: "broken.py", Content: threeChunks})
	if !errors.Is(err, embedding.ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
	if !strings.Contains(err.Error(), "chunk 1") {
		t.Errorf("error %q does not name the chunk ordinal", err)
	}
	docs, chunks := f.counts(t)
	if docs != 0 || chunks != 0 {
		t.Errorf("counts = %d docs, %d chunks; want nothing stored", docs, chunks)
	}
}

func TestIngest_CancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, &cancelingEmbedder{MockEmbedder: embedding.NewMockEmbedder(4), cancel: cancel})
	_, _, err := f.idx.Ingest(ctx, &models.DocumentInput{Name: "slow.ts", Content: threeChunks})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	docs, chunks := f.counts(t)
	if docs != 0 || chunks != 0 {
		t.Errorf("counts = %d docs, %d chunks; want nothing stored", docs, chunks)
	}
}

func TestIngest_RetriesTransientFailures(t *testing.T) {
	emb := &flakyEmbedder{MockEmbedder: embedding.NewMockEmbedder(4), failOn: map[int]bool{0: true}}
	f := newFixture(t, emb, WithRetry(RetryPolicy{MaxAttempts: 3, Base: time.Millisecond}))
	if _, _, err := f.idx.Ingest(context.Background(), &models.DocumentInput{Name: "retry.go", Content: threeChunks}); err != nil {
		t.Fatalf("Ingest with retry: %v", err)
	}
	if _, chunks := f.counts(t); chunks != 3 {
		t.Errorf("chunks = %d, want 3", chunks)
	}
}

func TestDelete_RemovesAllChunks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	keep, _, err := f.idx.Ingest(ctx, &models.DocumentInput{Name: "keep.go", Content: threeChunks})
	if err != nil {
		t.Fatal(err)
	}
	gone, _, err := f.idx.Ingest(ctx, &models.DocumentInput{Name: "gone.go", Content: "one line only"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.idx.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n := len(f.chunksOf(t, gone.ID)); n != 0 {
		t.Errorf("%d chunks of deleted document remain", n)
	}
	if n := len(f.chunksOf(t, keep.ID)); n != 3 {
		t.Errorf("kept document has %d chunks, want 3", n)
	}
	if _, err := f.store.GetDocument(ctx, gone.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetDocument after delete: %v", err)
	}
	if err := f.idx.Delete(ctx, gone.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestReplace(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	old, _, err := f.idx.Ingest(ctx, &models.DocumentInput{Name: "main.rs", Content: threeChunks})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := f.idx.Replace(ctx, &models.DocumentInput{Name: "main.rs", Content: "fn main() { println!() }"})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if doc.ID == old.ID {
		t.Error("expected a new document id")
	}
	if n := len(f.chunksOf(t, old.ID)); n != 0 {
		t.Errorf("%d chunks of replaced document remain", n)
	}
	docs, chunks := f.counts(t)
	if docs != 1 || chunks != 1 {
		t.Errorf("counts = %d docs, %d chunks; want 1, 1", docs, chunks)
	}

	// Replace of an unknown name is a plain ingest.
	if _, err := f.idx.Replace(ctx, &models.DocumentInput{Name: "new.md", Content: "# title"}); err != nil {
		t.Errorf("Replace new name: %v", err)
	}
}

func TestIngestFileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "pkg")
	deps := filepath.Join(dir, "node_modules")
	for _, d := range []string{sub, deps} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		filepath.Join(dir, "app.py"):    "def main():\n    return 1",
		filepath.Join(sub, "util.go"):   "package pkg",
		filepath.Join(dir, "image.png"): "binary",
		filepath.Join(sub, "notes.TXT"): "notes",
		filepath.Join(deps, "left.txt"): "left out",
	}
	for p, content := range files {
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	f := newFixture(t, nil)
	ctx := context.Background()

	doc, created, err := f.idx.IngestFile(ctx, filepath.Join(dir, "app.py"))
	if err != nil || !created {
		t.Fatalf("IngestFile: created=%v err=%v", created, err)
	}
	if doc.Name != "app.py" || doc.FileType != "python" {
		t.Errorf("doc = %+v", doc)
	}

	n, err := f.idx.IngestDirectory(ctx, dir, []string{".py", "go", ".txt"})
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if n != 2 {
		t.Errorf("created %d documents, want 2 (app.py already present)", n)
	}
	if docs, _ := f.counts(t); docs != 3 {
		t.Errorf("documents = %d, want 3", docs)
	}
	if _, err := f.idx.IngestDirectory(ctx, filepath.Join(dir, "app.py"), nil); err == nil {
		t.Error("expected error for a file passed as directory")
	}
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".go", []string{".go", ".py"}, true},
		{".GO", []string{".go"}, true},
		{".py", []string{"go", "py"}, true},
		{".rs", []string{".go"}, false},
		{"", []string{".go"}, false},
		{".anything", nil, true},
	}
	for _, tt := range tests {
		if got := ExtensionAllowed(tt.ext, tt.allowed); got != tt.want {
			t.Errorf("ExtensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestReplace_FailureKeepsPreviousVersion(t *testing.T) {
	emb := &flakyEmbedder{MockEmbedder: embedding.NewMockEmbedder(4), failOn: map[int]bool{3: true}}
	f := newFixture(t, emb)
	ctx := context.Background()
	old, _, err := f.idx.Ingest(ctx, &models.DocumentInput{Name: "main.rs", Content: threeChunks})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.idx.Replace(ctx, &models.DocumentInput{Name: "main.rs", Content: "fn main() { println!() }"})
	if !errors.Is(err, embedding.ErrEmbeddingUnavailable) {
		t.Fatalf("Replace err = %v, want ErrEmbeddingUnavailable", err)
	}
	got, err := f.store.GetDocumentByName(ctx, "main.rs")
	if err != nil {
		t.Fatalf("previous version lost: %v", err)
	}
	if got.ID != old.ID || got.Content != threeChunks {
		t.Errorf("document = %+v, want the previous version", got)
	}
	if n := len(f.chunksOf(t, old.ID)); n != 3 {
		t.Errorf("previous version has %d chunks, want 3", n)
	}
	if _, chunks := f.counts(t); chunks != 3 {
		t.Errorf("chunks = %d, want 3", chunks)
	}
}

// blockingEmbedder never answers on its own; only context expiry ends a call.
type blockingEmbedder struct {
	*embedding.MockEmbedder
}

func (b *blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// slowEmbedder takes delay per call.
type slowEmbedder struct {
	*embedding.MockEmbedder
	delay time.Duration
}

func (s *slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MockEmbedder.Embed(ctx, text)
}

func TestIngest_EmbedTimeout(t *testing.T) {
	f := newFixture(t, &blockingEmbedder{embedding.NewMockEmbedder(4)}, WithEmbedTimeout(20*time.Millisecond))
	_, _, err := f.idx.Ingest(context.Background(), &models.DocumentInput{Name: "stalled.go", Content: threeChunks})
	if !errors.Is(err, embedding.ErrEmbeddingUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable wrapping DeadlineExceeded", err)
	}
	docs, chunks := f.counts(t)
	if docs != 0 || chunks != 0 {
		t.Errorf("counts = %d docs, %d chunks; want nothing stored", docs, chunks)
	}
}

func TestIngest_EmbedTimeoutIsPerCall(t *testing.T) {
	var lines []string
	for _, name := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		lines = append(lines, name+" := map{}")
	}
	f := newFixture(t, &slowEmbedder{MockEmbedder: embedding.NewMockEmbedder(4), delay: 30 * time.Millisecond},
		WithEmbedTimeout(100*time.Millisecond))
	if _, _, err := f.idx.Ingest(context.Background(), &models.DocumentInput{Name: "five.go", Content: strings.Join(lines, "\n")}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, chunks := f.counts(t); chunks != 5 {
		t.Errorf("chunks = %d, want 5", chunks)
	}
}

// rejectingIndex refuses every Add as a chunk the backend cannot hold.
type rejectingIndex struct {
	*vector.MemoryIndex
	adds int
}

func (r *rejectingIndex) Add(context.Context, []*models.Chunk) error {
	r.adds++
	return errors.Join(vector.ErrChunkTooLarge, errors.New("chunk 0 is 70000 bytes"))
}

func TestIngest_ChunkTooLargeIsNotRetried(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	index := &rejectingIndex{MemoryIndex: vector.NewMemoryIndex()}
	idx := NewIndexer(store, embedding.NewMockEmbedder(4), index, NewChunker(10, 0), nil,
		WithRetry(RetryPolicy{MaxAttempts: 3, Base: time.Millisecond}))

	_, _, err = idx.Ingest(context.Background(), &models.DocumentInput{Name: "huge.go", Content: threeChunks})
	if !errors.Is(err, vector.ErrChunkTooLarge) {
		t.Fatalf("err = %v, want ErrChunkTooLarge", err)
	}
	if index.adds != 1 {
		t.Errorf("Add called %d times, want 1", index.adds)
	}
	if n, _ := store.CountDocuments(context.Background()); n != 0 {
		t.Errorf("documents = %d, want the failed ingest rolled back", n)
	}
}
