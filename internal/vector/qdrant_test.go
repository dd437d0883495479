package vector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hyperjump/kensaku/internal/models"
)

// fakeQdrant records requests and serves canned responses for one collection.
type fakeQdrant struct {
	mu       sync.Mutex
	exists   bool
	requests []string
	bodies   []map[string]any
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		f.bodies = append(f.bodies, body)
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "GET /collections/code":
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection code doesn't exist!"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"result":{},"status":"ok"}`))
		case "PUT /collections/code":
			f.exists = true
			_, _ = w.Write([]byte(`{"result":true,"status":"ok"}`))
		case "PUT /collections/code/points", "POST /collections/code/points/delete":
			_, _ = w.Write([]byte(`{"result":{"status":"completed"},"status":"ok"}`))
		case "POST /collections/code/points/search":
			_, _ = w.Write([]byte(`{"result":[
				{"id":"c1","score":0.9,"payload":{"content":"func a() {}","documentId":"d1","documentName":"a.go","fileType":"go","chunkIndex":0}},
				{"id":"c2","score":0.4,"payload":{"content":"func b() {}","documentId":"d1","documentName":"a.go","fileType":"go","chunkIndex":1}}
			],"status":"ok"}`))
		case "POST /collections/code/points/count":
			_, _ = w.Write([]byte(`{"result":{"count":2},"status":"ok"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
}

func (f *fakeQdrant) count(req string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == req {
			n++
		}
	}
	return n
}

func newTestQdrant(t *testing.T, f *fakeQdrant) *QdrantIndex {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	q, err := NewQdrantIndex(srv.URL, "", "code", 2, MetricCosine, nil)
	if err != nil {
		t.Fatalf("NewQdrantIndex: %v", err)
	}
	return q
}

func TestQdrantIndex_EnsureReadyCreatesOnce(t *testing.T) {
	f := &fakeQdrant{}
	q := newTestQdrant(t, f)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := q.EnsureReady(ctx); err != nil {
			t.Fatalf("EnsureReady: %v", err)
		}
	}
	if n := f.count("PUT /collections/code"); n != 1 {
		t.Errorf("collection created %d times, want 1", n)
	}
	if n := f.count("GET /collections/code"); n != 1 {
		t.Errorf("collection checked %d times, want 1", n)
	}
}

func TestQdrantIndex_ExistingCollection(t *testing.T) {
	f := &fakeQdrant{exists: true}
	q := newTestQdrant(t, f)
	if err := q.EnsureReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := f.count("PUT /collections/code"); n != 0 {
		t.Errorf("existing collection recreated")
	}
}

func TestQdrantIndex_AddQueryDelete(t *testing.T) {
	f := &fakeQdrant{exists: true}
	q := newTestQdrant(t, f)
	ctx := context.Background()

	if err := q.Add(ctx, []*models.Chunk{chunk("c1", "d1", 0, 1, 0), chunk("c2", "d1", 1, 0, 1)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n := f.count("PUT /collections/code/points"); n != 1 {
		t.Errorf("Add issued %d upserts, want 1", n)
	}

	matches, err := q.Query(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].ID != "c1" || matches[0].Metadata.DocumentName != "a.go" || matches[1].Metadata.ChunkIndex != 1 {
		t.Errorf("unexpected matches %+v %+v", matches[0], matches[1])
	}
	if d := matches[0].Distance; d < 0.0999 || d > 0.1001 {
		t.Errorf("distance = %v, want 0.1", d)
	}

	if err := q.DeleteByDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}
	body := f.bodies[len(f.bodies)-1]
	filter, _ := body["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	if len(must) != 1 {
		t.Fatalf("delete filter = %v", body)
	}
	cond, _ := must[0].(map[string]any)
	if cond["key"] != "documentId" {
		t.Errorf("delete filter key = %v", cond["key"])
	}

	if n, err := q.Count(ctx); err != nil || n != 2 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestQdrantIndex_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	q, err := NewQdrantIndex(srv.URL, "", "code", 2, MetricCosine, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Query(context.Background(), []float32{1, 0}, 3); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("Query against closed server: err = %v, want ErrIndexUnavailable", err)
	}
}
