package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func writeJSONResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Query(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/query" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req models.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Query != "where is auth?" || req.TopK != 3 {
			t.Errorf("request = %+v", req)
		}
		writeJSONResponse(w, http.StatusOK, models.QueryResponse{Success: true, Answer: "in middleware"})
	})
	resp, err := c.Query(context.Background(), "where is auth?", 3)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "in middleware" {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusBadGateway, map[string]string{"error": "embedding unavailable"})
	})
	_, err := c.Query(context.Background(), "q", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "embedding unavailable" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := NewClient(url, time.Second)
	if _, err := c.Status(context.Background()); !errors.Is(err, ErrServerUnreachable) {
		t.Errorf("err = %v, want ErrServerUnreachable", err)
	}
}

func TestClient_DocumentsAndStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/documents":
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{
				"success":   true,
				"documents": []*models.Document{{ID: "d1", Name: "a.go"}},
			})
		case "/api/status":
			writeJSONResponse(w, http.StatusOK, models.Status{Documents: 1, Chunks: 4, VectorBackend: "memory"})
		default:
			http.NotFound(w, r)
		}
	})
	docs, err := c.Documents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Name != "a.go" {
		t.Errorf("docs = %+v", docs)
	}
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Chunks != 4 {
		t.Errorf("status = %+v", st)
	}
}

func TestClient_UploadAndDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var deleted string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/documents/upload":
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("form file: %v", err)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			if header.Filename != "main.go" || string(data) != "package main\n" {
				t.Errorf("upload %q = %q", header.Filename, data)
			}
			writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
				"success":  true,
				"document": models.Document{ID: "d1", Name: header.Filename},
			})
		case r.Method == http.MethodDelete:
			deleted = r.URL.Path
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{"success": true})
		default:
			http.NotFound(w, r)
		}
	})
	doc, created, err := c.Upload(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !created || doc.ID != "d1" {
		t.Errorf("doc = %+v, created = %v", doc, created)
	}
	if err := c.Delete(context.Background(), "d1"); err != nil {
		t.Fatal(err)
	}
	if deleted != "/api/documents/d1" {
		t.Errorf("deleted path = %q", deleted)
	}
}
