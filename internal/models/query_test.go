package models

import (
	"testing"
	"time"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		req      *QueryRequest
		wantErr  bool
		wantTopK int
	}{
		{"empty query", &QueryRequest{Query: ""}, true, 0},
		{"blank query", &QueryRequest{Query: "  \n\t"}, true, 0},
		{"valid query", &QueryRequest{Query: "how is auth done?"}, false, 0},
		{"negative topK reset", &QueryRequest{Query: "x", TopK: -3}, false, 0},
		{"caps topK at 50", &QueryRequest{Query: "x", TopK: 200}, false, 50},
		{"keeps topK", &QueryRequest{Query: "x", TopK: 7}, false, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.req.TopK != tt.wantTopK {
				t.Errorf("TopK = %d, want %d", tt.req.TopK, tt.wantTopK)
			}
		})
	}
}

func TestDocument_Summary(t *testing.T) {
	now := time.Now()
	d := &Document{ID: "d1", Name: "a.py", Content: "print(1)", FileType: "python", CreatedAt: now}
	s := d.Summary()
	if s.Content != "" {
		t.Errorf("Summary kept content %q", s.Content)
	}
	if s.ID != d.ID || s.Name != d.Name || s.FileType != d.FileType || !s.CreatedAt.Equal(now) {
		t.Errorf("Summary = %+v, want fields of %+v", s, d)
	}
	if d.Content == "" {
		t.Error("Summary must not modify the original")
	}
}
