package models

import (
	"fmt"
	"strings"
)

// QueryRequest is a natural-language question about the uploaded code.
type QueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK,omitempty"`
}

// Validate ensures the query is non-blank and clamps TopK into [0, 50].
// A zero TopK means the configured default.
func (q *QueryRequest) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK < 0 {
		q.TopK = 0
	}
	if q.TopK > 50 {
		q.TopK = 50
	}
	return nil
}
