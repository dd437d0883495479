// Package models defines core data structures for documents, chunks, and query answers.
package models

import "time"

// Document represents an uploaded source or text file.
type Document struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Content   string    `json:"content,omitempty" db:"content"`
	FileType  string    `json:"fileType" db:"file_type"`
	CreatedAt time.Time `json:"uploadDate" db:"created_at"`
}

// Summary returns a copy of d without its content, for listings and upload responses.
func (d *Document) Summary() *Document {
	return &Document{
		ID:        d.ID,
		Name:      d.Name,
		FileType:  d.FileType,
		CreatedAt: d.CreatedAt,
	}
}

// ChunkMetadata is stored alongside every chunk vector.
type ChunkMetadata struct {
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	FileType     string `json:"fileType"`
	ChunkIndex   int    `json:"chunkIndex"`
}

// Chunk is a contiguous, possibly overlapping span of a document's text.
// Embedding is nil until the chunk has been embedded.
type Chunk struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"documentId"`
	Index      int           `json:"chunkIndex"`
	Content    string        `json:"content"`
	Embedding  []float32     `json:"-"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// DocumentInput is the input for ingesting a document.
// FileType is detected from Name and Content when empty.
type DocumentInput struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	FileType string `json:"fileType,omitempty"`
}
