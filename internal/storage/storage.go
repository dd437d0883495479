// Package storage defines the persistence interface for uploaded documents.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kensaku/internal/models"
)

var (
	// ErrNotFound is returned when no document matches the lookup.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateName is returned when a document with the same name already exists.
	ErrDuplicateName = errors.New("document name already exists")
)

// Storage defines document persistence operations. Chunks are not stored here;
// the vector index is their only record.
type Storage interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByName(ctx context.Context, name string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ReplaceDocument(ctx context.Context, oldID string, doc *models.Document) error
	ListDocuments(ctx context.Context) ([]*models.Document, error)
	CountDocuments(ctx context.Context) (int64, error)
	Close() error
}
