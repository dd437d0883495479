// Package extract turns uploaded files into text and classifies their content type.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest file the extractor will read.
const MaxFileSize = 10 << 20

// Extractor extracts plain text from uploaded files.
type Extractor struct {
	maxSize int64
}

// NewExtractor returns an Extractor that rejects files over maxSize bytes (0 means MaxFileSize).
func NewExtractor(maxSize int64) *Extractor {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	return &Extractor{maxSize: maxSize}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > e.maxSize {
		return "", fmt.Errorf("file %s is %d bytes, limit is %d", filepath.Base(path), info.Size(), e.maxSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension
// (with leading dot, any case). Source code and unknown extensions are read as UTF-8 text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if int64(len(content)) > e.maxSize {
		return "", fmt.Errorf("content is %d bytes, limit is %d", len(content), e.maxSize)
	}
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	default:
		return extractPlain(content)
	}
}

// Supported reports whether ext names a binary format with a dedicated extractor.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".xlsx":
		return true
	}
	return false
}
