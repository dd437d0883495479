// Package indexer splits documents into chunks, embeds them, and ingests them into the vector index.
package indexer

import (
	"regexp"
	"strings"
)

// AverageLineLength is the assumed characters per line used to turn a character
// overlap into a number of carried-over lines.
const AverageLineLength = 30

var commentLine = regexp.MustCompile(`^\s*//`)

// boundaryKeywords mark declaration or module-boundary lines.
var boundaryKeywords = []string{"function ", "class ", "interface ", "export "}

// Chunker splits text into overlapping line-based chunks that end on logical boundaries.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given target size and overlap (in characters).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// OverlapLines returns how many trailing lines of a closed chunk seed the next one.
func (c *Chunker) OverlapLines() int {
	if c.chunkOverlap <= 0 {
		return 0
	}
	return (c.chunkOverlap + AverageLineLength - 1) / AverageLineLength
}

// IsBoundary reports whether a chunk may end after line.
func IsBoundary(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	for _, kw := range boundaryKeywords {
		if strings.Contains(line, kw) {
			return true
		}
	}
	if commentLine.MatchString(line) {
		return true
	}
	return strings.Contains(line, "{") && strings.Contains(line, "}")
}

// Split returns the chunk texts of text in order. The size counts line characters
// only, not newlines. A chunk closes once it has reached the target size on a
// boundary line, and the final line always closes a chunk. The overlap seed left
// after the final line becomes one more chunk when it differs from the last chunk,
// unless the whole text is shorter than the target size. Empty text yields nil.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	overlap := c.OverlapLines()

	var chunks []string
	var current []string
	size, total := 0, 0
	for i, line := range lines {
		current = append(current, line)
		size += len(line)
		total += len(line)

		if (size >= c.chunkSize && IsBoundary(line)) || i == len(lines)-1 {
			chunks = append(chunks, strings.Join(current, "\n"))
			current = tail(current, overlap)
			size = 0
			for _, l := range current {
				size += len(l)
			}
		}
	}
	if len(current) > 0 && total >= c.chunkSize {
		if rest := strings.Join(current, "\n"); rest != chunks[len(chunks)-1] {
			chunks = append(chunks, rest)
		}
	}
	return chunks
}

// tail returns a copy of the last n lines.
func tail(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if n > len(lines) {
		n = len(lines)
	}
	return append([]string(nil), lines[len(lines)-n:]...)
}
