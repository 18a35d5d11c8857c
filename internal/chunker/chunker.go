// Package chunker splits corpus documents into overlapping fixed-size
// passages. Sizes and offsets are measured in runes so multi-byte text is
// never cut inside a character.
package chunker

import (
	"crypto/sha256"
	"fmt"
	"maps"
	"strconv"

	"github.com/54b3r/medquery-go/internal/rag"
)

// Chunk is one contiguous passage of a source document.
type Chunk struct {
	// ID is deterministic for a given source and index.
	ID string

	// Text is the passage content.
	Text string

	// Source is the file name of the parent document.
	Source string

	// Index is the 0-based position of the chunk within its document.
	Index int

	// Start is the rune offset of Text within the parent document.
	Start int

	// Metadata is inherited from the parent document, plus chunk_index.
	Metadata map[string]string
}

// Validate reports whether size and overlap form a usable window.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("chunker: chunk size must be positive, got %d: %w", size, rag.ErrIngestion)
	}
	if overlap < 0 {
		return fmt.Errorf("chunker: overlap must not be negative, got %d: %w", overlap, rag.ErrIngestion)
	}
	if overlap >= size {
		return fmt.Errorf("chunker: overlap (%d) must be smaller than chunk size (%d): %w", overlap, size, rag.ErrIngestion)
	}
	return nil
}

// Split cuts doc into windows of size runes advancing by size-overlap, so
// consecutive chunks share exactly overlap runes. The window that reaches
// the end of the document is the last one; it may be shorter than size.
// A document shorter than size yields a single chunk holding all of it,
// and an empty document yields none.
func Split(doc rag.SourceDocument, size, overlap int) ([]Chunk, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	runes := []rune(doc.Text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := size - overlap
	chunks := make([]Chunk, 0, Count(len(runes), size, overlap))
	for start := 0; ; start += step {
		end := min(start+size, len(runes))

		idx := len(chunks)
		meta := make(map[string]string, len(doc.Metadata)+1)
		maps.Copy(meta, doc.Metadata)
		meta["chunk_index"] = strconv.Itoa(idx)

		chunks = append(chunks, Chunk{
			ID:       ID(doc.Source, idx),
			Text:     string(runes[start:end]),
			Source:   doc.Source,
			Index:    idx,
			Start:    start,
			Metadata: meta,
		})

		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

// Count is the number of chunks Split produces for a document of length
// runes: ceil((length-overlap)/(size-overlap)) when length exceeds overlap,
// one for any other non-empty document.
func Count(length, size, overlap int) int {
	if length <= 0 {
		return 0
	}
	if length <= overlap {
		return 1
	}
	step := size - overlap
	return (length - overlap + step - 1) / step
}

// ID derives the deterministic identifier of the index-th chunk of source.
func ID(source string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, index)))
	return fmt.Sprintf("%x", h[:16])
}

// Documents converts chunks to index entries.
func Documents(chunks []Chunk) []rag.Document {
	docs := make([]rag.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = rag.Document{
			ID:       c.ID,
			Content:  c.Text,
			Source:   c.Source,
			Metadata: c.Metadata,
		}
	}
	return docs
}
