// Package rag defines the shared types of the retrieval pipeline: passages,
// the embedder and vector index contracts, the error taxonomy, and the
// retrievers built on top of them. Concrete backends (flat index, Qdrant,
// Ollama embeddings, etc.) satisfy these interfaces so the conversation
// layer never depends on a specific backend.
package rag

import (
	"context"
	"fmt"
)

// SourceDocument is one raw document of the corpus, as loaded from disk.
// It is immutable once ingested.
type SourceDocument struct {
	// Text is the full document text.
	Text string

	// Source is the file name the document was loaded from.
	Source string

	// Metadata holds additional key-value pairs carried onto every chunk.
	Metadata map[string]string
}

// Document represents a unit of retrieved or stored knowledge: a corpus
// chunk or a long-term memory record.
type Document struct {
	// ID is the unique identifier for this entry.
	ID string

	// Content is the raw text of the entry.
	Content string

	// Source is the file name of the originating document.
	Source string

	// Metadata holds arbitrary key-value pairs (chunk index, kind, etc.).
	Metadata map[string]string

	// Score is the relevance assigned during retrieval or reranking.
	// Zero value means the score was not computed.
	Score float32
}

// VectorIndex is the interface for an append-only nearest-neighbour index.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// Add appends a batch of entries with their pre-computed embeddings.
	// embeddings[i] is the vector for docs[i]. Either every entry is
	// added or none is.
	Add(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search returns up to k entries most similar to the query vector,
	// ordered by descending score. An empty index yields an empty result.
	Search(ctx context.Context, query []float32, k int) ([]Document, error)

	// Len reports the number of entries in the index.
	Len(ctx context.Context) (int, error)

	// Dimension is the vector length shared by every entry.
	Dimension() int

	// Close releases any resources held by the index.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of every vector this embedder produces.
	Dimensions() int

	// ModelName identifies the embedding model, recorded alongside
	// persisted indexes.
	ModelName() string
}

// Retriever fetches the passages relevant to a query.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the passages for query, most relevant first.
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

// EmbedText embeds a single text with e.
func EmbedText(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for 1 input: %w", len(vecs), ErrEmbedding)
	}
	return vecs[0], nil
}

// Sources returns the distinct Source values of docs in first-seen order.
func Sources(docs []Document) []string {
	seen := make(map[string]bool, len(docs))
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Source == "" || seen[d.Source] {
			continue
		}
		seen[d.Source] = true
		out = append(out, d.Source)
	}
	return out
}
