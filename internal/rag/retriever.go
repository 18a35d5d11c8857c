package rag

import (
	"context"
	"fmt"
)

// SimilarityRetriever implements Retriever with a single dense search: it
// embeds the query and returns the k nearest entries of the index. It backs
// long-term memory recall, where no reranking stage is applied.
type SimilarityRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// index performs the vector similarity search.
	index VectorIndex

	// k is the number of results to return.
	k int
}

// NewSimilarityRetriever constructs a SimilarityRetriever over index.
// k defaults to 2 when not positive.
func NewSimilarityRetriever(embedder Embedder, index VectorIndex, k int) (*SimilarityRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if k <= 0 {
		k = 2
	}
	return &SimilarityRetriever{
		embedder: embedder,
		index:    index,
		k:        k,
	}, nil
}

// Retrieve embeds the query and returns the k most similar entries.
func (r *SimilarityRetriever) Retrieve(ctx context.Context, query string) ([]Document, error) {
	return r.RetrieveK(ctx, query, r.k)
}

// RetrieveK is Retrieve with an explicit result count.
func (r *SimilarityRetriever) RetrieveK(ctx context.Context, query string, k int) ([]Document, error) {
	vec, err := EmbedText(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w: %w", ErrRetrieval, err)
	}

	docs, err := r.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w: %w", ErrRetrieval, err)
	}

	return docs, nil
}
