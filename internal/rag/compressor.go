package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/medquery-go/internal/logging"
)

// Reranker re-scores a candidate set against the query and keeps the best.
// Implementations return at most topN documents ordered by descending score.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Document, topN int) ([]Document, error)
}

// CompressionRetriever is the two-stage retriever: a wide dense search of
// kInitial candidates followed by a rerank down to kFinal passages.
type CompressionRetriever struct {
	// first is the dense stage; it owns the embedder and the index.
	first *SimilarityRetriever

	// reranker is the second, more precise stage.
	reranker Reranker

	// kInitial is the default first-stage candidate count.
	kInitial int

	// kFinal is the default number of passages returned.
	kFinal int
}

// CompressionConfig configures a CompressionRetriever.
type CompressionConfig struct {
	// Embedder embeds the query for the dense stage.
	Embedder Embedder

	// Index is the corpus index searched by the dense stage.
	Index VectorIndex

	// Reranker re-scores the dense candidates.
	Reranker Reranker

	// KInitial is the first-stage candidate count. Defaults to 8.
	KInitial int

	// KFinal is the number of passages kept after reranking. Defaults to 4.
	// Must not exceed KInitial.
	KFinal int
}

// NewCompressionRetriever validates cfg and constructs the retriever.
func NewCompressionRetriever(cfg *CompressionConfig) (*CompressionRetriever, error) {
	if cfg.Reranker == nil {
		return nil, fmt.Errorf("rag: reranker must not be nil")
	}
	if cfg.KInitial <= 0 {
		cfg.KInitial = 8
	}
	if cfg.KFinal <= 0 {
		cfg.KFinal = 4
	}
	if cfg.KFinal > cfg.KInitial {
		return nil, fmt.Errorf("rag: k_final (%d) must not exceed k_initial (%d)", cfg.KFinal, cfg.KInitial)
	}

	first, err := NewSimilarityRetriever(cfg.Embedder, cfg.Index, cfg.KInitial)
	if err != nil {
		return nil, err
	}

	return &CompressionRetriever{
		first:    first,
		reranker: cfg.Reranker,
		kInitial: cfg.KInitial,
		kFinal:   cfg.KFinal,
	}, nil
}

// Retrieve runs both stages with the configured k values.
func (r *CompressionRetriever) Retrieve(ctx context.Context, query string) ([]Document, error) {
	return r.RetrieveK(ctx, query, r.kInitial, r.kFinal)
}

// RetrieveK searches kInitial candidates and reranks them down to kFinal.
// The result never holds more than kFinal documents and is ordered by
// descending rerank score. An empty index yields an empty result.
func (r *CompressionRetriever) RetrieveK(ctx context.Context, query string, kInitial, kFinal int) ([]Document, error) {
	if kInitial <= 0 || kFinal <= 0 {
		return nil, fmt.Errorf("rag: k values must be positive (k_initial=%d, k_final=%d)", kInitial, kFinal)
	}
	if kFinal > kInitial {
		return nil, fmt.Errorf("rag: k_final (%d) must not exceed k_initial (%d)", kFinal, kInitial)
	}

	candidates, err := r.first.RetrieveK(ctx, query, kInitial)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Document{}, nil
	}

	passages, err := r.reranker.Rerank(ctx, query, candidates, kFinal)
	if err != nil {
		return nil, fmt.Errorf("rag: rerank failed: %w: %w", ErrRetrieval, err)
	}
	if len(passages) > kFinal {
		passages = passages[:kFinal]
	}

	logging.FromContext(ctx).Debug("rag: retrieval complete",
		slog.Int("candidates", len(candidates)),
		slog.Int("passages", len(passages)),
	)

	return passages, nil
}

// KFinal reports the configured number of passages per query.
func (r *CompressionRetriever) KFinal() int {
	return r.kFinal
}
