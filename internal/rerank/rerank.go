// Package rerank implements the second retrieval stage: a model that sees
// the query and each candidate passage together and re-scores the pair.
// The scoring model is a Scorer capability so the lexical, LLM-judge and
// cross-encoder backends are interchangeable.
package rerank

import (
	"context"
	"fmt"
	"sort"

	"github.com/54b3r/medquery-go/internal/rag"
)

// Scorer scores how well one candidate passage answers the query. Higher is
// better. Implementations must be safe for concurrent use.
type Scorer interface {
	// Score returns the relevance of candidate to query.
	Score(ctx context.Context, query, candidate string) (float64, error)

	// Name identifies the scoring model in logs and metrics.
	Name() string
}

// BatchScorer is implemented by scorers that can score many candidates in
// one backend call. The result is parallel to candidates.
type BatchScorer interface {
	Scorer
	ScoreBatch(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// Reranker orders first-stage candidates by a Scorer. It satisfies
// rag.Reranker.
type Reranker struct {
	scorer Scorer
}

// New constructs a Reranker around scorer.
func New(scorer Scorer) (*Reranker, error) {
	if scorer == nil {
		return nil, fmt.Errorf("rerank: scorer must not be nil")
	}
	return &Reranker{scorer: scorer}, nil
}

// Name reports the underlying scorer.
func (r *Reranker) Name() string { return r.scorer.Name() }

// Rerank scores every candidate against query and returns the best
// min(topN, len(candidates)), highest score first. Candidates with equal
// scores keep their first-stage order. The returned documents carry the
// rerank score; the input slice is not modified.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []rag.Document, topN int) ([]rag.Document, error) {
	if topN <= 0 || len(candidates) == 0 {
		return []rag.Document{}, nil
	}

	scores, err := r.score(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	out := make([]rag.Document, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = float32(scores[i])
	}

	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	n := min(topN, len(out))
	ranked := make([]rag.Document, n)
	for i := 0; i < n; i++ {
		ranked[i] = out[order[i]]
	}
	return ranked, nil
}

// score collects one score per candidate, batching when the scorer allows.
func (r *Reranker) score(ctx context.Context, query string, candidates []rag.Document) ([]float64, error) {
	if bs, ok := r.scorer.(BatchScorer); ok {
		texts := make([]string, len(candidates))
		for i, c := range candidates {
			texts[i] = c.Content
		}
		scores, err := bs.ScoreBatch(ctx, query, texts)
		if err != nil {
			return nil, fmt.Errorf("rerank: %s: %w", r.scorer.Name(), err)
		}
		if len(scores) != len(candidates) {
			return nil, fmt.Errorf("rerank: %s returned %d scores for %d candidates", r.scorer.Name(), len(scores), len(candidates))
		}
		return scores, nil
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		s, err := r.scorer.Score(ctx, query, c.Content)
		if err != nil {
			return nil, fmt.Errorf("rerank: %s: candidate %s: %w", r.scorer.Name(), c.ID, err)
		}
		scores[i] = s
	}
	return scores, nil
}
