package embedder

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/medquery-go/internal/rag"
)

// DefaultMaxInputChars is the input limit applied when none is configured.
// It sits comfortably below the context window of common embedding models.
const DefaultMaxInputChars = 8000

// Guard wraps an Embedder and enforces the input contract every backend
// shares: no empty inputs, no input above the configured length, and
// exactly one vector of the expected dimension per input. Violations are
// reported as rag.ErrEmbedding before or instead of a backend call.
type Guard struct {
	// inner is the wrapped backend.
	inner rag.Embedder

	// maxChars is the maximum input length in runes.
	maxChars int
}

// NewGuard wraps inner. maxChars defaults to DefaultMaxInputChars.
func NewGuard(inner rag.Embedder, maxChars int) *Guard {
	if maxChars <= 0 {
		maxChars = DefaultMaxInputChars
	}
	return &Guard{inner: inner, maxChars: maxChars}
}

// Dimensions delegates to the wrapped embedder.
func (g *Guard) Dimensions() int { return g.inner.Dimensions() }

// ModelName delegates to the wrapped embedder.
func (g *Guard) ModelName() string { return g.inner.ModelName() }

// MaxInputChars reports the input limit in runes.
func (g *Guard) MaxInputChars() int { return g.maxChars }

// Embed validates texts, delegates the batch, and validates the output.
func (g *Guard) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("embedder: input %d is empty: %w", i, rag.ErrEmbedding)
		}
		if n := utf8.RuneCountInString(t); n > g.maxChars {
			return nil, fmt.Errorf("embedder: input %d is %d characters, limit is %d: %w", i, n, g.maxChars, rag.ErrEmbedding)
		}
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vecs, err := g.inner.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedder: %s: %w", g.inner.ModelName(), wrapEmbedding(err))
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder: expected %d vectors, got %d: %w", len(texts), len(vecs), rag.ErrEmbedding)
	}

	dim := g.inner.Dimensions()
	for i, v := range vecs {
		if dim > 0 && len(v) != dim {
			return nil, fmt.Errorf("embedder: vector %d has dimension %d, expected %d: %w", i, len(v), dim, rag.ErrEmbedding)
		}
	}
	return vecs, nil
}

// wrapEmbedding makes sure backend errors carry rag.ErrEmbedding.
func wrapEmbedding(err error) error {
	if isEmbedding(err) {
		return err
	}
	return fmt.Errorf("%w: %w", rag.ErrEmbedding, err)
}
