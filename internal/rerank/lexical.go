package rerank

import (
	"context"
	"math"

	"github.com/54b3r/medquery-go/internal/tokenize"
)

// Lexical scores a pair by the Ochiai coefficient of their content-word
// sets: |Q∩C| / sqrt(|Q|·|C|). It needs no model and is the default
// scorer.
type Lexical struct{}

// NewLexical constructs the lexical scorer.
func NewLexical() *Lexical { return &Lexical{} }

// Name identifies the scorer.
func (*Lexical) Name() string { return "lexical" }

// Score returns the Ochiai overlap of query and candidate in [0, 1].
func (*Lexical) Score(_ context.Context, query, candidate string) (float64, error) {
	return ochiai(tokenize.Set(query), tokenize.Set(candidate)), nil
}

// ScoreBatch tokenizes the query once for all candidates.
func (*Lexical) ScoreBatch(ctx context.Context, query string, candidates []string) ([]float64, error) {
	q := tokenize.Set(query)
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = ochiai(q, tokenize.Set(c))
	}
	return out, nil
}

// ochiai is the set-overlap coefficient of a and b.
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
