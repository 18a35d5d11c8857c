package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/54b3r/medquery-go/internal/tokenize"
)

// HashEmbedder is a deterministic, dependency-free embedder based on the
// hashing trick: each content word increments one bucket of a fixed-size
// vector, and the result is L2-normalised. It needs no model server, which
// makes it the backend for offline runs and tests. Retrieval quality is
// lexical, not semantic.
type HashEmbedder struct {
	// dimensions is the number of hash buckets.
	dimensions int
}

// defaultHashDimensions is the bucket count when none is configured.
const defaultHashDimensions = 512

// NewHashEmbedder constructs a HashEmbedder with the given bucket count.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = defaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Dimensions reports the bucket count.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// ModelName identifies the hashing scheme.
func (e *HashEmbedder) ModelName() string { return "hash/fnv1a" }

// Embed hashes every text independently; the output is parallel to texts.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

// vector builds the normalised bucket histogram for one text.
func (e *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dimensions)
	for _, tok := range tokenize.Words(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dimensions)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
