// Package vectorindex provides the append-only nearest-neighbour indexes
// behind the corpus and long-term memory: an exact in-memory index that
// persists to an SQLite file, and a Qdrant-backed index for deployments
// with an external vector database.
package vectorindex

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/54b3r/medquery-go/internal/rag"
)

// Metric selects the similarity function used by Search.
type Metric string

const (
	// Cosine compares vector directions; scores fall in [-1, 1].
	Cosine Metric = "cosine"
	// Dot is the raw inner product, suited to pre-normalised embeddings.
	Dot Metric = "dot"
)

// ParseMetric validates a metric name. The empty string means Cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", Cosine:
		return Cosine, nil
	case Dot:
		return Dot, nil
	default:
		return "", fmt.Errorf("vectorindex: unknown metric %q — valid values: cosine, dot", s)
	}
}

// entry is one stored document with its vector and cached norm.
type entry struct {
	doc  rag.Document
	vec  []float32
	norm float64
}

// Flat is an exact (brute-force) vector index held in memory. Reads take a
// shared lock, so many sessions can search concurrently while a session's
// own memory index grows.
type Flat struct {
	mu        sync.RWMutex
	dimension int
	metric    Metric
	model     string
	entries   []entry
}

// NewFlat returns an empty index for vectors of the given dimension.
func NewFlat(dimension int, metric Metric) (*Flat, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vectorindex: dimension must be positive, got %d: %w", dimension, rag.ErrIndexBuild)
	}
	if metric == "" {
		metric = Cosine
	}
	return &Flat{dimension: dimension, metric: metric}, nil
}

// Build constructs an index from parallel docs and vectors in one step.
// Every vector must have the given dimension.
func Build(ctx context.Context, dimension int, metric Metric, docs []rag.Document, vectors [][]float32) (*Flat, error) {
	idx, err := NewFlat(dimension, metric)
	if err != nil {
		return nil, err
	}
	if err := idx.Add(ctx, docs, vectors); err != nil {
		return nil, err
	}
	return idx, nil
}

// SetModel records the embedding model name that produced the vectors. It
// is stored alongside the persisted index.
func (f *Flat) SetModel(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model = name
}

// Model reports the recorded embedding model name.
func (f *Flat) Model() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.model
}

// Metric reports the similarity function.
func (f *Flat) Metric() Metric { return f.metric }

// Dimension is the vector length shared by every entry.
func (f *Flat) Dimension() int { return f.dimension }

// Add appends docs atomically: the batch is validated in full before any
// entry becomes visible to Search.
func (f *Flat) Add(_ context.Context, docs []rag.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("vectorindex: %d documents but %d vectors: %w", len(docs), len(vectors), rag.ErrIndexBuild)
	}

	batch := make([]entry, len(docs))
	for i, vec := range vectors {
		if len(vec) != f.dimension {
			return fmt.Errorf("vectorindex: vector %d has dimension %d, index expects %d: %w", i, len(vec), f.dimension, rag.ErrIndexBuild)
		}
		doc := docs[i]
		doc.Score = 0
		doc.Metadata = maps.Clone(doc.Metadata)
		batch[i] = entry{
			doc:  doc,
			vec:  append([]float32(nil), vec...),
			norm: norm(vec),
		}
	}

	f.mu.Lock()
	f.entries = append(f.entries, batch...)
	f.mu.Unlock()
	return nil
}

// Search scores every entry against query and returns the k best, highest
// score first. Equal scores keep insertion order, so results are
// reproducible across runs and across persist/load.
func (f *Flat) Search(_ context.Context, query []float32, k int) ([]rag.Document, error) {
	if len(query) != f.dimension {
		return nil, fmt.Errorf("vectorindex: query has dimension %d, index expects %d: %w", len(query), f.dimension, rag.ErrRetrieval)
	}
	if k <= 0 {
		return []rag.Document{}, nil
	}

	f.mu.RLock()
	type scored struct {
		pos   int
		score float64
	}
	scores := make([]scored, len(f.entries))
	qnorm := norm(query)
	for i, e := range f.entries {
		scores[i] = scored{pos: i, score: f.similarity(query, qnorm, e)}
	}
	sort.SliceStable(scores, func(a, b int) bool { return scores[a].score > scores[b].score })

	n := min(k, len(scores))
	out := make([]rag.Document, n)
	for i := 0; i < n; i++ {
		doc := f.entries[scores[i].pos].doc
		doc.Metadata = maps.Clone(doc.Metadata)
		doc.Score = float32(scores[i].score)
		out[i] = doc
	}
	f.mu.RUnlock()

	return out, nil
}

// Len reports the number of entries.
func (f *Flat) Len(context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries), nil
}

// Close is a no-op; the index holds no external resources.
func (f *Flat) Close() error { return nil }

// similarity scores one entry under the index metric.
func (f *Flat) similarity(q []float32, qnorm float64, e entry) float64 {
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(e.vec[i])
	}
	if f.metric == Dot {
		return dot
	}
	if qnorm == 0 || e.norm == 0 {
		return 0
	}
	return dot / (qnorm * e.norm)
}

// norm is the Euclidean length of v.
func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
