package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/medquery-go/internal/rag"
)

func docs(n int) []rag.Document {
	out := make([]rag.Document, n)
	for i := range out {
		out[i] = rag.Document{
			ID:       fmt.Sprintf("d%d", i),
			Content:  fmt.Sprintf("passage %d", i),
			Source:   fmt.Sprintf("doc%d.txt", i%2),
			Metadata: map[string]string{"chunk_index": fmt.Sprint(i)},
		}
	}
	return out
}

func TestFlat_SearchOrdering(t *testing.T) {
	t.Parallel()

	vecs := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0, 1}}
	idx, err := Build(context.Background(), 3, Cosine, docs(4), vecs)
	require.NoError(t, err)

	got, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "d0", got[0].ID)
	assert.Equal(t, "d1", got[1].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestFlat_TiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	vecs := [][]float32{{0, 1}, {1, 0}, {1, 0}, {1, 0}}
	idx, err := Build(context.Background(), 2, Cosine, docs(4), vecs)
	require.NoError(t, err)

	got, err := idx.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2", "d3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestFlat_EmptyIndexAndLargeK(t *testing.T) {
	t.Parallel()

	idx, err := NewFlat(2, Cosine)
	require.NoError(t, err)

	got, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, idx.Add(context.Background(), docs(2), [][]float32{{1, 0}, {0, 1}}))
	got, err = idx.Search(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFlat_DimensionMismatch(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), 3, Cosine, docs(2), [][]float32{{1, 0, 0}, {1, 0}})
	assert.True(t, errors.Is(err, rag.ErrIndexBuild))

	idx, err := NewFlat(3, Cosine)
	require.NoError(t, err)
	err = idx.Add(context.Background(), docs(2), [][]float32{{1, 0, 0}, {1, 0}})
	assert.True(t, errors.Is(err, rag.ErrIndexBuild))

	n, _ := idx.Len(context.Background())
	assert.Zero(t, n, "a rejected batch must not be partially added")

	_, err = idx.Search(context.Background(), []float32{1, 0}, 1)
	assert.True(t, errors.Is(err, rag.ErrRetrieval))
}

func TestFlat_DotMetric(t *testing.T) {
	t.Parallel()

	idx, err := Build(context.Background(), 2, Dot, docs(2), [][]float32{{1, 0}, {3, 0}})
	require.NoError(t, err)

	got, err := idx.Search(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "d1", got[0].ID)
	assert.InDelta(t, 3.0, got[0].Score, 1e-6)
}

func TestFlat_ResultsDoNotAliasStorage(t *testing.T) {
	t.Parallel()

	idx, err := Build(context.Background(), 2, Cosine, docs(1), [][]float32{{1, 0}})
	require.NoError(t, err)

	got, err := idx.Search(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	got[0].Metadata["chunk_index"] = "mutated"

	again, err := idx.Search(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "0", again[0].Metadata["chunk_index"])
}

func TestFlat_ConcurrentAddAndSearch(t *testing.T) {
	t.Parallel()

	idx, err := NewFlat(2, Cosine)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = idx.Add(context.Background(), []rag.Document{{ID: fmt.Sprint(i)}}, [][]float32{{1, float32(i)}})
		}()
		go func() {
			defer wg.Done()
			_, _ = idx.Search(context.Background(), []float32{1, 1}, 3)
		}()
	}
	wg.Wait()

	n, err := idx.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestParseMetric(t *testing.T) {
	t.Parallel()

	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, Cosine, m)

	m, err = ParseMetric("dot")
	require.NoError(t, err)
	assert.Equal(t, Dot, m)

	_, err = ParseMetric("euclid")
	assert.Error(t, err)
}

func TestPointID_Deterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, pointID("abc"), pointID("abc"))
	assert.NotEqual(t, pointID("abc"), pointID("abd"))
	assert.Len(t, pointID("abc"), 36)
}
