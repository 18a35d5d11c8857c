package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/medquery-go/internal/rag"
)

// ---------------------------------------------------------------------------
// Hash embedder
// ---------------------------------------------------------------------------

func TestHashEmbedder_Deterministic(t *testing.T) {
	t.Parallel()

	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"insulin resistance", "blood pressure"})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"insulin resistance", "blood pressure"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a, 2)
	assert.Len(t, a[0], 64)
	assert.NotEqual(t, a[0], a[1])
}

func TestHashEmbedder_Normalised(t *testing.T) {
	t.Parallel()

	vecs, err := NewHashEmbedder(32).Embed(context.Background(), []string{"metformin lowers glucose in diabetes"})
	require.NoError(t, err)

	var sum float64
	for _, v := range vecs[0] {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

// ---------------------------------------------------------------------------
// Guard
// ---------------------------------------------------------------------------

type stubEmbedder struct {
	dims  int
	calls int
	out   [][]float32
	err   error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.out != nil {
		return s.out, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dims)
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int   { return s.dims }
func (s *stubEmbedder) ModelName() string { return "stub" }

func TestGuard_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		texts []string
	}{
		{"empty string", []string{"ok", ""}},
		{"whitespace", []string{"   \n"}},
		{"too long", []string{strings.Repeat("a", 11)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inner := &stubEmbedder{dims: 4}
			_, err := NewGuard(inner, 10).Embed(context.Background(), tt.texts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, rag.ErrEmbedding))
			assert.Zero(t, inner.calls, "backend must not be called")
		})
	}
}

func TestGuard_PreservesOrderAndCount(t *testing.T) {
	t.Parallel()

	inner := &stubEmbedder{dims: 2, out: [][]float32{{1, 0}, {0, 1}, {1, 1}}}
	vecs, err := NewGuard(inner, 0).Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}, {1, 1}}, vecs)
}

func TestGuard_BackendFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		inner *stubEmbedder
	}{
		{"backend error", &stubEmbedder{dims: 2, err: errors.New("connection refused")}},
		{"short batch", &stubEmbedder{dims: 2, out: [][]float32{{1, 0}}}},
		{"wrong dimension", &stubEmbedder{dims: 2, out: [][]float32{{1, 0, 0}, {0, 1, 0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewGuard(tt.inner, 0).Embed(context.Background(), []string{"x", "y"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, rag.ErrEmbedding))
		})
	}
}

func TestEmbedText(t *testing.T) {
	t.Parallel()

	g := NewGuard(NewHashEmbedder(16), 0)
	vec, err := rag.EmbedText(context.Background(), g, "hypertension")
	require.NoError(t, err)
	assert.Len(t, vec, 16)

	_, err = rag.EmbedText(context.Background(), g, "")
	assert.True(t, errors.Is(err, rag.ErrEmbedding))
}

// ---------------------------------------------------------------------------
// HTTP backends
// ---------------------------------------------------------------------------

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		out := ollamaEmbedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text", Dimensions: 2})
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)
	assert.Equal(t, 2, e.Dimensions())
	assert.Equal(t, "ollama/nomic-embed-text", e.ModelName())
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Error: `model "nomic-embed-text" not found`})
	}))
	t.Cleanup(srv.Close)

	_, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"}).Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rag.ErrEmbedding))
	assert.Contains(t, err.Error(), "not found")
}

func TestOpenAIEmbedder_ReordersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small", Dimensions: 2})
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOpenAIEmbedder_AzureAuth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/embed-dep/embeddings", r.URL.Path)
		assert.Equal(t, "2025-04-01-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5,0.5]}]}`))
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL + "/openai",
		APIKey:     "azure-key",
		Model:      "embed-dep",
		Dimensions: 2,
		Azure:      true,
		APIVersion: "2025-04-01-preview",
	})
	_, err := e.Embed(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Equal(t, "azure/embed-dep", e.ModelName())
}

func TestOpenAIEmbedder_SplitsIntoBatches(t *testing.T) {
	t.Parallel()

	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		sizes = append(sizes, len(req.Input))

		var resp openaiEmbedResponse
		for i, text := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(len(text)), 0}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Dimensions: 2, MaxBatch: 2})
	vecs, err := e.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, sizes)
	require.Len(t, vecs, 5)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0], "vector %d out of order", i)
	}
}

func TestOpenAIEmbedder_RetriesRateLimits(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Dimensions: 2, RetryBase: time.Millisecond})
	vecs, err := e.Embed(context.Background(), []string{"glucose"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}}, vecs)
	assert.Equal(t, 3, calls)
}

func TestOpenAIEmbedder_PermanentErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"input too long"}}`))
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", RetryBase: time.Millisecond})
	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rag.ErrEmbedding))
	assert.Contains(t, err.Error(), "input too long")
	assert.Equal(t, 1, calls)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}

// ---------------------------------------------------------------------------
// Factory and validation
// ---------------------------------------------------------------------------

func TestNewFromEnv_Backends(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "")
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("EMBEDDING_MAX_INPUT_CHARS", "1200")

	g, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, defaultHashDimensions, g.Dimensions())
	assert.Equal(t, 1200, g.MaxInputChars())

	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBEDDING_API_KEY", "")
	_, err = NewFromEnv()
	assert.Error(t, err)

	t.Setenv("EMBEDDING_PROVIDER", "bogus")
	_, err = NewFromEnv()
	assert.Error(t, err)
}

func TestBackend_InheritsModelProvider(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")

	t.Setenv("MODEL_PROVIDER", "azure")
	assert.Equal(t, "azure", Backend())

	t.Setenv("MODEL_PROVIDER", "gemini")
	assert.Equal(t, "ollama", Backend())
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	assert.Equal(t, 768, DefaultDimensions("ollama"))
	assert.Equal(t, 1536, DefaultDimensions("openai"))
	assert.Equal(t, defaultHashDimensions, DefaultDimensions("hash"))

	t.Setenv("EMBEDDING_DIMENSIONS", "384")
	assert.Equal(t, 384, DefaultDimensions("ollama"))
}

func TestValidate(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("EMBEDDING_MAX_INPUT_CHARS", "")
	log := slog.Default()

	t.Setenv("EMBEDDING_PROVIDER", "hash")
	assert.NoError(t, Validate(log, 500))
	assert.Error(t, Validate(log, DefaultMaxInputChars+1), "chunks longer than the embedder limit")

	t.Setenv("EMBEDDING_PROVIDER", "azure")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("AZURE_OPENAI_API_KEY", "")
	assert.Error(t, Validate(log, 500))
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	assert.True(t, looksLikeChatModel("gpt-4o"))
	assert.True(t, looksLikeChatModel("llama3.1:8b"))
	assert.False(t, looksLikeChatModel("nomic-embed-text"))
	assert.False(t, looksLikeChatModel("text-embedding-3-small"))
}
