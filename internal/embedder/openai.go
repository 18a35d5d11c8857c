package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/medquery-go/internal/rag"
)

// OpenAIEmbedder implements rag.Embedder using the OpenAI (or Azure OpenAI)
// embeddings REST API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1" or an Azure endpoint).
	baseURL string
	// apiKey is the Bearer token (OpenAI) or api-key header value (Azure).
	apiKey string
	// model is the embedding model name (e.g. "text-embedding-3-small").
	model string
	// dimensions is the embedding vector length requested from the API.
	dimensions int
	// azure selects Azure-style auth (api-key header) over Bearer token.
	azure bool
	// apiVersion is the Azure OpenAI API version query param (ignored for OpenAI).
	apiVersion string
	// maxBatch caps the inputs of one request.
	maxBatch int
	// retryBase is the first backoff between retried requests.
	retryBase time.Duration
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

const (
	// defaultOpenAIBatch stays well under the API limit of 2048 inputs.
	defaultOpenAIBatch = 256
	// maxAttempts bounds retries of rate-limited or failed requests.
	maxAttempts = 3
)

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string
	// Dimensions is the requested vector length. Defaults to 1536.
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	// Ignored when Azure is false.
	APIVersion string
	// MaxBatch caps the inputs per request. Defaults to 256.
	MaxBatch int
	// RetryBase is the first backoff after a 429 or 5xx. Defaults to 500ms.
	RetryBase time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultOpenAIDimensions
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultOpenAIBatch
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	return &OpenAIEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
		apiVersion: cfg.APIVersion,
		maxBatch:   cfg.MaxBatch,
		retryBase:  cfg.RetryBase,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Dimensions reports the requested vector length.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// ModelName reports the embedding model or Azure deployment name.
func (e *OpenAIEmbedder) ModelName() string {
	if e.azure {
		return "azure/" + e.model
	}
	return "openai/" + e.model
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed embeds texts, splitting them into requests of at most maxBatch
// inputs. The returned slice is parallel to texts.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for lo := 0; lo < len(texts); lo += e.maxBatch {
		hi := min(lo+e.maxBatch, len(texts))
		vecs, err := e.embedWithRetry(ctx, texts[lo:hi])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedWithRetry sends one request, retrying rate-limit and server errors
// up to maxAttempts times. The wait honours Retry-After when present and
// doubles from retryBase otherwise.
func (e *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	wait := e.retryBase
	for attempt := 1; ; attempt++ {
		vecs, retryAfter, err := e.embedOnce(ctx, texts)
		if err == nil || retryAfter < 0 || attempt == maxAttempts {
			return vecs, err
		}
		if retryAfter > 0 {
			wait = retryAfter
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("openai embedder: %w: %w", rag.ErrEmbedding, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// embedOnce performs a single request. retryAfter is negative when the
// failure is permanent, zero when it is transient without a server hint,
// and the server's Retry-After otherwise.
func (e *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) (vecs [][]float32, retryAfter time.Duration, err error) {
	payload, err := json.Marshal(openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions})
	if err != nil {
		return nil, -1, fmt.Errorf("openai embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, -1, fmt.Errorf("openai embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.azure {
		req.Header.Set("api-key", e.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, -1, fmt.Errorf("openai embedder: request failed: %w: %w", rag.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	var result openaiEmbedResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if decodeErr == nil && result.Error != nil {
			msg = result.Error.Message
		}
		err := fmt.Errorf("openai embedder: %s: %w", msg, rag.ErrEmbedding)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, parseRetryAfter(resp.Header.Get("Retry-After")), err
		}
		return nil, -1, err
	}
	if decodeErr != nil {
		return nil, -1, fmt.Errorf("openai embedder: decode response: %w: %w", rag.ErrEmbedding, decodeErr)
	}
	if len(result.Data) != len(texts) {
		return nil, -1, fmt.Errorf("openai embedder: expected %d embeddings, got %d: %w", len(texts), len(result.Data), rag.ErrEmbedding)
	}

	// Data may arrive out of order.
	vecs = make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) || vecs[d.Index] != nil {
			return nil, -1, fmt.Errorf("openai embedder: bad result index %d for %d inputs: %w", d.Index, len(texts), rag.ErrEmbedding)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, 0, nil
}

// endpoint is the embeddings URL for the configured flavour.
func (e *OpenAIEmbedder) endpoint() string {
	if !e.azure {
		return e.baseURL + "/embeddings"
	}
	q := url.Values{"api-version": {e.apiVersion}}
	return e.baseURL + "/deployments/" + url.PathEscape(e.model) + "/embeddings?" + q.Encode()
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
