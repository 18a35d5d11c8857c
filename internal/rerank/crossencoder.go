package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CrossEncoder scores pairs with a cross-encoder model served behind a
// text-embeddings-inference compatible POST /rerank endpoint (e.g.
// BAAI/bge-reranker-base).
type CrossEncoder struct {
	// endpoint is the server base URL.
	endpoint string
	// model is sent along for servers that host several rerankers.
	model string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// CrossEncoderConfig holds the settings for constructing a CrossEncoder.
type CrossEncoderConfig struct {
	// Endpoint is the reranker server base URL (e.g. "http://localhost:8081").
	Endpoint string
	// Model is the optional reranker model name.
	Model string
	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration
}

// NewCrossEncoder constructs a CrossEncoder from cfg.
func NewCrossEncoder(cfg *CrossEncoderConfig) (*CrossEncoder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rerank: cross-encoder requires RERANK_ENDPOINT")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CrossEncoder{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name identifies the scorer.
func (c *CrossEncoder) Name() string {
	if c.model != "" {
		return "cross-encoder/" + c.model
	}
	return "cross-encoder"
}

// rerankRequest is the JSON body sent to /rerank.
type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

// rerankResult is one element of the /rerank response.
type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score scores a single pair.
func (c *CrossEncoder) Score(ctx context.Context, query, candidate string) (float64, error) {
	scores, err := c.ScoreBatch(ctx, query, []string{candidate})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// ScoreBatch scores every candidate in one request. The server may return
// results sorted by score; they are mapped back by index.
func (c *CrossEncoder) ScoreBatch(ctx context.Context, query string, candidates []string) ([]float64, error) {
	payload, err := json.Marshal(rerankRequest{Query: query, Texts: candidates, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("cross-encoder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("cross-encoder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cross-encoder: HTTP %d", resp.StatusCode)
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("cross-encoder: decode response: %w", err)
	}
	if len(results) != len(candidates) {
		return nil, fmt.Errorf("cross-encoder: expected %d scores, got %d", len(candidates), len(results))
	}

	scores := make([]float64, len(candidates))
	seen := make([]bool, len(candidates))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(candidates) || seen[r.Index] {
			return nil, fmt.Errorf("cross-encoder: invalid result index %d", r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	return scores, nil
}
