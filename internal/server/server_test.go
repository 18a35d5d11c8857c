package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/medquery-go/internal/chat"
	"github.com/54b3r/medquery-go/internal/embedder"
	"github.com/54b3r/medquery-go/internal/generator"
	"github.com/54b3r/medquery-go/internal/llmtest"
	"github.com/54b3r/medquery-go/internal/memory"
	"github.com/54b3r/medquery-go/internal/rag"
	"github.com/54b3r/medquery-go/internal/vectorindex"
)

// staticRetriever returns the same passages for every query.
type staticRetriever struct {
	docs []rag.Document
}

func (r staticRetriever) Retrieve(context.Context, string) ([]rag.Document, error) {
	return r.docs, nil
}

// newLiveServer builds a Server through New with real sessions behind it.
func newLiveServer(t *testing.T, apiKey string) (*httptest.Server, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	gen, err := generator.New(&generator.Config{ChatModel: llmtest.Text("Diabetes is managed with insulin. " + generator.Disclaimer)})
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	emb := embedder.NewHashEmbedder(64)
	retriever := staticRetriever{docs: []rag.Document{{ID: "doc1#0", Content: "Diabetes is managed with insulin.", Source: "doc1"}}}

	factory := func(_ context.Context, id string) (*chat.Session, error) {
		idx, err := vectorindex.NewFlat(emb.Dimensions(), vectorindex.Cosine)
		if err != nil {
			return nil, err
		}
		lt, err := memory.NewLongTerm(&memory.LongTermConfig{Embedder: emb, Index: idx})
		if err != nil {
			return nil, err
		}
		return chat.NewSession(&chat.Config{
			ID:        id,
			Retriever: retriever,
			Generator: gen,
			LongTerm:  lt,
			RecallK:   2,
			Observer:  metrics,
		})
	}
	manager := chat.NewManager(factory)
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	s, err := New(manager, &Config{
		APIKey:          apiKey,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:         metrics,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(s.stopRL)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, reg
}

func do(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNew_NilManager(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil manager")
	}
}

// TestServer_ConversationRoundTrip drives chat, feedback, history and reset
// through the full middleware stack.
func TestServer_ConversationRoundTrip(t *testing.T) {
	t.Parallel()
	srv, reg := newLiveServer(t, "")

	resp := do(t, http.MethodPost, srv.URL+"/api/chat", "", `{"message":"How is diabetes treated?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: expected 200, got %d", resp.StatusCode)
	}
	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if cr.Session == "" || cr.Turn != 0 || cr.Failed {
		t.Fatalf("unexpected chat response: %+v", cr)
	}
	if len(cr.Sources) != 1 || cr.Sources[0] != "doc1" {
		t.Errorf("sources: expected [doc1], got %v", cr.Sources)
	}

	resp = do(t, http.MethodPost, srv.URL+"/api/chat", "", `{"session":"`+cr.Session+`","message":"And for children?"}`)
	var second chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&second); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if second.Session != cr.Session || second.Turn != 1 {
		t.Errorf("follow-up not in same session: %+v", second)
	}

	resp = do(t, http.MethodPost, srv.URL+"/api/feedback", "", `{"session":"`+cr.Session+`","turn":1,"verdict":"positive"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("feedback: expected 204, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/history?session="+cr.Session, "", "")
	var hr historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hr.Turns) != 2 {
		t.Errorf("history: expected 2 turns, got %d", len(hr.Turns))
	}

	resp = do(t, http.MethodPost, srv.URL+"/api/reset", "", `{"session":"`+cr.Session+`"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("reset: expected 204, got %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/api/history?session="+cr.Session, "", "")
	hr = historyResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hr.Turns) != 0 {
		t.Errorf("history after reset: expected 0 turns, got %d", len(hr.Turns))
	}

	if m := findMetric(t, reg, "medquery_session_turns_total", map[string]string{"outcome": "ok"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("expected two ok turns recorded by the session observer")
	}
	if m := findMetric(t, reg, "medquery_http_requests_total", map[string]string{"handler": "POST /api/chat", "code": "200"}); m == nil {
		t.Error("expected http request metric for POST /api/chat")
	}
}

func TestServer_AuthProtectsAPI(t *testing.T) {
	t.Parallel()
	srv, _ := newLiveServer(t, "s3cret")

	if resp := do(t, http.MethodPost, srv.URL+"/api/chat", "", `{"message":"hi"}`); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("chat without token: expected 401, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, srv.URL+"/api/chat", "s3cret", `{"message":"hi"}`); resp.StatusCode != http.StatusOK {
		t.Errorf("chat with token: expected 200, got %d", resp.StatusCode)
	}
	for _, path := range []string{"/api/health", "/api/ready", "/metrics"} {
		if resp := do(t, http.MethodGet, srv.URL+path, "", ""); resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200 without token, got %d", path, resp.StatusCode)
		}
	}
}
