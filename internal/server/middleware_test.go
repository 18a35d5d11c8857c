package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/medquery-go/internal/logging"
)

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := requestLogger(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Info("turn answered")
		seen = r.Header.Get(requestIDHeader)
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set(requestIDHeader, "client-trace-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get(requestIDHeader); got != "client-trace-42" {
		t.Errorf("response %s = %q, want the client's id", requestIDHeader, got)
	}
	if seen != "client-trace-42" {
		t.Errorf("handler saw id %q", seen)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected handler line and access line, got %d lines", len(lines))
	}
	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if rec["request_id"] != "client-trace-42" {
			t.Errorf("log line %q lacks the request id", line)
		}
	}
}

func TestRequestLogger_ReplacesUnusableID(t *testing.T) {
	t.Parallel()

	h := requestLogger(slog.New(slog.DiscardHandler), okHandler)

	for _, id := range []string{"", "has space", strings.Repeat("x", 65)} {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		if id != "" {
			req.Header.Set(requestIDHeader, id)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		got := w.Header().Get(requestIDHeader)
		if got == "" || got == id {
			t.Errorf("id %q: expected a generated id, got %q", id, got)
		}
	}
}

func TestRequestLogger_LevelFollowsStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		h := requestLogger(slog.New(slog.NewJSONHandler(&buf, nil)), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/history", nil))

		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec["level"] != tc.level {
			t.Errorf("status %d logged at %v, want %s", tc.status, rec["level"], tc.level)
		}
	}
}
