// Package server implements the HTTP server that exposes the MedQuery
// assistant as a JSON API. The server is started by the `medquery serve`
// CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/medquery-go/internal/chat"
	"github.com/54b3r/medquery-go/internal/logging"
)

// New constructs a Server that answers questions through the sessions of
// manager.
func New(manager *chat.Manager, cfg *Config) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("server: session manager must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 3 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.ChatTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(cfg.MetricsRegistry)
	}

	s := &Server{
		sessions:    managerSessions{m: manager},
		transcripts: cfg.Transcripts,
		cfg:         cfg,
		log:         cfg.Logger,
		pingers:     cfg.Pingers,
		metrics:     cfg.Metrics,
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: MEDQUERY_API_KEY is not set, API authentication is disabled")
	}

	limiter, stop := newClientLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics)
	s.stopRL = stop

	auth := newAPIKeyAuth(cfg.APIKey, s.metrics)
	protect := func(h http.HandlerFunc) http.Handler {
		return auth.wrap(h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", auth.wrap(limiter.limit(http.HandlerFunc(s.handleChat))))
	mux.Handle("POST /api/feedback", protect(s.handleFeedback))
	mux.Handle("POST /api/reset", protect(s.handleReset))
	mux.Handle("GET /api/history", protect(s.handleHistory))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.metrics.instrument(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler. It is exposed for tests
// that drive the server through httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// handleChat handles POST /api/chat. It runs one conversational turn and
// returns the answer with its sources. A failed turn is still a 200: the
// body carries the failure message and failed:true, so clients render it
// like any other reply.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, "message is required", http.StatusBadRequest)
		return
	}

	s.metrics.chatInFlight.Inc()
	defer s.metrics.chatInFlight.Dec()
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	conv, err := s.sessions.Open(ctx, req.Session)
	if err != nil {
		log.Error("chat: session unavailable", slog.String("session", req.Session), slog.Any("error", err))
		s.metrics.observeChat("error", time.Since(start))
		writeJSONError(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	res, err := conv.Answer(ctx, req.Message)
	if res == nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chat.ErrEmptyQuestion) {
			status = http.StatusBadRequest
		}
		log.Error("chat: request rejected", slog.String("session", conv.ID()), slog.Any("error", err))
		s.metrics.observeChat("error", time.Since(start))
		writeJSONError(w, err.Error(), status)
		return
	}

	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case res.Failed:
		outcome = "failed"
	}
	if err != nil {
		log.Warn("chat: answered with failure message",
			slog.String("session", conv.ID()),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
	}
	s.metrics.observeChat(outcome, time.Since(start))

	writeJSON(w, http.StatusOK, chatResponse{
		Session: conv.ID(),
		Answer:  res.Answer,
		Sources: res.Sources,
		Turn:    res.Turn,
		Failed:  res.Failed,
	})
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error body with the given status code.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
