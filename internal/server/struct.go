package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/medquery-go/internal/chat"
	"github.com/54b3r/medquery-go/internal/memory"
	"github.com/54b3r/medquery-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed ChatTimeout so a slow answer is not cut off mid-write.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds one /api/chat request end to end (default: 3m).
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Metrics are the collectors shared with the chat sessions. If nil, a
	// fresh set is registered against MetricsRegistry.
	Metrics *Metrics
	// MetricsRegistry receives the server collectors when Metrics is nil.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// Transcripts, when set, answers GET /api/history for sessions that are
	// no longer live in this process.
	Transcripts store.TranscriptStore
}

// conversation is the slice of *chat.Session the handlers use. Tests
// inject a fake.
type conversation interface {
	ID() string
	Answer(ctx context.Context, question string) (*chat.Result, error)
	RecordFeedback(ctx context.Context, turnIndex int, verdict store.Verdict, comment string) error
	Reset()
	History() []memory.Turn
	// FirstTurn is the index of History()[0].
	FirstTurn() int
}

// sessions resolves session ids to conversations.
type sessions interface {
	// Open returns the conversation for id, creating it when absent.
	Open(ctx context.Context, id string) (conversation, error)
	// Find returns a live conversation without creating one.
	Find(id string) (conversation, bool)
}

// Server is the HTTP front end of the MedQuery assistant.
type Server struct {
	// sessions resolves the session named in each request.
	sessions sessions
	// transcripts backs GET /api/history for sessions not live in memory.
	transcripts store.TranscriptStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *Metrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Session names the conversation. Empty starts a new one.
	Session string `json:"session"`
	// Message is the user's question.
	Message string `json:"message"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	// Session is the id to send with follow-up questions.
	Session string `json:"session"`
	// Answer is the generated answer or the failure message.
	Answer string `json:"answer"`
	// Sources lists the documents the answer was grounded on.
	Sources []string `json:"sources"`
	// Turn is the index of the recorded turn, -1 when Failed.
	Turn int `json:"turn"`
	// Failed reports that the turn was not recorded.
	Failed bool `json:"failed"`
}

// feedbackRequest is the JSON body for POST /api/feedback.
type feedbackRequest struct {
	// Session names the conversation the turn belongs to.
	Session string `json:"session"`
	// Turn is the index returned by /api/chat.
	Turn int `json:"turn"`
	// Verdict is "positive" or "negative".
	Verdict string `json:"verdict"`
	// Comment is optional free text.
	Comment string `json:"comment,omitempty"`
}

// resetRequest is the JSON body for POST /api/reset.
type resetRequest struct {
	// Session names the conversation to clear.
	Session string `json:"session"`
}

// historyTurn is one entry of the GET /api/history response.
type historyTurn struct {
	Turn     int      `json:"turn"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	Session string        `json:"session"`
	Turns   []historyTurn `json:"turns"`
}
