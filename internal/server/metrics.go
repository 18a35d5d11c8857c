package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/medquery-go/internal/chat"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// Metrics holds all Prometheus collectors owned by the server. It also
// implements chat.Observer so sessions report their stage timings into the
// same registry.
type Metrics struct {
	// chatRequestsTotal counts completed /api/chat requests, partitioned by
	// outcome: "ok", "failed", "timeout", or "error".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each /api/chat
	// request.
	chatDurationSeconds *prometheus.HistogramVec

	// chatInFlight is the number of /api/chat requests currently running.
	chatInFlight prometheus.Gauge

	// stageDurationSeconds records the duration of each orchestrator
	// stage, partitioned by stage and outcome.
	stageDurationSeconds *prometheus.HistogramVec

	// turnsTotal counts answered turns by outcome.
	turnsTotal *prometheus.CounterVec

	// turnSources records how many distinct sources grounded each answer.
	turnSources prometheus.Histogram

	// feedbackTotal counts feedback submissions by verdict.
	feedbackTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// authRejectedTotal counts requests refused by the API key check.
	authRejectedTotal *prometheus.CounterVec

	// rateLimitedTotal counts chat requests refused by the rate limiter.
	rateLimitedTotal prometheus.Counter

	// dependencyUp is 1 when the last readiness probe of a dependency
	// succeeded and 0 otherwise.
	dependencyUp *prometheus.GaugeVec
}

// NewMetrics registers all server metrics against reg and returns them.
// promauto.With(reg) registers into the provided registry rather than the
// global default, which keeps unit tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medquery",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /api/chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medquery",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/chat requests.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		chatInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "medquery",
			Subsystem: "chat",
			Name:      "in_flight",
			Help:      "Number of /api/chat requests currently being answered.",
		}),

		stageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medquery",
			Subsystem: "session",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each conversational stage (retrieving, generating, updating_memory).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage", "outcome"}),

		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medquery",
			Subsystem: "session",
			Name:      "turns_total",
			Help:      "Total number of conversational turns, partitioned by outcome.",
		}, []string{"outcome"}),

		turnSources: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medquery",
			Subsystem: "session",
			Name:      "turn_sources",
			Help:      "Number of distinct source documents grounding each answer.",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		}),

		feedbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medquery",
			Subsystem: "session",
			Name:      "feedback_total",
			Help:      "Total number of feedback submissions, partitioned by verdict.",
		}, []string{"verdict"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medquery",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medquery",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		authRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medquery",
			Subsystem: "http",
			Name:      "auth_rejected_total",
			Help:      "Requests rejected by API key authentication, partitioned by reason.",
		}, []string{"reason"}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medquery",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Chat requests rejected by the per-client rate limit.",
		}),

		dependencyUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "medquery",
			Name:      "dependency_up",
			Help:      "Result of the last readiness probe per dependency (1 up, 0 down).",
		}, []string{"dependency"}),
	}
}

var _ chat.Observer = (*Metrics)(nil)

// ObserveStage records the duration of one orchestrator stage.
func (m *Metrics) ObserveStage(stage chat.State, elapsed time.Duration, err error) {
	m.stageDurationSeconds.WithLabelValues(stage.String(), outcomeOf(err)).Observe(elapsed.Seconds())
}

// ObserveTurn records the outcome of one turn.
func (m *Metrics) ObserveTurn(failed bool, sources int) {
	if failed {
		m.turnsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.turnsTotal.WithLabelValues("ok").Inc()
	m.turnSources.Observe(float64(sources))
}

// observeChat records one completed /api/chat request.
func (m *Metrics) observeChat(outcome string, elapsed time.Duration) {
	m.chatRequestsTotal.WithLabelValues(outcome).Inc()
	m.chatDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// instrument wraps next so every request is counted and timed under the
// route pattern that matched it.
func (m *Metrics) instrument(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := next.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		m.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
