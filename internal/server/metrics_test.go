package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/54b3r/medquery-go/internal/chat"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := &Server{
		cfg: &Config{
			ChatTimeout:     5 * time.Minute,
			MetricsRegistry: reg,
			MetricsGatherer: reg,
		},
		metrics: NewMetrics(reg),
	}
	return s, reg
}

// findMetric returns the first sample of name whose labels include want.
func findMetric(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return m
		}
	}
	return nil
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newMetricsTestServer(t)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ChatCounterIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	s.metrics.observeChat("ok", 2*time.Second)

	m := findMetric(t, reg, "medquery_chat_requests_total", map[string]string{"outcome": "ok"})
	if m == nil {
		t.Fatal("medquery_chat_requests_total{outcome=\"ok\"} not found in gathered metrics")
	}
	if m.GetCounter().GetValue() != 1 {
		t.Errorf("want counter=1, got %v", m.GetCounter().GetValue())
	}
}

func Test_Metrics_InFlightGauge(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	s.metrics.chatInFlight.Inc()
	s.metrics.chatInFlight.Inc()

	m := findMetric(t, reg, "medquery_chat_in_flight", nil)
	if m == nil {
		t.Fatal("medquery_chat_in_flight not found in gathered metrics")
	}
	if v := m.GetGauge().GetValue(); v != 2 {
		t.Errorf("want in_flight=2, got %v", v)
	}
}

// Test_Metrics_Observer verifies that session stage and turn reports land
// in the server registry.
func Test_Metrics_Observer(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	var obs chat.Observer = s.metrics
	obs.ObserveStage(chat.Retrieving, 30*time.Millisecond, nil)
	obs.ObserveStage(chat.Generating, time.Second, errors.New("timeout"))
	obs.ObserveTurn(false, 1)
	obs.ObserveTurn(true, 0)

	if m := findMetric(t, reg, "medquery_session_stage_duration_seconds", map[string]string{"stage": "retrieving", "outcome": "ok"}); m == nil || m.GetHistogram().GetSampleCount() != 1 {
		t.Error("expected one retrieving/ok stage sample")
	}
	if m := findMetric(t, reg, "medquery_session_stage_duration_seconds", map[string]string{"stage": "generating", "outcome": "error"}); m == nil {
		t.Error("expected a generating/error stage sample")
	}
	for _, outcome := range []string{"ok", "failed"} {
		m := findMetric(t, reg, "medquery_session_turns_total", map[string]string{"outcome": outcome})
		if m == nil || m.GetCounter().GetValue() != 1 {
			t.Errorf("expected one %s turn", outcome)
		}
	}
}
