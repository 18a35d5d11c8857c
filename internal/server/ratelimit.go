package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/medquery-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained chat requests per second allowed
	// per client.
	defaultRateLimit = 10

	// defaultRateBurst is the per-client bucket size.
	defaultRateBurst = 20

	// bucketIdleTTL is how long a client's bucket survives without traffic.
	bucketIdleTTL = 5 * time.Minute
)

// bucket is one client's token bucket.
type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// clientLimiter throttles /api/chat per client address. Every chat request
// costs a retrieval, a rerank and a model call, so it is the only limited
// route. A janitor goroutine drops buckets idle for longer than idleTTL.
type clientLimiter struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	metrics *Metrics

	mu      sync.Mutex
	buckets map[string]*bucket
}

// newClientLimiter starts a limiter and its janitor. The returned function
// stops the janitor and may be called more than once.
func newClientLimiter(rps float64, burst int, m *Metrics) (*clientLimiter, func()) {
	cl := &clientLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: bucketIdleTTL,
		metrics: m,
		buckets: make(map[string]*bucket),
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-t.C:
				cl.sweep(now)
			}
		}
	}()

	var once sync.Once
	return cl, func() { once.Do(func() { close(done) }) }
}

// take spends one token of client's bucket. When the bucket is empty it
// reports how long the client should wait instead.
func (cl *clientLimiter) take(client string, now time.Time) (bool, time.Duration) {
	cl.mu.Lock()
	b, ok := cl.buckets[client]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(cl.rps, cl.burst)}
		cl.buckets[client] = b
	}
	b.seen = now
	cl.mu.Unlock()

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// sweep drops buckets not seen since now-idleTTL.
func (cl *clientLimiter) sweep(now time.Time) {
	cutoff := now.Add(-cl.idleTTL)

	cl.mu.Lock()
	defer cl.mu.Unlock()
	for c, b := range cl.buckets {
		if b.seen.Before(cutoff) {
			delete(cl.buckets, c)
		}
	}
}

// clients reports the number of tracked buckets.
func (cl *clientLimiter) clients() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.buckets)
}

// limit returns next behind the per-client limit. Throttled requests get
// 429 with Retry-After in whole seconds.
func (cl *clientLimiter) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		ok, wait := cl.take(client, time.Now())
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		secs := max(1, int(math.Ceil(wait.Seconds())))
		logging.FromContext(r.Context()).Warn("rate limit: request throttled",
			slog.String("client", client),
			slog.Int("retry_after_s", secs),
		)
		if cl.metrics != nil {
			cl.metrics.rateLimitedTotal.Inc()
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSONError(w, "too many requests", http.StatusTooManyRequests)
	})
}

// clientIP returns the host part of RemoteAddr. Forwarding headers are not
// trusted because the server binds to localhost by default.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
