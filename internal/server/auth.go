package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/medquery-go/internal/logging"
)

// apiKeyAuth guards the conversation endpoints with the static bearer key
// from MEDQUERY_API_KEY. Transcripts carry patient questions, so history and
// feedback sit behind the same key as chat. An empty key disables the
// check; New warns about that once at startup.
type apiKeyAuth struct {
	// key is the expected bearer token.
	key []byte
	// metrics counts rejected requests by reason.
	metrics *Metrics
}

// newAPIKeyAuth returns a guard for key.
func newAPIKeyAuth(key string, m *Metrics) *apiKeyAuth {
	return &apiKeyAuth{key: []byte(key), metrics: m}
}

// wrap returns next behind the key check. Rejected requests get 401 with a
// WWW-Authenticate challenge; the presented token is never logged.
func (a *apiKeyAuth) wrap(next http.Handler) http.Handler {
	if len(a.key) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		switch {
		case !ok:
			a.reject(w, r, "missing", `Bearer realm="medquery"`, "authorization required")
		case subtle.ConstantTimeCompare([]byte(token), a.key) != 1:
			a.reject(w, r, "invalid", `Bearer realm="medquery", error="invalid_token"`, "invalid token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// reject writes the 401 response and records why.
func (a *apiKeyAuth) reject(w http.ResponseWriter, r *http.Request, reason, challenge, msg string) {
	logging.FromContext(r.Context()).Warn("auth: request rejected",
		slog.String("reason", reason),
		slog.String("path", r.URL.Path),
	)
	if a.metrics != nil {
		a.metrics.authRejectedTotal.WithLabelValues(reason).Inc()
	}
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSONError(w, msg, http.StatusUnauthorized)
}

// bearerToken parses an Authorization header of the form "Bearer <token>".
// The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
