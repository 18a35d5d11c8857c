// Package logging builds the process logger and carries request-scoped
// children of it through context values ([WithLogger] / [FromContext]).
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
//
// Attributes named in [textKeys] hold user-supplied medical text. They are
// clipped to [MaxTextAttr] runes so a pasted history or report never floods
// the log stream.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"
)

// MaxTextAttr is the rune limit for user text attributes.
const MaxTextAttr = 160

// textKeys are attribute keys whose values are user-supplied text.
var textKeys = map[string]bool{
	"question": true,
	"query":    true,
	"answer":   true,
	"comment":  true,
}

// Options overrides the environment. Empty fields fall back to LOG_LEVEL,
// LOG_FORMAT and stderr.
type Options struct {
	Level  string
	Format string
	Writer io.Writer
}

type contextKey struct{}

// New builds the logger from the environment.
func New() *slog.Logger {
	return NewWithOptions(Options{})
}

// NewWithOptions builds a logger from opts.
func NewWithOptions(opts Options) *slog.Logger {
	if opts.Level == "" {
		opts.Level = os.Getenv("LOG_LEVEL")
	}
	if opts.Format == "" {
		opts.Format = os.Getenv("LOG_FORMAT")
	}
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	hopts := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: clipText,
	}
	if strings.EqualFold(opts.Format, "text") {
		return slog.New(slog.NewTextHandler(opts.Writer, hopts))
	}
	return slog.New(slog.NewJSONHandler(opts.Writer, hopts))
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or [slog.Default].
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// ParseLevel maps a level name to a [slog.Level]; unknown names are Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// clipText shortens user text attributes.
func clipText(_ []string, a slog.Attr) slog.Attr {
	if !textKeys[a.Key] || a.Value.Kind() != slog.KindString {
		return a
	}
	s := a.Value.String()
	if utf8.RuneCountInString(s) <= MaxTextAttr {
		return a
	}
	r := []rune(s)
	return slog.String(a.Key, string(r[:MaxTextAttr])+"…")
}
