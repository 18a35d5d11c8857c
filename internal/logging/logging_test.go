package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithOptions_LevelAndFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithOptions(Options{Level: "warn", Format: "json", Writer: &buf})
	log.Info("index loaded")
	log.Warn("embedder: EMBEDDING_MODEL looks like a chat model")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the warning, got %d lines: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}

	buf.Reset()
	NewWithOptions(Options{Format: "TEXT", Writer: &buf}).Info("ready")
	if !strings.Contains(buf.String(), "msg=ready") {
		t.Errorf("expected text handler output, got %q", buf.String())
	}
}

func TestNewWithOptions_ClipsUserText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithOptions(Options{Level: "debug", Writer: &buf})

	long := strings.Repeat("my blood sugar readings were ", 20)
	log.Debug("chat: query rewritten",
		slog.String("query", long),
		slog.String("session", strings.Repeat("s", 200)),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	q := rec["query"].(string)
	if n := utf8.RuneCountInString(q); n != MaxTextAttr+1 {
		t.Errorf("query clipped to %d runes, want %d plus ellipsis", n, MaxTextAttr)
	}
	if s := rec["session"].(string); len(s) != 200 {
		t.Errorf("non-text attribute was modified: %d chars", len(s))
	}
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected slog.Default without a stored logger")
	}

	l := slog.New(slog.DiscardHandler)
	ctx := WithLogger(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("expected the stored logger")
	}
}
