package commands

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/medquery-go/internal/chat"
	"github.com/54b3r/medquery-go/internal/embedder"
	"github.com/54b3r/medquery-go/internal/generator"
	"github.com/54b3r/medquery-go/internal/llmtest"
	"github.com/54b3r/medquery-go/internal/memory"
	"github.com/54b3r/medquery-go/internal/rag"
	"github.com/54b3r/medquery-go/internal/store"
	"github.com/54b3r/medquery-go/internal/vectorindex"
)

type staticRetriever struct{ docs []rag.Document }

func (r staticRetriever) Retrieve(context.Context, string) ([]rag.Document, error) {
	return r.docs, nil
}

func newTestSession(t *testing.T) *chat.Session {
	t.Helper()
	gen, err := generator.New(&generator.Config{ChatModel: llmtest.Text("Insulin is the mainstay of treatment.")})
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	emb := embedder.NewHashEmbedder(32)
	idx, err := vectorindex.NewFlat(emb.Dimensions(), vectorindex.Cosine)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	lt, err := memory.NewLongTerm(&memory.LongTermConfig{Embedder: emb, Index: idx})
	if err != nil {
		t.Fatalf("long-term: %v", err)
	}
	s, err := chat.NewSession(&chat.Config{
		ID:        "repl",
		Retriever: staticRetriever{docs: []rag.Document{{ID: "doc1#0", Content: "Diabetes is managed with insulin.", Source: "doc1"}}},
		Generator: gen,
		LongTerm:  lt,
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s
}

func TestRunREPL(t *testing.T) {
	s := newTestSession(t)
	in := strings.NewReader(strings.Join([]string{
		"/feedback up",
		"How is diabetes treated?",
		"/feedback down needs dosage details",
		"/feedback sideways",
		"/history",
		"/bogus",
		"/reset",
		"/history",
		"/quit",
		"never reached",
	}, "\n"))
	var out bytes.Buffer

	if err := runREPL(context.Background(), s, in, &out); err != nil {
		t.Fatalf("runREPL: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Nothing to rate yet.",
		"Insulin is the mainstay of treatment.",
		"Sources: doc1",
		"Thanks for your feedback.",
		"unknown verdict",
		"[0] Q: How is diabetes treated?",
		"unknown command /bogus",
		"Conversation cleared.",
		"No turns yet.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "never reached") {
		t.Error("REPL kept reading after /quit")
	}

	fb := s.Feedback()
	if len(fb) != 0 {
		t.Errorf("expected feedback cleared by /reset, got %d", len(fb))
	}
}

func TestRunREPL_EOF(t *testing.T) {
	s := newTestSession(t)
	var out bytes.Buffer
	if err := runREPL(context.Background(), s, strings.NewReader("How is diabetes treated?"), &out); err != nil {
		t.Fatalf("runREPL: %v", err)
	}
	if len(s.History()) != 1 {
		t.Errorf("expected 1 turn, got %d", len(s.History()))
	}
}

func TestNextTurn_ResumesAfterStoredTurns(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	rt := &runtime{log: slog.New(slog.DiscardHandler), transcripts: st}

	if got := rt.nextTurn(ctx, "alice"); got != 0 {
		t.Errorf("new session: nextTurn = %d, want 0", got)
	}
	for i := range 3 {
		if err := st.AppendTurn(ctx, store.TurnRecord{Session: "alice", Index: i, Question: "q", Answer: "a"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if got := rt.nextTurn(ctx, "alice"); got != 3 {
		t.Errorf("resumed session: nextTurn = %d, want 3", got)
	}
	if got := rt.nextTurn(ctx, "bob"); got != 0 {
		t.Errorf("other session: nextTurn = %d, want 0", got)
	}
}

func TestResolveSessionID(t *testing.T) {
	t.Parallel()

	if got := resolveSessionID("  alice "); got != "alice" {
		t.Errorf("resolveSessionID = %q, want alice", got)
	}
	a, b := resolveSessionID(""), resolveSessionID("   ")
	if a == "" || b == "" || a == b {
		t.Errorf("blank flags should yield fresh distinct ids, got %q and %q", a, b)
	}
}

func TestSessionFlags(t *testing.T) {
	t.Parallel()

	for _, cmd := range []*cobra.Command{NewAskCmd(), NewChatCmd()} {
		f := cmd.Flags().Lookup("session")
		if f == nil {
			t.Errorf("%s: missing --session flag", cmd.Name())
			continue
		}
		if err := cmd.Flags().Parse([]string{"--session", "alice"}); err != nil {
			t.Fatalf("%s: parse: %v", cmd.Name(), err)
		}
		if f.Value.String() != "alice" {
			t.Errorf("%s: --session = %q", cmd.Name(), f.Value.String())
		}
	}
}

func TestSessionDirName(t *testing.T) {
	t.Parallel()

	ids := []string{
		"alice/1", "alice_1", "alice.1", "alice 1",
		"../../etc/passwd", "", "3f2a9c1e-0b7d-4c1a-9e55-1d2c3b4a5f60",
	}
	seen := map[string]string{}
	for _, id := range ids {
		name := sessionDirName(id)
		if prev, dup := seen[name]; dup {
			t.Errorf("sessions %q and %q share directory %q", prev, id, name)
		}
		seen[name] = id

		if name != filepath.Base(name) || strings.ContainsAny(name, `/\ `) || strings.HasPrefix(name, "..") {
			t.Errorf("sessionDirName(%q) = %q is not a plain directory name", id, name)
		}
		if sessionDirName(id) != name {
			t.Errorf("sessionDirName(%q) is not stable", id)
		}
	}
}

func TestPrintTranscript(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	now := time.Now()
	printTranscript(&out,
		[]store.TurnRecord{{Index: 0, Question: "q", Answer: "a", Sources: []string{"doc1", "doc2"}, CreatedAt: now}},
		[]store.FeedbackRecord{{TurnIndex: 0, Verdict: store.VerdictNegative, Comment: "too short"}},
	)
	got := out.String()
	for _, want := range []string{"Q: q", "A: a", "Sources: doc1, doc2", "Feedback: negative (too short)"} {
		if !strings.Contains(got, want) {
			t.Errorf("transcript missing %q:\n%s", want, got)
		}
	}
}
