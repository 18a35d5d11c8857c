// Package chat implements the conversational RAG cycle. A Session owns one
// conversation: its turn log and its long-term memory index. Each Answer
// call runs Retrieving → Generating → UpdatingMemory → Idle and is
// serialised with every other call on the same session. Sessions share the
// corpus retriever, which is read-only after startup.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/54b3r/medquery-go/internal/generator"
	"github.com/54b3r/medquery-go/internal/logging"
	"github.com/54b3r/medquery-go/internal/memory"
	"github.com/54b3r/medquery-go/internal/rag"
	"github.com/54b3r/medquery-go/internal/store"
)

// FailureMessage is returned to the user in place of an answer when a turn
// fails.
const FailureMessage = "I'm sorry, but I encountered an error while processing your request. Please try again later."

// ErrEmptyQuestion is returned when Answer receives a blank question.
var ErrEmptyQuestion = errors.New("chat: question must not be empty")

// ErrUnknownTurn is returned when feedback names a turn that does not exist.
var ErrUnknownTurn = errors.New("chat: unknown turn")

// Transcript is the persistence side channel of a session.
type Transcript interface {
	AppendTurn(ctx context.Context, rec store.TurnRecord) error
	RecordFeedback(ctx context.Context, rec store.FeedbackRecord) error
}

// Config holds the dependencies of a Session.
type Config struct {
	// ID identifies the session in logs and the transcript store.
	ID string

	// Retriever returns grounding passages for a query. Required.
	Retriever rag.Retriever

	// Generator produces answers. Required.
	Generator *generator.Generator

	// LongTerm is the session's own long-term memory. Required.
	LongTerm *memory.LongTerm

	// Rewriter, when set, condenses follow-up questions into standalone
	// retrieval queries. A failed rewrite falls back to the raw question.
	Rewriter *generator.Rewriter

	// Window is the history policy applied before generation.
	Window memory.Window

	// RecallK is the number of long-term memories injected into the
	// prompt. Zero disables recall.
	RecallK int

	// SummarySentences bounds the summary of older turns under
	// memory.WindowSummary.
	SummarySentences int

	// Transcript persists turns and feedback. Optional; failures are
	// logged and ignored.
	Transcript Transcript

	// Observer receives stage timings. Optional.
	Observer Observer

	// FirstTurn is the index given to the first turn. Sessions resumed from
	// a transcript start after the last stored turn.
	FirstTurn int

	// OnClose runs when the session is closed, before the long-term index
	// is released. Optional.
	OnClose func(ctx context.Context) error
}

// Result is the outcome of one Answer call.
type Result struct {
	// Answer is the generated answer, or FailureMessage when Failed.
	Answer string

	// Sources are the distinct source documents of the passages the answer
	// was grounded on, in retrieval order. Empty means ungrounded.
	Sources []string

	// Turn is the index of the recorded turn, or -1 when Failed. Indices
	// keep counting across resets.
	Turn int

	// Failed reports that the cycle aborted and nothing was recorded.
	Failed bool
}

// Feedback is a user's rating of one answer.
type Feedback struct {
	TurnIndex int
	Verdict   store.Verdict
	Comment   string
	CreatedAt time.Time
}

// Session is one conversation.
type Session struct {
	id         string
	retriever  rag.Retriever
	generator  *generator.Generator
	rewriter   *generator.Rewriter
	longTerm   *memory.LongTerm
	window     memory.Window
	recallK    int
	sentences  int
	transcript Transcript
	observer   Observer
	onClose    func(ctx context.Context) error

	conv  *memory.Conversation
	state atomic.Int32

	// mu serialises Answer, Reset and RecordFeedback.
	mu       sync.Mutex
	feedback []Feedback
	closed   bool

	// first is the session-wide index of conv's first turn. Reset advances
	// it so turn indices never repeat within a session.
	first int
}

// NewSession constructs a Session from cfg.
func NewSession(cfg *Config) (*Session, error) {
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("chat: Retriever must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("chat: Generator must not be nil")
	}
	if cfg.LongTerm == nil {
		return nil, fmt.Errorf("chat: LongTerm must not be nil")
	}
	window := cfg.Window
	if window.Mode == "" {
		window.Mode = memory.WindowFull
	}
	sentences := cfg.SummarySentences
	if sentences <= 0 {
		sentences = memory.DefaultSummarySentences
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	return &Session{
		id:         cfg.ID,
		retriever:  cfg.Retriever,
		generator:  cfg.Generator,
		rewriter:   cfg.Rewriter,
		longTerm:   cfg.LongTerm,
		window:     window,
		recallK:    max(cfg.RecallK, 0),
		sentences:  sentences,
		transcript: cfg.Transcript,
		observer:   obs,
		onClose:    cfg.OnClose,
		conv:       memory.NewConversation(),
		first:      max(cfg.FirstTurn, 0),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State reports the current stage of the answer cycle.
func (s *Session) State() State { return State(s.state.Load()) }

// Answer runs one full cycle for question. Per-query failures abort the
// cycle without touching either memory and return a Result carrying
// FailureMessage together with the error. An empty retrieval result is not
// a failure: the answer is generated without grounding and Sources is empty.
func (s *Session) Answer(ctx context.Context, question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.setState(Idle)

	if s.closed {
		return nil, fmt.Errorf("chat: session %s is closed", s.id)
	}

	log := logging.FromContext(ctx).With(slog.String("session", s.id))
	ctx = logging.WithLogger(ctx, log)

	res, err := s.cycle(ctx, question)
	if err != nil {
		log.Error("chat: turn failed",
			slog.String("state", s.State().String()),
			slog.Any("error", err),
		)
		s.observer.ObserveTurn(true, 0)
		return &Result{Answer: FailureMessage, Sources: []string{}, Turn: -1, Failed: true}, err
	}
	s.observer.ObserveTurn(false, len(res.Sources))
	return res, nil
}

// cycle runs the three stages. It must be called with mu held.
func (s *Session) cycle(ctx context.Context, question string) (*Result, error) {
	log := logging.FromContext(ctx)
	history := s.conv.History()

	// Retrieving.
	s.setState(Retrieving)
	start := time.Now()
	query := s.condense(ctx, question, history)
	passages, err := s.retriever.Retrieve(ctx, query)
	s.observer.ObserveStage(Retrieving, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		log.Warn("chat: no passages retrieved, answering without grounding")
	}
	recalled := s.recall(ctx, question)

	return s.generate(ctx, question, passages, recalled, history)
}

// generate runs the Generating and UpdatingMemory stages.
func (s *Session) generate(ctx context.Context, question string, passages, recalled []rag.Document, history []memory.Turn) (*Result, error) {
	s.setState(Generating)
	start := time.Now()

	recent, older := s.window.Apply(history)
	var summary string
	if s.window.Mode == memory.WindowSummary && len(older) > 0 {
		summary = memory.Summarize(older, s.sentences)
	}

	answer, err := s.generator.Generate(ctx, &generator.Request{
		Question: question,
		Passages: passages,
		History:  recent,
		Summary:  summary,
		Recalled: recalled,
	})
	s.observer.ObserveStage(Generating, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.setState(UpdatingMemory)
	start = time.Now()
	turn := memory.Turn{
		Question:  question,
		Answer:    answer,
		Sources:   rag.Sources(passages),
		CreatedAt: time.Now().UTC(),
	}

	// Long-term memory first: it is the step that can fail, and the turn
	// log must only grow when both memories do.
	if err := s.longTerm.Remember(ctx, turn, len(history)); err != nil {
		s.observer.ObserveStage(UpdatingMemory, time.Since(start), err)
		return nil, err
	}
	idx := s.first + s.conv.Append(turn)
	s.observer.ObserveStage(UpdatingMemory, time.Since(start), nil)

	s.persistTurn(ctx, idx, turn)

	logging.FromContext(ctx).Info("chat: turn complete",
		slog.Int("turn", idx),
		slog.Int("passages", len(passages)),
		slog.Int("recalled", len(recalled)),
		slog.Any("sources", turn.Sources),
	)
	return &Result{Answer: answer, Sources: turn.Sources, Turn: idx}, nil
}

// condense rewrites question into a standalone query when a rewriter is
// configured. Failures fall back to question.
func (s *Session) condense(ctx context.Context, question string, history []memory.Turn) string {
	if s.rewriter == nil || len(history) == 0 {
		return question
	}
	q, err := s.rewriter.Condense(ctx, question, history)
	if err != nil {
		logging.FromContext(ctx).Warn("chat: query rewrite failed, using raw question", slog.Any("error", err))
		return question
	}
	logging.FromContext(ctx).Debug("chat: query rewritten", slog.String("query", q))
	return q
}

// recall fetches related long-term memories. Recall is auxiliary: an
// empty memory or a failed lookup yields none.
func (s *Session) recall(ctx context.Context, question string) []rag.Document {
	if s.recallK == 0 {
		return nil
	}
	if n, err := s.longTerm.Len(ctx); err != nil || n == 0 {
		return nil
	}
	docs, err := s.longTerm.Recall(ctx, question, s.recallK)
	if err != nil {
		logging.FromContext(ctx).Warn("chat: memory recall failed, continuing without it", slog.Any("error", err))
		return nil
	}
	return docs
}

// persistTurn writes the turn to the transcript store. Non-fatal.
func (s *Session) persistTurn(ctx context.Context, idx int, t memory.Turn) {
	if s.transcript == nil {
		return
	}
	rec := store.TurnRecord{
		Session:   s.id,
		Index:     idx,
		Question:  t.Question,
		Answer:    t.Answer,
		Sources:   t.Sources,
		CreatedAt: t.CreatedAt,
	}
	if err := s.transcript.AppendTurn(ctx, rec); err != nil {
		logging.FromContext(ctx).Warn("chat: failed to persist turn", slog.Any("error", err))
	}
}

// RecordFeedback stores a rating of the turn at turnIndex. It never affects
// retrieval or generation.
func (s *Session) RecordFeedback(ctx context.Context, turnIndex int, verdict store.Verdict, comment string) error {
	if _, err := store.ParseVerdict(string(verdict)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conv.Turn(turnIndex - s.first); turnIndex < s.first || !ok {
		return fmt.Errorf("%w: %d (live turns are %d..%d)", ErrUnknownTurn, turnIndex, s.first, s.first+s.conv.Len()-1)
	}
	fb := Feedback{
		TurnIndex: turnIndex,
		Verdict:   verdict,
		Comment:   strings.TrimSpace(comment),
		CreatedAt: time.Now().UTC(),
	}
	s.feedback = append(s.feedback, fb)

	log := logging.FromContext(ctx)
	log.Info("chat: feedback recorded",
		slog.String("session", s.id),
		slog.Int("turn", turnIndex),
		slog.String("verdict", string(verdict)),
		slog.Bool("has_comment", fb.Comment != ""),
	)

	if s.transcript != nil {
		rec := store.FeedbackRecord{
			Session:   s.id,
			TurnIndex: turnIndex,
			Verdict:   verdict,
			Comment:   fb.Comment,
			CreatedAt: fb.CreatedAt,
		}
		if err := s.transcript.RecordFeedback(ctx, rec); err != nil {
			log.Warn("chat: failed to persist feedback", slog.Any("error", err))
		}
	}
	return nil
}

// Feedback returns every rating recorded in this session.
func (s *Session) Feedback() []Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Feedback(nil), s.feedback...)
}

// History returns the conversation so far, oldest first.
func (s *Session) History() []memory.Turn {
	return s.conv.History()
}

// FirstTurn returns the index of the first turn in History.
func (s *Session) FirstTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

// LongTerm exposes the session's long-term memory.
func (s *Session) LongTerm() *memory.LongTerm {
	return s.longTerm
}

// Reset clears the conversation and its feedback. Long-term memory keeps
// its records for the lifetime of the session.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.first += s.conv.Len()
	s.conv.Clear()
	s.feedback = nil
}

// Close runs the OnClose hook and releases the long-term memory index.
// Further Answer calls fail.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.onClose != nil {
		errs = append(errs, s.onClose(ctx))
	}
	errs = append(errs, s.longTerm.Index().Close())
	return errors.Join(errs...)
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}
