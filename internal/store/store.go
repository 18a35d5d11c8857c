// Package store provides a SQLite-backed transcript store for MedQuery chat
// sessions. Completed turns and user feedback are persisted so that
// conversations can be reviewed after the process exits. The store is a
// side channel: nothing read from it influences retrieval or generation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Verdict is the user's rating of one answer.
type Verdict string

const (
	// VerdictPositive is a thumbs-up.
	VerdictPositive Verdict = "positive"
	// VerdictNegative is a thumbs-down.
	VerdictNegative Verdict = "negative"
)

// ParseVerdict validates a verdict received from a client.
func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(s); v {
	case VerdictPositive, VerdictNegative:
		return v, nil
	}
	return "", fmt.Errorf("store: unknown verdict %q — valid values: positive, negative", s)
}

// TurnRecord is one persisted question/answer exchange.
type TurnRecord struct {
	// Session identifies the conversation.
	Session string
	// Index is the 0-based position of the turn in its session.
	Index int
	// Question is the user's message.
	Question string
	// Answer is the generated reply.
	Answer string
	// Sources are the distinct source documents the answer drew on.
	Sources []string
	// CreatedAt is when the turn completed.
	CreatedAt time.Time
}

// FeedbackRecord is one persisted rating.
type FeedbackRecord struct {
	Session   string
	TurnIndex int
	Verdict   Verdict
	Comment   string
	CreatedAt time.Time
}

// SessionSummary describes one stored conversation.
type SessionSummary struct {
	Session  string
	Turns    int
	LastTurn time.Time
}

// TranscriptStore persists turns and feedback keyed by session id.
// Implementations must be safe for concurrent use.
type TranscriptStore interface {
	// AppendTurn persists a completed turn.
	AppendTurn(ctx context.Context, rec TurnRecord) error
	// Turns returns the most recent n turns of the session, oldest first.
	// n <= 0 returns every turn.
	Turns(ctx context.Context, session string, n int) ([]TurnRecord, error)
	// RecordFeedback persists a rating.
	RecordFeedback(ctx context.Context, rec FeedbackRecord) error
	// Feedback returns every rating of the session, oldest first.
	Feedback(ctx context.Context, session string) ([]FeedbackRecord, error)
	// Sessions lists stored sessions, most recently active first.
	Sessions(ctx context.Context) ([]SessionSummary, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a TranscriptStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the transcript database.
// It resolves to ~/.medquery/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".medquery")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turns (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session      TEXT    NOT NULL,
    turn_index   INTEGER NOT NULL,
    question     TEXT    NOT NULL,
    answer       TEXT    NOT NULL,
    sources      TEXT    NOT NULL,  -- JSON array
    created_at   INTEGER NOT NULL   -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session, id);

CREATE TABLE IF NOT EXISTS feedback (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session      TEXT    NOT NULL,
    turn_index   INTEGER NOT NULL,
    verdict      TEXT    NOT NULL CHECK(verdict IN ('positive','negative')),
    comment      TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback (session, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// AppendTurn persists a completed turn.
func (s *SQLiteStore) AppendTurn(ctx context.Context, rec TurnRecord) error {
	sources, err := json.Marshal(nonNil(rec.Sources))
	if err != nil {
		return fmt.Errorf("store: encode sources: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	const q = `INSERT INTO turns (session, turn_index, question, answer, sources, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, rec.Session, rec.Index, rec.Question, rec.Answer, string(sources), created.Unix()); err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	return nil
}

// Turns returns the most recent n turns of the session, oldest first.
func (s *SQLiteStore) Turns(ctx context.Context, session string, n int) ([]TurnRecord, error) {
	if n <= 0 {
		n = -1 // SQLite: no limit
	}
	const q = `
SELECT turn_index, question, answer, sources, created_at FROM (
    SELECT id, turn_index, question, answer, sources, created_at
    FROM   turns
    WHERE  session = ?
    ORDER  BY id DESC
    LIMIT  ?
) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, session, n)
	if err != nil {
		return nil, fmt.Errorf("store: turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		rec := TurnRecord{Session: session}
		var sources string
		var ts int64
		if err := rows.Scan(&rec.Index, &rec.Question, &rec.Answer, &sources, &ts); err != nil {
			return nil, fmt.Errorf("store: turns scan: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &rec.Sources); err != nil {
			return nil, fmt.Errorf("store: decode sources: %w", err)
		}
		rec.CreatedAt = time.Unix(ts, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: turns rows: %w", err)
	}
	return out, nil
}

// RecordFeedback persists a rating.
func (s *SQLiteStore) RecordFeedback(ctx context.Context, rec FeedbackRecord) error {
	if _, err := ParseVerdict(string(rec.Verdict)); err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	const q = `INSERT INTO feedback (session, turn_index, verdict, comment, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, rec.Session, rec.TurnIndex, string(rec.Verdict), rec.Comment, created.Unix()); err != nil {
		return fmt.Errorf("store: record feedback: %w", err)
	}
	return nil
}

// Feedback returns every rating of the session, oldest first.
func (s *SQLiteStore) Feedback(ctx context.Context, session string) ([]FeedbackRecord, error) {
	const q = `SELECT turn_index, verdict, comment, created_at FROM feedback WHERE session = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q, session)
	if err != nil {
		return nil, fmt.Errorf("store: feedback: %w", err)
	}
	defer rows.Close()

	var out []FeedbackRecord
	for rows.Next() {
		rec := FeedbackRecord{Session: session}
		var verdict string
		var ts int64
		if err := rows.Scan(&rec.TurnIndex, &verdict, &rec.Comment, &ts); err != nil {
			return nil, fmt.Errorf("store: feedback scan: %w", err)
		}
		rec.Verdict = Verdict(verdict)
		rec.CreatedAt = time.Unix(ts, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: feedback rows: %w", err)
	}
	return out, nil
}

// Sessions lists stored sessions, most recently active first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionSummary, error) {
	const q = `
SELECT session, COUNT(*), MAX(created_at)
FROM   turns
GROUP  BY session
ORDER  BY MAX(id) DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var ts int64
		if err := rows.Scan(&sum.Session, &sum.Turns, &ts); err != nil {
			return nil, fmt.Errorf("store: sessions scan: %w", err)
		}
		sum.LastTurn = time.Unix(ts, 0)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: sessions rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
