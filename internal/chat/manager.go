package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/medquery-go/internal/logging"
)

// Factory builds a new session with the given id. Each call must return a
// session with its own conversation and long-term memory.
type Factory func(ctx context.Context, id string) (*Session, error)

// Limits bound the sessions a Manager keeps alive. Zero disables a limit.
type Limits struct {
	// IdleTTL evicts sessions not used for this long.
	IdleTTL time.Duration

	// MaxSessions caps live sessions. Creating one more evicts the least
	// recently used.
	MaxSessions int
}

// managed is a live session with its last use.
type managed struct {
	session  *Session
	lastUsed time.Time
}

// Manager owns the live sessions of a server process. Evicted sessions are
// closed, which persists their long-term memory when the factory arranged
// for it.
type Manager struct {
	factory Factory
	limits  Limits
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*managed
}

// NewManager returns a Manager creating sessions with factory. At most one
// Limits value is used.
func NewManager(factory Factory, limits ...Limits) *Manager {
	m := &Manager{factory: factory, now: time.Now, sessions: make(map[string]*managed)}
	if len(limits) > 0 {
		m.limits = limits[0]
	}
	return m
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Get returns the session with id, creating it on first use. An empty id
// creates a session under a fresh id.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = NewSessionID()
	}

	m.mu.Lock()
	now := m.now()
	if e, ok := m.sessions[id]; ok {
		e.lastUsed = now
		m.mu.Unlock()
		return e.session, nil
	}
	evicted := m.expiredLocked(now)
	if m.limits.MaxSessions > 0 {
		for len(m.sessions) >= m.limits.MaxSessions {
			evicted = append(evicted, m.oldestLocked())
		}
	}
	s, err := m.factory(ctx, id)
	if err == nil {
		m.sessions[id] = &managed{session: s, lastUsed: now}
	}
	m.mu.Unlock()

	m.closeEvicted(ctx, evicted)
	if err != nil {
		return nil, fmt.Errorf("chat: create session %s: %w", id, err)
	}
	return s, nil
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = m.now()
	return e.session, true
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than Limits.IdleTTL and returns
// how many it evicted.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.Lock()
	evicted := m.expiredLocked(m.now())
	m.mu.Unlock()

	m.closeEvicted(ctx, evicted)
	return len(evicted)
}

// StartJanitor sweeps every interval until the returned function is called.
// The function may be called more than once. Without an IdleTTL it does
// nothing.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) func() {
	if m.limits.IdleTTL <= 0 || interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				m.Sweep(ctx)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// expiredLocked removes and returns the sessions idle past IdleTTL.
func (m *Manager) expiredLocked(now time.Time) []*managed {
	if m.limits.IdleTTL <= 0 {
		return nil
	}
	var out []*managed
	for id, e := range m.sessions {
		if now.Sub(e.lastUsed) > m.limits.IdleTTL {
			delete(m.sessions, id)
			out = append(out, e)
		}
	}
	return out
}

// oldestLocked removes and returns the least recently used session. The
// map must not be empty.
func (m *Manager) oldestLocked() *managed {
	var oldestID string
	var oldest *managed
	for id, e := range m.sessions {
		if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
			oldestID, oldest = id, e
		}
	}
	delete(m.sessions, oldestID)
	return oldest
}

func (m *Manager) closeEvicted(ctx context.Context, evicted []*managed) {
	log := logging.FromContext(ctx)
	for _, e := range evicted {
		if err := e.session.Close(ctx); err != nil {
			log.Warn("chat: failed to close evicted session",
				slog.String("session", e.session.ID()), slog.Any("error", err))
			continue
		}
		log.Info("chat: session evicted",
			slog.String("session", e.session.ID()),
			slog.Duration("idle", m.now().Sub(e.lastUsed)),
		)
	}
}

// Close closes every session and forgets them.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()

	var errs []error
	for _, e := range sessions {
		errs = append(errs, e.session.Close(ctx))
	}
	return errors.Join(errs...)
}
