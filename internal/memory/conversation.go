// Package memory holds the two memories of a chat session: the ordered log
// of completed turns used to build the prompt, and the long-term memory
// index that accumulates one embedded record per turn for later recall.
package memory

import (
	"slices"
	"sync"
	"time"
)

// Turn is one completed question/answer exchange. It is immutable once
// appended.
type Turn struct {
	// Question is the user's message as asked.
	Question string

	// Answer is the generated reply.
	Answer string

	// Sources lists the distinct source documents of the passages the
	// answer was grounded on, in retrieval order.
	Sources []string

	// CreatedAt is when the turn completed.
	CreatedAt time.Time
}

// Conversation is the ordered, unbounded turn log of one session. It is
// safe for concurrent use; the orchestrator serialises writers.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewConversation returns an empty log.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds t as the newest turn and returns its 0-based index.
func (c *Conversation) Append(t Turn) int {
	t.Sources = slices.Clone(t.Sources)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
	return len(c.turns) - 1
}

// History returns a copy of every turn, oldest first.
func (c *Conversation) History() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		t.Sources = slices.Clone(t.Sources)
		out[i] = t
	}
	return out
}

// Turn returns the turn at index i.
func (c *Conversation) Turn(i int) (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.turns) {
		return Turn{}, false
	}
	return c.turns[i], true
}

// Len reports the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Clear drops every turn.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}
