package server

import (
	"context"

	"github.com/54b3r/medquery-go/internal/chat"
)

// managerSessions adapts *chat.Manager to the sessions interface.
type managerSessions struct {
	m *chat.Manager
}

// Open returns the session for id, creating it on first use.
func (a managerSessions) Open(ctx context.Context, id string) (conversation, error) {
	s, err := a.m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Find returns a live session without creating one.
func (a managerSessions) Find(id string) (conversation, bool) {
	s, ok := a.m.Lookup(id)
	if !ok {
		return nil, false
	}
	return s, true
}
