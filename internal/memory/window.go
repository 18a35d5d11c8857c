package memory

import (
	"fmt"
	"strings"
)

// WindowMode selects how much of the conversation reaches the prompt.
type WindowMode string

const (
	// WindowFull passes every turn.
	WindowFull WindowMode = "full"
	// WindowLastN passes only the most recent N turns.
	WindowLastN WindowMode = "last_n"
	// WindowSummary passes the most recent N turns verbatim and an
	// extractive summary of everything older.
	WindowSummary WindowMode = "summary"
)

// DefaultWindowTurns is N when a windowed mode is configured without it.
const DefaultWindowTurns = 6

// Window is the history window policy.
type Window struct {
	// Mode is the window strategy.
	Mode WindowMode

	// Turns is N for WindowLastN and WindowSummary.
	Turns int
}

// ParseWindow validates a policy read from configuration.
func ParseWindow(mode string, turns int) (Window, error) {
	w := Window{Mode: WindowMode(strings.ToLower(mode)), Turns: turns}
	switch w.Mode {
	case "":
		w.Mode = WindowFull
	case WindowFull:
	case WindowLastN, WindowSummary:
		if w.Turns <= 0 {
			w.Turns = DefaultWindowTurns
		}
	default:
		return Window{}, fmt.Errorf("memory: unknown history window %q — valid values: full, last_n, summary", mode)
	}
	return w, nil
}

// Apply splits history into the turns passed verbatim and the older turns
// that are left out (or summarised, under WindowSummary).
func (w Window) Apply(history []Turn) (recent, older []Turn) {
	if w.Mode == WindowFull || w.Turns <= 0 || len(history) <= w.Turns {
		return history, nil
	}
	cut := len(history) - w.Turns
	return history[cut:], history[:cut]
}
