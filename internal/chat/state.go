package chat

import "time"

// State is the stage of the answer cycle a session is in.
type State int32

const (
	// Idle means no Answer call is running.
	Idle State = iota
	// Retrieving means the corpus is being searched.
	Retrieving
	// Generating means the model is producing the answer.
	Generating
	// UpdatingMemory means the completed turn is being recorded.
	UpdatingMemory
)

// String returns the lowercase state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Retrieving:
		return "retrieving"
	case Generating:
		return "generating"
	case UpdatingMemory:
		return "updating_memory"
	}
	return "unknown"
}

// Observer receives timing events from sessions. Implementations must be
// safe for concurrent use; the server backs one with Prometheus metrics.
type Observer interface {
	// ObserveStage is called when a stage of the cycle finishes.
	ObserveStage(stage State, elapsed time.Duration, err error)
	// ObserveTurn is called once per Answer call.
	ObserveTurn(failed bool, sources int)
}

// nopObserver discards events.
type nopObserver struct{}

func (nopObserver) ObserveStage(State, time.Duration, error) {}
func (nopObserver) ObserveTurn(bool, int)                    {}
