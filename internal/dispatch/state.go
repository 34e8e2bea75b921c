// Package dispatch routes classified messages to task handlers and owns the
// per-task control flow and completion pipeline.
package dispatch

import "github.com/rs/zerolog/log"

// State is a task's position in the per-message lifecycle.
type State int

const (
	StateIdle State = iota
	StateClassifying
	StateDispatched
	StateGenerating
	StateClarifying
	StateCompleted
	StateInterrupted
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateClassifying: "classifying",
	StateDispatched:  "dispatched",
	StateGenerating:  "generating",
	StateClarifying:  "clarifying",
	StateCompleted:   "completed",
	StateInterrupted: "interrupted",
	StateFailed:      "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateInterrupted || s == StateFailed
}

// transitions is the allowed-successor table. Failure is reachable from any
// non-terminal state; interruption from any state that can still be running.
var transitions = map[State][]State{
	StateIdle:        {StateClassifying, StateFailed},
	StateClassifying: {StateDispatched, StateInterrupted, StateFailed},
	StateDispatched:  {StateGenerating, StateClarifying, StateCompleted, StateInterrupted, StateFailed},
	StateGenerating:  {StateCompleted, StateInterrupted, StateFailed},
	StateClarifying:  {StateCompleted, StateInterrupted, StateFailed},
}

// task tracks one in-flight message's state.
type task struct {
	sessionID string
	state     State
}

// to performs a transition, logging (and refusing) illegal ones. An illegal
// transition indicates a dispatcher bug, not a user error.
func (t *task) to(next State) {
	for _, allowed := range transitions[t.state] {
		if allowed == next {
			t.state = next
			return
		}
	}
	log.Error().
		Str("sessionId", t.sessionID).
		Str("from", t.state.String()).
		Str("to", next.String()).
		Msg("Illegal task state transition ignored")
}
