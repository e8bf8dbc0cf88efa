package thread

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an event is not legal from the
// machine's current state, including any event applied in a terminal state.
var ErrInvalidTransition = errors.New("thread: invalid transition")

// Transition is one applied event, recorded in the machine's history.
// Records are append-only and never mutated.
type Transition struct {
	From  State `json:"from"`
	Event Event `json:"event"`
	To    State `json:"to"`
}

// Machine is the authoritative state machine for one negotiation thread.
// It is not safe for concurrent use; callers serialize access per thread.
type Machine struct {
	state   State
	history []Transition
}

// NewMachine creates a machine at the start of a negotiation thread.
func NewMachine() *Machine {
	return &Machine{state: StateInitialOffer}
}

// Restore reconstructs a machine from a persisted (state, history) pair.
// The stored state is trusted as-is; history is carried for audit only and
// is not replayed.
func Restore(state State, history []Transition) (*Machine, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("thread: restoring unknown state %q", state)
	}
	h := make([]Transition, len(history))
	copy(h, history)
	return &Machine{state: state, history: h}, nil
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// History returns a copy of the append-only transition log, oldest first.
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Apply transitions the machine on the given event. It fails with
// ErrInvalidTransition, naming both the state and the event, when the pair
// is not in the legal table or the machine is already terminal. On success
// the transition is appended to the history and the new state returned.
func (m *Machine) Apply(event Event) (State, error) {
	if m.state.IsTerminal() {
		return m.state, fmt.Errorf("%w: state %q is terminal, cannot apply %q", ErrInvalidTransition, m.state, event)
	}
	next, ok := transitions[transitionKey{m.state, event}]
	if !ok {
		return m.state, fmt.Errorf("%w: event %q is not legal in state %q", ErrInvalidTransition, event, m.state)
	}
	m.history = append(m.history, Transition{From: m.state, Event: event, To: next})
	m.state = next
	return next, nil
}

// ValidEvents returns the sorted set of events legal from the current
// state; empty for terminal states.
func (m *Machine) ValidEvents() []Event {
	if m.state.IsTerminal() {
		return nil
	}
	return eventsFrom(m.state)
}
