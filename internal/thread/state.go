// Package thread models the lifecycle of a single negotiation thread as a
// deterministic finite-state machine with an append-only transition log.
package thread

import "sort"

// State identifies where a negotiation thread is in its lifecycle.
type State string

// Negotiation states. Agreed and Rejected are terminal: no event may be
// applied once either is reached.
const (
	StateInitialOffer    State = "initial_offer"
	StateAwaitingReply   State = "awaiting_reply"
	StateCounterReceived State = "counter_received"
	StateCounterSent     State = "counter_sent"
	StateAgreed          State = "agreed"
	StateRejected        State = "rejected"
	StateEscalated       State = "escalated"
	StateStale           State = "stale"
)

// IsTerminal reports whether no further event may be applied from s.
func (s State) IsTerminal() bool {
	return s == StateAgreed || s == StateRejected
}

// IsValid reports whether s is one of the eight recognized states.
func (s State) IsValid() bool {
	switch s {
	case StateInitialOffer, StateAwaitingReply, StateCounterReceived,
		StateCounterSent, StateAgreed, StateRejected, StateEscalated, StateStale:
		return true
	}
	return false
}

// Event is a negotiation lifecycle event applied to the state machine.
type Event string

// Negotiation events.
const (
	EventSendOffer     Event = "send_offer"
	EventReceiveReply  Event = "receive_reply"
	EventTimeout       Event = "timeout"
	EventSendCounter   Event = "send_counter"
	EventAccept        Event = "accept"
	EventReject        Event = "reject"
	EventEscalate      Event = "escalate"
	EventResumeCounter Event = "resume_counter"
)

type transitionKey struct {
	from  State
	event Event
}

// transitions is the complete legal transition table: exactly thirteen
// (state, event) pairs. Everything else is an invalid transition.
// Escalation is a real, resumable state: counter_received pauses into
// escalated and resumes into counter_sent via resume_counter.
var transitions = map[transitionKey]State{
	{StateInitialOffer, EventSendOffer}: StateAwaitingReply,

	{StateAwaitingReply, EventReceiveReply}: StateCounterReceived,
	{StateAwaitingReply, EventTimeout}:      StateStale,
	{StateAwaitingReply, EventAccept}:       StateAgreed,
	{StateAwaitingReply, EventReject}:       StateRejected,

	{StateCounterReceived, EventSendCounter}: StateCounterSent,
	{StateCounterReceived, EventAccept}:      StateAgreed,
	{StateCounterReceived, EventReject}:      StateRejected,
	{StateCounterReceived, EventEscalate}:    StateEscalated,

	{StateCounterSent, EventReceiveReply}: StateCounterReceived,
	{StateCounterSent, EventTimeout}:      StateStale,

	{StateEscalated, EventResumeCounter}: StateCounterSent,

	{StateStale, EventReceiveReply}: StateCounterReceived,
}

// eventsFrom returns the sorted events legal from the given state.
func eventsFrom(s State) []Event {
	var out []Event
	for key := range transitions {
		if key.from == s {
			out = append(out, key.event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
