// Package decision holds the action tags shared between the negotiation
// core and its callers (gateway, notification, persistence). The wire
// strings here are the only serialization of these tags; internal code
// compares the typed constants, never raw strings from the wire.
package decision

import "fmt"

// Action is the outcome of processing one inbound message. Every
// orchestration returns exactly one of these four tags.
type Action string

// Action values.
const (
	ActionSend     Action = "send"
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionEscalate Action = "escalate"
)

// ParseAction converts a wire string into an Action, rejecting unknown
// values rather than passing them through.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionSend, ActionAccept, ActionReject, ActionEscalate:
		return Action(s), nil
	}
	return "", fmt.Errorf("decision: unknown action %q", s)
}

// EscalationReason names why autonomous handling stopped.
type EscalationReason string

// EscalationReason values.
const (
	ReasonRoundCap         EscalationReason = "round_cap"
	ReasonUnclearIntent    EscalationReason = "unclear_intent"
	ReasonTriggerFired     EscalationReason = "trigger_fired"
	ReasonBoundaryExceeded EscalationReason = "boundary_exceeded"
	ReasonValidationFailed EscalationReason = "validation_failed"
)
