// Package negotiator sequences the negotiation decision core — triggers,
// pricing, budget, state machine, drafting, and validation — into exactly
// one decision per inbound counterparty message.
package negotiator

import (
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/money"
	"github.com/parleyhq/parley/internal/rate"
	"github.com/parleyhq/parley/internal/thread"
	"github.com/parleyhq/parley/internal/trigger"
	"github.com/parleyhq/parley/internal/validate"
	"github.com/parleyhq/parley/pkg/decision"
)

// DefaultRoundCap bounds how many full exchanges a thread may run before
// it is handed to a human regardless of content.
const DefaultRoundCap = 5

// DefaultConfidenceThreshold is the intent confidence below which a
// classification is remapped to unclear. The remapping lives here in the
// orchestrator — the classifier returns raw confidence — so it is applied
// exactly once.
const DefaultConfidenceThreshold = 0.70

// Context is the mutable negotiation context for one thread.
type Context struct {
	ThreadID            string   `json:"thread_id"`
	CounterpartyName    string   `json:"counterparty_name"`
	Platform            string   `json:"platform"`
	Views               int64    `json:"views"`
	EngagementRate      *float64 `json:"engagement_rate,omitempty"`
	Deliverables        []string `json:"deliverables"`
	DeliverablesSummary string   `json:"deliverables_summary"`
	Summary             string   `json:"summary"`
	PolicyContent       string   `json:"policy_content,omitempty"`
	History             []string `json:"history,omitempty"`

	// LastOffer is the amount currently on the table from our side: the
	// opening offer at thread creation, updated on every sent counter. A
	// bare acceptance that restates no figure closes at this amount.
	LastOffer money.Amount `json:"last_offer"`
}

// Request is one inbound message plus the thread state needed to decide
// on it.
type Request struct {
	Text     string
	Context  *Context
	Machine  thread.StateMachine
	Round    int
	RoundCap int // zero means DefaultRoundCap
}

// Outcome is the single decision produced for one inbound message. Action
// is always one of the four tags; the remaining fields carry the evidence
// the caller needs to act without re-deriving anything.
type Outcome struct {
	Action decision.Action
	Reason decision.EscalationReason

	// Round is the round number after this decision (incremented only on
	// a sent counter).
	Round int

	// OfferAmount is the approved counter amount on a send outcome, or the
	// agreed amount on an accept.
	OfferAmount money.Amount

	Draft      *llm.Draft
	Intent     *llm.IntentResult
	Pricing    *rate.Evaluation
	Triggers   []trigger.Result
	Validation *validate.Result
}
