// Package llm defines the two probabilistic text collaborators the
// negotiation core consumes — intent extraction and response drafting —
// plus the batched trigger-signal classification. The core treats all three
// as opaque blocking calls; retry and timeout policy belongs to the caller.
package llm

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/money"
)

// Sentinel errors mapped from collaborator transport failures.
var (
	ErrProviderDown   = errors.New("llm: provider unavailable")
	ErrRateLimit      = errors.New("llm: rate limited")
	ErrAuthentication = errors.New("llm: authentication failed")
)

// Intent is the classified intention of an inbound counterparty message.
type Intent string

// Intent values. Unclear is what low-confidence classifications are
// remapped to; the remapping happens in the negotiation loop, not here.
const (
	IntentAccept       Intent = "accept"
	IntentReject       Intent = "reject"
	IntentCounterOffer Intent = "counter_offer"
	IntentQuestion     Intent = "question"
	IntentUnclear      Intent = "unclear"
)

// IntentResult is the structured output of one intent classification.
// ProposedAmount is parsed from the model's decimal string output and is
// nil when the message proposed no number.
type IntentResult struct {
	Intent               Intent
	Confidence           float64
	ProposedAmount       *money.Amount
	ProposedDeliverables []string
	Summary              string
	Concerns             []string
}

// IntentClassifier extracts negotiation intent from a free-text message.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, text, contextSummary string) (IntentResult, error)
}

// DraftRequest carries everything the drafting collaborator needs to write
// a reply. TheirAmount is zero when the counterparty proposed no number.
type DraftRequest struct {
	CounterpartyName    string
	TheirAmount         money.Amount
	OurAmount           money.Amount
	DeliverablesSummary string
	Platform            string
	Stage               string
	PolicyContent       string
	History             []string
}

// Draft is a machine-drafted reply with usage accounting.
type Draft struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Drafter composes negotiation reply prose around the approved numbers.
type Drafter interface {
	ComposeDraft(ctx context.Context, req DraftRequest) (Draft, error)
}

// Signal is one detected policy signal with its evidentiary quote.
type Signal struct {
	Detected bool
	Evidence string
}

// SignalReport is the result of the single batched trigger-signal call:
// all three text signals are classified in one round trip.
type SignalReport struct {
	Hostile Signal
	Legal   Signal
	Unusual Signal
}

// SignalClassifier detects hostile tone, legal/contract language, and
// unusual deliverable requests in one batched call.
type SignalClassifier interface {
	ClassifyTriggerSignals(ctx context.Context, text string) (SignalReport, error)
}
