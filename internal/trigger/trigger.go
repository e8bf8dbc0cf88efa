// Package trigger is the pre-decision gate: it inspects an inbound message
// for policy-breaking signals and forces escalation before any autonomous
// reply is attempted. Any fired trigger is a hard stop for that message.
package trigger

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/money"
)

// Rule identifies one of the five trigger rules.
type Rule string

// Rule identifiers.
const (
	RulePriceOverThreshold Rule = "price_over_threshold"
	RuleAmbiguousIntent    Rule = "ambiguous_intent"
	RuleHostileTone        Rule = "hostile_tone"
	RuleLegalLanguage      Rule = "legal_language"
	RuleUnusualRequest     Rule = "unusual_request"
)

// Result is one fired rule with its reason and evidence excerpt.
type Result struct {
	Rule     Rule
	Fired    bool
	Reason   string
	Evidence string
}

// Input is everything the engine inspects for one inbound message.
type Input struct {
	// Text is the raw inbound message.
	Text string
	// ImpliedPrice is the price-per-thousand implied by the counterparty's
	// proposed amount; nil when no amount was proposed.
	ImpliedPrice *money.Amount
	// Confidence is the upstream intent-classification confidence.
	Confidence float64
}

// Engine evaluates the five trigger rules against an inbound message.
// The cheap deterministic rules always run; the three text-signal rules
// share exactly one batched collaborator call, made only when at least one
// of them is enabled and a classifier is available.
type Engine struct {
	config  Config
	signals llm.SignalClassifier
}

// NewEngine creates a trigger engine. signals may be nil, in which case the
// text-signal rules are skipped.
func NewEngine(cfg Config, signals llm.SignalClassifier) *Engine {
	return &Engine{config: cfg, signals: signals}
}

// Evaluate returns the list of fired triggers for one inbound message.
// An empty list means autonomous processing may continue; a non-empty list
// is a hard stop. A collaborator failure is returned as an error for the
// caller's retry policy to handle.
func (e *Engine) Evaluate(ctx context.Context, in Input) ([]Result, error) {
	var fired []Result

	// Price over threshold: strict comparison, exactly-at-threshold passes.
	if e.config.PriceOverThreshold.Enabled && in.ImpliedPrice != nil {
		threshold := e.config.priceThreshold()
		if in.ImpliedPrice.GreaterThan(threshold) {
			fired = append(fired, Result{
				Rule:     RulePriceOverThreshold,
				Fired:    true,
				Reason:   fmt.Sprintf("implied price %s/1k exceeds trigger threshold %s/1k", in.ImpliedPrice, threshold),
				Evidence: in.ImpliedPrice.String(),
			})
		}
	}

	// Ambiguous intent: strict comparison, exactly-at-threshold passes.
	if e.config.AmbiguousIntent.Enabled && in.Confidence < e.config.ConfidenceThreshold {
		fired = append(fired, Result{
			Rule:     RuleAmbiguousIntent,
			Fired:    true,
			Reason:   fmt.Sprintf("intent confidence %.2f below threshold %.2f", in.Confidence, e.config.ConfidenceThreshold),
			Evidence: fmt.Sprintf("%.2f", in.Confidence),
		})
	}

	if !e.config.wantsSignals() || e.signals == nil {
		return fired, nil
	}

	report, err := e.signals.ClassifyTriggerSignals(ctx, in.Text)
	if err != nil {
		return nil, fmt.Errorf("trigger: classifying signals: %w", err)
	}

	// Only enabled rules are reported, even when the collaborator detects more.
	if e.config.HostileTone.Enabled && report.Hostile.Detected {
		fired = append(fired, Result{
			Rule:     RuleHostileTone,
			Fired:    true,
			Reason:   "hostile or aggressive tone detected",
			Evidence: report.Hostile.Evidence,
		})
	}
	if e.config.LegalLanguage.Enabled && report.Legal.Detected {
		fired = append(fired, Result{
			Rule:     RuleLegalLanguage,
			Fired:    true,
			Reason:   "legal or contract language detected",
			Evidence: report.Legal.Evidence,
		})
	}
	if e.config.UnusualRequest.Enabled && report.Unusual.Detected {
		fired = append(fired, Result{
			Rule:     RuleUnusualRequest,
			Fired:    true,
			Reason:   "non-standard deliverable request detected",
			Evidence: report.Unusual.Evidence,
		})
	}

	return fired, nil
}
