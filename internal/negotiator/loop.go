package negotiator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/internal/budget"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/money"
	"github.com/parleyhq/parley/internal/rate"
	"github.com/parleyhq/parley/internal/thread"
	"github.com/parleyhq/parley/internal/trigger"
	"github.com/parleyhq/parley/internal/validate"
	"github.com/parleyhq/parley/pkg/decision"
)

// ErrNilContext is returned when a request carries no negotiation context.
var ErrNilContext = errors.New("negotiator: request context is nil")

// Loop is the negotiation orchestrator. It owns no concurrency: both
// collaborator calls are synchronous and sequential, and callers must
// guarantee at most one in-flight Process per (machine, tracker) pair.
type Loop struct {
	intents   llm.IntentClassifier
	drafter   llm.Drafter
	triggers  *trigger.Engine
	evaluator *rate.Evaluator
	budget    *budget.Tracker
	gate      validate.Gate
	logger    *slog.Logger
	tracer    trace.Tracer

	confidenceThreshold float64
}

// NewLoop assembles an orchestrator from its components. The notifier-free
// design is deliberate: Process returns evidence and the caller notifies.
func NewLoop(
	intents llm.IntentClassifier,
	drafter llm.Drafter,
	triggers *trigger.Engine,
	evaluator *rate.Evaluator,
	tracker *budget.Tracker,
	gate validate.Gate,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		intents:             intents,
		drafter:             drafter,
		triggers:            triggers,
		evaluator:           evaluator,
		budget:              tracker,
		gate:                gate,
		logger:              logger.With("component", "negotiator"),
		tracer:              otel.Tracer("parley/negotiator"),
		confidenceThreshold: DefaultConfidenceThreshold,
	}
}

// Process decides on one inbound message. Policy stops — round cap, fired
// trigger, boundary overrun, validation failure — are normal escalate
// outcomes, never errors; errors are reserved for programming mistakes and
// collaborator failures.
func (l *Loop) Process(ctx context.Context, req Request) (Outcome, error) {
	if req.Context == nil {
		return Outcome{}, ErrNilContext
	}
	roundCap := req.RoundCap
	if roundCap <= 0 {
		roundCap = DefaultRoundCap
	}

	ctx, span := l.tracer.Start(ctx, "negotiator.Process",
		trace.WithAttributes(
			attribute.String("thread.id", req.Context.ThreadID),
			attribute.Int("round", req.Round),
		))
	defer span.End()

	logger := l.logger.With("thread_id", req.Context.ThreadID, "round", req.Round)

	// Round cap first: no collaborator call is made once the cap is hit.
	if req.Round >= roundCap {
		logger.Info("round cap reached, escalating")
		return Outcome{
			Action: decision.ActionEscalate,
			Reason: decision.ReasonRoundCap,
			Round:  req.Round,
		}, nil
	}

	intent, err := l.classify(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	// Low-confidence remapping happens here, once.
	if intent.Confidence < l.confidenceThreshold {
		intent.Intent = llm.IntentUnclear
	}

	if intent.Intent == llm.IntentUnclear {
		logger.Info("intent unclear, escalating", "confidence", intent.Confidence)
		return Outcome{
			Action: decision.ActionEscalate,
			Reason: decision.ReasonUnclearIntent,
			Round:  req.Round,
			Intent: &intent,
		}, nil
	}

	// Pre-decision trigger gate: any fired trigger halts autonomous
	// processing before the state machine is touched.
	fired, err := l.evaluateTriggers(ctx, req, intent)
	if err != nil {
		return Outcome{}, err
	}
	if len(fired) > 0 {
		logger.Info("triggers fired, escalating", "count", len(fired))
		return Outcome{
			Action:   decision.ActionEscalate,
			Reason:   decision.ReasonTriggerFired,
			Round:    req.Round,
			Intent:   &intent,
			Triggers: fired,
		}, nil
	}

	switch intent.Intent {
	case llm.IntentAccept:
		if err := resolveThread(req.Machine, thread.EventAccept); err != nil {
			return Outcome{}, err
		}
		out := Outcome{Action: decision.ActionAccept, Round: req.Round, Intent: &intent}
		if intent.ProposedAmount != nil {
			out.OfferAmount = *intent.ProposedAmount
		} else {
			// A bare acceptance closes at our outstanding offer.
			out.OfferAmount = req.Context.LastOffer
		}
		return out, nil

	case llm.IntentReject:
		if err := resolveThread(req.Machine, thread.EventReject); err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: decision.ActionReject, Round: req.Round, Intent: &intent}, nil
	}

	// Counter-offer or question: record the reply, then price a counter.
	// A prior validation failure leaves the machine already in
	// counter_received; the reply was recorded then.
	if req.Machine.State() != thread.StateCounterReceived {
		if _, err := req.Machine.Apply(thread.EventReceiveReply); err != nil {
			return Outcome{}, err
		}
	}

	var pricing *rate.Evaluation
	if intent.ProposedAmount != nil {
		ev, err := l.evaluator.Evaluate(*intent.ProposedAmount, req.Context.Views)
		if err != nil {
			return Outcome{}, err
		}
		pricing = &ev
		if ev.ShouldEscalate {
			if _, err := req.Machine.Apply(thread.EventEscalate); err != nil {
				return Outcome{}, err
			}
			logger.Info("boundary exceeded, escalating", "band", string(ev.Band), "implied_price", ev.ImpliedPrice.String())
			return Outcome{
				Action:  decision.ActionEscalate,
				Reason:  decision.ReasonBoundaryExceeded,
				Round:   req.Round,
				Intent:  &intent,
				Pricing: pricing,
			}, nil
		}
	}

	// Our counter: the campaign's current allowed price applied to reach.
	flex := l.budget.Flexibility(req.Context.EngagementRate)
	counter, err := rate.Rate(req.Context.Views, flex.MaxAllowed)
	if err != nil {
		return Outcome{}, err
	}
	span.SetAttributes(attribute.String("counter.amount", counter.String()))

	draft, err := l.draft(ctx, req, intent, counter)
	if err != nil {
		return Outcome{}, err
	}

	result := l.gate.Validate(draft.Text, counter, req.Context.Deliverables)
	if !result.Pass {
		logger.Warn("draft failed validation, escalating", "failures", len(result.Failures))
		return Outcome{
			Action:      decision.ActionEscalate,
			Reason:      decision.ReasonValidationFailed,
			Round:       req.Round,
			OfferAmount: counter,
			Draft:       &draft,
			Intent:      &intent,
			Pricing:     pricing,
			Validation:  &result,
		}, nil
	}

	if _, err := req.Machine.Apply(thread.EventSendCounter); err != nil {
		return Outcome{}, err
	}
	req.Context.LastOffer = counter
	logger.Info("counter approved", "amount", counter.String(), "justification", flex.Justification)

	return Outcome{
		Action:      decision.ActionSend,
		Round:       req.Round + 1,
		OfferAmount: counter,
		Draft:       &draft,
		Intent:      &intent,
		Pricing:     pricing,
		Validation:  &result,
	}, nil
}

// resolveThread applies a terminal accept/reject event. From the waiting
// states counter_sent and stale the reply is recorded first, landing in
// counter_received where both events are legal; from awaiting_reply and
// counter_received the event applies directly.
func resolveThread(m thread.StateMachine, event thread.Event) error {
	switch m.State() {
	case thread.StateCounterSent, thread.StateStale:
		if _, err := m.Apply(thread.EventReceiveReply); err != nil {
			return err
		}
	}
	_, err := m.Apply(event)
	return err
}

// classify makes the single intent-classification collaborator call.
func (l *Loop) classify(ctx context.Context, req Request) (llm.IntentResult, error) {
	ctx, span := l.tracer.Start(ctx, "negotiator.classify")
	defer span.End()

	intent, err := l.intents.ClassifyIntent(ctx, req.Text, req.Context.Summary)
	if err != nil {
		return llm.IntentResult{}, fmt.Errorf("negotiator: classifying intent: %w", err)
	}
	span.SetAttributes(
		attribute.String("intent", string(intent.Intent)),
		attribute.Float64("confidence", intent.Confidence),
	)
	return intent, nil
}

// evaluateTriggers runs the pre-decision gate with the implied price (when
// an amount was proposed) and the raw classification confidence.
func (l *Loop) evaluateTriggers(ctx context.Context, req Request, intent llm.IntentResult) ([]trigger.Result, error) {
	in := trigger.Input{Text: req.Text, Confidence: intent.Confidence}
	if intent.ProposedAmount != nil {
		implied, err := rate.ImpliedPrice(*intent.ProposedAmount, req.Context.Views)
		if err != nil {
			return nil, err
		}
		in.ImpliedPrice = &implied
	}
	return l.triggers.Evaluate(ctx, in)
}

// draft makes the single drafting collaborator call.
func (l *Loop) draft(ctx context.Context, req Request, intent llm.IntentResult, counter money.Amount) (llm.Draft, error) {
	ctx, span := l.tracer.Start(ctx, "negotiator.draft")
	defer span.End()

	dreq := llm.DraftRequest{
		CounterpartyName:    req.Context.CounterpartyName,
		OurAmount:           counter,
		DeliverablesSummary: req.Context.DeliverablesSummary,
		Platform:            req.Context.Platform,
		Stage:               string(req.Machine.State()),
		PolicyContent:       req.Context.PolicyContent,
		History:             req.Context.History,
	}
	if intent.ProposedAmount != nil {
		dreq.TheirAmount = *intent.ProposedAmount
	}

	draft, err := l.drafter.ComposeDraft(ctx, dreq)
	if err != nil {
		return llm.Draft{}, fmt.Errorf("negotiator: composing draft: %w", err)
	}
	return draft, nil
}
