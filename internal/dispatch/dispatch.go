// Package dispatch connects the transport boundary to the decision core:
// it loads a thread's snapshot, reassembles the campaign-scoped components,
// runs one negotiation decision, persists the result, and hands escalation
// and agreement payloads to the notifier. It also provides the per-thread
// serialization the core requires of its callers.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/budget"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/money"
	"github.com/parleyhq/parley/internal/negotiator"
	"github.com/parleyhq/parley/internal/notify"
	"github.com/parleyhq/parley/internal/rate"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/thread"
	"github.com/parleyhq/parley/internal/trigger"
	"github.com/parleyhq/parley/internal/validate"
	"github.com/parleyhq/parley/pkg/decision"
)

// Dispatcher owns the shared collaborators and builds a negotiation loop
// per request from the thread's persisted campaign state.
type Dispatcher struct {
	store    *store.Store
	intents  llm.IntentClassifier
	drafter  llm.Drafter
	triggers *trigger.Engine
	gate     validate.Gate
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *Metrics

	// locks serializes processing per thread ID: the state machine and
	// budget tracker are not thread-safe and must never see two in-flight
	// orchestrations.
	locks sync.Map // threadID -> *sync.Mutex
}

// New creates a dispatcher. metrics may be nil to disable counting.
func New(
	st *store.Store,
	intents llm.IntentClassifier,
	drafter llm.Drafter,
	triggers *trigger.Engine,
	gate validate.Gate,
	notifier notify.Notifier,
	metrics *Metrics,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:    st,
		intents:  intents,
		drafter:  drafter,
		triggers: triggers,
		gate:     gate,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With("component", "dispatch"),
	}
}

// OpenThreadParams describes a new negotiation thread.
type OpenThreadParams struct {
	Campaign *store.Campaign
	Context  *negotiator.Context
}

// OpenedThread is the result of opening a thread: its identifier and the
// computed opening offer (floor price applied to reach).
type OpenedThread struct {
	ThreadID     string
	OpeningOffer money.Amount
	State        thread.State
}

// OpenThread creates a thread snapshot in the initial state, computes the
// opening offer, and records the sent offer transition.
func (d *Dispatcher) OpenThread(ctx context.Context, params OpenThreadParams) (OpenedThread, error) {
	if params.Campaign == nil || params.Context == nil {
		return OpenedThread{}, fmt.Errorf("dispatch: campaign and context are required")
	}

	opening, err := rate.InitialOffer(params.Context.Views, params.Campaign.FloorPrice)
	if err != nil {
		return OpenedThread{}, err
	}

	threadID := uuid.NewString()
	params.Context.ThreadID = threadID
	params.Context.LastOffer = opening

	machine := thread.NewMachine()
	if _, err := machine.Apply(thread.EventSendOffer); err != nil {
		return OpenedThread{}, err
	}

	tracker := budget.NewTracker(params.Campaign.ID, params.Campaign.FloorPrice, params.Campaign.CeilingPrice, params.Campaign.TotalCount)
	budgetSnap := tracker.Snapshot()

	snap := store.Snapshot{
		ThreadID:   threadID,
		State:      machine.State(),
		RoundCount: 0,
		Context:    params.Context,
		Campaign:   params.Campaign,
		Budget:     &budgetSnap,
		History:    machine.History(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := d.store.Save(ctx, snap); err != nil {
		return OpenedThread{}, err
	}

	d.logger.Info("thread opened",
		"thread_id", threadID,
		"campaign_id", params.Campaign.ID,
		"opening_offer", opening.String(),
	)
	return OpenedThread{ThreadID: threadID, OpeningOffer: opening, State: machine.State()}, nil
}

// HandleInbound runs one negotiation decision for an inbound message on an
// existing thread and persists the outcome.
func (d *Dispatcher) HandleInbound(ctx context.Context, threadID, text string) (negotiator.Outcome, error) {
	lock := d.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := d.store.Load(ctx, threadID)
	if err != nil {
		return negotiator.Outcome{}, err
	}
	if snap.Campaign == nil || snap.Context == nil || snap.Budget == nil {
		return negotiator.Outcome{}, fmt.Errorf("dispatch: snapshot for %s is missing blobs", threadID)
	}

	machine, err := thread.Restore(snap.State, snap.History)
	if err != nil {
		return negotiator.Outcome{}, err
	}
	audited := thread.WithAudit(machine, threadID, d.logger)

	evaluator, err := rate.NewEvaluator(snap.Campaign.FloorPrice, snap.Campaign.CeilingPrice, snap.Campaign.SuspiciousLow)
	if err != nil {
		return negotiator.Outcome{}, err
	}
	tracker := budget.FromSnapshot(*snap.Budget)

	loop := negotiator.NewLoop(d.intents, d.drafter, d.triggers, evaluator, tracker, d.gate, d.logger)
	outcome, err := loop.Process(ctx, negotiator.Request{
		Text:    text,
		Context: snap.Context,
		Machine: audited,
		Round:   snap.RoundCount,
	})
	if err != nil {
		d.metrics.recordError()
		return negotiator.Outcome{}, err
	}
	d.metrics.recordDecision(outcome.Action)

	if err := d.persistOutcome(ctx, snap, machine, outcome); err != nil {
		return negotiator.Outcome{}, err
	}
	d.notifyOutcome(ctx, snap, outcome)
	return outcome, nil
}

// persistOutcome writes the post-decision snapshot, recording the agreement
// in the budget tracker on accept.
func (d *Dispatcher) persistOutcome(ctx context.Context, snap store.Snapshot, machine *thread.Machine, outcome negotiator.Outcome) error {
	if outcome.Action == decision.ActionAccept && !outcome.OfferAmount.IsZero() {
		tracker := budget.FromSnapshot(*snap.Budget)
		agreedPrice, err := rate.ImpliedPrice(outcome.OfferAmount, snap.Context.Views)
		if err != nil {
			return err
		}
		tracker.RecordAgreement(agreedPrice, snap.Context.EngagementRate)
		updated := tracker.Snapshot()
		snap.Budget = &updated
	}

	snap.State = machine.State()
	snap.History = machine.History()
	snap.RoundCount = outcome.Round
	snap.UpdatedAt = time.Now().UTC()
	return d.store.Save(ctx, snap)
}

// notifyOutcome hands escalation and agreement payloads to the notifier.
// Notification failures are logged, not returned: the decision already
// stands and is persisted.
func (d *Dispatcher) notifyOutcome(ctx context.Context, snap store.Snapshot, outcome negotiator.Outcome) {
	switch outcome.Action {
	case decision.ActionEscalate:
		esc := notify.Escalation{
			ThreadID:         snap.ThreadID,
			CampaignID:       snap.Campaign.ID,
			CounterpartyName: snap.Context.CounterpartyName,
			Reason:           outcome.Reason,
			Round:            outcome.Round,
			Triggers:         outcome.Triggers,
			OccurredAt:       time.Now().UTC(),
		}
		if outcome.Intent != nil && outcome.Intent.ProposedAmount != nil {
			esc.ProposedAmount = outcome.Intent.ProposedAmount.String()
		}
		if outcome.Pricing != nil {
			esc.ImpliedPrice = outcome.Pricing.ImpliedPrice.String()
		}
		if outcome.Validation != nil {
			esc.Failures = outcome.Validation.Failures
		}
		if outcome.Draft != nil {
			esc.DraftText = outcome.Draft.Text
		}
		if err := d.notifier.NotifyEscalation(ctx, esc); err != nil {
			d.logger.Error("escalation notification failed", "thread_id", snap.ThreadID, "error", err)
		}

	case decision.ActionAccept:
		agr := notify.Agreement{
			ThreadID:         snap.ThreadID,
			CampaignID:       snap.Campaign.ID,
			CounterpartyName: snap.Context.CounterpartyName,
			Amount:           outcome.OfferAmount,
			Rounds:           outcome.Round,
			OccurredAt:       time.Now().UTC(),
		}
		if err := d.notifier.NotifyAgreement(ctx, agr); err != nil {
			d.logger.Error("agreement notification failed", "thread_id", snap.ThreadID, "error", err)
		}
	}
}

func (d *Dispatcher) threadLock(threadID string) *sync.Mutex {
	actual, _ := d.locks.LoadOrStore(threadID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
