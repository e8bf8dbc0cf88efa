// Package notify carries the "why we stopped" and "what was agreed"
// snapshots out of the decision core to whatever channel humans watch.
// The notifier is an explicit dependency handed to the components that
// need it; there is no process-wide current-notifier singleton.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/internal/money"
	"github.com/parleyhq/parley/internal/trigger"
	"github.com/parleyhq/parley/internal/validate"
	"github.com/parleyhq/parley/pkg/decision"
)

// Escalation is an immutable snapshot of why autonomous handling stopped.
type Escalation struct {
	ThreadID         string                    `json:"thread_id"`
	CampaignID       string                    `json:"campaign_id"`
	CounterpartyName string                    `json:"counterparty_name"`
	Reason           decision.EscalationReason `json:"reason"`
	Round            int                       `json:"round"`
	ProposedAmount   string                    `json:"proposed_amount,omitempty"`
	ImpliedPrice     string                    `json:"implied_price,omitempty"`
	Triggers         []trigger.Result          `json:"triggers,omitempty"`
	Failures         []validate.Failure        `json:"failures,omitempty"`
	DraftText        string                    `json:"draft_text,omitempty"`
	OccurredAt       time.Time                 `json:"occurred_at"`
}

// Agreement is an immutable snapshot of a closed deal.
type Agreement struct {
	ThreadID         string       `json:"thread_id"`
	CampaignID       string       `json:"campaign_id"`
	CounterpartyName string       `json:"counterparty_name"`
	Amount           money.Amount `json:"amount"`
	Rounds           int          `json:"rounds"`
	OccurredAt       time.Time    `json:"occurred_at"`
}

// Notifier delivers escalation and agreement payloads to humans. Delivery
// transport is the implementation's concern; the core only decides what to
// say.
type Notifier interface {
	NotifyEscalation(ctx context.Context, e Escalation) error
	NotifyAgreement(ctx context.Context, a Agreement) error
}

// LogNotifier writes notifications to structured logs. It is the default
// when no chat channel is configured, and a useful tee in tests.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// NotifyEscalation implements Notifier.
func (n *LogNotifier) NotifyEscalation(_ context.Context, e Escalation) error {
	n.logger.Warn("escalation",
		"thread_id", e.ThreadID,
		"campaign_id", e.CampaignID,
		"counterparty", e.CounterpartyName,
		"reason", string(e.Reason),
		"round", e.Round,
		"proposed_amount", e.ProposedAmount,
		"triggers", len(e.Triggers),
		"validation_failures", len(e.Failures),
	)
	return nil
}

// NotifyAgreement implements Notifier.
func (n *LogNotifier) NotifyAgreement(_ context.Context, a Agreement) error {
	n.logger.Info("agreement",
		"thread_id", a.ThreadID,
		"campaign_id", a.CampaignID,
		"counterparty", a.CounterpartyName,
		"amount", a.Amount.String(),
		"rounds", a.Rounds,
	)
	return nil
}
