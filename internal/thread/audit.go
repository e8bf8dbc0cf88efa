package thread

import "log/slog"

// StateMachine is the surface the negotiation loop drives. *Machine
// implements it; decorators wrap it.
type StateMachine interface {
	Apply(event Event) (State, error)
	State() State
	ValidEvents() []Event
}

// auditMachine logs every applied event around the wrapped machine.
type auditMachine struct {
	inner    StateMachine
	threadID string
	logger   *slog.Logger
}

// WithAudit wraps a state machine so every Apply is logged with the thread
// identifier, the event, and the resulting (or refused) transition. Audit
// is composed at construction time rather than grafted onto an instance.
func WithAudit(inner StateMachine, threadID string, logger *slog.Logger) StateMachine {
	return &auditMachine{
		inner:    inner,
		threadID: threadID,
		logger:   logger.With("component", "thread", "thread_id", threadID),
	}
}

func (a *auditMachine) Apply(event Event) (State, error) {
	from := a.inner.State()
	to, err := a.inner.Apply(event)
	if err != nil {
		a.logger.Warn("transition refused", "from", string(from), "event", string(event), "error", err)
		return to, err
	}
	a.logger.Info("transition applied", "from", string(from), "event", string(event), "to", string(to))
	return to, nil
}

func (a *auditMachine) State() State { return a.inner.State() }

func (a *auditMachine) ValidEvents() []Event { return a.inner.ValidEvents() }
