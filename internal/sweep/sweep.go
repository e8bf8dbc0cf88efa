// Package sweep runs the periodic stale-thread job: negotiation threads
// that have sat in a waiting state past the idle cutoff get the timeout
// event applied and their snapshot updated, so long-silent counterparties
// stop occupying autonomous capacity.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/thread"
)

// Config controls the sweeper.
type Config struct {
	// Schedule is a five-field cron expression; default "*/15 * * * *".
	Schedule string `yaml:"schedule"`

	// MaxIdle is how long a waiting thread may sit before it times out;
	// default 72h.
	MaxIdle time.Duration `yaml:"max_idle"`
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "*/15 * * * *"
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 72 * time.Hour
	}
	return c
}

// waitingStates are the states the timeout event is legal from.
var waitingStates = []thread.State{thread.StateAwaitingReply, thread.StateCounterSent}

// Sweeper schedules and runs the stale-thread sweep.
type Sweeper struct {
	config Config
	store  *store.Store
	logger *slog.Logger

	running sync.Mutex
	cron    *cron.Cron
}

// New creates a sweeper over the given snapshot store.
func New(cfg Config, st *store.Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		config: cfg.withDefaults(),
		store:  st,
		logger: logger.With("component", "sweep"),
	}
}

// Start begins periodic sweeping. Returns an error for an invalid schedule
// expression.
func (s *Sweeper) Start() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(cron.WithParser(parser))

	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		// Skip the tick if the previous sweep is still running.
		if !s.running.TryLock() {
			s.logger.Warn("sweep still running, skipping tick")
			return
		}
		defer s.running.Unlock()

		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("sweep: invalid schedule %q: %w", s.config.Schedule, err)
	}

	s.cron.Start()
	s.logger.Info("sweeper started", "schedule", s.config.Schedule, "max_idle", s.config.MaxIdle.String())
	return nil
}

// Stop shuts the scheduler down, waiting for an in-flight sweep.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep applies the timeout event to every thread idle past the cutoff and
// persists the resulting state. One failing thread does not stop the rest.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.config.MaxIdle)
	ids, err := s.store.StaleCandidates(ctx, waitingStates, cutoff)
	if err != nil {
		return err
	}

	var swept int
	for _, id := range ids {
		if err := s.sweepThread(ctx, id); err != nil {
			s.logger.Error("sweeping thread failed", "thread_id", id, "error", err)
			continue
		}
		swept++
	}
	if swept > 0 {
		s.logger.Info("stale threads swept", "count", swept)
	}
	return nil
}

func (s *Sweeper) sweepThread(ctx context.Context, threadID string) error {
	snap, err := s.store.Load(ctx, threadID)
	if err != nil {
		return err
	}
	machine, err := thread.Restore(snap.State, snap.History)
	if err != nil {
		return err
	}
	newState, err := machine.Apply(thread.EventTimeout)
	if err != nil {
		return err
	}
	snap.State = newState
	snap.History = machine.History()
	snap.UpdatedAt = time.Now().UTC()
	return s.store.Save(ctx, snap)
}
