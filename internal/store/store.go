// Package store persists negotiation thread snapshots in SQLite. Snapshots
// are the durability boundary of the decision core: state and round count
// are first-class columns, everything else travels as JSON blobs in which
// every monetary value is a canonical decimal string, never a float.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parleyhq/parley/internal/budget"
	"github.com/parleyhq/parley/internal/money"
	"github.com/parleyhq/parley/internal/negotiator"
	"github.com/parleyhq/parley/internal/thread"
)

// ErrThreadNotFound is returned when no snapshot exists for a thread ID.
var ErrThreadNotFound = errors.New("store: thread not found")

// Campaign is the persisted campaign metadata blob. All three thresholds
// are price-per-thousand values.
type Campaign struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	FloorPrice    money.Amount `json:"floor_price"`
	CeilingPrice  money.Amount `json:"ceiling_price"`
	SuspiciousLow money.Amount `json:"suspicious_low"`
	TotalCount    int          `json:"total_count"`
}

// Snapshot is one thread's persisted state.
type Snapshot struct {
	ThreadID   string
	State      thread.State
	RoundCount int
	Context    *negotiator.Context
	Campaign   *Campaign
	Budget     *budget.Snapshot
	History    []thread.Transition
	UpdatedAt  time.Time
}

// Store is a SQLite-backed snapshot store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the snapshot database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	// Snapshots are small and writes serialize per thread; one connection
	// sidesteps SQLite writer contention.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes or replaces the snapshot for a thread.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	contextBlob, err := json.Marshal(snap.Context)
	if err != nil {
		return fmt.Errorf("store: marshal context: %w", err)
	}
	campaignBlob, err := json.Marshal(snap.Campaign)
	if err != nil {
		return fmt.Errorf("store: marshal campaign: %w", err)
	}
	budgetBlob, err := json.Marshal(snap.Budget)
	if err != nil {
		return fmt.Errorf("store: marshal budget tracker: %w", err)
	}
	historyBlob, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("store: marshal history: %w", err)
	}

	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots
			(thread_id, state, round_count, context, campaign, budget_tracker, history, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ThreadID, string(snap.State), snap.RoundCount,
		string(contextBlob), string(campaignBlob), string(budgetBlob), string(historyBlob),
		formatUpdatedAt(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for a thread, or ErrThreadNotFound.
func (s *Store) Load(ctx context.Context, threadID string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state, round_count, context, campaign, budget_tracker, history, updated_at
		FROM snapshots WHERE thread_id = ?`, threadID)

	var (
		snap         Snapshot
		state        string
		contextBlob  string
		campaignBlob string
		budgetBlob   string
		historyBlob  string
		updatedAtStr string
	)
	err := row.Scan(&state, &snap.RoundCount, &contextBlob, &campaignBlob, &budgetBlob, &historyBlob, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: load snapshot: %w", err)
	}

	snap.ThreadID = threadID
	snap.State = thread.State(state)
	if err := unmarshalBlob(contextBlob, &snap.Context); err != nil {
		return Snapshot{}, fmt.Errorf("store: context blob: %w", err)
	}
	if err := unmarshalBlob(campaignBlob, &snap.Campaign); err != nil {
		return Snapshot{}, fmt.Errorf("store: campaign blob: %w", err)
	}
	if err := unmarshalBlob(budgetBlob, &snap.Budget); err != nil {
		return Snapshot{}, fmt.Errorf("store: budget tracker blob: %w", err)
	}
	if err := unmarshalBlob(historyBlob, &snap.History); err != nil {
		return Snapshot{}, fmt.Errorf("store: history blob: %w", err)
	}
	if updatedAtStr != "" {
		t, err := time.Parse(time.RFC3339Nano, updatedAtStr)
		if err != nil {
			return Snapshot{}, fmt.Errorf("store: parse updated_at %q: %w", updatedAtStr, err)
		}
		snap.UpdatedAt = t
	}
	return snap, nil
}

// StaleCandidates returns thread IDs whose snapshot is in one of the given
// states and has not been updated since the cutoff. The sweeper uses this
// to apply timeout transitions.
func (s *Store) StaleCandidates(ctx context.Context, states []thread.State, cutoff time.Time) ([]string, error) {
	if len(states) == 0 {
		return nil, nil
	}
	query := `SELECT thread_id FROM snapshots WHERE updated_at < ? AND state IN (?` +
		repeatPlaceholder(len(states)-1) + `)`
	args := make([]any, 0, len(states)+1)
	args = append(args, formatUpdatedAt(cutoff))
	for _, st := range states {
		args = append(args, string(st))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: stale candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: stale candidates rows: %w", err)
	}
	return ids, nil
}

// Delete removes a thread's snapshot. Deleting a missing thread returns
// ErrThreadNotFound.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE thread_id = ?", threadID)
	if err != nil {
		return fmt.Errorf("store: delete snapshot: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return nil
}

// formatUpdatedAt serializes a timestamp for the updated_at column. The
// staleness query compares these strings lexicographically, so the format
// must be fixed-width: RFC 3339 at UTC second precision. RFC3339Nano would
// trim trailing fractional zeros and break the string ordering.
func formatUpdatedAt(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func unmarshalBlob[T any](blob string, dst *T) error {
	if blob == "" || blob == "null" {
		return nil
	}
	return json.Unmarshal([]byte(blob), dst)
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
