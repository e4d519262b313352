// Package store holds the canonical combined dataset.
//
// Writers build a complete new snapshot and publish it with a single atomic
// pointer swap, so readers only ever observe whole states: never a period
// removed but its replacement missing, never a half-applied prune.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"maenroll/internal/core"
)

// Store is the Period Store. The zero value is not usable; call New.
type Store struct {
	retention int

	// mu serializes writers; readers go through current only.
	mu      sync.Mutex
	version uint64
	// data is copy-on-write: a published map is never modified again, so
	// it is shared with the snapshot that wraps it.
	data    map[core.PeriodKey][]core.Row
	current atomic.Pointer[core.Snapshot]
}

// New creates an empty store keeping at most retention periods. Values
// below 1 fall back to core.DefaultRetentionWindow.
func New(retention int) *Store {
	if retention < 1 {
		retention = core.DefaultRetentionWindow
	}
	s := &Store{retention: retention, data: map[core.PeriodKey][]core.Row{}}
	s.current.Store(core.NewSnapshot(0, nil))
	return s
}

// Retention returns the configured retention window.
func (s *Store) Retention() int { return s.retention }

// Snapshot returns the current read-only view.
func (s *Store) Snapshot() *core.Snapshot { return s.current.Load() }

// Timeline returns the stored periods, ascending.
func (s *Store) Timeline() []core.PeriodKey { return s.Snapshot().Timeline() }

// Version returns the identity of the current snapshot.
func (s *Store) Version() uint64 { return s.Snapshot().Version() }

// Upsert replaces the row-set for period wholesale, then re-applies the
// retention window. Upserting identical input twice leaves the same
// dataset as upserting it once.
func (s *Store) Upsert(ctx context.Context, period core.PeriodKey, rows []core.Row) error {
	return s.Merge(ctx, map[core.PeriodKey][]core.Row{period: rows})
}

// Merge folds a batch of periods into the store: each batch period
// supersedes any stored rows for that period, stored-only periods carry
// forward unchanged, and the union is pruned to the retention window. The
// whole batch becomes visible at once or not at all.
func (s *Store) Merge(ctx context.Context, batch map[core.PeriodKey][]core.Row) error {
	staged, err := stage(batch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[core.PeriodKey][]core.Row, len(s.data)+len(staged))
	for p, rows := range s.data {
		next[p] = rows
	}
	for p, rows := range staged {
		next[p] = rows
	}
	dropped := prune(next, s.retention)
	s.publish(next)

	slog.DebugContext(ctx, "Period store updated",
		"periods_written", len(staged),
		"periods_dropped", len(dropped),
		"timeline_len", len(next),
		"version", s.version)
	return nil
}

// Replace swaps the store content for dataset, pruned to the retention
// window. Periods not present in dataset disappear.
func (s *Store) Replace(ctx context.Context, dataset map[core.PeriodKey][]core.Row) error {
	staged, err := stage(dataset)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := prune(staged, s.retention)
	s.publish(staged)

	slog.DebugContext(ctx, "Period store replaced",
		"periods", len(staged),
		"periods_dropped", len(dropped),
		"version", s.version)
	return nil
}

func (s *Store) publish(periods map[core.PeriodKey][]core.Row) {
	s.data = periods
	s.version++
	s.current.Store(core.NewSnapshot(s.version, periods))
}

// stage validates a batch and copies its rows, stamping each with its
// period key. Nothing in the store changes if any period is invalid.
func stage(batch map[core.PeriodKey][]core.Row) (map[core.PeriodKey][]core.Row, error) {
	out := make(map[core.PeriodKey][]core.Row, len(batch))
	for p, rows := range batch {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %q", core.ErrInvalidPeriod, string(p))
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("upsert %s: %w", p, core.ErrEmptyBatch)
		}
		cp := make([]core.Row, len(rows))
		for i, r := range rows {
			r.Period = p
			if r.Enrolled < 0 {
				r.Enrolled = 0
			}
			cp[i] = r
		}
		out[p] = cp
	}
	return out, nil
}

// prune deletes all but the retention most recent periods and returns the
// removed keys. The last remaining period is never removed.
func prune(periods map[core.PeriodKey][]core.Row, retention int) []core.PeriodKey {
	timeline := make([]core.PeriodKey, 0, len(periods))
	for p := range periods {
		timeline = append(timeline, p)
	}
	timeline = core.SortPeriods(timeline)
	keep := core.MostRecent(timeline, retention)
	dropped := timeline[:len(timeline)-len(keep)]
	for _, p := range dropped {
		delete(periods, p)
	}
	return dropped
}
