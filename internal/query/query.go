// Package query answers dashboard questions over the current snapshot,
// memoizing results per snapshot version.
package query

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"maenroll/internal/aggregate"
	"maenroll/internal/cache"
	"maenroll/internal/core"
	"maenroll/internal/filter"
)

// Source supplies the current snapshot. *store.Store satisfies it.
type Source interface {
	Snapshot() *core.Snapshot
}

// ErrUnknownComparison is returned for a comparison kind other than
// CompareMoM or CompareYoY.
var ErrUnknownComparison = errors.New("unknown comparison")

// Comparison kinds accepted by Summarize.
const (
	CompareMoM = "mom"
	CompareYoY = "yoy"
)

// Service memoizes filter and aggregate results. Entries are keyed by the
// snapshot version and the value of the request, and the whole cache is
// purged as soon as a newer snapshot is observed.
type Service struct {
	src   Source
	cache cache.Cache[any]

	mu      sync.Mutex
	version uint64
}

func NewService(src Source, c cache.Cache[any]) *Service {
	return &Service{src: src, cache: c}
}

// snapshot returns the current snapshot, purging the cache when its
// version differs from the last one served.
func (s *Service) snapshot() *core.Snapshot {
	snap := s.src.Snapshot()
	s.mu.Lock()
	if snap.Version() != s.version {
		s.cache.Purge()
		s.version = snap.Version()
	}
	s.mu.Unlock()
	return snap
}

func memo[T any](s *Service, snap *core.Snapshot, key string, compute func() T) T {
	key = fmt.Sprintf("%d|%s", snap.Version(), key)
	if v, ok := s.cache.Get(key); ok {
		if t, ok := v.(T); ok {
			return t
		}
	}
	v := compute()
	s.cache.Set(key, v)
	return v
}

func (s *Service) rows(snap *core.Snapshot, spec core.FilterSpec) []core.Row {
	return memo(s, snap, "apply|"+spec.Key(), func() []core.Row {
		return filter.Apply(snap, spec)
	})
}

// Apply returns a copy of the working set selected by spec.
func (s *Service) Apply(spec core.FilterSpec) []core.Row {
	return append([]core.Row(nil), s.rows(s.snapshot(), spec)...)
}

// Timeline returns the periods present in the working set.
func (s *Service) Timeline(spec core.FilterSpec) []core.PeriodKey {
	snap := s.snapshot()
	tl := memo(s, snap, "timeline|"+spec.Key(), func() []core.PeriodKey {
		return aggregate.Timeline(s.rows(snap, spec))
	})
	return append([]core.PeriodKey(nil), tl...)
}

// Summarize groups the working set by dims and compares the latest period
// against the previous one (CompareMoM) or the year-ago one (CompareYoY).
func (s *Service) Summarize(spec core.FilterSpec, dims []core.Dimension, kind string) (aggregate.Comparison, error) {
	if len(dims) == 0 {
		return aggregate.Comparison{}, fmt.Errorf("%w: empty group by", core.ErrUnknownDimension)
	}
	if kind == "" {
		kind = CompareMoM
	}
	if kind != CompareMoM && kind != CompareYoY {
		return aggregate.Comparison{}, fmt.Errorf("%w: %q", ErrUnknownComparison, kind)
	}
	snap := s.snapshot()
	key := "summary|" + kind + "|" + dimsKey(dims) + "|" + spec.Key()
	c := memo(s, snap, key, func() aggregate.Comparison {
		rows := s.rows(snap, spec)
		tl := aggregate.Timeline(rows)
		if kind == CompareYoY {
			return aggregate.YoY(rows, tl, dims)
		}
		return aggregate.MoM(rows, tl, dims)
	})
	c.Summaries = append([]aggregate.Summary(nil), c.Summaries...)
	return c, nil
}

// Movers ranks the MoM summaries by absolute change.
func (s *Service) Movers(spec core.FilterSpec, dims []core.Dimension, n int) (aggregate.Comparison, error) {
	c, err := s.Summarize(spec, dims, CompareMoM)
	if err != nil {
		return c, err
	}
	c.Summaries = aggregate.Movers(c.Summaries, n)
	return c, nil
}

// Mix returns the latest period's share per group, e.g. the plan type mix.
func (s *Service) Mix(spec core.FilterSpec, dims []core.Dimension) ([]aggregate.Share, error) {
	c, err := s.Summarize(spec, dims, CompareMoM)
	if err != nil {
		return nil, err
	}
	return aggregate.Shares(c.Summaries), nil
}

// TimeSeries sums the working set per month across the requested range,
// clamped to the stored timeline. An empty store yields no points.
func (s *Service) TimeSeries(spec core.FilterSpec) ([]aggregate.Point, error) {
	snap := s.snapshot()
	from, to, ok := aggregate.SeriesBounds(snap.Timeline(), spec.PeriodStart(), spec.PeriodEnd())
	if !ok {
		return []aggregate.Point{}, nil
	}
	type result struct {
		points []aggregate.Point
		err    error
	}
	r := memo(s, snap, "series|"+spec.Key(), func() result {
		p, err := aggregate.TimeSeries(s.rows(snap, spec), from, to)
		return result{p, err}
	})
	return append([]aggregate.Point(nil), r.points...), r.err
}

// KPIs returns the headline figures of the working set.
func (s *Service) KPIs(spec core.FilterSpec) aggregate.KPIs {
	snap := s.snapshot()
	return memo(s, snap, "kpis|"+spec.Key(), func() aggregate.KPIs {
		rows := s.rows(snap, spec)
		return aggregate.ComputeKPIs(rows, aggregate.Timeline(rows))
	})
}

// Options lists filter picker values, counties limited to states if given.
func (s *Service) Options(states ...string) filter.Options {
	snap := s.snapshot()
	key := "options|" + strings.Join(states, "\x1f")
	return memo(s, snap, key, func() filter.Options {
		return filter.OptionsFor(snap, states...)
	})
}

// Version returns the snapshot version currently served.
func (s *Service) Version() uint64 { return s.snapshot().Version() }

func dimsKey(dims []core.Dimension) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}
