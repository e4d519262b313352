package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PeriodKey identifies one monthly reporting cycle in YYYY-MM form.
// The format is fixed-width and zero-padded so lexicographic order is
// chronological order.
type PeriodKey string

const periodLayout = "2006-01"

// ParsePeriodKey validates s and returns it as a PeriodKey.
func ParsePeriodKey(s string) (PeriodKey, error) {
	s = strings.TrimSpace(s)
	if len(s) != len(periodLayout) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	if _, err := time.Parse(periodLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return PeriodKey(s), nil
}

// MustPeriod is ParsePeriodKey for literals known to be valid.
func MustPeriod(s string) PeriodKey {
	p, err := ParsePeriodKey(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) PeriodKey {
	return PeriodKey(t.UTC().Format(periodLayout))
}

// ReportingPeriod returns the period CMS is expected to have published by now:
// the calendar month before now. January maps to December of the previous year.
func ReportingPeriod(now time.Time) PeriodKey {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return PeriodOf(first.AddDate(0, -1, 0))
}

func (p PeriodKey) String() string { return string(p) }

// Valid reports whether p is a well-formed YYYY-MM key.
func (p PeriodKey) Valid() bool {
	_, err := ParsePeriodKey(string(p))
	return err == nil
}

// Time returns the first instant of the period in UTC.
func (p PeriodKey) Time() (time.Time, error) {
	t, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, string(p))
	}
	return t, nil
}

// AddMonths shifts p by n calendar months.
func (p PeriodKey) AddMonths(n int) (PeriodKey, error) {
	t, err := p.Time()
	if err != nil {
		return "", err
	}
	return PeriodOf(t.AddDate(0, n, 0)), nil
}

// MonthRange lists every calendar month in [start, end], both inclusive.
// An inverted range yields nil.
func MonthRange(start, end PeriodKey) ([]PeriodKey, error) {
	from, err := start.Time()
	if err != nil {
		return nil, err
	}
	to, err := end.Time()
	if err != nil {
		return nil, err
	}
	var out []PeriodKey
	for t := from; !t.After(to); t = t.AddDate(0, 1, 0) {
		out = append(out, PeriodOf(t))
	}
	return out, nil
}

// SortPeriods sorts keys ascending in place and drops duplicates.
func SortPeriods(keys []PeriodKey) []PeriodKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := keys[:0]
	for _, k := range keys {
		if len(out) > 0 && out[len(out)-1] == k {
			continue
		}
		out = append(out, k)
	}
	return out
}

// MostRecent returns the n greatest keys of an ascending, duplicate-free
// timeline. At least one key is kept whenever the input is non-empty.
func MostRecent(timeline []PeriodKey, n int) []PeriodKey {
	if n < 1 {
		n = 1
	}
	if len(timeline) <= n {
		return timeline
	}
	return timeline[len(timeline)-n:]
}
