package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPeriod is returned for period keys not in YYYY-MM form.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrEmptyBatch is returned when a period is upserted without rows.
	// The persisted format cannot represent an empty period, so the store
	// refuses it and keeps whatever it held before.
	ErrEmptyBatch = errors.New("period has no rows")

	// ErrUnknownDimension is returned when a group-by or filter names a
	// dimension outside the fixed column set.
	ErrUnknownDimension = errors.New("unknown dimension")

	// ErrNoData is returned when an operation needs at least one period.
	ErrNoData = errors.New("dataset has no periods")

	// ErrLocked is returned when another combine run holds the lock.
	ErrLocked = errors.New("another run holds the lock")

	// ErrEnrichmentUnavailable marks the degraded mode where no usable
	// contract directory was found. It is informational, never fatal.
	ErrEnrichmentUnavailable = errors.New("parent organization mapping unavailable")
)

// MalformedRowError reports an extract whose schema lacks mandatory columns.
// The whole period is abandoned when this is returned.
type MalformedRowError struct {
	Period  PeriodKey
	Source  string
	Missing []string
}

func (e *MalformedRowError) Error() string {
	var b strings.Builder
	b.WriteString("malformed extract")
	if e.Period != "" {
		fmt.Fprintf(&b, " for period %s", e.Period)
	}
	if e.Source != "" {
		fmt.Fprintf(&b, " (%s)", e.Source)
	}
	fmt.Fprintf(&b, ": missing columns %s", strings.Join(e.Missing, ", "))
	return b.String()
}

// FetchError wraps a failure to obtain the raw extract for one period.
type FetchError struct {
	Period PeriodKey
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("fetch %s from %s: %v", e.Period, e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Period, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
