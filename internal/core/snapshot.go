package core

// Snapshot is an immutable view of the combined dataset at one version.
// Accessors hand out copies, so callers can never reach the backing rows.
type Snapshot struct {
	version  uint64
	timeline []PeriodKey
	periods  map[PeriodKey][]Row
	rows     int
}

// NewSnapshot takes ownership of periods; the caller must not modify the
// map or any of its slices afterwards.
func NewSnapshot(version uint64, periods map[PeriodKey][]Row) *Snapshot {
	if periods == nil {
		periods = map[PeriodKey][]Row{}
	}
	timeline := make([]PeriodKey, 0, len(periods))
	total := 0
	for p, rows := range periods {
		timeline = append(timeline, p)
		total += len(rows)
	}
	return &Snapshot{
		version:  version,
		timeline: SortPeriods(timeline),
		periods:  periods,
		rows:     total,
	}
}

// Version identifies the store state this snapshot was taken from.
func (s *Snapshot) Version() uint64 { return s.version }

// Timeline returns the stored periods in ascending order.
func (s *Snapshot) Timeline() []PeriodKey {
	return append([]PeriodKey(nil), s.timeline...)
}

// Latest returns the greatest stored period.
func (s *Snapshot) Latest() (PeriodKey, bool) {
	if len(s.timeline) == 0 {
		return "", false
	}
	return s.timeline[len(s.timeline)-1], true
}

// Has reports whether p is stored.
func (s *Snapshot) Has(p PeriodKey) bool {
	_, ok := s.periods[p]
	return ok
}

// Rows returns a copy of the rows stored for p.
func (s *Snapshot) Rows(p PeriodKey) []Row {
	return append([]Row(nil), s.periods[p]...)
}

// PeriodLen returns the number of rows stored for p.
func (s *Snapshot) PeriodLen(p PeriodKey) int { return len(s.periods[p]) }

// Len returns the total number of rows across periods.
func (s *Snapshot) Len() int { return s.rows }

// Each visits rows in ascending period order until fn returns false.
func (s *Snapshot) Each(fn func(Row) bool) {
	for _, p := range s.timeline {
		for _, r := range s.periods[p] {
			if !fn(r) {
				return
			}
		}
	}
}

// Dataset returns a deep copy keyed by period.
func (s *Snapshot) Dataset() map[PeriodKey][]Row {
	out := make(map[PeriodKey][]Row, len(s.periods))
	for p, rows := range s.periods {
		out[p] = append([]Row(nil), rows...)
	}
	return out
}
