package aggregate

import (
	"maenroll/internal/core"
)

// Point is one month of a time series.
type Point struct {
	Period   core.PeriodKey `json:"period"`
	Enrolled int64          `json:"enrolled"`
	Change   int64          `json:"change"`
	Percent  Percent        `json:"percent"`
}

// SeriesBounds clamps the requested range [start, end] to the ends of
// timeline. Empty bounds are open. ok is false when nothing remains.
func SeriesBounds(timeline []core.PeriodKey, start, end core.PeriodKey) (from, to core.PeriodKey, ok bool) {
	if len(timeline) == 0 {
		return "", "", false
	}
	from, to = timeline[0], timeline[len(timeline)-1]
	if start != "" && start > from {
		from = start
	}
	if end != "" && end < to {
		to = end
	}
	return from, to, from <= to
}

// TimeSeries sums enrolled per period over every calendar month in
// [start, end]. Months without matching rows appear as zero entries. The
// first point has zero change; a point whose predecessor is zero has an
// undefined percent.
func TimeSeries(rows []core.Row, start, end core.PeriodKey) ([]Point, error) {
	months, err := core.MonthRange(start, end)
	if err != nil {
		return nil, err
	}
	sums := make(map[core.PeriodKey]int64, len(months))
	for _, r := range rows {
		sums[r.Period] += r.Enrolled
	}

	out := make([]Point, len(months))
	for i, m := range months {
		out[i] = Point{Period: m, Enrolled: sums[m]}
		if i == 0 {
			continue
		}
		before := out[i-1].Enrolled
		out[i].Change = out[i].Enrolled - before
		out[i].Percent = PercentChange(out[i].Change, before)
	}
	return out, nil
}

// NewestFirst returns a reversed copy of points, the order of the MoM table.
func NewestFirst(points []Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[len(points)-1-i] = p
	}
	return out
}
