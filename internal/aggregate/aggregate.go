// Package aggregate computes grouped enrollment totals, period-over-period
// changes and time series from a filtered working set. Every function is
// pure: inputs are never modified and an empty working set yields
// zero-valued results.
package aggregate

import (
	"sort"
	"strings"

	"maenroll/internal/core"
)

// Summary is one group of the latest period joined with the same group in
// the comparison period.
type Summary struct {
	Key         []string `json:"key"`
	EnrolledSum int64    `json:"enrolled"`
	Previous    int64    `json:"previous"`
	Change      int64    `json:"change"`
	Percent     Percent  `json:"percent"`
}

// Label joins the group key for display.
func (s Summary) Label() string { return strings.Join(s.Key, " / ") }

// Comparison is a summarized view of latest against a comparison period.
// Available is false when the comparison period does not exist; the
// summaries then carry the latest sums with undefined percentages.
type Comparison struct {
	Latest    core.PeriodKey `json:"latest"`
	Previous  core.PeriodKey `json:"previous,omitempty"`
	Available bool           `json:"available"`
	Summaries []Summary      `json:"summaries"`
}

// Common groupings offered by the dashboard views.
var (
	ByState     = []core.Dimension{core.DimState}
	ByCounty    = []core.Dimension{core.DimState, core.DimCounty}
	ByContract  = []core.Dimension{core.DimContract, core.DimOrganization, core.DimPlanType}
	ByParentOrg = []core.Dimension{core.DimParentOrg}
	ByPlanType  = []core.Dimension{core.DimPlanType}
)

const keySep = "\x1f"

type group struct {
	key []string
	sum int64
}

func groupSums(rows []core.Row, period core.PeriodKey, dims []core.Dimension) map[string]*group {
	out := make(map[string]*group)
	if period == "" {
		return out
	}
	key := make([]string, len(dims))
	for _, r := range rows {
		if r.Period != period {
			continue
		}
		for i, d := range dims {
			key[i] = r.Value(d)
		}
		id := strings.Join(key, keySep)
		g, ok := out[id]
		if !ok {
			g = &group{key: append([]string(nil), key...)}
			out[id] = g
		}
		g.sum += r.Enrolled
	}
	return out
}

// Summarize groups the rows of latest by groupBy, sums enrolled and left
// joins the same grouping over previous. An empty previous means there is
// no comparison period: every change equals the latest sum and every
// percent is undefined. Groups come back sorted by descending sum, ties
// broken by ascending key.
func Summarize(rows []core.Row, groupBy []core.Dimension, latest, previous core.PeriodKey) []Summary {
	cur := groupSums(rows, latest, groupBy)
	prev := groupSums(rows, previous, groupBy)

	out := make([]Summary, 0, len(cur))
	for id, g := range cur {
		var before int64
		if p, ok := prev[id]; ok {
			before = p.sum
		}
		change := g.sum - before
		out = append(out, Summary{
			Key:         g.key,
			EnrolledSum: g.sum,
			Previous:    before,
			Change:      change,
			Percent:     PercentChange(change, before),
		})
	}
	sortBySum(out)
	return out
}

func sortBySum(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].EnrolledSum != s[j].EnrolledSum {
			return s[i].EnrolledSum > s[j].EnrolledSum
		}
		return strings.Join(s[i].Key, keySep) < strings.Join(s[j].Key, keySep)
	})
}

// Timeline returns the distinct periods of rows, ascending.
func Timeline(rows []core.Row) []core.PeriodKey { return core.DistinctPeriods(rows) }

// MoM compares the last period of timeline with the one before it.
func MoM(rows []core.Row, timeline []core.PeriodKey, groupBy []core.Dimension) Comparison {
	return compare(rows, timeline, groupBy, 2)
}

// YoY compares the last period of timeline with the period
// core.YoYDistance positions back, counting the latest itself. With fewer
// periods the comparison is unavailable: every group reports zero change
// and an undefined percent rather than a wrong-distance comparison.
func YoY(rows []core.Row, timeline []core.PeriodKey, groupBy []core.Dimension) Comparison {
	c := compare(rows, timeline, groupBy, core.YoYDistance)
	if !c.Available {
		for i := range c.Summaries {
			c.Summaries[i].Change = 0
			c.Summaries[i].Percent = Percent{}
		}
	}
	return c
}

func compare(rows []core.Row, timeline []core.PeriodKey, groupBy []core.Dimension, distance int) Comparison {
	if len(timeline) == 0 {
		return Comparison{Summaries: []Summary{}}
	}
	c := Comparison{Latest: timeline[len(timeline)-1]}
	if len(timeline) >= distance {
		c.Previous = timeline[len(timeline)-distance]
		c.Available = true
	}
	c.Summaries = Summarize(rows, groupBy, c.Latest, c.Previous)
	return c
}

// Movers returns summaries ordered by descending absolute change,
// independent of the primary sort, truncated to n when n > 0.
func Movers(summaries []Summary, n int) []Summary {
	out := append([]Summary(nil), summaries...)
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := abs(out[i].Change), abs(out[j].Change)
		if ai != aj {
			return ai > aj
		}
		return strings.Join(out[i].Key, keySep) < strings.Join(out[j].Key, keySep)
	})
	return Top(out, n)
}

// Top truncates summaries to the first n entries when n > 0.
func Top(summaries []Summary, n int) []Summary {
	if n > 0 && len(summaries) > n {
		return summaries[:n]
	}
	return summaries
}

// Share is a group's fraction of the total.
type Share struct {
	Key      []string `json:"key"`
	Enrolled int64    `json:"enrolled"`
	Percent  Percent  `json:"percent"`
}

// Shares converts summaries into shares of their combined sum, as used by
// the plan type mix.
func Shares(summaries []Summary) []Share {
	var total int64
	for _, s := range summaries {
		total += s.EnrolledSum
	}
	out := make([]Share, len(summaries))
	for i, s := range summaries {
		out[i] = Share{Key: s.Key, Enrolled: s.EnrolledSum, Percent: PercentChange(s.EnrolledSum, total)}
	}
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
