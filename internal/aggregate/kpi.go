package aggregate

import (
	"maenroll/internal/core"
)

// KPIs are the headline figures for the latest period of a working set.
type KPIs struct {
	Latest        core.PeriodKey `json:"latest"`
	TotalEnrolled int64          `json:"total_enrolled"`

	MoMPeriod  core.PeriodKey `json:"mom_period,omitempty"`
	MoMChange  int64          `json:"mom_change"`
	MoMPercent Percent        `json:"mom_percent"`

	YoYAvailable bool           `json:"yoy_available"`
	YoYPeriod    core.PeriodKey `json:"yoy_period,omitempty"`
	YoYChange    int64          `json:"yoy_change"`
	YoYPercent   Percent        `json:"yoy_percent"`

	Contracts int `json:"contracts"`
	States    int `json:"states"`
	Counties  int `json:"counties"`
}

// ComputeKPIs summarizes rows over timeline. Counties are counted as
// distinct (state, county) pairs since county names repeat across states.
func ComputeKPIs(rows []core.Row, timeline []core.PeriodKey) KPIs {
	var k KPIs
	if len(timeline) == 0 {
		return k
	}
	k.Latest = timeline[len(timeline)-1]

	totals := make(map[core.PeriodKey]int64, len(timeline))
	contracts := map[string]struct{}{}
	states := map[string]struct{}{}
	counties := map[[2]string]struct{}{}
	for _, r := range rows {
		totals[r.Period] += r.Enrolled
		if r.Period != k.Latest {
			continue
		}
		contracts[r.ContractID] = struct{}{}
		states[r.State] = struct{}{}
		counties[[2]string{r.State, r.County}] = struct{}{}
	}
	k.TotalEnrolled = totals[k.Latest]
	k.Contracts, k.States, k.Counties = len(contracts), len(states), len(counties)

	if len(timeline) >= 2 {
		k.MoMPeriod = timeline[len(timeline)-2]
		k.MoMChange = k.TotalEnrolled - totals[k.MoMPeriod]
		k.MoMPercent = PercentChange(k.MoMChange, totals[k.MoMPeriod])
	}
	if len(timeline) >= core.YoYDistance {
		k.YoYAvailable = true
		k.YoYPeriod = timeline[len(timeline)-core.YoYDistance]
		k.YoYChange = k.TotalEnrolled - totals[k.YoYPeriod]
		k.YoYPercent = PercentChange(k.YoYChange, totals[k.YoYPeriod])
	}
	return k
}
