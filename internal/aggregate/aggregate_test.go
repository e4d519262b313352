package aggregate

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maenroll/internal/core"
)

func scenario() []core.Row {
	return []core.Row{
		{Period: "2024-01", State: "CA", Enrolled: 100},
		{Period: "2024-01", State: "TX", Enrolled: 50},
		{Period: "2024-02", State: "CA", Enrolled: 120},
		{Period: "2024-02", State: "TX", Enrolled: 50},
	}
}

func TestSummarizeScenario(t *testing.T) {
	got := Summarize(scenario(), ByState, "2024-02", "2024-01")
	require.Len(t, got, 2)

	assert.Equal(t, []string{"CA"}, got[0].Key)
	assert.Equal(t, int64(120), got[0].EnrolledSum)
	assert.Equal(t, int64(20), got[0].Change)
	assert.True(t, got[0].Percent.Valid)
	assert.True(t, got[0].Percent.Value.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, "+20.00%", got[0].Percent.String())

	assert.Equal(t, []string{"TX"}, got[1].Key)
	assert.Equal(t, int64(50), got[1].EnrolledSum)
	assert.Zero(t, got[1].Change)
	assert.True(t, got[1].Percent.Valid)
	assert.True(t, got[1].Percent.Value.IsZero())
}

func TestSummarizeLeftJoin(t *testing.T) {
	rows := append(scenario(), core.Row{Period: "2024-02", State: "NY", Enrolled: 9})
	got := Summarize(rows, ByState, "2024-02", "2024-01")
	require.Len(t, got, 3)

	ny := got[2]
	assert.Equal(t, []string{"NY"}, ny.Key)
	assert.Zero(t, ny.Previous)
	assert.Equal(t, int64(9), ny.Change)
	assert.False(t, ny.Percent.Valid)
	assert.Equal(t, "n/a", ny.Percent.String())
}

func TestSummarizeDropsGroupsOnlyInPrevious(t *testing.T) {
	rows := append(scenario(), core.Row{Period: "2024-01", State: "NY", Enrolled: 9})
	assert.Len(t, Summarize(rows, ByState, "2024-02", "2024-01"), 2)
}

func TestSummarizeWithoutPrevious(t *testing.T) {
	got := Summarize(scenario(), ByState, "2024-02", "")
	require.Len(t, got, 2)
	assert.Equal(t, int64(120), got[0].Change)
	assert.False(t, got[0].Percent.Valid)
}

func TestSummarizeTieBreakByKey(t *testing.T) {
	rows := []core.Row{
		{Period: "2024-01", State: "TX", Enrolled: 5},
		{Period: "2024-01", State: "AZ", Enrolled: 5},
	}
	got := Summarize(rows, ByState, "2024-01", "")
	assert.Equal(t, "AZ", got[0].Key[0])
	assert.Equal(t, "TX", got[1].Key[0])
}

func TestSummarizeMultiDimension(t *testing.T) {
	rows := []core.Row{
		{Period: "2024-01", State: "CA", County: "A", Enrolled: 1},
		{Period: "2024-01", State: "CA", County: "A", Enrolled: 2},
		{Period: "2024-01", State: "CA", County: "B", Enrolled: 4},
	}
	got := Summarize(rows, ByCounty, "2024-01", "")
	require.Len(t, got, 2)
	assert.Equal(t, []string{"CA", "B"}, got[0].Key)
	assert.Equal(t, []string{"CA", "A"}, got[1].Key)
	assert.Equal(t, int64(3), got[1].EnrolledSum)
	assert.Equal(t, "CA / A", got[1].Label())
}

func TestEmptyWorkingSet(t *testing.T) {
	assert.Empty(t, Summarize(nil, ByState, "2024-02", "2024-01"))

	c := MoM(nil, nil, ByState)
	assert.False(t, c.Available)
	assert.Empty(t, c.Summaries)

	assert.Equal(t, KPIs{}, ComputeKPIs(nil, nil))
	assert.Empty(t, Movers(nil, 5))
}

func TestSafeDivision(t *testing.T) {
	p := PercentChange(10, 0)
	assert.False(t, p.Valid)
	_, ok := p.Float()
	assert.False(t, ok)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	b, err = json.Marshal(PercentChange(-1, 3))
	require.NoError(t, err)
	assert.Equal(t, "-33.33", string(b))
}

func TestPercentJSONRoundTrip(t *testing.T) {
	var s struct {
		P Percent `json:"p"`
		Q Percent `json:"q"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"p":12.5,"q":null}`), &s))
	assert.True(t, s.P.Valid)
	assert.Equal(t, "+12.50%", s.P.String())
	assert.False(t, s.Q.Valid)
}

func TestMoM(t *testing.T) {
	c := MoM(scenario(), Timeline(scenario()), ByState)
	assert.True(t, c.Available)
	assert.Equal(t, core.PeriodKey("2024-02"), c.Latest)
	assert.Equal(t, core.PeriodKey("2024-01"), c.Previous)
	assert.Equal(t, int64(20), c.Summaries[0].Change)
}

func monthly(n int, state string, enrolled func(i int) int64) ([]core.Row, []core.PeriodKey) {
	var rows []core.Row
	var timeline []core.PeriodKey
	for i := 0; i < n; i++ {
		p := core.PeriodKey(fmt.Sprintf("%04d-%02d", 2023+i/12, i%12+1))
		timeline = append(timeline, p)
		rows = append(rows, core.Row{Period: p, State: state, Enrolled: enrolled(i)})
	}
	return rows, timeline
}

func TestYoYUnavailableWithFewPeriods(t *testing.T) {
	rows, timeline := monthly(5, "CA", func(i int) int64 { return int64(100 + i) })
	rows = append(rows, core.Row{Period: timeline[4], State: "TX", Enrolled: 3})

	c := YoY(rows, timeline, ByState)
	assert.False(t, c.Available)
	assert.Empty(t, c.Previous)
	require.Len(t, c.Summaries, 2)
	for _, s := range c.Summaries {
		assert.Zero(t, s.Change)
		assert.False(t, s.Percent.Valid)
	}
}

func TestYoYUsesThirteenthPosition(t *testing.T) {
	rows, timeline := monthly(14, "CA", func(i int) int64 { return int64(100 + i) })

	c := YoY(rows, timeline, ByState)
	require.True(t, c.Available)
	assert.Equal(t, timeline[13], c.Latest)
	assert.Equal(t, timeline[1], c.Previous)
	assert.Equal(t, int64(12), c.Summaries[0].Change)
}

func TestMovers(t *testing.T) {
	s := []Summary{
		{Key: []string{"A"}, EnrolledSum: 100, Change: 1},
		{Key: []string{"B"}, EnrolledSum: 50, Change: -30},
		{Key: []string{"C"}, EnrolledSum: 10, Change: 10},
	}
	got := Movers(s, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].Key[0])
	assert.Equal(t, "C", got[1].Key[0])
	assert.Equal(t, "A", s[0].Key[0], "input order untouched")
}

func TestShares(t *testing.T) {
	got := Shares([]Summary{
		{Key: []string{"HMO"}, EnrolledSum: 3},
		{Key: []string{"PPO"}, EnrolledSum: 1},
	})
	assert.Equal(t, "+75.00%", got[0].Percent.String())
	assert.Equal(t, "+25.00%", got[1].Percent.String())
}

func TestTimeSeriesReindexesGaps(t *testing.T) {
	rows := []core.Row{
		{Period: "2024-01", Enrolled: 10},
		{Period: "2024-02", Enrolled: 15},
		{Period: "2024-04", Enrolled: 20},
	}
	got, err := TimeSeries(rows, "2024-01", "2024-04")
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, core.PeriodKey("2024-03"), got[2].Period)
	assert.Zero(t, got[2].Enrolled)

	assert.Zero(t, got[0].Change)
	assert.False(t, got[0].Percent.Valid)
	assert.Equal(t, "+50.00%", got[1].Percent.String())
	assert.Equal(t, int64(-15), got[2].Change)
	assert.Equal(t, int64(20), got[3].Change)
	assert.False(t, got[3].Percent.Valid)

	newest := NewestFirst(got)
	assert.Equal(t, core.PeriodKey("2024-04"), newest[0].Period)
}

func TestTimeSeriesInvalidBounds(t *testing.T) {
	_, err := TimeSeries(nil, "nope", "2024-01")
	assert.ErrorIs(t, err, core.ErrInvalidPeriod)
}

func TestSeriesBounds(t *testing.T) {
	tl := []core.PeriodKey{"2024-01", "2024-05"}
	from, to, ok := SeriesBounds(tl, "", "")
	assert.True(t, ok)
	assert.Equal(t, core.PeriodKey("2024-01"), from)
	assert.Equal(t, core.PeriodKey("2024-05"), to)

	from, to, ok = SeriesBounds(tl, "2023-01", "2024-03")
	assert.True(t, ok)
	assert.Equal(t, core.PeriodKey("2024-01"), from)
	assert.Equal(t, core.PeriodKey("2024-03"), to)

	_, _, ok = SeriesBounds(tl, "2025-01", "")
	assert.False(t, ok)
	_, _, ok = SeriesBounds(nil, "", "")
	assert.False(t, ok)
}

func TestComputeKPIs(t *testing.T) {
	rows := []core.Row{
		{Period: "2024-01", State: "CA", County: "A", ContractID: "H1", Enrolled: 100},
		{Period: "2024-02", State: "CA", County: "A", ContractID: "H1", Enrolled: 110},
		{Period: "2024-02", State: "TX", County: "A", ContractID: "H2", Enrolled: 10},
	}
	k := ComputeKPIs(rows, Timeline(rows))
	assert.Equal(t, core.PeriodKey("2024-02"), k.Latest)
	assert.Equal(t, int64(120), k.TotalEnrolled)
	assert.Equal(t, int64(20), k.MoMChange)
	assert.Equal(t, "+20.00%", k.MoMPercent.String())
	assert.False(t, k.YoYAvailable)
	assert.False(t, k.YoYPercent.Valid)
	assert.Equal(t, 2, k.Contracts)
	assert.Equal(t, 2, k.States)
	assert.Equal(t, 2, k.Counties)
}
