package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriodKey(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2024-01", true},
		{" 2024-12 ", true},
		{"2024-13", false},
		{"2024-1", false},
		{"24-01", false},
		{"", false},
		{"2024/01", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			_, err := ParsePeriodKey(tc.in)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPeriod)
			}
		})
	}
}

func TestReportingPeriod(t *testing.T) {
	assert.Equal(t, PeriodKey("2025-12"), ReportingPeriod(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, PeriodKey("2026-09"), ReportingPeriod(time.Date(2026, 10, 31, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, PeriodKey("2024-02"), ReportingPeriod(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)))
}

func TestMonthRange(t *testing.T) {
	got, err := MonthRange("2023-11", "2024-02")
	require.NoError(t, err)
	assert.Equal(t, []PeriodKey{"2023-11", "2023-12", "2024-01", "2024-02"}, got)

	got, err = MonthRange("2024-02", "2024-01")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = MonthRange("bad", "2024-01")
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestSortPeriodsDedupes(t *testing.T) {
	got := SortPeriods([]PeriodKey{"2024-03", "2024-01", "2024-03", "2023-12", "2024-01"})
	assert.Equal(t, []PeriodKey{"2023-12", "2024-01", "2024-03"}, got)
}

func TestMostRecentKeepsAtLeastOne(t *testing.T) {
	tl := []PeriodKey{"2024-01", "2024-02", "2024-03"}
	assert.Equal(t, []PeriodKey{"2024-02", "2024-03"}, MostRecent(tl, 2))
	assert.Equal(t, []PeriodKey{"2024-03"}, MostRecent(tl, 0))
	assert.Equal(t, tl, MostRecent(tl, 24))
	assert.Empty(t, MostRecent(nil, 24))
}

func TestParseDimensions(t *testing.T) {
	dims, err := ParseDimensions("State, county,plan type")
	require.NoError(t, err)
	assert.Equal(t, []Dimension{DimState, DimCounty, DimPlanType}, dims)

	_, err = ParseDimensions("state,flavour")
	assert.ErrorIs(t, err, ErrUnknownDimension)
}

func TestRowValueParentOrgSentinel(t *testing.T) {
	r := Row{ContractID: "H0001"}
	assert.Equal(t, NoMappingLoaded, r.Value(DimParentOrg))
	r.ParentOrg = "Acme Health"
	assert.Equal(t, "Acme Health", r.Value(DimParentOrg))
}

func TestMalformedRowErrorMessage(t *testing.T) {
	err := &MalformedRowError{Period: "2024-01", Source: "a.csv", Missing: []string{"State", "Enrolled"}}
	assert.Equal(t, "malformed extract for period 2024-01 (a.csv): missing columns State, Enrolled", err.Error())
}
