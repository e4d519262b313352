package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maenroll/internal/aggregate"
	"maenroll/internal/core"
)

func TestWriteReport(t *testing.T) {
	rows := []core.Row{
		{Period: "2024-01", State: "CA", Enrolled: 100},
		{Period: "2024-01", State: "TX", Enrolled: 50},
		{Period: "2024-02", State: "CA", Enrolled: 120},
		{Period: "2024-02", State: "TX", Enrolled: 50},
		{Period: "2024-02", State: "NY", Enrolled: 7},
	}
	dims := []core.Dimension{core.DimState}
	cmp := aggregate.MoM(rows, aggregate.Timeline(rows), dims)

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, dims, cmp, 0))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Latest period: 2024-02 (compared with 2024-01)", lines[0])
	assert.Contains(t, lines[1], "STATE")
	assert.Contains(t, lines[1], "PERCENT")
	assert.Contains(t, lines[2], "+20.00%")
	assert.Contains(t, lines[3], "0.00%")
	assert.Contains(t, lines[4], "n/a")

	buf.Reset()
	require.NoError(t, writeReport(&buf, dims, cmp, 1))
	assert.Len(t, strings.Split(strings.TrimRight(buf.String(), "\n"), "\n"), 3)
}

func TestJoinPeriods(t *testing.T) {
	assert.Equal(t, "-", joinPeriods(nil))
	assert.Equal(t, "2024-01, 2024-02", joinPeriods([]core.PeriodKey{"2024-01", "2024-02"}))
}
