package store

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maenroll/internal/core"
)

func rowsFor(state string, enrolled ...int64) []core.Row {
	out := make([]core.Row, len(enrolled))
	for i, e := range enrolled {
		out[i] = core.Row{State: state, County: fmt.Sprintf("C%d", i), Enrolled: e}
	}
	return out
}

func period(i int) core.PeriodKey {
	return core.PeriodKey(fmt.Sprintf("%04d-%02d", 2020+i/12, i%12+1))
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	once := New(24)
	twice := New(24)

	require.NoError(t, once.Upsert(ctx, "2024-01", rowsFor("CA", 1, 2)))
	require.NoError(t, twice.Upsert(ctx, "2024-01", rowsFor("CA", 1, 2)))
	require.NoError(t, twice.Upsert(ctx, "2024-01", rowsFor("CA", 1, 2)))

	assert.Equal(t, once.Snapshot().Dataset(), twice.Snapshot().Dataset())
}

func TestUpsertReplacesNotAppends(t *testing.T) {
	ctx := context.Background()
	s := New(24)
	require.NoError(t, s.Upsert(ctx, "2024-01", rowsFor("CA", 100)))
	require.NoError(t, s.Upsert(ctx, "2024-02", rowsFor("CA", 120, 5, 6)))
	require.NoError(t, s.Upsert(ctx, "2024-02", rowsFor("TX", 7, 8)))

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.PeriodLen("2024-02"))
	assert.Equal(t, "TX", snap.Rows("2024-02")[0].State)
	assert.Equal(t, 1, snap.PeriodLen("2024-01"))
}

func TestUpsertStampsPeriodAndClampsNegative(t *testing.T) {
	s := New(24)
	require.NoError(t, s.Upsert(context.Background(), "2024-03", []core.Row{{Period: "1999-01", Enrolled: -4}}))

	got := s.Snapshot().Rows("2024-03")
	require.Len(t, got, 1)
	assert.Equal(t, core.PeriodKey("2024-03"), got[0].Period)
	assert.Zero(t, got[0].Enrolled)
}

func TestUpsertRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	s := New(24)
	require.NoError(t, s.Upsert(ctx, "2024-01", rowsFor("CA", 1)))
	v := s.Version()

	assert.ErrorIs(t, s.Upsert(ctx, "2024-1", rowsFor("CA", 1)), core.ErrInvalidPeriod)
	assert.ErrorIs(t, s.Upsert(ctx, "2024-01", nil), core.ErrEmptyBatch)
	assert.Equal(t, v, s.Version())
	assert.Equal(t, 1, s.Snapshot().PeriodLen("2024-01"))
}

func TestRetentionBound(t *testing.T) {
	ctx := context.Background()
	s := New(24)

	order := rand.New(rand.NewSource(7)).Perm(40)
	for _, i := range order {
		require.NoError(t, s.Upsert(ctx, period(i), rowsFor("CA", int64(i))))
		assert.LessOrEqual(t, len(s.Timeline()), 24)
	}

	var want []core.PeriodKey
	for i := 16; i < 40; i++ {
		want = append(want, period(i))
	}
	assert.Equal(t, want, s.Timeline())
}

func TestRetentionFewerThanWindow(t *testing.T) {
	ctx := context.Background()
	s := New(24)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Upsert(ctx, period(i), rowsFor("CA", 1)))
	}
	assert.Len(t, s.Timeline(), 5)
}

func TestPruneNeverEmptiesStore(t *testing.T) {
	ctx := context.Background()
	s := New(1)
	require.NoError(t, s.Upsert(ctx, "2024-05", rowsFor("CA", 1)))
	assert.Equal(t, []core.PeriodKey{"2024-05"}, s.Timeline())

	require.NoError(t, s.Upsert(ctx, "2023-01", rowsFor("CA", 1)))
	assert.Equal(t, []core.PeriodKey{"2024-05"}, s.Timeline())

	s = New(0)
	assert.Equal(t, core.DefaultRetentionWindow, s.Retention())
}

func TestMergeLastWriterWinsByPeriod(t *testing.T) {
	ctx := context.Background()
	s := New(24)
	require.NoError(t, s.Merge(ctx, map[core.PeriodKey][]core.Row{
		"2024-01": rowsFor("CA", 1),
		"2024-02": rowsFor("CA", 2),
	}))
	require.NoError(t, s.Merge(ctx, map[core.PeriodKey][]core.Row{
		"2024-02": rowsFor("TX", 20, 21),
		"2024-03": rowsFor("TX", 30),
	}))

	snap := s.Snapshot()
	assert.Equal(t, []core.PeriodKey{"2024-01", "2024-02", "2024-03"}, snap.Timeline())
	assert.Equal(t, "CA", snap.Rows("2024-01")[0].State)
	assert.Equal(t, 2, snap.PeriodLen("2024-02"))
	assert.Equal(t, "TX", snap.Rows("2024-02")[0].State)
}

func TestMergeIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New(24)
	require.NoError(t, s.Upsert(ctx, "2024-01", rowsFor("CA", 1)))

	err := s.Merge(ctx, map[core.PeriodKey][]core.Row{
		"2024-02": rowsFor("CA", 2),
		"bogus":   rowsFor("CA", 3),
	})
	assert.ErrorIs(t, err, core.ErrInvalidPeriod)
	assert.Equal(t, []core.PeriodKey{"2024-01"}, s.Timeline())
}

func TestUpsertOrderAcrossPeriodsDoesNotMatter(t *testing.T) {
	ctx := context.Background()
	a, b := New(3), New(3)
	keys := []core.PeriodKey{"2024-01", "2024-02", "2024-03", "2024-04"}
	for _, k := range keys {
		require.NoError(t, a.Upsert(ctx, k, rowsFor(string(k), 1)))
	}
	for i := len(keys) - 1; i >= 0; i-- {
		require.NoError(t, b.Upsert(ctx, keys[i], rowsFor(string(keys[i]), 1)))
	}
	assert.Equal(t, a.Snapshot().Dataset(), b.Snapshot().Dataset())
}

func TestSnapshotIsolatedFromStore(t *testing.T) {
	ctx := context.Background()
	s := New(24)
	in := rowsFor("CA", 10)
	require.NoError(t, s.Upsert(ctx, "2024-01", in))
	in[0].Enrolled = 99

	snap := s.Snapshot()
	require.NoError(t, s.Upsert(ctx, "2024-01", rowsFor("TX", 1)))

	assert.Equal(t, int64(10), snap.Rows("2024-01")[0].Enrolled)
	assert.Equal(t, "CA", snap.Rows("2024-01")[0].State)
	assert.Greater(t, s.Version(), snap.Version())
}

func TestReplaceDropsMissingPeriods(t *testing.T) {
	ctx := context.Background()
	s := New(24)
	require.NoError(t, s.Upsert(ctx, "2024-01", rowsFor("CA", 1)))
	require.NoError(t, s.Replace(ctx, map[core.PeriodKey][]core.Row{"2024-02": rowsFor("CA", 2)}))
	assert.Equal(t, []core.PeriodKey{"2024-02"}, s.Timeline())
}

func TestConcurrentReadersSeeWholeStates(t *testing.T) {
	ctx := context.Background()
	s := New(2)
	require.NoError(t, s.Merge(ctx, map[core.PeriodKey][]core.Row{
		"2024-01": rowsFor("CA", 1),
		"2024-02": rowsFor("CA", 1),
	}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tl := s.Snapshot().Timeline()
				if len(tl) != 2 {
					t.Errorf("reader saw %d periods", len(tl))
					return
				}
			}
		}()
	}
	for i := 3; i < 200; i++ {
		require.NoError(t, s.Upsert(ctx, period(48+i), rowsFor("CA", 1)))
	}
	close(stop)
	wg.Wait()
}
