package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maenroll/internal/core"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "db", "enroll.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestManifest(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	ok, err := repo.IsIngested(ctx, "2024-01")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.MarkIngested(ctx, "2024-02", "https://example.test/b.zip"))
	require.NoError(t, repo.MarkIngested(ctx, "2024-01", "https://example.test/a.zip"))
	require.NoError(t, repo.MarkIngested(ctx, "2024-01", "again"))

	got, err := repo.IngestedPeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.PeriodKey{"2024-01", "2024-02"}, got)

	ok, err = repo.IsIngested(ctx, "2024-01")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, repo.MarkIngested(ctx, "bad", ""), core.ErrInvalidPeriod)
}

func TestRunLedger(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.LastRun(ctx)
	assert.ErrorIs(t, err, ErrNoRuns)

	start := time.Date(2024, 3, 20, 6, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordRun(ctx, Run{
		ID: "first", StartedAt: start, FinishedAt: start.Add(time.Minute),
		Status: RunSucceeded, PeriodsWritten: 1, Rows: 10, LatestPeriod: "2024-02",
	}))
	require.NoError(t, repo.RecordRun(ctx, Run{
		ID: "second", StartedAt: start.Add(time.Hour), FinishedAt: start.Add(2 * time.Hour),
		Status: RunPartial, PeriodsWritten: 2, Rows: 20, LatestPeriod: "2024-03",
		PeriodsAbandoned: []core.PeriodKey{"2024-01", "2023-12"}, Error: "malformed",
	}))

	last, err := repo.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", last.ID)
	assert.Equal(t, RunPartial, last.Status)
	assert.Equal(t, []core.PeriodKey{"2024-01", "2023-12"}, last.PeriodsAbandoned)
	assert.Equal(t, core.PeriodKey("2024-03"), last.LatestPeriod)
	assert.Equal(t, 20, last.Rows)
	assert.True(t, last.FinishedAt.Equal(start.Add(2*time.Hour)))
}

func TestImportManifest(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	n, err := repo.ImportManifest(ctx, filepath.Join(t.TempDir(), "missing.txt"))
	require.NoError(t, err)
	assert.Zero(t, n)

	path := filepath.Join(t.TempDir(), "downloaded_periods.txt")
	require.NoError(t, os.WriteFile(path, []byte("2024-01\n\nnot-a-period\n2024-02"), 0o644))
	n, err = repo.ImportManifest(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.IngestedPeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.PeriodKey{"2024-01", "2024-02"}, got)
}

func TestMigrationsAreRerunnable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enroll.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	require.NoError(t, RunMigrations(path))
}
