// Package storage keeps the ingestion manifest and the combine run ledger
// in SQLite.
package storage

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maenroll/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNoRuns is returned by LastRun before any run was recorded.
var ErrNoRuns = errors.New("no combine runs recorded")

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunPartial   = "partial"
)

// Run is one combine invocation as recorded in the ledger.
type Run struct {
	ID               string
	StartedAt        time.Time
	FinishedAt       time.Time
	Status           string
	PeriodsWritten   int
	PeriodsAbandoned []core.PeriodKey
	Rows             int
	LatestPeriod     core.PeriodKey
	Error            string
}

// Repository is the manifest and ledger contract used by the services.
type Repository interface {
	IngestedPeriods(ctx context.Context) ([]core.PeriodKey, error)
	IsIngested(ctx context.Context, p core.PeriodKey) (bool, error)
	MarkIngested(ctx context.Context, p core.PeriodKey, source string) error
	RecordRun(ctx context.Context, run Run) error
	LastRun(ctx context.Context) (Run, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps writes serialized on the SQLite file.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// IngestedPeriods returns the manifest, ascending.
func (r *SQLiteRepository) IngestedPeriods(ctx context.Context) ([]core.PeriodKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT period FROM ingested_periods ORDER BY period`)
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	defer rows.Close()

	var out []core.PeriodKey
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		out = append(out, core.PeriodKey(p))
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) IsIngested(ctx context.Context, p core.PeriodKey) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingested_periods WHERE period = ?`, string(p)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check manifest for %s: %w", p, err)
	}
	return n > 0, nil
}

// MarkIngested adds p to the manifest. Marking twice keeps one entry and
// refreshes its source.
func (r *SQLiteRepository) MarkIngested(ctx context.Context, p core.PeriodKey, source string) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidPeriod, string(p))
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingested_periods (period, source, ingested_at) VALUES (?, ?, ?)
		ON CONFLICT(period) DO UPDATE SET source = excluded.source, ingested_at = excluded.ingested_at`,
		string(p), source, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark %s ingested: %w", p, err)
	}
	slog.DebugContext(ctx, "Period added to manifest", "period", p, "source", source)
	return nil
}

// RecordRun appends a run to the ledger.
func (r *SQLiteRepository) RecordRun(ctx context.Context, run Run) error {
	abandoned := make([]string, len(run.PeriodsAbandoned))
	for i, p := range run.PeriodsAbandoned {
		abandoned[i] = string(p)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO combine_runs
			(id, started_at, finished_at, status, periods_written, periods_abandoned, rows_total, latest_period, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Status, run.PeriodsWritten,
		strings.Join(abandoned, ","), run.Rows, string(run.LatestPeriod), run.Error)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// LastRun returns the most recently finished run, or ErrNoRuns.
func (r *SQLiteRepository) LastRun(ctx context.Context) (Run, error) {
	var (
		run       Run
		abandoned string
		latest    string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, periods_written, periods_abandoned, rows_total, latest_period, error
		FROM combine_runs ORDER BY finished_at DESC, rowid DESC LIMIT 1`).
		Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.PeriodsWritten,
			&abandoned, &run.Rows, &latest, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRuns
	}
	if err != nil {
		return Run{}, fmt.Errorf("query last run: %w", err)
	}
	run.LatestPeriod = core.PeriodKey(latest)
	for _, p := range strings.Split(abandoned, ",") {
		if p != "" {
			run.PeriodsAbandoned = append(run.PeriodsAbandoned, core.PeriodKey(p))
		}
	}
	return run, nil
}

// ImportManifest merges a plain-text manifest, one period per line, into
// the database. Invalid lines are skipped. A missing file imports nothing.
func (r *SQLiteRepository) ImportManifest(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		p, err := core.ParsePeriodKey(sc.Text())
		if err != nil {
			continue
		}
		if err := r.MarkIngested(ctx, p, "manifest:"+filepath.Base(path)); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read manifest: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Imported legacy manifest", "path", path, "periods", n)
	}
	return n, nil
}
