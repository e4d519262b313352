package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"maenroll/internal/amqp"
	"maenroll/internal/core"
	"maenroll/internal/dataset"
	"maenroll/internal/normalize"
	"maenroll/internal/storage"
	"maenroll/internal/store"
)

// RunRecorder persists combine runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run storage.Run) error
}

// Notifier announces a replaced dataset.
type Notifier interface {
	PublishDatasetUpdated(ctx context.Context, msg *amqp.DatasetUpdatedMessage) error
}

type CombinerConfig struct {
	DataDir     string
	DatasetPath string
	Retention   int
	// Concurrency bounds parallel extract normalization (default 4).
	Concurrency int
	// LockPath, when set, makes every run take the single-runner lock.
	LockPath      string
	LockStaleness time.Duration
}

// Combiner merges freshly downloaded extracts into the persisted dataset.
type Combiner struct {
	config   CombinerConfig
	ledger   RunRecorder
	notifier Notifier
	now      func() time.Time
}

// NewCombiner builds a combiner. ledger and notifier may be nil.
func NewCombiner(config CombinerConfig, ledger RunRecorder, notifier Notifier) *Combiner {
	if config.Retention < 1 {
		config.Retention = core.DefaultRetentionWindow
	}
	if config.Concurrency < 1 {
		config.Concurrency = 4
	}
	return &Combiner{config: config, ledger: ledger, notifier: notifier, now: time.Now}
}

// CombineReport summarizes one run.
type CombineReport struct {
	RunID     string
	Written   []core.PeriodKey
	Abandoned map[core.PeriodKey]error
	Timeline  []core.PeriodKey
	Rows      int
}

// Run rebuilds the persisted dataset. Every period found on disk replaces
// the persisted rows for that period, other persisted periods carry over,
// and the result is pruned to the retention window and written atomically.
// A period whose extract is malformed is abandoned and its previously
// persisted rows stay as they were.
func (c *Combiner) Run(ctx context.Context) (CombineReport, error) {
	if c.config.LockPath != "" {
		lock, err := AcquireLock(c.config.LockPath, c.config.LockStaleness)
		if err != nil {
			return CombineReport{}, err
		}
		defer lock.Release()
	}

	started := c.now()
	report := CombineReport{RunID: uuid.NewString(), Abandoned: map[core.PeriodKey]error{}}
	logger := slog.With("run_id", report.RunID)

	err := c.run(ctx, logger, &report)
	c.record(ctx, logger, started, report, err)
	if err != nil {
		return report, err
	}

	if c.notifier != nil {
		msg := amqp.NewDatasetUpdatedMessage(report.RunID, c.config.DatasetPath, report.Timeline, report.Rows)
		if nerr := c.notifier.PublishDatasetUpdated(ctx, msg); nerr != nil {
			logger.WarnContext(ctx, "Failed to publish dataset update", "error", nerr)
		}
	}
	return report, nil
}

func (c *Combiner) run(ctx context.Context, logger *slog.Logger, report *CombineReport) error {
	st := store.New(c.config.Retention)

	persisted, err := dataset.Read(c.config.DatasetPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.InfoContext(ctx, "No persisted dataset yet", "path", c.config.DatasetPath)
	case err != nil:
		return fmt.Errorf("load persisted dataset: %w", err)
	case len(persisted) > 0:
		if err := st.Replace(ctx, persisted); err != nil {
			return fmt.Errorf("load persisted dataset: %w", err)
		}
	}

	extracts, err := DiscoverExtracts(c.config.DataDir)
	if err != nil {
		return err
	}
	pending := retained(st.Timeline(), extracts, c.config.Retention)
	logger.InfoContext(ctx, "Combining extracts",
		"persisted_periods", len(st.Timeline()),
		"extract_periods", len(extracts),
		"reading", len(pending))

	batch, abandoned, err := c.readPeriods(ctx, extracts, pending)
	if err != nil {
		return err
	}
	for p, perr := range abandoned {
		report.Abandoned[p] = perr
		logger.WarnContext(ctx, "Period abandoned", "period", p, "error", perr)
	}

	if len(batch) > 0 {
		if err := st.Merge(ctx, batch); err != nil {
			return fmt.Errorf("merge batch: %w", err)
		}
	}
	snap := st.Snapshot()
	if snap.Len() == 0 {
		return core.ErrNoData
	}

	rows, err := dataset.Write(c.config.DatasetPath, snap.Dataset())
	if err != nil {
		return err
	}
	for p := range batch {
		if snap.Has(p) {
			report.Written = append(report.Written, p)
		}
	}
	sortKeys(report.Written)
	report.Timeline = snap.Timeline()
	report.Rows = rows

	logger.InfoContext(ctx, "Combined dataset saved",
		"path", c.config.DatasetPath,
		"rows", rows,
		"periods", len(report.Timeline),
		"written", len(report.Written),
		"abandoned", len(report.Abandoned))
	return nil
}

// retained returns the extract periods that survive the retention window
// once merged with the persisted timeline. Older ones are never read.
func retained(persisted []core.PeriodKey, extracts map[core.PeriodKey][]string, retention int) []core.PeriodKey {
	union := append([]core.PeriodKey(nil), persisted...)
	for p := range extracts {
		union = append(union, p)
	}
	keep := core.MostRecent(core.SortPeriods(union), retention)
	var out []core.PeriodKey
	for _, p := range keep {
		if _, ok := extracts[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// readPeriods normalizes each pending period independently. Failures are
// per period and never partially applied.
func (c *Combiner) readPeriods(ctx context.Context, extracts map[core.PeriodKey][]string, pending []core.PeriodKey) (map[core.PeriodKey][]core.Row, map[core.PeriodKey]error, error) {
	var mu sync.Mutex
	batch := make(map[core.PeriodKey][]core.Row, len(pending))
	abandoned := make(map[core.PeriodKey]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)
	for _, p := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := readPeriod(p, extracts[p])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				abandoned[p] = err
				return nil
			}
			batch[p] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return batch, abandoned, nil
}

func readPeriod(p core.PeriodKey, files []string) ([]core.Row, error) {
	var rows []core.Row
	for _, f := range files {
		r, err := normalize.ReadExtractFile(f, p)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r...)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("period %s: %w", p, core.ErrEmptyBatch)
	}
	return rows, nil
}

func (c *Combiner) record(ctx context.Context, logger *slog.Logger, started time.Time, report CombineReport, runErr error) {
	if c.ledger == nil {
		return
	}
	run := storage.Run{
		ID:             report.RunID,
		StartedAt:      started,
		FinishedAt:     c.now(),
		Status:         storage.RunSucceeded,
		PeriodsWritten: len(report.Written),
		Rows:           report.Rows,
	}
	for _, p := range sortedFailed(report.Abandoned) {
		run.PeriodsAbandoned = append(run.PeriodsAbandoned, p)
	}
	if len(report.Timeline) > 0 {
		run.LatestPeriod = report.Timeline[len(report.Timeline)-1]
	}
	switch {
	case runErr != nil:
		run.Status = storage.RunFailed
		run.Error = runErr.Error()
	case len(run.PeriodsAbandoned) > 0:
		run.Status = storage.RunPartial
	}
	if err := c.ledger.RecordRun(ctx, run); err != nil {
		logger.WarnContext(ctx, "Failed to record combine run", "error", err)
	}
}

// DiscoverExtracts finds every .csv below dataDir, grouped by period. The
// period is the first path component below dataDir; files directly in
// dataDir, under a directory that is not a period, or with "combined" in
// their name are ignored.
func DiscoverExtracts(dataDir string) (map[core.PeriodKey][]string, error) {
	out := make(map[core.PeriodKey][]string)
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dataDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".csv") {
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), "combined") {
			return nil
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return nil
		}
		first, _, nested := strings.Cut(filepath.ToSlash(rel), "/")
		if !nested {
			return nil
		}
		p, err := core.ParsePeriodKey(first)
		if err != nil {
			return nil
		}
		out[p] = append(out[p], path)
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("scan %s: %w", dataDir, err)
	}
	return out, nil
}
