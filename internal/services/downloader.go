package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"maenroll/internal/core"
	"maenroll/internal/fetch"
)

// Fetcher obtains the raw extract for one period into dataDir.
type Fetcher interface {
	Fetch(ctx context.Context, dataDir string, period core.PeriodKey) (fetch.Result, error)
}

// Manifest is the persisted set of already ingested periods.
type Manifest interface {
	IsIngested(ctx context.Context, p core.PeriodKey) (bool, error)
	MarkIngested(ctx context.Context, p core.PeriodKey, source string) error
}

type DownloaderConfig struct {
	DataDir string
	// Concurrency bounds parallel fetches (default 2).
	Concurrency int
}

// Downloader fetches pending periods and records them in the manifest.
type Downloader struct {
	fetcher  Fetcher
	manifest Manifest
	config   DownloaderConfig
}

func NewDownloader(fetcher Fetcher, manifest Manifest, config DownloaderConfig) *Downloader {
	if config.Concurrency < 1 {
		config.Concurrency = 2
	}
	return &Downloader{fetcher: fetcher, manifest: manifest, config: config}
}

// DownloadReport lists what happened to each requested period.
type DownloadReport struct {
	Fetched         []core.PeriodKey
	AlreadyIngested []core.PeriodKey
	Failed          map[core.PeriodKey]error
}

// Download fetches every period not yet in the manifest. Periods are
// independent: one failure does not stop the others. The returned error
// joins every failure.
func (d *Downloader) Download(ctx context.Context, periods ...core.PeriodKey) (DownloadReport, error) {
	report := DownloadReport{Failed: map[core.PeriodKey]error{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Concurrency)

	for _, p := range core.SortPeriods(append([]core.PeriodKey(nil), periods...)) {
		g.Go(func() error {
			done, err := d.manifest.IsIngested(gctx, p)
			if err != nil {
				return err
			}
			if done {
				slog.InfoContext(gctx, "Period already in manifest", "period", p)
				mu.Lock()
				report.AlreadyIngested = append(report.AlreadyIngested, p)
				mu.Unlock()
				return nil
			}

			res, err := d.fetcher.Fetch(gctx, d.config.DataDir, p)
			if err != nil {
				slog.WarnContext(gctx, "Period download failed", "period", p, "error", err)
				mu.Lock()
				report.Failed[p] = err
				mu.Unlock()
				return nil
			}
			if err := d.manifest.MarkIngested(gctx, p, res.URL); err != nil {
				return err
			}
			mu.Lock()
			report.Fetched = append(report.Fetched, p)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("download: %w", err)
	}

	sortKeys(report.Fetched)
	sortKeys(report.AlreadyIngested)

	var errs []error
	for _, p := range sortedFailed(report.Failed) {
		errs = append(errs, report.Failed[p])
	}
	return report, errors.Join(errs...)
}

func sortKeys(keys []core.PeriodKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}

func sortedFailed(m map[core.PeriodKey]error) []core.PeriodKey {
	keys := make([]core.PeriodKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}
