package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"maenroll/internal/core"
)

// Pipeline runs the download step followed by the combine step.
type Pipeline struct {
	downloader *Downloader
	combiner   *Combiner
	now        func() time.Time
}

func NewPipeline(d *Downloader, c *Combiner) *Pipeline {
	return &Pipeline{downloader: d, combiner: c, now: time.Now}
}

// Periods returns the periods to download: the reporting period, or every
// month from `from` through it when from is set.
func (p *Pipeline) Periods(from core.PeriodKey) ([]core.PeriodKey, error) {
	target := core.ReportingPeriod(p.now())
	if from == "" || from >= target {
		return []core.PeriodKey{target}, nil
	}
	return core.MonthRange(from, target)
}

// Run downloads what is pending and then combines. Download failures do not
// prevent the combine step: it proceeds with the persisted data plus every
// period that was fetched. The download error is returned alongside the
// combine report.
func (p *Pipeline) Run(ctx context.Context, from core.PeriodKey) (CombineReport, error) {
	periods, err := p.Periods(from)
	if err != nil {
		return CombineReport{}, err
	}
	slog.InfoContext(ctx, "Update started", "target", periods[len(periods)-1], "periods", len(periods))

	dl, dlErr := p.downloader.Download(ctx, periods...)
	if dlErr != nil {
		slog.WarnContext(ctx, "Download step incomplete", "failed", len(dl.Failed), "error", dlErr)
	}
	if ctx.Err() != nil {
		return CombineReport{}, ctx.Err()
	}

	report, err := p.combiner.Run(ctx)
	return report, errors.Join(dlErr, err)
}
