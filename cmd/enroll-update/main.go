// enroll-update keeps the combined MA enrollment dataset current.
//
// Usage:
//
//	enroll-update run [--from 2024-01]
//	enroll-update download [--from 2024-01]
//	enroll-update combine
//	enroll-update upload
//	enroll-update report --group-by state --top 20
//	enroll-update status
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"maenroll/internal/aggregate"
	"maenroll/internal/amqp"
	appcli "maenroll/internal/cli"
	"maenroll/internal/config"
	"maenroll/internal/core"
	"maenroll/internal/dataset"
	"maenroll/internal/drive"
	"maenroll/internal/fetch"
	applog "maenroll/internal/log"
	"maenroll/internal/services"
	"maenroll/internal/storage"
)

var (
	version = "dev"
	commit  = "none"
)

// legacyManifest is the plain-text manifest older installs kept next to the
// extracts. It is folded into SQLite on every start.
const legacyManifest = "downloaded_periods.txt"

func main() {
	appcli.LoadEnvFile()

	app := &cli.App{
		Name:    "enroll-update",
		Usage:   "Download, combine and publish CMS monthly MA enrollment extracts",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Directory holding the raw monthly extracts",
				EnvVars: []string{"DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "dataset",
				Usage:   "Path of the combined dataset (.gz for gzip)",
				EnvVars: []string{"DATASET_PATH"},
			},
			&cli.IntFlag{
				Name:    "retention",
				Usage:   "Number of most recent periods to keep",
				EnvVars: []string{"RETENTION_WINDOW"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			downloadCommand(),
			combineCommand(),
			uploadCommand(),
			reportCommand(),
			statusCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, *applog.Logger, error) {
	cfg := config.Load()
	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
		if os.Getenv("LOCK_PATH") == "" {
			cfg.LockPath = filepath.Join(cfg.DataDir, ".combine.lock")
		}
	}
	if c.IsSet("dataset") {
		cfg.DatasetPath = c.String("dataset")
	}
	if c.IsSet("retention") {
		cfg.RetentionWindow = c.Int("retention")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	logger := appcli.SetupLogger(cfg, applog.ComponentCombine)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// deps holds the collaborators a command needs. Close releases them.
type deps struct {
	cfg      *config.Config
	logger   *applog.Logger
	repo     *storage.SQLiteRepository
	notifier *amqp.Client
}

func open(c *cli.Context) (*deps, error) {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest database: %w", err)
	}
	if n, err := repo.ImportManifest(c.Context, legacyManifest); err != nil {
		logger.Warn("Failed to import legacy manifest", "path", legacyManifest, "error", err)
	} else if n > 0 {
		logger.Info("Imported legacy manifest", "path", legacyManifest, "periods", n)
	}

	a := &deps{cfg: cfg, logger: logger, repo: repo}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		a.notifier = client
	}
	return a, nil
}

func (a *deps) Close() {
	if a.notifier != nil {
		a.notifier.Close()
	}
	a.repo.Close()
}

func (a *deps) downloader() *services.Downloader {
	client := fetch.NewClient(a.cfg.CMSBaseURL, a.cfg.FetchUserAgent, a.cfg.FetchTimeout)
	return services.NewDownloader(client, a.repo, services.DownloaderConfig{
		DataDir:     a.cfg.DataDir,
		Concurrency: a.cfg.FetchConcurrency,
	})
}

func (a *deps) combiner() *services.Combiner {
	var notifier services.Notifier
	if a.notifier != nil {
		notifier = a.notifier
	}
	return services.NewCombiner(services.CombinerConfig{
		DataDir:       a.cfg.DataDir,
		DatasetPath:   a.cfg.DatasetPath,
		Retention:     a.cfg.RetentionWindow,
		Concurrency:   a.cfg.FetchConcurrency,
		LockPath:      a.cfg.LockPath,
		LockStaleness: a.cfg.LockStaleness,
	}, a.repo, notifier)
}

// upload pushes the dataset to Drive when credentials are configured.
func (a *deps) upload(ctx context.Context, required bool) error {
	if !a.cfg.DriveEnabled() {
		if required {
			return errors.New("google drive upload is not configured: set GDRIVE_CREDENTIALS or GDRIVE_CREDENTIALS_FILE")
		}
		a.logger.Info("Google Drive upload skipped", applog.FieldOperation, applog.OpUpload)
		return nil
	}
	svc, err := drive.NewService(ctx, a.cfg.DriveCredentialsJSON, a.cfg.DriveCredentialsFile)
	if err != nil {
		return err
	}
	res, err := drive.NewUploader(svc, a.cfg.DriveFileID).Upload(ctx, a.cfg.DatasetPath)
	if err != nil {
		return err
	}
	if res.Action == drive.ActionCreated {
		a.logger.Warn("Created a new Google Drive file; set GDRIVE_FILE_ID to keep updating it",
			"file_id", res.FileID)
	}
	return nil
}

func fromFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "from",
		Usage: "Backfill every period from this month (YYYY-MM) through the reporting period",
	}
}

func parseFrom(c *cli.Context) (core.PeriodKey, error) {
	raw := strings.TrimSpace(c.String("from"))
	if raw == "" {
		return "", nil
	}
	return core.ParsePeriodKey(raw)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Download pending periods, combine, then upload",
		Flags: []cli.Flag{
			fromFlag(),
			&cli.BoolFlag{Name: "skip-upload", Usage: "Do not upload the dataset"},
		},
		Action: func(c *cli.Context) error {
			from, err := parseFrom(c)
			if err != nil {
				return err
			}
			a, err := open(c)
			if err != nil {
				return err
			}
			defer a.Close()

			report, runErr := services.NewPipeline(a.downloader(), a.combiner()).Run(c.Context, from)
			printCombine(report)
			if len(report.Written) == 0 && runErr != nil {
				return runErr
			}
			if !c.Bool("skip-upload") {
				if err := a.upload(c.Context, false); err != nil {
					return errors.Join(runErr, fmt.Errorf("upload: %w", err))
				}
			}
			return runErr
		},
	}
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Fetch extracts that are not in the manifest yet",
		Flags: []cli.Flag{fromFlag()},
		Action: func(c *cli.Context) error {
			from, err := parseFrom(c)
			if err != nil {
				return err
			}
			a, err := open(c)
			if err != nil {
				return err
			}
			defer a.Close()

			d := a.downloader()
			periods, err := services.NewPipeline(d, nil).Periods(from)
			if err != nil {
				return err
			}
			report, err := d.Download(c.Context, periods...)
			fmt.Printf("fetched: %s\nalready downloaded: %s\nfailed: %d\n",
				joinPeriods(report.Fetched), joinPeriods(report.AlreadyIngested), len(report.Failed))
			return err
		},
	}
}

func combineCommand() *cli.Command {
	return &cli.Command{
		Name:  "combine",
		Usage: "Merge the raw extracts into the combined dataset",
		Action: func(c *cli.Context) error {
			a, err := open(c)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.combiner().Run(c.Context)
			printCombine(report)
			return err
		},
	}
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload the combined dataset to Google Drive",
		Action: func(c *cli.Context) error {
			a, err := open(c)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.upload(c.Context, true)
		},
	}
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Print the latest month-over-month summary of the combined dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "group-by",
				Value: string(core.DimState),
				Usage: "Comma separated dimensions: " + dimensionNames(),
			},
			&cli.IntFlag{
				Name:  "top",
				Value: 20,
				Usage: "Number of groups to print, 0 for all",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, _, err := loadConfig(c)
			if err != nil {
				return err
			}
			dims, err := core.ParseDimensions(c.String("group-by"))
			if err != nil {
				return err
			}
			if len(dims) == 0 {
				return fmt.Errorf("%w: empty group by", core.ErrUnknownDimension)
			}

			data, err := dataset.Read(cfg.DatasetPath)
			if err != nil {
				return err
			}
			var rows []core.Row
			for _, r := range data {
				rows = append(rows, r...)
			}
			if len(rows) == 0 {
				return core.ErrNoData
			}

			cmp := aggregate.MoM(rows, aggregate.Timeline(rows), dims)
			return writeReport(os.Stdout, dims, cmp, c.Int("top"))
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the manifest and the last combine run",
		Action: func(c *cli.Context) error {
			a, err := open(c)
			if err != nil {
				return err
			}
			defer a.Close()

			periods, err := a.repo.IngestedPeriods(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("downloaded periods: %s\n", joinPeriods(periods))

			run, err := a.repo.LastRun(c.Context)
			if errors.Is(err, storage.ErrNoRuns) {
				fmt.Println("last run: none")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("last run: %s %s at %s (periods written %d, rows %d, latest %s)\n",
				run.ID, run.Status, run.FinishedAt.Format("2006-01-02 15:04:05"),
				run.PeriodsWritten, run.Rows, run.LatestPeriod)
			if len(run.PeriodsAbandoned) > 0 {
				fmt.Printf("abandoned: %s\n", joinPeriods(run.PeriodsAbandoned))
			}
			if run.Error != "" {
				fmt.Printf("error: %s\n", run.Error)
			}
			return nil
		},
	}
}

func writeReport(w io.Writer, dims []core.Dimension, cmp aggregate.Comparison, top int) error {
	fmt.Fprintf(w, "Latest period: %s", cmp.Latest)
	if cmp.Previous != "" {
		fmt.Fprintf(w, " (compared with %s)", cmp.Previous)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	header := make([]string, 0, len(dims)+4)
	for _, d := range dims {
		header = append(header, strings.ToUpper(string(d)))
	}
	header = append(header, "ENROLLED", "PREVIOUS", "CHANGE", "PERCENT")
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")

	for _, s := range aggregate.Top(cmp.Summaries, top) {
		fields := append([]string(nil), s.Key...)
		fields = append(fields,
			fmt.Sprint(s.EnrolledSum),
			fmt.Sprint(s.Previous),
			fmt.Sprintf("%+d", s.Change),
			s.Percent.String())
		fmt.Fprintln(tw, strings.Join(fields, "\t")+"\t")
	}
	return tw.Flush()
}

func printCombine(r services.CombineReport) {
	if r.RunID == "" {
		return
	}
	fmt.Printf("run %s: wrote %s, %d rows across %d periods\n",
		r.RunID, joinPeriods(r.Written), r.Rows, len(r.Timeline))
	for p, err := range r.Abandoned {
		fmt.Printf("abandoned %s: %v\n", p, err)
	}
}

func joinPeriods(ps []core.PeriodKey) string {
	if len(ps) == 0 {
		return "-"
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}

func dimensionNames() string {
	dims := core.Dimensions()
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}
