package main

import (
	"context"
	"os"
	"time"

	"maenroll/internal/amqp"
	"maenroll/internal/cli"
	"maenroll/internal/drive"
	"maenroll/internal/fetch"
	applog "maenroll/internal/log"
	"maenroll/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentWorker)
	logger.Info("Starting enroll-worker",
		"interval", cfg.UpdateInterval,
		"data_dir", cfg.DataDir,
		"dataset", cfg.DatasetPath)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Notifications are optional; the API also polls the dataset file.
	var notifier services.Notifier
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		notifier = amqpClient
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	var uploader *drive.Uploader
	if cfg.DriveEnabled() {
		svc, err := drive.NewService(context.Background(), cfg.DriveCredentialsJSON, cfg.DriveCredentialsFile)
		if err != nil {
			logger.Error("Failed to initialize Google Drive client", "error", err)
			os.Exit(1)
		}
		uploader = drive.NewUploader(svc, cfg.DriveFileID)
	} else {
		logger.Info("Google Drive upload disabled")
	}

	client := fetch.NewClient(cfg.CMSBaseURL, cfg.FetchUserAgent, cfg.FetchTimeout)
	pipeline := services.NewPipeline(
		services.NewDownloader(client, repo, services.DownloaderConfig{
			DataDir:     cfg.DataDir,
			Concurrency: cfg.FetchConcurrency,
		}),
		services.NewCombiner(services.CombinerConfig{
			DataDir:       cfg.DataDir,
			DatasetPath:   cfg.DatasetPath,
			Retention:     cfg.RetentionWindow,
			Concurrency:   cfg.FetchConcurrency,
			LockPath:      cfg.LockPath,
			LockStaleness: cfg.LockStaleness,
		}, repo, notifier),
	)

	ctx, done := cli.GracefulShutdown(logger.Logger, 30*time.Second, nil)

	update := func() {
		started := time.Now()
		report, err := pipeline.Run(ctx, "")
		if err != nil {
			logger.ErrorContext(ctx, "Update run failed",
				applog.FieldOperation, applog.OpCombine,
				applog.FieldRunID, report.RunID,
				applog.FieldError, err)
		}
		if len(report.Written) == 0 {
			logger.InfoContext(ctx, "No new periods combined", "latest", latest(report))
			return
		}
		logger.InfoContext(ctx, "Update run completed",
			applog.FieldRunID, report.RunID,
			applog.FieldPeriods, len(report.Written),
			applog.FieldRows, report.Rows,
			applog.FieldDuration, time.Since(started).Milliseconds())

		if uploader == nil {
			return
		}
		res, err := uploader.Upload(ctx, cfg.DatasetPath)
		if err != nil {
			logger.ErrorContext(ctx, "Dataset upload failed", applog.FieldError, err)
			return
		}
		if res.Action == drive.ActionCreated {
			logger.WarnContext(ctx, "Created a new Google Drive file; set GDRIVE_FILE_ID to keep updating it",
				"file_id", res.FileID)
		}
	}

	go func() {
		// Catch up immediately after a restart, then follow the interval.
		update()

		ticker := time.NewTicker(cfg.UpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				update()
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
}

func latest(r services.CombineReport) string {
	if len(r.Timeline) == 0 {
		return ""
	}
	return string(r.Timeline[len(r.Timeline)-1])
}
