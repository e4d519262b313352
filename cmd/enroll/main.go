package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"maenroll/internal/amqp"
	"maenroll/internal/cache"
	"maenroll/internal/cli"
	apphttp "maenroll/internal/http"
	applog "maenroll/internal/log"
	"maenroll/internal/query"
	"maenroll/internal/store"
	"maenroll/internal/worker"
)

// datasetPollInterval is how often the dataset file is checked for changes
// made without a notification.
const datasetPollInterval = time.Minute

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentHTTP)

	st := store.New(cfg.RetentionWindow)
	refresher := worker.NewRefresher(st, worker.RefresherConfig{
		DatasetPath:             cfg.DatasetPath,
		DirectoryDir:            cfg.DirectoryDir,
		DirectoryGlob:           cfg.DirectoryGlob,
		DirectoryContractColumn: cfg.DirectoryContractColumn,
		DirectoryParentColumn:   cfg.DirectoryParentColumn,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := refresher.Reload(ctx); err != nil {
		logger.Error("Failed to load dataset", "error", err, "path", cfg.DatasetPath)
		os.Exit(1)
	}
	logger.Info("Dataset loaded",
		applog.FieldDataset, cfg.DatasetPath,
		applog.FieldPeriods, len(st.Timeline()),
		applog.FieldVersion, st.Version())

	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		go func() {
			if err := amqpClient.ConsumeDatasetUpdated(ctx, refresher.HandleDatasetUpdated); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Dataset update consumption stopped", "error", err)
			}
		}()
	} else {
		logger.Info("AMQP disabled - relying on dataset polling")
	}
	go refresher.Watch(ctx, datasetPollInterval)

	results := cache.NewLRU[any](cfg.CacheSize, cfg.CacheTTL)
	if cfg.CacheTTL > 0 {
		go cache.NewJanitor(results).Run(ctx, cfg.CacheTTL)
	}
	svc := query.NewService(st, results)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.NewHandler(svc, refresher), apphttp.Options{
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		RequestsPerMinute: cfg.RateLimitPerMinute,
		Logger:            logger.WithComponent(applog.ComponentHTTP),
	})

	shutdownCtx, done := cli.GracefulShutdown(logger.Logger, 30*time.Second, func(ctx context.Context) {
		cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting enroll API server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
