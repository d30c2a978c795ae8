// Package main runs one crawl of the job board and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-crawler/internal/api"
	"github.com/JakeFAU/jobs-crawler/internal/browser/headless"
	"github.com/JakeFAU/jobs-crawler/internal/browser/static"
	"github.com/JakeFAU/jobs-crawler/internal/config"
	"github.com/JakeFAU/jobs-crawler/internal/crawler"
	"github.com/JakeFAU/jobs-crawler/internal/id/uuid"
	"github.com/JakeFAU/jobs-crawler/internal/logging"
	"github.com/JakeFAU/jobs-crawler/internal/metrics"
	memorystore "github.com/JakeFAU/jobs-crawler/internal/storage/memory"
	"github.com/JakeFAU/jobs-crawler/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	envFile := flag.String("env", "", "Path to .env file (default .env)")
	dryRun := flag.Bool("dry-run", false, "Keep records in memory instead of Postgres")
	flag.Parse()

	if *dryRun {
		// Applied through the environment so Validate skips the db checks.
		if err := os.Setenv("JOBCRAWLER_STORAGE_DRIVER", config.DriverMemory); err != nil {
			fmt.Fprintf(os.Stderr, "dry-run setup failed: %v\n", err)
			os.Exit(1)
		}
	}
	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := run(ctx, cfg, logger)
	stop()

	if syncErr := logger.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "crawl failed: %v\n", runErr)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	browser, closeBrowser, err := newBrowser(cfg.Browser, logger.Named("browser"))
	if err != nil {
		return err
	}
	defer closeBrowser()

	store, ledger, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ids := uuid.New()
	collector := metrics.New()
	orch := crawler.NewOrchestrator(
		cfg.CrawlerSettings(),
		browser,
		store,
		ids,
		crawler.NewExponentialRetryPolicy(cfg.Crawler.ProbeAttempts),
		collector,
		nil,
		logger.Named("crawler"),
	)

	serverDone := make(chan error, 1)
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	if cfg.Server.Addr != "" {
		srv := api.NewServer(orch, collector, logger.Named("api"))
		go func() { serverDone <- srv.Serve(serverCtx, cfg.Server.Addr) }()
	} else {
		serverDone <- nil
	}

	runID, err := ids.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))
	if ledger != nil {
		if err := ledger.StartRun(ctx, runID, time.Now().UTC()); err != nil {
			logger.Warn("record run start failed", zap.Error(err))
		}
	}

	stats, runErr := orch.Run(ctx)
	logger.Info("run summary",
		zap.Int("categories", stats.Categories),
		zap.Int("categories_failed", stats.CategoriesFailed),
		zap.Int("pages_loaded", stats.PagesLoaded),
		zap.Int("cards_extracted", stats.CardsExtracted),
		zap.Int("cards_skipped", stats.CardsSkipped),
		zap.Int("records_persisted", stats.RecordsPersisted),
		zap.Int("records_dropped", stats.RecordsDropped),
		zap.Int("records_unpersisted", stats.RecordsUnpersisted),
	)

	if ledger != nil {
		// The run context may already be cancelled; the ledger row still needs closing.
		if err := ledger.CompleteRun(context.WithoutCancel(ctx), runID, stats, runErr); err != nil {
			logger.Warn("record run completion failed", zap.Error(err))
		}
	}

	stopServer()
	if err := <-serverDone; err != nil {
		logger.Error("ops server failed", zap.Error(err))
	}
	return runErr
}

func newBrowser(cfg config.BrowserConfig, logger *zap.Logger) (crawler.Browser, func(), error) {
	switch cfg.Mode {
	case config.BrowserStatic:
		b := static.New(static.Config{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.NavTimeout(),
		}, logger)
		return b, func() {}, nil
	default:
		b, err := headless.NewChromedp(headless.Config{
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			ReadyTimeout:      cfg.ReadyTimeout(),
			ShowWindow:        cfg.ShowWindow,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init headless browser: %w", err)
		}
		return b, b.Close, nil
	}
}

func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Store, *postgres.RunStore, func(), error) {
	if cfg.Storage.Driver == config.DriverMemory {
		logger.Info("using in-memory store; records are discarded at exit")
		return memorystore.NewJobStore(), nil, func() {}, nil
	}

	store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
		DSN:      cfg.DB.DSN(),
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
		Logger:   logger.Named("postgres"),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init postgres store: %w", err)
	}
	if err := store.CreateSchema(ctx, cfg.DB.ResetSchema); err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	if cfg.DB.ResetSchema {
		logger.Warn("jobs table was reset", zap.String("table", cfg.DB.Table))
	}
	runs := store.Runs()
	if err := runs.CreateSchema(ctx); err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return store, runs, store.Close, nil
}
