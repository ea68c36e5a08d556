package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	auditpg "github.com/platinummonkey/auditcore/pkg/audit/postgres"
	"github.com/platinummonkey/auditcore/pkg/compliance"
	"github.com/platinummonkey/auditcore/pkg/config"
	"github.com/platinummonkey/auditcore/pkg/observability"
	"github.com/platinummonkey/auditcore/pkg/storage/artifacts"
	"github.com/platinummonkey/auditcore/pkg/storage/postgres"
)

var (
	runOnce  = flag.Bool("run-once", false, "Run every job once and exit (for testing or backfills)")
	logLevel = flag.String("log-level", "", "Log level (debug, info, warn, error); defaults to AUDIT_LOG_LEVEL")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	level := cfg.Observability.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger := setupLogger(level)

	if cfg.Storage.Type != config.StoragePostgres {
		logger.Fatalf("Retention requires the postgres store, got %q", cfg.Storage.Type)
	}

	// Library packages log through the structured logger
	libLogger := observability.NewLogger(observability.ParseLogLevel(level), os.Stderr).
		WithField("service", "audit-retention")

	ctx := context.Background()
	connCfg := postgres.DefaultConnectionConfig(cfg.Storage.PostgresURL)
	connCfg.MaxConns = 4
	connCfg.MinConns = 1
	connCfg.Timeout = cfg.Storage.PostgresTimeout

	db, err := postgres.Connect(ctx, connCfg, libLogger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	store := auditpg.New(db)
	if cfg.Storage.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatalf("Failed to migrate audit schema: %v", err)
		}
	}

	w := &worker{
		store:    store,
		reporter: compliance.NewReporter(store, cfg.ReporterConfig(), compliance.WithLogger(libLogger)),
		cfg:      cfg.Retention,
		logger:   logger,
		now:      time.Now,
	}
	if cfg.Export.ArtifactBackend == config.ArtifactsFilesystem {
		w.files, err = artifacts.NewFileSystemStore(cfg.Export.Directory, cfg.Export.BaseURL)
		if err != nil {
			logger.Fatalf("Failed to open export directory: %v", err)
		}
	}

	if *runOnce {
		if err := w.runAll(ctx); err != nil {
			logger.Fatalf("Retention run failed: %v", err)
		}
		logger.Info("Retention run completed successfully")
		return
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(
			cron.Recover(cron.VerbosePrintfLogger(logger)),
			cron.SkipIfStillRunning(cron.VerbosePrintfLogger(logger)),
		),
	)

	_, err = c.AddFunc(cfg.Retention.ArchiveSchedule, func() {
		logger.Info("Starting retention archive")
		if err := w.archive(ctx); err != nil {
			logger.Errorf("Retention archive failed: %v", err)
		}
		if err := w.purgeExports(); err != nil {
			logger.Errorf("Export purge failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule retention archive: %v", err)
	}

	_, err = c.AddFunc(cfg.Retention.DashboardSchedule, func() {
		if _, err := w.snapshot(ctx); err != nil {
			logger.Errorf("Dashboard snapshot failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule dashboard snapshot: %v", err)
	}

	c.Start()
	logger.Info("Audit retention worker started")
	logger.Infof("Archive schedule: %s (after %d days)", cfg.Retention.ArchiveSchedule, cfg.Retention.ArchiveAfterDays)
	logger.Infof("Dashboard schedule: %s", cfg.Retention.DashboardSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	stopCtx := c.Stop()
	<-stopCtx.Done()

	logger.Info("Retention worker stopped")
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
