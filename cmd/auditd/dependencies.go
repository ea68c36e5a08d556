package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/audit/memory"
	auditpg "github.com/platinummonkey/auditcore/pkg/audit/postgres"
	"github.com/platinummonkey/auditcore/pkg/config"
	"github.com/platinummonkey/auditcore/pkg/observability"
	"github.com/platinummonkey/auditcore/pkg/storage/artifacts"
	"github.com/platinummonkey/auditcore/pkg/storage/exports"
	"github.com/platinummonkey/auditcore/pkg/storage/postgres"
)

type closer struct {
	name  string
	close func() error
}

// dependencies tracks opened backends so they can be closed in order
type dependencies struct {
	closers []closer
}

func (d *dependencies) add(name string, fn func() error) {
	d.closers = append(d.closers, closer{name: name, close: fn})
}

// closeAll is used when startup fails before the shutdown manager owns the closers
func (d *dependencies) closeAll(logger *observability.Logger) {
	for _, c := range d.closers {
		if err := c.close(); err != nil {
			logger.WithError(err).WithField("dependency", c.name).Warn("Failed to close dependency")
		}
	}
}

// buildStore opens the configured event store and wraps it with the file sink when enabled
func (d *dependencies) buildStore(ctx context.Context, cfg *config.Config, logger *observability.Logger,
	health *observability.HealthChecker, registry prometheus.Registerer) (audit.Store, error) {
	var store audit.Store

	switch cfg.Storage.Type {
	case config.StoragePostgres:
		connCfg := postgres.DefaultConnectionConfig(cfg.Storage.PostgresURL)
		connCfg.MaxConns = cfg.Storage.PostgresMaxConns
		connCfg.MinConns = cfg.Storage.PostgresMinConns
		connCfg.Timeout = cfg.Storage.PostgresTimeout

		db, err := postgres.Connect(ctx, connCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to audit database: %w", err)
		}
		d.add("database", db.Close)
		registry.MustRegister(collectors.NewDBStatsCollector(db, "audit"))
		health.AddProbe("postgres", true, postgres.HealthProbe(db))

		pg := auditpg.New(db)
		if cfg.Storage.PostgresAutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
			}
		}
		store = pg
	default:
		logger.Warn("Using in-memory audit store; events are lost on restart")
		store = memory.NewStore()
	}

	if cfg.Audit.FileSinkDir == "" {
		return store, nil
	}

	sink, err := audit.NewFileSink(audit.FileSinkConfig{
		Dir:          cfg.Audit.FileSinkDir,
		MaxSizeBytes: cfg.Audit.FileSinkMaxBytes,
		MaxFiles:     cfg.Audit.FileSinkMaxFiles,
	})
	if err != nil {
		return nil, err
	}
	tee := audit.NewTeeStore(store, logger, sink)
	// Sinks close before the database so the last mirrored events are flushed first
	d.closers = append([]closer{{name: "file sink", close: tee.Close}}, d.closers...)
	return tee, nil
}

// buildArtifactStore returns the export artifact store. The filesystem store is
// also returned on its own so its files can be served for download.
func (d *dependencies) buildArtifactStore(ctx context.Context, cfg *config.Config,
	health *observability.HealthChecker) (audit.ArtifactStore, *artifacts.FileSystemStore, error) {
	switch cfg.Export.ArtifactBackend {
	case config.ArtifactsS3:
		s3Store, err := artifacts.NewS3Store(ctx, artifacts.S3Config{
			Bucket:         cfg.Export.S3Bucket,
			Region:         cfg.Export.S3Region,
			Endpoint:       cfg.Export.S3Endpoint,
			AccessKey:      cfg.Export.S3AccessKey,
			SecretKey:      cfg.Export.S3SecretKey,
			Prefix:         cfg.Export.S3Prefix,
			ForcePathStyle: cfg.Export.S3ForcePathStyle,
			CreateBucket:   cfg.Export.S3Endpoint != "",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize S3 artifact store: %w", err)
		}
		health.AddProbe("s3", false, s3Store.HealthCheck)
		return s3Store, nil, nil
	default:
		files, err := artifacts.NewFileSystemStore(cfg.Export.Directory, cfg.Export.BaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize export directory: %w", err)
		}
		return files, files, nil
	}
}

// buildExportRegistry returns where export descriptors are kept
func (d *dependencies) buildExportRegistry(ctx context.Context, cfg *config.Config,
	health *observability.HealthChecker) (audit.ExportRegistry, error) {
	if cfg.Export.RegistryBackend != config.RegistryRedis {
		return audit.NewMemoryExportRegistry(), nil
	}

	registry, err := exports.NewRedisRegistry(ctx, exports.RedisConfig{
		URL:      cfg.Export.RedisURL,
		Password: cfg.Export.RedisPassword,
		DB:       cfg.Export.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize export registry: %w", err)
	}
	d.add("redis", registry.Close)
	health.AddProbe("redis", false, registry.HealthCheck)
	return registry, nil
}
