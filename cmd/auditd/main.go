package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/compliance"
	"github.com/platinummonkey/auditcore/pkg/config"
	"github.com/platinummonkey/auditcore/pkg/httputil"
	"github.com/platinummonkey/auditcore/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// maxRequestBytes caps event and export request bodies
const maxRequestBytes = 1 << 20

func main() {
	configFile := flag.String("config", "", "YAML configuration file (overrides AUDIT_CONFIG_FILE)")
	flag.Parse()

	if *configFile != "" {
		os.Setenv("AUDIT_CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", cfg.Audit.ServiceName).
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("auditd exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	health := observability.NewHealthChecker(version)
	deps := &dependencies{}

	store, err := deps.buildStore(ctx, cfg, logger, health, registry)
	if err != nil {
		deps.closeAll(logger)
		return err
	}
	artifactStore, files, err := deps.buildArtifactStore(ctx, cfg, health)
	if err != nil {
		deps.closeAll(logger)
		return err
	}
	exportRegistry, err := deps.buildExportRegistry(ctx, cfg, health)
	if err != nil {
		deps.closeAll(logger)
		return err
	}

	service := audit.NewService(store, cfg.ServiceConfig(),
		audit.WithLogger(logger),
		audit.WithMetrics(metrics),
		audit.WithArtifactStore(artifactStore),
		audit.WithExportRegistry(exportRegistry),
	)
	reporter := compliance.NewReporter(store, cfg.ReporterConfig(),
		compliance.WithLogger(logger),
		compliance.WithMetrics(metrics),
	)

	router := mux.NewRouter()
	router.Use(observability.RecoveryMiddleware(logger))
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	router.Use(httputil.MaxBytesMiddleware(maxRequestBytes))
	router.Use(httputil.ContentTypeMiddleware)
	router.Use(audit.NewMiddleware(service, "/health", "/metrics").Handler)

	audit.NewHandlers(service).RegisterRoutes(router)
	compliance.NewHandlers(reporter).RegisterRoutes(router)
	if files != nil {
		registerDownloadRoute(router, files)
	}

	// Probes and metrics get their own listener so they stay reachable when the
	// API port is saturated. Without a health port they share the API router.
	var healthServer *http.Server
	if cfg.Server.HealthPort != "" && cfg.Server.HealthPort != cfg.Server.Port {
		healthRouter := mux.NewRouter()
		observability.RegisterHealthRoutes(healthRouter, health)
		observability.RegisterMetricsEndpoint(healthRouter, registry)
		healthServer = &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
			Handler:           healthRouter,
			ReadHeaderTimeout: 5 * time.Second,
		}
	} else {
		observability.RegisterHealthRoutes(router, health)
		observability.RegisterMetricsEndpoint(router, registry)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "auditd"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	if healthServer != nil {
		shutdown.Register("health server", healthServer.Shutdown)
	}
	// The service drains queued events before the stores it writes to are closed
	shutdown.Register("audit service", func(ctx context.Context) error {
		timeout := cfg.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		return service.Close(timeout)
	})
	for _, c := range deps.closers {
		shutdown.Register(c.name, func(context.Context) error { return c.close() })
	}
	if providers != nil {
		shutdown.Register("opentelemetry", providers.Shutdown)
	}

	serverErr := make(chan error, 2)
	go serve(server, "API", logger, serverErr)
	if healthServer != nil {
		go serve(healthServer, "health", logger, serverErr)
	}

	logger.WithFields(map[string]interface{}{
		"addr":      server.Addr,
		"storage":   cfg.Storage.Type,
		"artifacts": cfg.Export.ArtifactBackend,
		"registry":  cfg.Export.RegistryBackend,
	}).Info("auditd started")

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- shutdown.WaitForSignal() }()

	select {
	case err := <-shutdownDone:
		return err
	case err := <-serverErr:
		if shutdownErr := shutdown.Shutdown(context.Background()); shutdownErr != nil {
			logger.WithError(shutdownErr).Error("Shutdown after server failure reported errors")
		}
		return err
	}
}

func serve(server *http.Server, name string, logger *observability.Logger, errCh chan<- error) {
	logger.Infof("Starting %s server on %s", name, server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}
