package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/auditcore/pkg/observability"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	// ConnectAttempts is how many times the initial ping is tried before giving up
	ConnectAttempts int
	RetryDelay      time.Duration
}

// DefaultConnectionConfig returns pool settings suited to the audit write path
func DefaultConnectionConfig(url string) ConnectionConfig {
	return ConnectionConfig{
		URL:             url,
		MaxConns:        20,
		MinConns:        5,
		Timeout:         10 * time.Second,
		MaxLifetime:     30 * time.Minute,
		MaxIdleTime:     5 * time.Minute,
		ConnectAttempts: 5,
		RetryDelay:      2 * time.Second,
	}
}

// Connect opens the audit database, configures the pool and waits until the
// server answers a ping
func Connect(ctx context.Context, cfg ConnectionConfig, logger *observability.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	configurePool(db, cfg)

	if err := waitForPing(ctx, db, cfg, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"max_conns": cfg.MaxConns,
		"min_conns": cfg.MinConns,
	}).Info("Connected to audit database")
	return db, nil
}

func configurePool(db *sql.DB, cfg ConnectionConfig) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)
}

// waitForPing pings until the database answers, ConnectAttempts runs out or ctx is done
func waitForPing(ctx context.Context, db *sql.DB, cfg ConnectionConfig, logger *observability.Logger) error {
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		logger.WithError(err).WithField("attempt", attempt).Warn("Audit database not ready, retrying")
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to ping database: %w", ctx.Err())
		case <-time.After(cfg.RetryDelay):
		}
	}
	return fmt.Errorf("failed to ping database after %d attempts: %w", attempts, err)
}

// HealthProbe returns a readiness probe pinging db
func HealthProbe(db *sql.DB) observability.Probe {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
		return nil
	}
}
