package exports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/auditcore/pkg/audit"
)

const keyPrefix = "audit:export:"

// RedisConfig configures the Redis connection
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// RedisRegistry keeps export descriptors in Redis with a TTL matching their expiry,
// so every API replica can resolve an export created by another.
type RedisRegistry struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRegistry connects to Redis and verifies the connection
func NewRedisRegistry(ctx context.Context, cfg RedisConfig) (*RedisRegistry, error) {
	// Parse Redis URL or use default options
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}

	// Set connection timeouts
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisRegistryWithClient(client), nil
}

// NewRedisRegistryWithClient wraps an existing client
func NewRedisRegistryWithClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client, now: time.Now}
}

// Put implements audit.ExportRegistry. Descriptors that are already expired are not stored.
func (r *RedisRegistry) Put(ctx context.Context, result *audit.ExportResult) error {
	ttl := result.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}

	if err := r.client.Set(ctx, keyPrefix+result.ExportID, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get implements audit.ExportRegistry
func (r *RedisRegistry) Get(ctx context.Context, exportID string) (*audit.ExportResult, error) {
	key := keyPrefix + exportID

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", audit.ErrExportNotFound, exportID)
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var result audit.ExportResult
	if err := json.Unmarshal(data, &result); err != nil {
		// If unmarshal fails, delete corrupt data
		r.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal export: %w", err)
	}

	if result.Expired(r.now()) {
		return nil, fmt.Errorf("%w: %s", audit.ErrExportNotFound, exportID)
	}
	return &result, nil
}

// HealthCheck verifies Redis connectivity
func (r *RedisRegistry) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

var _ audit.ExportRegistry = (*RedisRegistry)(nil)
