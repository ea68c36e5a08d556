package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/compliance"
	"github.com/platinummonkey/auditcore/pkg/observability"
)

// Backend names
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	ArtifactsFilesystem = "filesystem"
	ArtifactsS3         = "s3"

	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audit         AuditConfig         `yaml:"audit"`
	Storage       StorageConfig       `yaml:"storage"`
	Export        ExportConfig        `yaml:"export"`
	Compliance    ComplianceConfig    `yaml:"compliance"`
	Retention     RetentionConfig     `yaml:"retention"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// AuditConfig configures the audit service
type AuditConfig struct {
	ServiceName           string        `yaml:"service_name"`
	AsyncEnabled          bool          `yaml:"async_enabled"`
	Workers               int           `yaml:"workers"`
	QueueSize             int           `yaml:"queue_size"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	DefaultRetentionDays  int           `yaml:"default_retention_days"`
	LongTermRetentionDays int           `yaml:"long_term_retention_days"`
	// SyncCategories lists the shorthand categories always written synchronously.
	// Nil keeps the service defaults.
	SyncCategories []string `yaml:"sync_categories"`

	// FileSinkDir mirrors every saved event to rotating JSON-lines files when set
	FileSinkDir      string `yaml:"file_sink_dir"`
	FileSinkMaxBytes int64  `yaml:"file_sink_max_bytes"`
	FileSinkMaxFiles int    `yaml:"file_sink_max_files"`
}

// StorageConfig selects the event store
type StorageConfig struct {
	Type                string        `yaml:"type"`
	PostgresURL         string        `yaml:"postgres_url"`
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`
	PostgresAutoMigrate bool          `yaml:"postgres_auto_migrate"`
}

// ExportConfig selects where export artifacts and descriptors live
type ExportConfig struct {
	ArtifactBackend string        `yaml:"artifact_backend"`
	Directory       string        `yaml:"directory"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`

	S3Bucket         string `yaml:"s3_bucket"`
	S3Region         string `yaml:"s3_region"`
	S3Endpoint       string `yaml:"s3_endpoint"`
	S3AccessKey      string `yaml:"s3_access_key"`
	S3SecretKey      string `yaml:"s3_secret_key"`
	S3Prefix         string `yaml:"s3_prefix"`
	S3ForcePathStyle bool   `yaml:"s3_force_path_style"`

	RegistryBackend string `yaml:"registry_backend"`
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
}

// ComplianceConfig tunes the compliance reporter
type ComplianceConfig struct {
	CacheSize               int           `yaml:"cache_size"`
	CacheTTL                time.Duration `yaml:"cache_ttl"`
	InternalControlCategory string        `yaml:"internal_control_category"`
	ErrorRateThreshold      float64       `yaml:"error_rate_threshold"`
}

// RetentionConfig drives the retention worker
type RetentionConfig struct {
	ArchiveSchedule   string `yaml:"archive_schedule"`
	DashboardSchedule string `yaml:"dashboard_schedule"`
	// ArchiveAfterDays moves events older than this to the archive table
	ArchiveAfterDays int `yaml:"archive_after_days"`
	// DeleteAfterDays removes events older than this; zero keeps them
	DeleteAfterDays int `yaml:"delete_after_days"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// LoadConfig loads configuration from environment variables, overlays the YAML
// file named by AUDIT_CONFIG_FILE when set, and validates the result.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Audit:         loadAuditConfig(),
		Storage:       loadStorageConfig(),
		Export:        loadExportConfig(),
		Compliance:    loadComplianceConfig(),
		Retention:     loadRetentionConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path := getEnv("AUDIT_CONFIG_FILE", ""); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// overlayFile replaces the settings present in a YAML file
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("AUDIT_HOST", "0.0.0.0"),
		Port:            getEnv("AUDIT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("AUDIT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("AUDIT_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("AUDIT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("AUDIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("AUDIT_HEALTH_PORT", "9090"),
	}
}

// loadAuditConfig loads audit service configuration from environment
func loadAuditConfig() AuditConfig {
	d := audit.DefaultConfig()
	fs := audit.DefaultFileSinkConfig()
	cfg := AuditConfig{
		ServiceName:           getEnv("AUDIT_SERVICE_NAME", d.ServiceName),
		AsyncEnabled:          getEnvBool("AUDIT_ASYNC_ENABLED", d.AsyncEnabled),
		Workers:               getEnvInt("AUDIT_WORKERS", d.Workers),
		QueueSize:             getEnvInt("AUDIT_QUEUE_SIZE", d.QueueSize),
		WriteTimeout:          getEnvDuration("AUDIT_EVENT_WRITE_TIMEOUT", d.WriteTimeout),
		DefaultRetentionDays:  getEnvInt("AUDIT_DEFAULT_RETENTION_DAYS", d.DefaultRetentionDays),
		LongTermRetentionDays: getEnvInt("AUDIT_LONG_TERM_RETENTION_DAYS", d.LongTermRetentionDays),
		FileSinkDir:           getEnv("AUDIT_FILE_SINK_DIR", ""),
		FileSinkMaxBytes:      getEnvInt64("AUDIT_FILE_SINK_MAX_BYTES", fs.MaxSizeBytes),
		FileSinkMaxFiles:      getEnvInt("AUDIT_FILE_SINK_MAX_FILES", fs.MaxFiles),
	}
	if categories := getEnv("AUDIT_SYNC_CATEGORIES", ""); categories != "" {
		cfg.SyncCategories = splitList(categories)
	}
	return cfg
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:                getEnv("AUDIT_STORAGE_TYPE", StorageMemory),
		PostgresURL:         getEnv("AUDIT_POSTGRES_URL", ""),
		PostgresMaxConns:    getEnvInt("AUDIT_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns:    getEnvInt("AUDIT_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:     getEnvDuration("AUDIT_POSTGRES_TIMEOUT", 10*time.Second),
		PostgresAutoMigrate: getEnvBool("AUDIT_POSTGRES_AUTO_MIGRATE", true),
	}
}

// loadExportConfig loads export configuration from environment
func loadExportConfig() ExportConfig {
	return ExportConfig{
		ArtifactBackend:  getEnv("AUDIT_EXPORT_BACKEND", ArtifactsFilesystem),
		Directory:        getEnv("AUDIT_EXPORT_DIR", "/var/lib/auditcore/exports"),
		BaseURL:          getEnv("AUDIT_EXPORT_BASE_URL", ""),
		Timeout:          getEnvDuration("AUDIT_EXPORT_TIMEOUT", audit.DefaultConfig().ExportTimeout),
		S3Bucket:         getEnv("AUDIT_S3_BUCKET", ""),
		S3Region:         getEnv("AUDIT_S3_REGION", "us-east-1"),
		S3Endpoint:       getEnv("AUDIT_S3_ENDPOINT", ""),
		S3AccessKey:      getEnv("AUDIT_S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("AUDIT_S3_SECRET_KEY", ""),
		S3Prefix:         getEnv("AUDIT_S3_PREFIX", "exports/"),
		S3ForcePathStyle: getEnvBool("AUDIT_S3_FORCE_PATH_STYLE", false),
		RegistryBackend:  getEnv("AUDIT_EXPORT_REGISTRY", RegistryMemory),
		RedisURL:         getEnv("AUDIT_REDIS_URL", ""),
		RedisPassword:    getEnv("AUDIT_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("AUDIT_REDIS_DB", 0),
	}
}

// loadComplianceConfig loads compliance reporter configuration from environment
func loadComplianceConfig() ComplianceConfig {
	d := compliance.DefaultConfig()
	return ComplianceConfig{
		CacheSize:               getEnvInt("AUDIT_COMPLIANCE_CACHE_SIZE", d.CacheSize),
		CacheTTL:                getEnvDuration("AUDIT_COMPLIANCE_CACHE_TTL", d.CacheTTL),
		InternalControlCategory: getEnv("AUDIT_COMPLIANCE_INTERNAL_CONTROL_CATEGORY", d.InternalControlCategory),
		ErrorRateThreshold:      getEnvFloat("AUDIT_COMPLIANCE_ERROR_RATE_THRESHOLD", d.ErrorRateThreshold),
	}
}

// loadRetentionConfig loads retention worker configuration from environment
func loadRetentionConfig() RetentionConfig {
	return RetentionConfig{
		ArchiveSchedule:   getEnv("AUDIT_RETENTION_ARCHIVE_SCHEDULE", "0 3 * * *"),
		DashboardSchedule: getEnv("AUDIT_RETENTION_DASHBOARD_SCHEDULE", "0 6 * * *"),
		ArchiveAfterDays:  getEnvInt("AUDIT_RETENTION_ARCHIVE_AFTER_DAYS", 365),
		DeleteAfterDays:   getEnvInt("AUDIT_RETENTION_DELETE_AFTER_DAYS", 0),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("AUDIT_LOG_LEVEL", "info"),
		MetricsEnabled:     getEnvBool("AUDIT_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("AUDIT_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("AUDIT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("AUDIT_OTEL_SERVICE_NAME", "auditcore"),
		OTelServiceVersion: getEnv("AUDIT_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("AUDIT_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("AUDIT_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.HealthPort == "" {
		return errors.New("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return errors.New("server port and health port must be different")
	}

	if strings.TrimSpace(c.Audit.ServiceName) == "" {
		return errors.New("audit service name is required")
	}
	if c.Audit.Workers < 1 {
		return errors.New("audit workers must be at least 1")
	}
	if c.Audit.QueueSize < 1 {
		return errors.New("audit queue size must be at least 1")
	}
	if c.Audit.DefaultRetentionDays < 1 {
		return errors.New("default retention days must be positive")
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return errors.New("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	switch c.Export.ArtifactBackend {
	case ArtifactsFilesystem:
		if c.Export.Directory == "" {
			return errors.New("export directory is required for filesystem artifacts")
		}
	case ArtifactsS3:
		if c.Export.S3Bucket == "" {
			return errors.New("S3 bucket is required for s3 artifacts")
		}
	default:
		return fmt.Errorf("invalid export backend: %s (must be filesystem or s3)", c.Export.ArtifactBackend)
	}

	switch c.Export.RegistryBackend {
	case RegistryMemory:
	case RegistryRedis:
		if c.Export.RedisURL == "" {
			return errors.New("redis URL is required for the redis export registry")
		}
	default:
		return fmt.Errorf("invalid export registry: %s (must be memory or redis)", c.Export.RegistryBackend)
	}

	if c.Compliance.ErrorRateThreshold <= 0 || c.Compliance.ErrorRateThreshold >= 100 {
		return errors.New("compliance error rate threshold must be between 0 and 100")
	}

	if c.Retention.ArchiveAfterDays < 1 {
		return errors.New("archive after days must be positive")
	}
	if c.Retention.DeleteAfterDays != 0 && c.Retention.DeleteAfterDays <= c.Retention.ArchiveAfterDays {
		return errors.New("delete after days must exceed archive after days")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ServiceConfig converts the audit section to the service configuration
func (c *Config) ServiceConfig() audit.Config {
	cfg := audit.DefaultConfig()
	cfg.ServiceName = c.Audit.ServiceName
	cfg.AsyncEnabled = c.Audit.AsyncEnabled
	cfg.Workers = c.Audit.Workers
	cfg.QueueSize = c.Audit.QueueSize
	cfg.WriteTimeout = c.Audit.WriteTimeout
	cfg.DefaultRetentionDays = c.Audit.DefaultRetentionDays
	cfg.LongTermRetentionDays = c.Audit.LongTermRetentionDays
	if c.Export.Timeout > 0 {
		cfg.ExportTimeout = c.Export.Timeout
	}
	if c.Audit.SyncCategories != nil {
		sync := make(map[string]bool, len(cfg.SyncCategories))
		for category := range cfg.SyncCategories {
			sync[category] = false
		}
		for _, category := range c.Audit.SyncCategories {
			sync[strings.ToUpper(category)] = true
		}
		cfg.SyncCategories = sync
	}
	return cfg
}

// ReporterConfig converts the compliance section to the reporter configuration
func (c *Config) ReporterConfig() compliance.Config {
	return compliance.Config{
		InternalControlCategory: c.Compliance.InternalControlCategory,
		ErrorRateThreshold:      c.Compliance.ErrorRateThreshold,
		CacheSize:               c.Compliance.CacheSize,
		CacheTTL:                c.Compliance.CacheTTL,
	}
}

// OTelConfig converts the observability section to the OpenTelemetry configuration
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// Level parses the configured log level
func (c ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(c.LogLevel)
}

// splitList splits a comma separated value, dropping blanks
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
