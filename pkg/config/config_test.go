package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvTyped tests the typed environment helpers
func TestGetEnvTyped(t *testing.T) {
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_BOOL_FALSE", "false")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty-two")
	t.Setenv("TEST_INT64", "9000000000")
	t.Setenv("TEST_FLOAT", "7.5")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_DURATION_BAD", "invalid")

	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.False(t, getEnvBool("TEST_BOOL_FALSE", true))
	assert.True(t, getEnvBool("TEST_BOOL_NOT_SET", true))

	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_INT_BAD", 7))
	assert.Equal(t, int64(9000000000), getEnvInt64("TEST_INT64", 0))
	assert.Equal(t, 7.5, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, 2.5, getEnvFloat("TEST_FLOAT_NOT_SET", 2.5))

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", 0))
	assert.Equal(t, 10*time.Second, getEnvDuration("TEST_DURATION_BAD", 10*time.Second))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("AUDIT_CONFIG_FILE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, "auditcore", cfg.Audit.ServiceName)
	assert.True(t, cfg.Audit.AsyncEnabled)
	assert.Equal(t, audit.DefaultRetentionDays, cfg.Audit.DefaultRetentionDays)
	assert.Nil(t, cfg.Audit.SyncCategories)
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
	assert.Equal(t, ArtifactsFilesystem, cfg.Export.ArtifactBackend)
	assert.Equal(t, RegistryMemory, cfg.Export.RegistryBackend)
	assert.Equal(t, 5.0, cfg.Compliance.ErrorRateThreshold)
	assert.Equal(t, "INTERNAL_CONTROL", cfg.Compliance.InternalControlCategory)
	assert.Equal(t, "0 3 * * *", cfg.Retention.ArchiveSchedule)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.Level())
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("AUDIT_SERVICE_NAME", "payments")
	t.Setenv("AUDIT_ASYNC_ENABLED", "false")
	t.Setenv("AUDIT_SYNC_CATEGORIES", "security, error")
	t.Setenv("AUDIT_STORAGE_TYPE", "postgres")
	t.Setenv("AUDIT_POSTGRES_URL", "postgres://localhost/audit")
	t.Setenv("AUDIT_POSTGRES_MAX_CONNS", "50")
	t.Setenv("AUDIT_EXPORT_BACKEND", "s3")
	t.Setenv("AUDIT_S3_BUCKET", "audit-exports")
	t.Setenv("AUDIT_EXPORT_REGISTRY", "redis")
	t.Setenv("AUDIT_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("AUDIT_COMPLIANCE_ERROR_RATE_THRESHOLD", "2.5")
	t.Setenv("AUDIT_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "payments", cfg.Audit.ServiceName)
	assert.False(t, cfg.Audit.AsyncEnabled)
	assert.Equal(t, []string{"security", "error"}, cfg.Audit.SyncCategories)
	assert.Equal(t, 50, cfg.Storage.PostgresMaxConns)
	assert.Equal(t, "audit-exports", cfg.Export.S3Bucket)
	assert.Equal(t, 2.5, cfg.Compliance.ErrorRateThreshold)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.Level())

	svc := cfg.ServiceConfig()
	assert.Equal(t, "payments", svc.ServiceName)
	assert.Equal(t, map[string]bool{
		audit.CategorySecurity:      true,
		audit.CategoryCompliance:    false,
		audit.CategoryConfiguration: false,
		audit.CategoryError:         true,
	}, svc.SyncCategories)

	assert.Equal(t, 2.5, cfg.ReporterConfig().ErrorRateThreshold)
}

func TestLoadConfig_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "8181"
audit:
  service_name: from-file
  sync_categories: [COMPLIANCE]
compliance:
  cache_ttl: 90s
  internal_control_category: CONTROL_TEST
retention:
  archive_after_days: 30
  delete_after_days: 400
observability:
  otel_enabled: true
  otel_endpoint: collector:4317
`), 0o600))

	t.Setenv("AUDIT_CONFIG_FILE", path)
	t.Setenv("AUDIT_SERVICE_NAME", "from-env")
	t.Setenv("AUDIT_WORKERS", "8")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort, "keys missing from the file keep their env value")
	assert.Equal(t, "from-file", cfg.Audit.ServiceName)
	assert.Equal(t, 8, cfg.Audit.Workers)
	assert.Equal(t, []string{"COMPLIANCE"}, cfg.Audit.SyncCategories)
	assert.Equal(t, 90*time.Second, cfg.Compliance.CacheTTL)
	assert.Equal(t, "CONTROL_TEST", cfg.ReporterConfig().InternalControlCategory)
	assert.Equal(t, 30, cfg.Retention.ArchiveAfterDays)
	assert.Equal(t, 400, cfg.Retention.DeleteAfterDays)

	otel := cfg.OTelConfig()
	assert.True(t, otel.Enabled)
	assert.Equal(t, "collector:4317", otel.Endpoint)
}

func TestLoadConfig_FileErrors(t *testing.T) {
	t.Setenv("AUDIT_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
	t.Setenv("AUDIT_CONFIG_FILE", path)
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:     loadServerConfig(),
			Audit:      loadAuditConfig(),
			Storage:    loadStorageConfig(),
			Export:     loadExportConfig(),
			Compliance: loadComplianceConfig(),
			Retention:  loadRetentionConfig(),
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }, "must be different"},
		{"blank service", func(c *Config) { c.Audit.ServiceName = " " }, "service name"},
		{"no workers", func(c *Config) { c.Audit.Workers = 0 }, "workers"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "sqlite" }, "invalid storage type"},
		{"postgres without url", func(c *Config) { c.Storage.Type = StoragePostgres }, "postgres URL"},
		{"s3 without bucket", func(c *Config) { c.Export.ArtifactBackend = ArtifactsS3 }, "S3 bucket"},
		{"redis without url", func(c *Config) { c.Export.RegistryBackend = RegistryRedis }, "redis URL"},
		{"unknown registry", func(c *Config) { c.Export.RegistryBackend = "etcd" }, "invalid export registry"},
		{"threshold", func(c *Config) { c.Compliance.ErrorRateThreshold = 0 }, "error rate threshold"},
		{"delete before archive", func(c *Config) { c.Retention.DeleteAfterDays = 10 }, "delete after days"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "auditcore"
		}, "endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.wantErr)
		})
	}
}
