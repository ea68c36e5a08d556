// Package config provides application configuration management from environment
// variables and an optional YAML file.
//
// # Overview
//
// LoadConfig reads AUDIT_* environment variables with defaults for every
// setting. When AUDIT_CONFIG_FILE names a YAML file, the keys present in that
// file replace the environment values. The merged configuration is validated
// before it is returned.
//
// # Configuration Structure
//
// Server settings:
//
//	AUDIT_HOST="0.0.0.0"
//	AUDIT_PORT="8080"
//	AUDIT_HEALTH_PORT="9090"
//	AUDIT_READ_TIMEOUT="15s"
//
// Audit service settings:
//
//	AUDIT_SERVICE_NAME="auditcore"
//	AUDIT_ASYNC_ENABLED="true"
//	AUDIT_WORKERS="4"
//	AUDIT_QUEUE_SIZE="1024"
//	AUDIT_DEFAULT_RETENTION_DAYS="2555"
//	AUDIT_SYNC_CATEGORIES="SECURITY,COMPLIANCE,CONFIGURATION,ERROR"
//	AUDIT_FILE_SINK_DIR="/var/log/auditcore"
//
// Storage settings:
//
//	AUDIT_STORAGE_TYPE="postgres"  # memory, postgres
//	AUDIT_POSTGRES_URL="postgres://localhost/audit?sslmode=disable"
//	AUDIT_POSTGRES_MAX_CONNS="20"
//
// Export settings:
//
//	AUDIT_EXPORT_BACKEND="s3"  # filesystem, s3
//	AUDIT_EXPORT_DIR="/var/lib/auditcore/exports"
//	AUDIT_S3_BUCKET="audit-exports"
//	AUDIT_EXPORT_REGISTRY="redis"  # memory, redis
//	AUDIT_REDIS_URL="redis://localhost:6379/0"
//
// Compliance and retention settings:
//
//	AUDIT_COMPLIANCE_CACHE_TTL="5m"
//	AUDIT_COMPLIANCE_ERROR_RATE_THRESHOLD="5"
//	AUDIT_RETENTION_ARCHIVE_SCHEDULE="0 3 * * *"
//	AUDIT_RETENTION_ARCHIVE_AFTER_DAYS="365"
//
// Observability settings:
//
//	AUDIT_LOG_LEVEL="info"
//	AUDIT_METRICS_ENABLED="true"
//	AUDIT_OTEL_ENABLED="true"
//	AUDIT_OTEL_ENDPOINT="localhost:4317"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc := audit.NewService(store, cfg.ServiceConfig())
package config
