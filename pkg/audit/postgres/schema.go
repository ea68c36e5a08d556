package postgres

import (
	"context"
	"fmt"
	"strings"
)

const (
	eventsTable  = "audit_events"
	archiveTable = "audit_events_archive"
)

// eventColumns are read back by every event query, in scan order
var eventColumns = []string{
	"id", "timestamp", "retention_days",
	"action", "severity", "category",
	"service_name", "resource_type", "resource_id",
	"user_id", "username", "session_id", "tenant_id",
	"correlation_id", "trace_id",
	"ip_address", "user_agent", "http_method", "request_uri", "http_status", "duration_ms",
	"success", "error_message", "exception_type",
	"old_values", "new_values",
	"tags", "metadata", "security_context", "compliance_flags",
}

// insertColumns adds the numeric severity used for ordering
var insertColumns = append(append([]string{}, eventColumns...), "severity_level")

var (
	selectList = strings.Join(eventColumns, ", ")
	insertList = strings.Join(insertColumns, ", ")
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id               TEXT PRIMARY KEY,
	timestamp        TIMESTAMPTZ NOT NULL,
	retention_days   INTEGER NOT NULL DEFAULT 0,
	action           TEXT NOT NULL,
	severity         TEXT NOT NULL,
	severity_level   SMALLINT NOT NULL DEFAULT 0,
	category         TEXT NOT NULL DEFAULT '',
	service_name     TEXT NOT NULL,
	resource_type    TEXT NOT NULL DEFAULT '',
	resource_id      TEXT NOT NULL DEFAULT '',
	user_id          TEXT NOT NULL DEFAULT '',
	username         TEXT NOT NULL DEFAULT '',
	session_id       TEXT NOT NULL DEFAULT '',
	tenant_id        TEXT NOT NULL DEFAULT '',
	correlation_id   TEXT NOT NULL DEFAULT '',
	trace_id         TEXT NOT NULL DEFAULT '',
	ip_address       TEXT NOT NULL DEFAULT '',
	user_agent       TEXT NOT NULL DEFAULT '',
	http_method      TEXT NOT NULL DEFAULT '',
	request_uri      TEXT NOT NULL DEFAULT '',
	http_status      INTEGER NOT NULL DEFAULT 0,
	duration_ms      BIGINT,
	success          BOOLEAN NOT NULL DEFAULT TRUE,
	error_message    TEXT NOT NULL DEFAULT '',
	exception_type   TEXT NOT NULL DEFAULT '',
	old_values       JSONB,
	new_values       JSONB,
	tags             JSONB,
	metadata         JSONB,
	security_context JSONB,
	compliance_flags JSONB
);

CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events (timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events (user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events (resource_type, resource_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_correlation ON audit_events (correlation_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_session ON audit_events (session_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events (action, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_compliance ON audit_events USING GIN (compliance_flags);

CREATE TABLE IF NOT EXISTS audit_events_archive (LIKE audit_events INCLUDING DEFAULTS);
ALTER TABLE audit_events_archive ADD COLUMN IF NOT EXISTS archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW();
CREATE INDEX IF NOT EXISTS idx_audit_events_archive_timestamp ON audit_events_archive (timestamp);
`

// EnsureSchema creates the event and archive tables if they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}
