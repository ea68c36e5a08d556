// Package postgres implements audit.Store on PostgreSQL. Annotation maps and
// change payloads are stored as JSONB so tag and metadata filters run in SQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/auditcore/pkg/audit"
)

var tracer = otel.Tracer("github.com/platinummonkey/auditcore/pkg/audit/postgres")

// Store persists audit events in PostgreSQL
type Store struct {
	db *sql.DB
}

// New creates a store on an open database handle. Call EnsureSchema before first use
// unless migrations are managed elsewhere.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", eventsTable),
	)
	return tracer.Start(ctx, "AuditStore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Save implements audit.Store
func (s *Store) Save(ctx context.Context, event *audit.AuditEvent) (saved *audit.AuditEvent, err error) {
	ctx, span := startSpan(ctx, "Save",
		attribute.String("audit.event_id", event.ID),
		attribute.String("audit.action", string(event.Action)),
	)
	defer func() { endSpan(span, err) }()

	args, err := insertArgs(event)
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", eventsTable, insertList, strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to insert audit event: %w", err)
	}
	return event.Clone(), nil
}

// Search implements audit.Store
func (s *Store) Search(ctx context.Context, criteria audit.Criteria) (events []*audit.AuditEvent, total int64, err error) {
	ctx, span := startSpan(ctx, "Search")
	defer func() { endSpan(span, err) }()

	cond := buildConditions(criteria)
	countQuery := "SELECT COUNT(*) FROM " + eventsTable + cond.where()
	if err := s.db.QueryRowContext(ctx, countQuery, cond.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	if total == 0 {
		return []*audit.AuditEvent{}, 0, nil
	}

	query := "SELECT " + selectList + " FROM " + eventsTable + cond.where() + orderBy(criteria)
	if !criteria.IsUnpaged() {
		query += " LIMIT " + cond.arg(criteria.Size) + " OFFSET " + cond.arg(criteria.Offset())
	}

	events, err = s.queryEvents(ctx, query, cond.args...)
	if err != nil {
		return nil, 0, err
	}
	span.SetAttributes(attribute.Int64("audit.total", total), attribute.Int("audit.returned", len(events)))
	return events, total, nil
}

// Count implements audit.Store
func (s *Store) Count(ctx context.Context, criteria audit.Criteria) (total int64, err error) {
	ctx, span := startSpan(ctx, "Count")
	defer func() { endSpan(span, err) }()

	cond := buildConditions(criteria)
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+eventsTable+cond.where(), cond.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return total, nil
}

// CountBy implements audit.Store
func (s *Store) CountBy(ctx context.Context, field audit.GroupField, start, end time.Time) (counts map[string]int64, err error) {
	ctx, span := startSpan(ctx, "CountBy", attribute.String("audit.group_by", string(field)))
	defer func() { endSpan(span, err) }()

	// Only known fields reach the statement text
	if _, err := audit.ParseGroupField(string(field)); err != nil {
		return nil, err
	}
	column := field.Column()

	cond := window(start, end)
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s%s GROUP BY %s", column, eventsTable, cond.where(), column)
	rows, err := s.db.QueryContext(ctx, query, cond.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events by %s: %w", column, err)
	}
	defer rows.Close()

	counts = make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s counts: %w", column, err)
	}
	return counts, nil
}

// TopUsers implements audit.Store
func (s *Store) TopUsers(ctx context.Context, start, end time.Time, limit int) (users []audit.UserCount, err error) {
	ctx, span := startSpan(ctx, "TopUsers")
	defer func() { endSpan(span, err) }()

	cond := window(start, end)
	cond.add("user_id <> ''")
	query := "SELECT user_id, COUNT(*) AS n FROM " + eventsTable + cond.where() + " GROUP BY user_id ORDER BY n DESC, user_id"
	if limit > 0 {
		query += " LIMIT " + cond.arg(limit)
	}

	rows, err := s.db.QueryContext(ctx, query, cond.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top users: %w", err)
	}
	defer rows.Close()

	users = []audit.UserCount{}
	for rows.Next() {
		var u audit.UserCount
		if err := rows.Scan(&u.UserID, &u.Count); err != nil {
			return nil, fmt.Errorf("failed to scan user count: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user counts: %w", err)
	}
	return users, nil
}

// CountByHour implements audit.Store. Hours are taken in UTC.
func (s *Store) CountByHour(ctx context.Context, start, end time.Time) (counts map[int]int64, err error) {
	ctx, span := startSpan(ctx, "CountByHour")
	defer func() { endSpan(span, err) }()

	cond := window(start, end)
	query := "SELECT EXTRACT(HOUR FROM timestamp AT TIME ZONE 'UTC')::int AS hour, COUNT(*) FROM " +
		eventsTable + cond.where() + " GROUP BY hour"
	rows, err := s.db.QueryContext(ctx, query, cond.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events by hour: %w", err)
	}
	defer rows.Close()

	counts = make(map[int]int64)
	for rows.Next() {
		var hour int
		var n int64
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, fmt.Errorf("failed to scan hourly count: %w", err)
		}
		counts[hour] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hourly counts: %w", err)
	}
	return counts, nil
}

// CountByDay implements audit.Store. Days are UTC calendar dates.
func (s *Store) CountByDay(ctx context.Context, start, end time.Time) (counts map[string]int64, err error) {
	ctx, span := startSpan(ctx, "CountByDay")
	defer func() { endSpan(span, err) }()

	cond := window(start, end)
	query := "SELECT to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*) FROM " +
		eventsTable + cond.where() + " GROUP BY day"
	rows, err := s.db.QueryContext(ctx, query, cond.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events by day: %w", err)
	}
	defer rows.Close()

	counts = make(map[string]int64)
	for rows.Next() {
		var day string
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		counts[day] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily counts: %w", err)
	}
	return counts, nil
}

// AverageDuration implements audit.Store
func (s *Store) AverageDuration(ctx context.Context, start, end time.Time) (avg float64, err error) {
	ctx, span := startSpan(ctx, "AverageDuration")
	defer func() { endSpan(span, err) }()

	cond := window(start, end)
	query := "SELECT COALESCE(AVG(duration_ms), 0)::float8 FROM " + eventsTable + cond.where()
	if err := s.db.QueryRowContext(ctx, query, cond.args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to compute average duration: %w", err)
	}
	return avg, nil
}

// SuccessRate implements audit.Store
func (s *Store) SuccessRate(ctx context.Context, start, end time.Time) (rate float64, err error) {
	ctx, span := startSpan(ctx, "SuccessRate")
	defer func() { endSpan(span, err) }()

	cond := window(start, end)
	query := "SELECT COALESCE(AVG(CASE WHEN success THEN 100.0 ELSE 0 END), 0)::float8 FROM " + eventsTable + cond.where()
	if err := s.db.QueryRowContext(ctx, query, cond.args...).Scan(&rate); err != nil {
		return 0, fmt.Errorf("failed to compute success rate: %w", err)
	}
	return rate, nil
}

// FindByComplianceFlag implements audit.Store
func (s *Store) FindByComplianceFlag(ctx context.Context, regulation audit.Regulation, start, end time.Time, userID string) (events []*audit.AuditEvent, err error) {
	ctx, span := startSpan(ctx, "FindByComplianceFlag", attribute.String("audit.regulation", string(regulation)))
	defer func() { endSpan(span, err) }()

	cond := window(start, end)
	cond.add("compliance_flags ->> " + cond.arg(string(regulation)) + " = 'true'")
	cond.eq("user_id", userID)

	query := "SELECT " + selectList + " FROM " + eventsTable + cond.where() + " ORDER BY timestamp ASC, id ASC"
	return s.queryEvents(ctx, query, cond.args...)
}

// expiredPredicate matches events past both the cutoff and their own retention period
const expiredPredicate = "timestamp < $1 AND timestamp + retention_days * INTERVAL '1 day' < $2"

// DeleteBefore implements audit.Store. The live and archive tables are purged in one transaction.
func (s *Store) DeleteBefore(ctx context.Context, cutoff, now time.Time) (deleted int64, err error) {
	ctx, span := startSpan(ctx, "DeleteBefore")
	defer func() { endSpan(span, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{eventsTable, archiveTable} {
		result, execErr := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+expiredPredicate, cutoff, now)
		if execErr != nil {
			err = fmt.Errorf("failed to delete from %s: %w", table, execErr)
			return 0, err
		}
		n, rowsErr := result.RowsAffected()
		if rowsErr != nil {
			err = fmt.Errorf("failed to read deleted row count: %w", rowsErr)
			return 0, err
		}
		deleted += n
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete transaction: %w", err)
	}
	span.SetAttributes(attribute.Int64("audit.deleted", deleted))
	return deleted, nil
}

// ArchiveBefore implements audit.Store. Events are copied to the archive table
// and removed from the searchable table in one transaction.
func (s *Store) ArchiveBefore(ctx context.Context, cutoff time.Time) (moved int64, err error) {
	ctx, span := startSpan(ctx, "ArchiveBefore")
	defer func() { endSpan(span, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	copyQuery := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE timestamp < $1",
		archiveTable, insertList, insertList, eventsTable)
	if _, err = tx.ExecContext(ctx, copyQuery, cutoff); err != nil {
		return 0, fmt.Errorf("failed to copy audit events to archive: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM "+eventsTable+" WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to remove archived audit events: %w", err)
	}
	if moved, err = result.RowsAffected(); err != nil {
		return 0, fmt.Errorf("failed to read archived row count: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	span.SetAttributes(attribute.Int64("audit.archived", moved))
	return moved, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*audit.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []*audit.AuditEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

func insertArgs(e *audit.AuditEvent) ([]interface{}, error) {
	var duration sql.NullInt64
	if e.DurationMs != nil {
		duration = sql.NullInt64{Int64: *e.DurationMs, Valid: true}
	}

	var jsonArgs [6]interface{}
	for i, v := range []interface{}{e.OldValues, e.NewValues, e.Tags, e.Metadata, e.SecurityContext, e.ComplianceFlags} {
		encoded, err := jsonb(v)
		if err != nil {
			return nil, err
		}
		jsonArgs[i] = encoded
	}

	return []interface{}{
		e.ID, e.Timestamp, e.RetentionDays,
		string(e.Action), string(e.Severity), e.Category,
		e.ServiceName, e.ResourceType, e.ResourceID,
		e.UserID, e.Username, e.SessionID, e.TenantID,
		e.CorrelationID, e.TraceID,
		e.IPAddress, e.UserAgent, e.HTTPMethod, e.RequestURI, e.HTTPStatus, duration,
		e.Success, e.ErrorMessage, e.ExceptionType,
		jsonArgs[0], jsonArgs[1],
		jsonArgs[2], jsonArgs[3], jsonArgs[4], jsonArgs[5],
		e.Severity.Level(),
	}, nil
}

// jsonb encodes a map for a JSONB column. Empty maps are stored as NULL, and
// the encoding is passed as text since lib/pq sends []byte as bytea.
func jsonb(v interface{}) (interface{}, error) {
	switch m := v.(type) {
	case map[string]interface{}:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]bool:
		if len(m) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit event field: %w", err)
	}
	return string(b), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*audit.AuditEvent, error) {
	var (
		e                               audit.AuditEvent
		action, severity                string
		duration                        sql.NullInt64
		oldValues, newValues            []byte
		tags, metadata, security, flags []byte
	)
	err := row.Scan(
		&e.ID, &e.Timestamp, &e.RetentionDays,
		&action, &severity, &e.Category,
		&e.ServiceName, &e.ResourceType, &e.ResourceID,
		&e.UserID, &e.Username, &e.SessionID, &e.TenantID,
		&e.CorrelationID, &e.TraceID,
		&e.IPAddress, &e.UserAgent, &e.HTTPMethod, &e.RequestURI, &e.HTTPStatus, &duration,
		&e.Success, &e.ErrorMessage, &e.ExceptionType,
		&oldValues, &newValues,
		&tags, &metadata, &security, &flags,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	e.Action = audit.Action(action)
	e.Severity = audit.Severity(severity)
	e.Timestamp = e.Timestamp.UTC()
	if duration.Valid {
		d := duration.Int64
		e.DurationMs = &d
	}

	targets := []struct {
		raw []byte
		dst interface{}
	}{
		{oldValues, &e.OldValues},
		{newValues, &e.NewValues},
		{tags, &e.Tags},
		{metadata, &e.Metadata},
		{security, &e.SecurityContext},
		{flags, &e.ComplianceFlags},
	}
	for _, t := range targets {
		if len(t.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(t.raw, t.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit event %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

var _ audit.Store = (*Store)(nil)
