package audit

import (
	"context"
	"fmt"
	"time"
)

// Store persists audit events and answers the read queries of the service and
// the compliance reporter. Implementations must be safe for concurrent use;
// every call is treated as independently atomic.
type Store interface {
	// Save appends one event. The store never updates an existing event.
	Save(ctx context.Context, event *AuditEvent) (*AuditEvent, error)

	// Search returns the requested page of matching events and the total match count.
	// Criteria are normalized by the caller.
	Search(ctx context.Context, criteria Criteria) ([]*AuditEvent, int64, error)

	// Count returns the number of events matching criteria, ignoring pagination
	Count(ctx context.Context, criteria Criteria) (int64, error)

	// CountBy groups events in [start, end) by field
	CountBy(ctx context.Context, field GroupField, start, end time.Time) (map[string]int64, error)

	// TopUsers returns the limit most active users in [start, end), most active first
	TopUsers(ctx context.Context, start, end time.Time, limit int) ([]UserCount, error)

	// CountByHour groups events in [start, end) by UTC hour of day (0-23)
	CountByHour(ctx context.Context, start, end time.Time) (map[int]int64, error)

	// CountByDay groups events in [start, end) by UTC calendar day (YYYY-MM-DD)
	CountByDay(ctx context.Context, start, end time.Time) (map[string]int64, error)

	// AverageDuration averages DurationMs over events that recorded one; 0 when none did
	AverageDuration(ctx context.Context, start, end time.Time) (float64, error)

	// SuccessRate is the percentage of successful events; 0 when the window is empty
	SuccessRate(ctx context.Context, start, end time.Time) (float64, error)

	// FindByComplianceFlag returns events in [start, end) whose flag for regulation is true,
	// restricted to userID when it is not empty
	FindByComplianceFlag(ctx context.Context, regulation Regulation, start, end time.Time, userID string) ([]*AuditEvent, error)

	// DeleteBefore removes live and archived events older than cutoff whose own
	// retention period (timestamp + RetentionDays) has elapsed at now, and returns
	// how many were removed
	DeleteBefore(ctx context.Context, cutoff, now time.Time) (int64, error)

	// ArchiveBefore moves events older than cutoff to archival storage
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserCount is one row of a top-users breakdown
type UserCount struct {
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}

// GroupField names an event attribute usable for group-by aggregation
type GroupField string

const (
	GroupByAction       GroupField = "action"
	GroupBySeverity     GroupField = "severity"
	GroupByService      GroupField = "service_name"
	GroupByCategory     GroupField = "category"
	GroupByResourceType GroupField = "resource_type"
	GroupByTenant       GroupField = "tenant_id"
	GroupByUser         GroupField = "user_id"
)

var groupFields = map[GroupField]func(*AuditEvent) string{
	GroupByAction:       func(e *AuditEvent) string { return string(e.Action) },
	GroupBySeverity:     func(e *AuditEvent) string { return string(e.Severity) },
	GroupByService:      func(e *AuditEvent) string { return e.ServiceName },
	GroupByCategory:     func(e *AuditEvent) string { return e.Category },
	GroupByResourceType: func(e *AuditEvent) string { return e.ResourceType },
	GroupByTenant:       func(e *AuditEvent) string { return e.TenantID },
	GroupByUser:         func(e *AuditEvent) string { return e.UserID },
}

// ParseGroupField validates a group-by field name
func ParseGroupField(s string) (GroupField, error) {
	f := GroupField(s)
	if _, ok := groupFields[f]; !ok {
		return "", fmt.Errorf("%w: unsupported group-by field %q", ErrInvalidCriteria, s)
	}
	return f, nil
}

// Value extracts the field from an event
func (f GroupField) Value(e *AuditEvent) string {
	if fn, ok := groupFields[f]; ok {
		return fn(e)
	}
	return ""
}

// Column returns the storage column backing the field
func (f GroupField) Column() string {
	return string(f)
}

// DayFormat is the layout of CountByDay keys
const DayFormat = "2006-01-02"
