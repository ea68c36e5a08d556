package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SortDirection orders search results
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

const (
	// DefaultPageSize is used when Criteria.Size is zero
	DefaultPageSize = 20
	// MaxPageSize bounds a single paged request
	MaxPageSize = 1000
	// Unpaged as Criteria.Size returns every match in one page
	Unpaged = -1
	// DefaultSortField is the field searches sort on when none is given
	DefaultSortField = "timestamp"
)

// sortable maps the accepted sort fields to an ordering on events
var sortable = map[string]func(a, b *AuditEvent) int{
	"timestamp":    func(a, b *AuditEvent) int { return a.Timestamp.Compare(b.Timestamp) },
	"action":       func(a, b *AuditEvent) int { return strings.Compare(string(a.Action), string(b.Action)) },
	"severity":     func(a, b *AuditEvent) int { return a.Severity.Level() - b.Severity.Level() },
	"service_name": func(a, b *AuditEvent) int { return strings.Compare(a.ServiceName, b.ServiceName) },
	"category":     func(a, b *AuditEvent) int { return strings.Compare(a.Category, b.Category) },
	"user_id":      func(a, b *AuditEvent) int { return strings.Compare(a.UserID, b.UserID) },
	"http_status":  func(a, b *AuditEvent) int { return a.HTTPStatus - b.HTTPStatus },
	"duration_ms": func(a, b *AuditEvent) int {
		return compareInt64(durationOf(a), durationOf(b))
	},
}

// SortFields lists the accepted sort fields
func SortFields() []string {
	fields := make([]string, 0, len(sortable))
	for f := range sortable {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Criteria selects audit events. Every non-zero filter must match; zero filters
// impose no constraint. The time range is half-open: [Start, End).
type Criteria struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	UserID        string   `json:"user_id,omitempty"`
	ResourceType  string   `json:"resource_type,omitempty"`
	ResourceID    string   `json:"resource_id,omitempty"`
	Action        Action   `json:"action,omitempty"`
	Actions       []Action `json:"actions,omitempty"`
	Severity      Severity `json:"severity,omitempty"`
	ServiceName   string   `json:"service_name,omitempty"`
	Category      string   `json:"category,omitempty"`
	Success       *bool    `json:"success,omitempty"`
	IPAddress     string   `json:"ip_address,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
	TenantID      string   `json:"tenant_id,omitempty"`

	// Equality filters on annotation maps. Metadata values compare by their string form.
	Tags     map[string]string `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Pagination, zero based
	Page int `json:"page"`
	Size int `json:"size"`

	SortField     string        `json:"sort_field,omitempty"`
	SortDirection SortDirection `json:"sort_direction,omitempty"`
}

// Normalize applies defaults and rejects unusable values
func (c Criteria) Normalize() (Criteria, error) {
	if c.Page < 0 {
		return c, fmt.Errorf("%w: page must not be negative", ErrInvalidCriteria)
	}
	switch {
	case c.Size == 0:
		c.Size = DefaultPageSize
	case c.Size < 0:
		c.Size = Unpaged
		c.Page = 0
	case c.Size > MaxPageSize:
		c.Size = MaxPageSize
	}
	if c.SortField == "" {
		c.SortField = DefaultSortField
	}
	if _, ok := sortable[c.SortField]; !ok {
		return c, fmt.Errorf("%w: unsupported sort field %q", ErrInvalidCriteria, c.SortField)
	}
	switch strings.ToLower(string(c.SortDirection)) {
	case "":
		c.SortDirection = SortDesc
	case string(SortAsc):
		c.SortDirection = SortAsc
	case string(SortDesc):
		c.SortDirection = SortDesc
	default:
		return c, fmt.Errorf("%w: unsupported sort direction %q", ErrInvalidCriteria, c.SortDirection)
	}
	if c.Start != nil && c.End != nil && !c.Start.Before(*c.End) {
		return c, fmt.Errorf("%w: start must be before end", ErrInvalidCriteria)
	}
	return c, nil
}

// IsUnpaged reports whether the criteria request every match
func (c Criteria) IsUnpaged() bool {
	return c.Size < 0
}

// Offset is the index of the first event of the requested page
func (c Criteria) Offset() int {
	if c.IsUnpaged() {
		return 0
	}
	return c.Page * c.Size
}

// Matches evaluates the filters against an event
func (c Criteria) Matches(e *AuditEvent) bool {
	if c.Start != nil && e.Timestamp.Before(*c.Start) {
		return false
	}
	if c.End != nil && !e.Timestamp.Before(*c.End) {
		return false
	}
	if !matchString(c.UserID, e.UserID) ||
		!matchString(c.ResourceType, e.ResourceType) ||
		!matchString(c.ResourceID, e.ResourceID) ||
		!matchString(string(c.Action), string(e.Action)) ||
		!matchString(string(c.Severity), string(e.Severity)) ||
		!matchString(c.ServiceName, e.ServiceName) ||
		!matchString(c.Category, e.Category) ||
		!matchString(c.IPAddress, e.IPAddress) ||
		!matchString(c.CorrelationID, e.CorrelationID) ||
		!matchString(c.SessionID, e.SessionID) ||
		!matchString(c.TenantID, e.TenantID) {
		return false
	}
	if c.Success != nil && *c.Success != e.Success {
		return false
	}
	if len(c.Actions) > 0 && !containsAction(c.Actions, e.Action) {
		return false
	}
	for k, v := range c.Tags {
		if got, ok := e.Tags[k]; !ok || got != v {
			return false
		}
	}
	for k, v := range c.Metadata {
		got, ok := e.Metadata[k]
		if !ok || fmt.Sprint(got) != v {
			return false
		}
	}
	return true
}

// SortEvents orders events in place by the criteria's sort field and direction.
// Ties keep insertion order.
func (c Criteria) SortEvents(events []*AuditEvent) {
	cmp, ok := sortable[c.SortField]
	if !ok {
		cmp = sortable[DefaultSortField]
	}
	desc := c.SortDirection != SortAsc
	sort.SliceStable(events, func(i, j int) bool {
		r := cmp(events[i], events[j])
		if desc {
			return r > 0
		}
		return r < 0
	})
}

// Page is one page of search results
type Page struct {
	Events        []*AuditEvent `json:"events"`
	TotalElements int64         `json:"total_elements"`
	TotalPages    int           `json:"total_pages"`
	Page          int           `json:"page"`
	Size          int           `json:"size"`
	HasNext       bool          `json:"has_next"`
	HasPrevious   bool          `json:"has_previous"`
}

// NewPage derives the page counters from the normalized criteria and total match count
func NewPage(events []*AuditEvent, total int64, c Criteria) *Page {
	if events == nil {
		events = []*AuditEvent{}
	}
	p := &Page{
		Events:        events,
		TotalElements: total,
		Page:          c.Page,
		Size:          c.Size,
	}
	if c.IsUnpaged() {
		p.Size = len(events)
		if total > 0 {
			p.TotalPages = 1
		}
		return p
	}
	p.TotalPages = int((total + int64(c.Size) - 1) / int64(c.Size))
	p.HasNext = c.Page+1 < p.TotalPages
	p.HasPrevious = c.Page > 0
	return p
}

func matchString(want, got string) bool {
	return want == "" || want == got
}

func containsAction(actions []Action, a Action) bool {
	for _, candidate := range actions {
		if candidate == a {
			return true
		}
	}
	return false
}

func durationOf(e *AuditEvent) int64 {
	if e.DurationMs == nil {
		return -1
	}
	return *e.DurationMs
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func boolPtr(b bool) *bool {
	return &b
}
