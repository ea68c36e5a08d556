package audit

import (
	"encoding/json"
	"time"
)

// AuditEvent is one record of an audited action.
//
// Identity, classification and outcome fields are fixed once the event is
// dispatched. The annotation maps may be written until then and are allocated
// on first use by their setters.
type AuditEvent struct {
	// Identity
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	RetentionDays int       `json:"retention_days"`

	// Classification
	Action   Action   `json:"action"`
	Severity Severity `json:"severity"`
	Category string   `json:"category,omitempty"`

	// Subject and actor
	ServiceName  string `json:"service_name"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	Username     string `json:"username,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`

	// Correlation
	CorrelationID string `json:"correlation_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	HTTPMethod string `json:"http_method,omitempty"`
	RequestURI string `json:"request_uri,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`
	DurationMs *int64 `json:"duration_ms,omitempty"`

	// Outcome
	Success       bool   `json:"success"`
	ErrorMessage  string `json:"error_message,omitempty"`
	ExceptionType string `json:"exception_type,omitempty"`

	// Change payload
	OldValues map[string]interface{} `json:"old_values,omitempty"`
	NewValues map[string]interface{} `json:"new_values,omitempty"`

	// Annotations
	Tags            map[string]string      `json:"tags,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	SecurityContext map[string]interface{} `json:"security_context,omitempty"`
	ComplianceFlags map[string]bool        `json:"compliance_flags,omitempty"`
}

// NewEvent returns a successful INFO event for action.
// Identity fields are left for the service to fill in.
func NewEvent(action Action) *AuditEvent {
	return &AuditEvent{
		Action:   action,
		Severity: SeverityInfo,
		Success:  true,
	}
}

// SetTag sets a tag, allocating the map if needed
func (e *AuditEvent) SetTag(key, value string) *AuditEvent {
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	e.Tags[key] = value
	return e
}

// SetMetadata sets a metadata entry, allocating the map if needed
func (e *AuditEvent) SetMetadata(key string, value interface{}) *AuditEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// SetSecurityContext sets a security context entry, allocating the map if needed
func (e *AuditEvent) SetSecurityContext(key string, value interface{}) *AuditEvent {
	if e.SecurityContext == nil {
		e.SecurityContext = make(map[string]interface{})
	}
	e.SecurityContext[key] = value
	return e
}

// SetComplianceFlag marks the event as relevant (or not) to a regulation
func (e *AuditEvent) SetComplianceFlag(regulation Regulation, value bool) *AuditEvent {
	if e.ComplianceFlags == nil {
		e.ComplianceFlags = make(map[string]bool)
	}
	e.ComplianceFlags[string(regulation)] = value
	return e
}

// SetDuration records the request duration in milliseconds
func (e *AuditEvent) SetDuration(ms int64) *AuditEvent {
	e.DurationMs = &ms
	return e
}

// HasMetadata reports whether key is present in Metadata, whatever its value
func (e *AuditEvent) HasMetadata(key string) bool {
	_, ok := e.Metadata[key]
	return ok
}

// HasComplianceFlag reports whether the flag for regulation is present and true
func (e *AuditEvent) HasComplianceFlag(regulation Regulation) bool {
	return e.ComplianceFlags[string(regulation)]
}

// IsSecuritySensitive is true for authentication and permission actions,
// and for ERROR or CRITICAL events of any action.
func (e *AuditEvent) IsSecuritySensitive() bool {
	for _, a := range SecuritySensitiveActions {
		if e.Action == a {
			return true
		}
	}
	return e.Severity == SeverityError || e.Severity == SeverityCritical
}

// RequiresLongTermRetention is true when any regulation flag is set
func (e *AuditEvent) RequiresLongTermRetention() bool {
	for _, reg := range Regulations {
		if e.HasComplianceFlag(reg) {
			return true
		}
	}
	return false
}

// Validate checks the fields required before persistence
func (e *AuditEvent) Validate() error {
	switch {
	case e.Action == "":
		return validationError("missing_action", "action is required")
	case !e.Action.Valid():
		return validationError("unknown_action", "unknown action "+string(e.Action))
	case isBlank(e.ServiceName):
		return validationError("missing_service_name", "service name is required")
	case e.Timestamp.IsZero():
		return validationError("missing_timestamp", "timestamp is required")
	}
	return nil
}

// Clone returns a deep copy of the event. Map values are copied one level deep.
func (e *AuditEvent) Clone() *AuditEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.DurationMs != nil {
		d := *e.DurationMs
		c.DurationMs = &d
	}
	c.OldValues = cloneAnyMap(e.OldValues)
	c.NewValues = cloneAnyMap(e.NewValues)
	c.Metadata = cloneAnyMap(e.Metadata)
	c.SecurityContext = cloneAnyMap(e.SecurityContext)
	if e.Tags != nil {
		c.Tags = make(map[string]string, len(e.Tags))
		for k, v := range e.Tags {
			c.Tags[k] = v
		}
	}
	if e.ComplianceFlags != nil {
		c.ComplianceFlags = make(map[string]bool, len(e.ComplianceFlags))
		for k, v := range e.ComplianceFlags {
			c.ComplianceFlags[k] = v
		}
	}
	return &c
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func cloneAnyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
