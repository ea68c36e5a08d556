package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/platinummonkey/auditcore/pkg/observability"
)

type auditContextKey struct{}

// AuditContext carries the correlation data shared by the events of one logical operation.
//
// It is bound to a context.Context by StartAuditContext and stays bound until Close.
// Events audited with a context derived from it inherit its identifiers and data.
type AuditContext struct {
	mu            sync.Mutex
	correlationID string
	userID        string
	sessionID     string
	traceID       string
	data          map[string]interface{}
	closed        bool
}

// ContextSnapshot is an immutable copy of an AuditContext taken at enrichment time
type ContextSnapshot struct {
	CorrelationID string
	UserID        string
	SessionID     string
	TraceID       string
	Data          map[string]interface{}
}

// StartAuditContext binds a new AuditContext to ctx. An empty correlationID is replaced
// with a generated one. Starting a context inside another shadows the outer one for
// the returned ctx only.
//
//	ctx, ac := audit.StartAuditContext(ctx, "", userID, sessionID)
//	defer ac.Close()
func StartAuditContext(ctx context.Context, correlationID, userID, sessionID string) (context.Context, *AuditContext) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ac := &AuditContext{
		correlationID: correlationID,
		userID:        userID,
		sessionID:     sessionID,
	}
	ctx = context.WithValue(ctx, auditContextKey{}, ac)
	ctx = observability.WithCorrelationID(ctx, correlationID)
	return ctx, ac
}

// ContextFrom returns the open AuditContext bound to ctx, or nil
func ContextFrom(ctx context.Context) *AuditContext {
	if ctx == nil {
		return nil
	}
	ac, ok := ctx.Value(auditContextKey{}).(*AuditContext)
	if !ok || ac.IsClosed() {
		return nil
	}
	return ac
}

func (c *AuditContext) CorrelationID() string {
	return c.correlationID
}

func (c *AuditContext) UserID() string {
	return c.userID
}

func (c *AuditContext) SessionID() string {
	return c.sessionID
}

// TraceID returns the trace id, or "" if none was set
func (c *AuditContext) TraceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traceID
}

// SetTraceID links the context to a distributed trace. Only the first
// non-empty value is kept; it reports whether this call set it.
func (c *AuditContext) SetTraceID(traceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || traceID == "" || c.traceID != "" {
		return false
	}
	c.traceID = traceID
	return true
}

// AddContextData adds a key merged into the metadata of every later event
func (c *AuditContext) AddContextData(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.data == nil {
		c.data = make(map[string]interface{})
	}
	c.data[key] = value
}

// Close unbinds the context. Calling it more than once is a no-op.
func (c *AuditContext) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.data = nil
}

// IsClosed reports whether Close has been called
func (c *AuditContext) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Snapshot copies the current identifiers and data
func (c *AuditContext) Snapshot() ContextSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := ContextSnapshot{
		CorrelationID: c.correlationID,
		UserID:        c.userID,
		SessionID:     c.sessionID,
		TraceID:       c.traceID,
	}
	if len(c.data) > 0 {
		snap.Data = make(map[string]interface{}, len(c.data))
		for k, v := range c.data {
			snap.Data[k] = v
		}
	}
	return snap
}

// Apply fills the event's absent correlation fields and metadata keys from the snapshot
func (s ContextSnapshot) Apply(e *AuditEvent) {
	if e.CorrelationID == "" {
		e.CorrelationID = s.CorrelationID
	}
	if e.UserID == "" {
		e.UserID = s.UserID
	}
	if e.SessionID == "" {
		e.SessionID = s.SessionID
	}
	if e.TraceID == "" {
		e.TraceID = s.TraceID
	}
	for k, v := range s.Data {
		if !e.HasMetadata(k) {
			e.SetMetadata(k, v)
		}
	}
}
