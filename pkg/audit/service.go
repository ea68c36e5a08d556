package audit

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/auditcore/pkg/async"
	"github.com/platinummonkey/auditcore/pkg/observability"
)

// Config is the per-process configuration of the audit service
type Config struct {
	// ServiceName identifies the emitting component on every event
	ServiceName string
	// AsyncEnabled lets non-critical shorthands dispatch on the worker pool
	AsyncEnabled bool
	// DefaultRetentionDays is applied to events without a retention period
	DefaultRetentionDays int
	// LongTermRetentionDays is forced on compliance audits
	LongTermRetentionDays int
	// SyncCategories lists the shorthand categories that always dispatch synchronously.
	// A category mapped to false honors AsyncEnabled like any other audit.
	SyncCategories map[string]bool

	Workers       int
	QueueSize     int
	WriteTimeout  time.Duration
	ExportTimeout time.Duration
	// TopUsers is the size of the top-users statistics breakdown
	TopUsers int
}

// DefaultConfig returns the configuration used for zero-valued fields
func DefaultConfig() Config {
	return Config{
		ServiceName:           "auditcore",
		AsyncEnabled:          true,
		DefaultRetentionDays:  DefaultRetentionDays,
		LongTermRetentionDays: DefaultRetentionDays,
		SyncCategories: map[string]bool{
			CategorySecurity:      true,
			CategoryCompliance:    true,
			CategoryConfiguration: true,
			CategoryError:         true,
		},
		Workers:       4,
		QueueSize:     1024,
		WriteTimeout:  10 * time.Second,
		ExportTimeout: 10 * time.Minute,
		TopUsers:      10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ServiceName == "" {
		c.ServiceName = d.ServiceName
	}
	if c.DefaultRetentionDays <= 0 {
		c.DefaultRetentionDays = d.DefaultRetentionDays
	}
	if c.LongTermRetentionDays <= 0 {
		c.LongTermRetentionDays = d.LongTermRetentionDays
	}
	if c.SyncCategories == nil {
		c.SyncCategories = d.SyncCategories
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = d.ExportTimeout
	}
	if c.TopUsers <= 0 {
		c.TopUsers = d.TopUsers
	}
	return c
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the Prometheus collectors
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithArtifactStore sets where export files are written
func WithArtifactStore(artifacts ArtifactStore) Option {
	return func(s *Service) { s.artifacts = artifacts }
}

// WithExportRegistry sets where export descriptors are kept
func WithExportRegistry(registry ExportRegistry) Option {
	return func(s *Service) { s.exports = registry }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service enriches, validates and dispatches audit events, and serves the
// search, statistics and export read paths.
type Service struct {
	store     Store
	cfg       Config
	logger    *observability.Logger
	metrics   *observability.Metrics
	pool      *async.WorkerPool
	artifacts ArtifactStore
	exports   ExportRegistry
	now       func() time.Time
}

// NewService creates a service writing to store. Call Close to drain async writes.
func NewService(store Store, cfg Config, opts ...Option) *Service {
	s := &Service{
		store: store,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s.logger = s.logger.WithField("component", "audit")
	if s.artifacts == nil {
		s.artifacts = NewMemoryArtifactStore(s.now)
	}
	if s.exports == nil {
		s.exports = NewMemoryExportRegistry()
	}
	s.pool = async.NewWorkerPool(context.Background(), s.cfg.Workers, s.cfg.QueueSize,
		"audit writer", s.cfg.WriteTimeout, s.logger)
	return s
}

// Config returns the effective configuration
func (s *Service) Config() Config {
	return s.cfg
}

// Close stops accepting async writes and waits up to timeout for queued ones
func (s *Service) Close(timeout time.Duration) error {
	return s.pool.Shutdown(timeout)
}

// Audit persists event synchronously. It never fails the caller: validation and
// store errors are logged and counted, and a panicking store is recovered.
// Cancelling ctx does not abandon the write; only WriteTimeout bounds it.
func (s *Service) Audit(ctx context.Context, event *AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("stack", string(debug.Stack())).Errorf("panic while auditing: %v", r)
			s.metrics.RecordEvent("sync", "failed", 0)
		}
	}()

	prepared, err := s.prepare(ctx, event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	defer cancel()
	_, _ = s.persist(ctx, prepared, "sync")
}

// AuditAsync enriches and validates event on the caller's goroutine, then
// persists a copy on the worker pool. The future reports the outcome; leaving it
// unobserved has no effect on the caller. When the queue is full the event is
// dropped and the future fails with async.ErrQueueFull instead of blocking.
func (s *Service) AuditAsync(ctx context.Context, event *AuditEvent) *async.Future[*AuditEvent] {
	prepared, err := s.prepare(ctx, event)
	if err != nil {
		return async.Resolved[*AuditEvent](nil, err)
	}

	handoff := prepared.Clone()
	f := async.TrySubmit(s.pool, func(wctx context.Context) (*AuditEvent, error) {
		defer s.metrics.SetQueueDepth(s.pool.Pending())
		return s.persist(wctx, handoff, "async")
	})
	s.metrics.SetQueueDepth(s.pool.Pending())
	if f.Ready() {
		if _, err := f.Wait(context.Background()); errors.Is(err, async.ErrQueueFull) {
			s.metrics.RecordRejection("queue_full")
			s.eventLogger(handoff).Error("audit queue full, event dropped")
		}
	}
	return f
}

// dispatch routes a shorthand-built event. Events of a forced-sync category are
// written before returning; the rest follow AsyncEnabled.
func (s *Service) dispatch(ctx context.Context, event *AuditEvent) {
	if s.cfg.AsyncEnabled && !s.cfg.SyncCategories[event.Category] {
		s.AuditAsync(ctx, event)
		return
	}
	s.Audit(ctx, event)
}

// prepare runs enrichment then validation
func (s *Service) prepare(ctx context.Context, event *AuditEvent) (*AuditEvent, error) {
	if event == nil {
		err := validationError("nil_event", "event is nil")
		s.reject(err, nil)
		return nil, err
	}
	s.enrich(ctx, event)
	if err := event.Validate(); err != nil {
		s.reject(err, event)
		return nil, err
	}
	return event, nil
}

// enrich fills absent fields only: service name, timestamp, id, retention,
// severity, then the bound AuditContext and the active trace.
func (s *Service) enrich(ctx context.Context, e *AuditEvent) {
	if isBlank(e.ServiceName) {
		e.ServiceName = s.cfg.ServiceName
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RetentionDays <= 0 {
		e.RetentionDays = s.cfg.DefaultRetentionDays
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if ac := ContextFrom(ctx); ac != nil {
		ac.Snapshot().Apply(e)
	}
	if e.TraceID == "" {
		e.TraceID = observability.TraceIDFromContext(ctx)
	}
}

func (s *Service) persist(ctx context.Context, e *AuditEvent, mode string) (*AuditEvent, error) {
	start := time.Now()
	saved, err := s.store.Save(ctx, e)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.RecordEvent(mode, "failed", elapsed)
		s.eventLogger(e).WithError(err).Error("failed to persist audit event")
		return nil, fmt.Errorf("persist audit event %s: %w", e.ID, err)
	}
	s.metrics.RecordEvent(mode, "persisted", elapsed)
	if saved == nil {
		saved = e
	}
	return saved, nil
}

func (s *Service) reject(err error, e *AuditEvent) {
	reason := "invalid"
	if ve, ok := err.(*ValidationError); ok {
		reason = ve.Reason
	}
	s.metrics.RecordRejection(reason)
	logger := s.logger
	if e != nil {
		logger = s.eventLogger(e)
	}
	logger.WithError(err).Warn("audit event rejected")
}

func (s *Service) eventLogger(e *AuditEvent) *observability.Logger {
	return s.logger.WithFields(map[string]interface{}{
		"event_id": e.ID,
		"action":   string(e.Action),
		"service":  e.ServiceName,
	})
}
