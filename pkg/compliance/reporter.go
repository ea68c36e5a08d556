package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/observability"
)

var tracer = otel.Tracer("github.com/platinummonkey/auditcore/pkg/compliance")

// ErrUnknownRegulation is returned for a regulation without a rule set
var ErrUnknownRegulation = errors.New("unknown regulation")

// Config tunes the reporter
type Config struct {
	// InternalControlCategory is the event category scored by the SOX internal control rule
	InternalControlCategory string
	// ErrorRateThreshold is the failed-event percentage above which HIGH_ERROR_RATE is raised
	ErrorRateThreshold float64
	// CacheSize bounds the number of cached dashboards. Zero disables caching.
	CacheSize int
	// CacheTTL is how long a cached dashboard is served
	CacheTTL time.Duration
}

// DefaultConfig returns the reporter defaults
func DefaultConfig() Config {
	return Config{
		InternalControlCategory: DefaultInternalControlCategory,
		ErrorRateThreshold:      5.0,
		CacheSize:               64,
		CacheTTL:                5 * time.Minute,
	}
}

// Option configures a Reporter
type Option func(*Reporter)

// WithLogger sets the reporter logger
func WithLogger(logger *observability.Logger) Option {
	return func(r *Reporter) { r.logger = logger }
}

// WithMetrics publishes dashboard scores to the compliance score gauge
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Reporter) { r.metrics = metrics }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// Report is the outcome of scoring one regulation over a window
type Report struct {
	Regulation      audit.Regulation   `json:"regulation"`
	PeriodStart     time.Time          `json:"period_start"`
	PeriodEnd       time.Time          `json:"period_end"`
	UserID          string             `json:"user_id,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
	TotalEvents     int                `json:"total_events"`
	Partitions      map[string]int     `json:"partitions"`
	Scores          map[string]float64 `json:"scores"`
	Recommendations []string           `json:"recommendations"`
}

// Reporter derives compliance reports and dashboards from the audit store.
// Every query failure is returned to the caller.
type Reporter struct {
	store   audit.Store
	cfg     Config
	rules   map[audit.Regulation]RuleSet
	cache   *lru.LRU[string, *Dashboard]
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewReporter creates a reporter reading from store
func NewReporter(store audit.Store, cfg Config, opts ...Option) *Reporter {
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = DefaultConfig().ErrorRateThreshold
	}
	if cfg.CacheSize > 0 && cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}

	r := &Reporter{
		store: store,
		cfg:   cfg,
		rules: map[audit.Regulation]RuleSet{
			audit.RegulationGDPR:   GDPRRules(),
			audit.RegulationPCIDSS: PCIDSSRules(),
			audit.RegulationSOX:    SOXRules(cfg.InternalControlCategory),
			audit.RegulationHIPAA:  HIPAARules(),
		},
		logger: observability.NewLogger(observability.InfoLevel, nil),
		now:    time.Now,
	}
	if cfg.CacheSize > 0 {
		r.cache = lru.NewLRU[string, *Dashboard](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GenerateReport scores regulation over [start, end), restricted to userID when it is not empty
func (r *Reporter) GenerateReport(ctx context.Context, regulation audit.Regulation, start, end time.Time, userID string) (report *Report, err error) {
	rules, ok := r.rules[regulation]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegulation, regulation)
	}

	ctx, span := tracer.Start(ctx, "ComplianceReporter.GenerateReport",
		trace.WithAttributes(
			attribute.String("compliance.regulation", string(regulation)),
			attribute.Bool("compliance.user_scoped", userID != ""),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	events, err := r.store.FindByComplianceFlag(ctx, regulation, start, end, userID)
	if err != nil {
		return nil, fmt.Errorf("%s report: %w", regulation, err)
	}

	partitions, scores, recommendations := rules.Evaluate(events)
	span.SetAttributes(attribute.Int("compliance.events", len(events)))

	r.logger.WithFields(map[string]interface{}{
		"regulation": string(regulation),
		"events":     len(events),
		"user_id":    userID,
	}).Debug("compliance report generated")

	return &Report{
		Regulation:      regulation,
		PeriodStart:     start,
		PeriodEnd:       end,
		UserID:          userID,
		GeneratedAt:     r.now().UTC(),
		TotalEvents:     len(events),
		Partitions:      partitions,
		Scores:          scores,
		Recommendations: recommendations,
	}, nil
}

// GDPRReport scores GDPR over [start, end)
func (r *Reporter) GDPRReport(ctx context.Context, start, end time.Time, userID string) (*Report, error) {
	return r.GenerateReport(ctx, audit.RegulationGDPR, start, end, userID)
}

// PCIDSSReport scores PCI DSS over [start, end)
func (r *Reporter) PCIDSSReport(ctx context.Context, start, end time.Time, userID string) (*Report, error) {
	return r.GenerateReport(ctx, audit.RegulationPCIDSS, start, end, userID)
}

// SOXReport scores SOX over [start, end)
func (r *Reporter) SOXReport(ctx context.Context, start, end time.Time, userID string) (*Report, error) {
	return r.GenerateReport(ctx, audit.RegulationSOX, start, end, userID)
}

// HIPAAReport scores HIPAA over [start, end)
func (r *Reporter) HIPAAReport(ctx context.Context, start, end time.Time, userID string) (*Report, error) {
	return r.GenerateReport(ctx, audit.RegulationHIPAA, start, end, userID)
}

// ParseRegulation validates a regulation name
func ParseRegulation(s string) (audit.Regulation, error) {
	for _, reg := range audit.Regulations {
		if string(reg) == s {
			return reg, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRegulation, s)
}
