package compliance

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/auditcore/pkg/audit"
)

// RiskHighErrorRate is raised when the failed-event share of a window exceeds the threshold
const RiskHighErrorRate = "HIGH_ERROR_RATE"

// Risk severities
const (
	RiskSeverityHigh = "HIGH"
)

// RegulationSummary is the dashboard row of one regulation
type RegulationSummary struct {
	Regulation      audit.Regulation `json:"regulation"`
	TotalEvents     int              `json:"total_events"`
	CompliantEvents int              `json:"compliant_events"`
	ComplianceScore float64          `json:"compliance_score"`
}

// TrendPoint is the compliance score of one UTC day
type TrendPoint struct {
	Date            string  `json:"date"`
	TotalEvents     int     `json:"total_events"`
	ComplianceScore float64 `json:"compliance_score"`
}

// RiskIndicator flags a condition that needs attention
type RiskIndicator struct {
	Type        string  `json:"type"`
	Severity    string  `json:"severity"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Description string  `json:"description"`
}

// Dashboard summarizes compliance across every tracked regulation
type Dashboard struct {
	PeriodStart    time.Time           `json:"period_start"`
	PeriodEnd      time.Time           `json:"period_end"`
	GeneratedAt    time.Time           `json:"generated_at"`
	Summaries      []RegulationSummary `json:"summaries"`
	OverallScore   float64             `json:"overall_score"`
	Trend          []TrendPoint        `json:"trend"`
	RiskIndicators []RiskIndicator     `json:"risk_indicators"`
}

// Summary returns the row for regulation
func (d *Dashboard) Summary(regulation audit.Regulation) (RegulationSummary, bool) {
	for _, s := range d.Summaries {
		if s.Regulation == regulation {
			return s, true
		}
	}
	return RegulationSummary{}, false
}

// Dashboard computes the compliance dashboard for [start, end). When caching is
// enabled, windows that ended before now are cached; every call returns its own copy.
func (r *Reporter) Dashboard(ctx context.Context, start, end time.Time) (dashboard *Dashboard, err error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must be before end", audit.ErrInvalidCriteria)
	}

	key := start.UTC().Format(time.RFC3339Nano) + "|" + end.UTC().Format(time.RFC3339Nano)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			r.publishScores(cached)
			return cached.clone(), nil
		}
	}

	ctx, span := tracer.Start(ctx, "ComplianceReporter.Dashboard",
		trace.WithAttributes(
			attribute.String("compliance.start", start.UTC().Format(time.RFC3339)),
			attribute.String("compliance.end", end.UTC().Format(time.RFC3339)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	flagged := make([][]*audit.AuditEvent, len(audit.Regulations))
	var total, failures int64

	g, gctx := errgroup.WithContext(ctx)
	for i, reg := range audit.Regulations {
		g.Go(func() error {
			events, err := r.store.FindByComplianceFlag(gctx, reg, start, end, "")
			if err != nil {
				return fmt.Errorf("compliance dashboard: %s events: %w", reg, err)
			}
			flagged[i] = events
			return nil
		})
	}
	g.Go(func() (err error) {
		total, err = r.store.Count(gctx, audit.Window(start, end))
		if err != nil {
			return fmt.Errorf("compliance dashboard: count events: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		failures, err = r.store.Count(gctx, audit.FailedWindow(start, end))
		if err != nil {
			return fmt.Errorf("compliance dashboard: count failed events: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dashboard = &Dashboard{
		PeriodStart:    start,
		PeriodEnd:      end,
		GeneratedAt:    r.now().UTC(),
		Summaries:      make([]RegulationSummary, 0, len(audit.Regulations)),
		RiskIndicators: []RiskIndicator{},
	}

	var scoreSum float64
	for i, reg := range audit.Regulations {
		summary := summarize(reg, flagged[i])
		dashboard.Summaries = append(dashboard.Summaries, summary)
		scoreSum += summary.ComplianceScore
	}
	r.publishScores(dashboard)
	dashboard.OverallScore = scoreSum / float64(len(dashboard.Summaries))
	dashboard.Trend = dailyTrend(start, end, dedupe(flagged...))

	if indicator, ok := r.errorRateIndicator(total, failures); ok {
		dashboard.RiskIndicators = append(dashboard.RiskIndicators, indicator)
	}

	r.logger.WithFields(map[string]interface{}{
		"overall_score": dashboard.OverallScore,
		"events":        total,
		"risks":         len(dashboard.RiskIndicators),
	}).Debug("compliance dashboard generated")

	// an open window still receives events
	if r.cache != nil && !end.After(r.now()) {
		r.cache.Add(key, dashboard.clone())
	}
	return dashboard, nil
}

func (r *Reporter) publishScores(d *Dashboard) {
	for _, summary := range d.Summaries {
		r.metrics.SetComplianceScore(string(summary.Regulation), summary.ComplianceScore)
	}
}

func (d *Dashboard) clone() *Dashboard {
	c := *d
	c.Summaries = append([]RegulationSummary(nil), d.Summaries...)
	c.Trend = append([]TrendPoint(nil), d.Trend...)
	c.RiskIndicators = append([]RiskIndicator{}, d.RiskIndicators...)
	return &c
}

func (r *Reporter) errorRateIndicator(total, failures int64) (RiskIndicator, bool) {
	if total == 0 {
		return RiskIndicator{}, false
	}
	rate := float64(failures) * 100 / float64(total)
	if rate <= r.cfg.ErrorRateThreshold {
		return RiskIndicator{}, false
	}
	return RiskIndicator{
		Type:        RiskHighErrorRate,
		Severity:    RiskSeverityHigh,
		Value:       rate,
		Threshold:   r.cfg.ErrorRateThreshold,
		Description: fmt.Sprintf("%d of %d events failed", failures, total),
	}, true
}

func summarize(regulation audit.Regulation, events []*audit.AuditEvent) RegulationSummary {
	compliant := countMatching(events, succeeded)
	return RegulationSummary{
		Regulation:      regulation,
		TotalEvents:     len(events),
		CompliantEvents: compliant,
		ComplianceScore: ratio(compliant, len(events)),
	}
}

// dedupe merges event lists, keeping the first occurrence of each id
func dedupe(lists ...[]*audit.AuditEvent) []*audit.AuditEvent {
	seen := make(map[string]struct{})
	var out []*audit.AuditEvent
	for _, list := range lists {
		for _, e := range list {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// dailyTrend scores each UTC day overlapping [start, end). Days without events score 100.
func dailyTrend(start, end time.Time, events []*audit.AuditEvent) []TrendPoint {
	type bucket struct{ total, compliant int }
	buckets := make(map[string]*bucket)
	for _, e := range events {
		day := e.Timestamp.UTC().Format(audit.DayFormat)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
		}
		b.total++
		if e.Success {
			b.compliant++
		}
	}

	var trend []TrendPoint
	s := start.UTC()
	for day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC); day.Before(end); day = day.AddDate(0, 0, 1) {
		key := day.Format(audit.DayFormat)
		point := TrendPoint{Date: key, ComplianceScore: 100}
		if b, ok := buckets[key]; ok {
			point.TotalEvents = b.total
			point.ComplianceScore = ratio(b.compliant, b.total)
		}
		trend = append(trend, point)
	}
	return trend
}
