package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the audit core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Event pipeline
	EventsTotal          *prometheus.CounterVec
	EventPersistDuration *prometheus.HistogramVec
	RejectedEventsTotal  *prometheus.CounterVec
	AsyncQueueDepth      prometheus.Gauge

	// Exports
	ExportsTotal  *prometheus.CounterVec
	ExportRecords prometheus.Histogram

	// Compliance
	ComplianceScore *prometheus.GaugeVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditcore_events_total",
				Help: "Audit events dispatched, by dispatch mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		EventPersistDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditcore_event_persist_duration_seconds",
				Help:    "Time spent persisting a single audit event",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"mode"},
		),
		RejectedEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditcore_events_rejected_total",
				Help: "Audit events rejected before persistence, by reason",
			},
			[]string{"reason"},
		),
		AsyncQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "auditcore_async_queue_depth",
				Help: "Audit events waiting for an async worker",
			},
		),
		ExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditcore_exports_total",
				Help: "Audit exports generated, by format and outcome",
			},
			[]string{"format", "outcome"},
		),
		ExportRecords: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auditcore_export_records",
				Help:    "Number of events written per export",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		ComplianceScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "auditcore_compliance_score",
				Help: "Latest compliance score per regulation (0-100)",
			},
			[]string{"regulation"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.EventsTotal,
		m.EventPersistDuration,
		m.RejectedEventsTotal,
		m.AsyncQueueDepth,
		m.ExportsTotal,
		m.ExportRecords,
		m.ComplianceScore,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// RecordEvent counts a dispatched event and observes how long persisting it took
func (m *Metrics) RecordEvent(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(mode, outcome).Inc()
	m.EventPersistDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RecordRejection counts an event dropped before persistence (validation or a full queue)
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.RejectedEventsTotal.WithLabelValues(reason).Inc()
}

// SetQueueDepth reports the number of queued async events
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.AsyncQueueDepth.Set(float64(depth))
}

// RecordExport counts an export attempt and, on success, its record count
func (m *Metrics) RecordExport(format, outcome string, records int) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(format, outcome).Inc()
	if outcome == "success" {
		m.ExportRecords.Observe(float64(records))
	}
}

// SetComplianceScore publishes the latest score for a regulation
func (m *Metrics) SetComplianceScore(regulation string, score float64) {
	if m == nil {
		return
	}
	m.ComplianceScore.WithLabelValues(regulation).Set(score)
}

// StatusRecorder wraps http.ResponseWriter to capture the status code
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

// NewStatusRecorder returns a recorder defaulting to 200 OK
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

func (rw *StatusRecorder) WriteHeader(code int) {
	rw.Status = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelling them by mux route template
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := NewStatusRecorder(w)

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.Status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// routeTemplate returns the matched mux path template, or "unmatched"
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
