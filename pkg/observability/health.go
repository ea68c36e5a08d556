package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Probe checks a single dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

type namedProbe struct {
	name     string
	probe    Probe
	critical bool
}

// HealthChecker aggregates dependency probes into liveness and readiness endpoints.
// A failing critical probe makes the service unhealthy; any other failure only degrades it.
type HealthChecker struct {
	version string
	mu      sync.RWMutex
	probes  []namedProbe
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHealthChecker creates a health checker reporting the given build version
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{version: version}
}

// AddProbe registers a dependency probe
func (h *HealthChecker) AddProbe(name string, critical bool, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, namedProbe{name: name, probe: probe, critical: critical})
}

// Check runs every probe concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := append([]namedProbe(nil), h.probes...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(probes)),
	}

	results := make([]DependencyStatus, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p namedProbe) {
			defer wg.Done()
			start := time.Now()
			dep := DependencyStatus{Status: StatusHealthy, Timestamp: start.UTC()}
			if err := p.probe(ctx); err != nil {
				dep.Status = StatusUnhealthy
				dep.Message = err.Error()
			}
			dep.LatencyMs = time.Since(start).Milliseconds()
			results[i] = dep
		}(i, p)
	}
	wg.Wait()

	for i, p := range probes {
		status.Dependencies[p.name] = results[i]
		if results[i].Status != StatusUnhealthy {
			continue
		}
		if p.critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

// Liveness always reports healthy while the process serves requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness runs the probes and answers 503 when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
