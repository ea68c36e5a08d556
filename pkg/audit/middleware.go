package audit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/auditcore/pkg/observability"
)

// Request headers read by the middleware
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderUserID        = "X-User-ID"
	HeaderSessionID     = "X-Session-ID"
)

// Middleware binds an AuditContext to every request and records an API request
// audit once the handler returns.
type Middleware struct {
	service   *Service
	skipPaths []string
}

// NewMiddleware creates a new audit middleware. Requests whose path starts with
// one of skipPaths are served without auditing.
func NewMiddleware(service *Service, skipPaths ...string) *Middleware {
	return &Middleware{
		service:   service,
		skipPaths: skipPaths,
	}
}

// Handler wraps an HTTP handler with audit logging
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		userID := r.Header.Get(HeaderUserID)

		ctx, ac := StartAuditContext(r.Context(), r.Header.Get(HeaderCorrelationID), userID, r.Header.Get(HeaderSessionID))
		defer ac.Close()
		ac.SetTraceID(observability.TraceIDFromContext(ctx))
		ctx = observability.WithLogger(ctx, m.service.logger)
		w.Header().Set(HeaderCorrelationID, ac.CorrelationID())

		rw := observability.NewStatusRecorder(w)
		next.ServeHTTP(rw, r.WithContext(ctx))

		m.service.AuditAPIRequest(ctx, r.Method, r.URL.RequestURI(), userID, clientIP(r), r.UserAgent(),
			rw.Status, time.Since(start).Milliseconds())
	})
}

func (m *Middleware) skip(path string) bool {
	for _, prefix := range m.skipPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// clientIP prefers the first X-Forwarded-For hop over the socket address
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
