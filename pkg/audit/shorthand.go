package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Performance buckets tagged on API request audits
const (
	PerformanceFast     = "fast"
	PerformanceModerate = "moderate"
	PerformanceSlow     = "slow"

	moderateThresholdMs = 1000
	slowThresholdMs     = 5000
)

// AuditSecurity records an authentication or authorization outcome.
// Failures are logged at WARN severity.
func (s *Service) AuditSecurity(ctx context.Context, action Action, userID, ipAddress, userAgent string, success bool, description string) {
	e := NewEvent(action)
	e.Category = CategorySecurity
	e.UserID = userID
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	e.Success = success
	if !success {
		e.Severity = SeverityWarn
		e.ErrorMessage = description
	}
	if description != "" {
		e.SetMetadata("description", description)
	}
	s.dispatch(ctx, e)
}

// AuditCompliance records an action relevant to a regulation. The event is
// flagged for the regulation and kept for the long-term retention period.
func (s *Service) AuditCompliance(ctx context.Context, action Action, resourceType, resourceID, userID string, regulation Regulation, data map[string]interface{}) {
	e := NewEvent(action)
	e.Category = CategoryCompliance
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	e.UserID = userID
	e.RetentionDays = s.cfg.LongTermRetentionDays
	e.SetComplianceFlag(regulation, true)
	for k, v := range data {
		e.SetMetadata(k, v)
	}
	s.dispatch(ctx, e)
}

// AuditDataAccess records a read of classified data
func (s *Service) AuditDataAccess(ctx context.Context, resourceType, resourceID, userID, accessType, classification string) {
	e := NewEvent(ActionRead)
	e.Category = CategoryDataAccess
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	e.UserID = userID
	e.SetTag("dataClassification", classification)
	e.SetTag("accessType", accessType)
	s.dispatch(ctx, e)
}

// AuditAPIRequest records a served HTTP request. Status codes of 400 and above
// are failures; slow requests are escalated to WARN.
func (s *Service) AuditAPIRequest(ctx context.Context, method, uri, userID, ipAddress, userAgent string, status int, durationMs int64) {
	e := NewEvent(ActionAccess)
	e.Category = CategoryAPIRequest
	e.HTTPMethod = method
	e.RequestURI = uri
	e.UserID = userID
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	e.HTTPStatus = status
	e.SetDuration(durationMs)
	e.Success = status < http.StatusBadRequest
	if !e.Success {
		e.ErrorMessage = http.StatusText(status)
	}

	bucket := performanceBucket(durationMs)
	e.SetTag("performance", bucket)
	if bucket == PerformanceSlow {
		e.Severity = SeverityWarn
	}
	s.dispatch(ctx, e)
}

// AuditBusinessProcess records one step of a business process
func (s *Service) AuditBusinessProcess(ctx context.Context, processName, step, resourceID, userID string, data map[string]interface{}, success bool) {
	e := NewEvent(ActionProcess)
	e.Category = CategoryBusinessProcess
	e.ResourceID = resourceID
	e.UserID = userID
	e.Success = success
	e.SetTag("processName", processName)
	e.SetTag("processStep", step)
	for k, v := range data {
		e.SetMetadata(k, v)
	}
	s.dispatch(ctx, e)
}

// AuditConfigChange records a configuration value moving from oldValue to newValue
func (s *Service) AuditConfigChange(ctx context.Context, configType, key string, oldValue, newValue interface{}, userID, reason string) {
	e := NewEvent(ActionConfigure)
	e.Category = CategoryConfiguration
	e.ResourceType = configType
	e.ResourceID = key
	e.UserID = userID
	e.OldValues = map[string]interface{}{key: oldValue}
	e.NewValues = map[string]interface{}{key: newValue}
	if reason != "" {
		e.SetMetadata("reason", reason)
	}
	s.dispatch(ctx, e)
}

// AuditError records a failed operation with the error chain and the current stack
func (s *Service) AuditError(ctx context.Context, action Action, resourceType, resourceID, userID string, err error, details map[string]interface{}) {
	e := NewEvent(action)
	e.Category = CategoryError
	e.Severity = SeverityError
	e.Success = false
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	e.UserID = userID
	for k, v := range details {
		e.SetMetadata(k, v)
	}

	if err == nil {
		err = errors.New("unknown error")
	}
	e.ErrorMessage = err.Error()
	e.ExceptionType = fmt.Sprintf("%T", err)
	e.SetMetadata("errorChain", errorChain(err))
	e.SetMetadata("stackTrace", string(debug.Stack()))
	s.dispatch(ctx, e)
}

func performanceBucket(durationMs int64) string {
	switch {
	case durationMs >= slowThresholdMs:
		return PerformanceSlow
	case durationMs >= moderateThresholdMs:
		return PerformanceModerate
	default:
		return PerformanceFast
	}
}

// errorChain lists the messages of err and everything it wraps, outermost first
func errorChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}
