package audit_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/audit/memory"
)

func singleEvent(t *testing.T, store *memory.Store) *audit.AuditEvent {
	t.Helper()
	events := allEvents(t, store)
	require.Len(t, events, 1)
	return events[0]
}

func TestAuditAPIRequestPerformanceBuckets(t *testing.T) {
	tests := []struct {
		durationMs int64
		bucket     string
		severity   audit.Severity
	}{
		{0, audit.PerformanceFast, audit.SeverityInfo},
		{999, audit.PerformanceFast, audit.SeverityInfo},
		{1000, audit.PerformanceModerate, audit.SeverityInfo},
		{4999, audit.PerformanceModerate, audit.SeverityInfo},
		{5000, audit.PerformanceSlow, audit.SeverityWarn},
		{60000, audit.PerformanceSlow, audit.SeverityWarn},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dms", tt.durationMs), func(t *testing.T) {
			store := memory.NewStore()
			svc, _ := newService(t, store, syncConfig())

			svc.AuditAPIRequest(context.Background(), "GET", "/orders?page=2", "u1", "10.0.0.1", "curl/8", 200, tt.durationMs)

			e := singleEvent(t, store)
			assert.Equal(t, tt.bucket, e.Tags["performance"])
			assert.Equal(t, tt.severity, e.Severity)
			require.NotNil(t, e.DurationMs)
			assert.Equal(t, tt.durationMs, *e.DurationMs)
		})
	}
}

func TestAuditAPIRequestOutcome(t *testing.T) {
	for status, success := range map[int]bool{200: true, 302: true, 399: true, 400: false, 404: false, 503: false} {
		store := memory.NewStore()
		svc, _ := newService(t, store, syncConfig())

		svc.AuditAPIRequest(context.Background(), "POST", "/orders", "u1", "10.0.0.1", "curl/8", status, 5)

		e := singleEvent(t, store)
		assert.Equal(t, success, e.Success, "status %d", status)
		assert.Equal(t, audit.ActionAccess, e.Action)
		assert.Equal(t, audit.CategoryAPIRequest, e.Category)
		assert.Equal(t, "POST", e.HTTPMethod)
		assert.Equal(t, "/orders", e.RequestURI)
		assert.Equal(t, status, e.HTTPStatus)
	}
}

func TestAuditSecurity(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store, syncConfig())

	svc.AuditSecurity(context.Background(), audit.ActionLogin, "u1", "10.0.0.1", "firefox", false, "bad password")

	e := singleEvent(t, store)
	assert.Equal(t, audit.CategorySecurity, e.Category)
	assert.False(t, e.Success)
	assert.Equal(t, audit.SeverityWarn, e.Severity)
	assert.Equal(t, "bad password", e.ErrorMessage)
	assert.Equal(t, "10.0.0.1", e.IPAddress)
	assert.True(t, e.IsSecuritySensitive())
}

func TestAuditCompliance(t *testing.T) {
	store := memory.NewStore()
	cfg := syncConfig()
	cfg.DefaultRetentionDays = 90
	cfg.LongTermRetentionDays = 3650
	svc, _ := newService(t, store, cfg)

	svc.AuditCompliance(context.Background(), audit.ActionExport, "patient", "p-1", "u1",
		audit.RegulationHIPAA, map[string]interface{}{"purpose": "treatment"})

	e := singleEvent(t, store)
	assert.Equal(t, audit.CategoryCompliance, e.Category)
	assert.Equal(t, 3650, e.RetentionDays)
	assert.True(t, e.HasComplianceFlag(audit.RegulationHIPAA))
	assert.True(t, e.RequiresLongTermRetention())
	assert.Equal(t, "treatment", e.Metadata["purpose"])
}

func TestAuditDataAccess(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store, syncConfig())

	svc.AuditDataAccess(context.Background(), "invoice", "inv-9", "u1", "download", "confidential")

	e := singleEvent(t, store)
	assert.Equal(t, audit.ActionRead, e.Action)
	assert.Equal(t, audit.CategoryDataAccess, e.Category)
	assert.Equal(t, "confidential", e.Tags["dataClassification"])
	assert.Equal(t, "download", e.Tags["accessType"])
}

func TestAuditBusinessProcess(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store, syncConfig())

	svc.AuditBusinessProcess(context.Background(), "checkout", "payment", "order-1", "u1",
		map[string]interface{}{"amount": 42.5}, false)

	e := singleEvent(t, store)
	assert.Equal(t, audit.ActionProcess, e.Action)
	assert.False(t, e.Success)
	assert.Equal(t, "checkout", e.Tags["processName"])
	assert.Equal(t, "payment", e.Tags["processStep"])
	assert.Equal(t, 42.5, e.Metadata["amount"])
}

func TestAuditConfigChange(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store, syncConfig())

	svc.AuditConfigChange(context.Background(), "feature_flag", "checkout.v2", false, true, "admin", "rollout")

	e := singleEvent(t, store)
	assert.Equal(t, audit.ActionConfigure, e.Action)
	assert.Equal(t, audit.CategoryConfiguration, e.Category)
	assert.Equal(t, "feature_flag", e.ResourceType)
	assert.Equal(t, "checkout.v2", e.ResourceID)
	assert.Equal(t, false, e.OldValues["checkout.v2"])
	assert.Equal(t, true, e.NewValues["checkout.v2"])
	assert.Equal(t, "rollout", e.Metadata["reason"])
}

func TestAuditError(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store, syncConfig())

	root := errors.New("connection refused")
	err := fmt.Errorf("charge card: %w", root)
	svc.AuditError(context.Background(), audit.ActionProcess, "payment", "pay-1", "u1", err,
		map[string]interface{}{"gateway": "stripe"})

	e := singleEvent(t, store)
	assert.Equal(t, audit.CategoryError, e.Category)
	assert.Equal(t, audit.SeverityError, e.Severity)
	assert.False(t, e.Success)
	assert.Equal(t, "charge card: connection refused", e.ErrorMessage)
	assert.Equal(t, "*fmt.wrapError", e.ExceptionType)
	assert.Equal(t, []string{"charge card: connection refused", "connection refused"}, e.Metadata["errorChain"])
	assert.NotEmpty(t, e.Metadata["stackTrace"])
	assert.Equal(t, "stripe", e.Metadata["gateway"])
	assert.True(t, e.IsSecuritySensitive())
}

func TestAuditErrorWithoutError(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newService(t, store, syncConfig())

	svc.AuditError(context.Background(), audit.ActionSync, "", "", "", nil, nil)

	e := singleEvent(t, store)
	assert.Equal(t, "unknown error", e.ErrorMessage)
}
