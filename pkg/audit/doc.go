// Package audit records, searches and exports audit events for security,
// compliance and forensics.
//
// # Overview
//
// A Service enriches each event with identity, timing, retention and the
// correlation data of the current AuditContext, validates it and hands it to a
// Store. Critical categories are written before the call returns; the rest go
// through a bounded worker pool when async writing is enabled. Audit failures
// are logged and counted but never surface to the caller.
//
// # Usage Example
//
// Bind correlation data for a unit of work:
//
//	ctx, ac := audit.StartAuditContext(ctx, r.Header.Get("X-Correlation-ID"), userID, sessionID)
//	defer ac.Close()
//	ac.AddContextData("tenant_plan", "enterprise")
//
// Record outcomes with the shorthands:
//
//	svc.AuditSecurity(ctx, audit.ActionLogin, userID, ip, ua, false, "bad password")
//	svc.AuditCompliance(ctx, audit.ActionExport, "patient", id, userID, audit.RegulationHIPAA, nil)
//	svc.AuditConfigChange(ctx, "feature_flag", "checkout.v2", false, true, userID, "rollout")
//
// Search and aggregate:
//
//	page, err := svc.SearchAuditEvents(ctx, audit.UserActivity(userID, start, end))
//	stats, err := svc.GetAuditStatistics(ctx, start, end, "tenant_id")
//
// Export asynchronously:
//
//	result, err := svc.ExportAuditEvents(ctx, criteria, audit.ExportFormatCSV).Wait(ctx)
//
// # Retention Policy
//
// Events default to 2555 days. Compliance audits always use the long-term
// period. Export artifacts stay downloadable for 7 days.
//
// # Related Packages
//
//   - pkg/audit/memory and pkg/audit/postgres: Store implementations
//   - pkg/compliance: regulation reports built on the stored events
//   - pkg/storage: export artifact and registry backends
package audit
