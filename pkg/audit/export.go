package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/auditcore/pkg/async"
)

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "JSON"
	ExportFormatCSV    ExportFormat = "CSV"
	ExportFormatXML    ExportFormat = "XML"
	ExportFormatNDJSON ExportFormat = "NDJSON" // Newline-delimited JSON
)

// ParseExportFormat converts a case-insensitive name to an ExportFormat
func ParseExportFormat(s string) (ExportFormat, error) {
	f := ExportFormat(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatXML, ExportFormatNDJSON:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Extension is the file extension of the format
func (f ExportFormat) Extension() string {
	return strings.ToLower(string(f))
}

// ContentType is the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatXML:
		return "application/xml"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// ExportResult describes a generated export artifact
type ExportResult struct {
	ExportID    string       `json:"export_id"`
	Format      ExportFormat `json:"format"`
	FileName    string       `json:"file_name"`
	SizeBytes   int64        `json:"size_bytes"`
	DownloadURL string       `json:"download_url"`
	RecordCount int          `json:"record_count"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Expired reports whether the artifact is past its expiry at now
func (r *ExportResult) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ArtifactStore persists export files and returns a reference clients can download from
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte, expiresAt time.Time) (downloadURL string, err error)
}

// ExportRegistry keeps export descriptors until they expire
type ExportRegistry interface {
	Put(ctx context.Context, result *ExportResult) error
	// Get returns ErrExportNotFound for unknown or expired ids
	Get(ctx context.Context, exportID string) (*ExportResult, error)
}

// ExportAuditEvents runs an unpaged search for criteria on its own goroutine,
// serializes the matches, stores the artifact and registers its descriptor.
// The future resolves once the export is ready; every failure fails the future.
// The export outlives cancellation of ctx and is bounded by the export timeout.
func (s *Service) ExportAuditEvents(ctx context.Context, criteria Criteria, format ExportFormat) *async.Future[*ExportResult] {
	parsed, err := ParseExportFormat(string(format))
	if err != nil {
		s.metrics.RecordExport(string(format), "failure", 0)
		return async.Resolved[*ExportResult](nil, err)
	}
	format = parsed

	criteria.Size = Unpaged
	criteria.Page = 0
	normalized, err := criteria.Normalize()
	if err != nil {
		s.metrics.RecordExport(string(format), "failure", 0)
		return async.Resolved[*ExportResult](nil, err)
	}

	return async.Go(context.WithoutCancel(ctx), s.cfg.ExportTimeout, "audit export",
		func(ctx context.Context) (*ExportResult, error) {
			result, err := s.generateExport(ctx, normalized, format)
			if err != nil {
				s.metrics.RecordExport(string(format), "failure", 0)
				s.logger.WithError(err).WithField("format", string(format)).Error("audit export failed")
				return nil, err
			}
			s.metrics.RecordExport(string(format), "success", result.RecordCount)
			s.logger.WithFields(map[string]interface{}{
				"export_id": result.ExportID,
				"records":   result.RecordCount,
				"format":    string(format),
			}).Info("audit export ready")
			return result, nil
		})
}

func (s *Service) generateExport(ctx context.Context, criteria Criteria, format ExportFormat) (*ExportResult, error) {
	events, _, err := s.store.Search(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("export search: %w", err)
	}

	data, err := EncodeEvents(events, format)
	if err != nil {
		return nil, err
	}

	created := s.now().UTC()
	id := uuid.NewString()
	result := &ExportResult{
		ExportID:    id,
		Format:      format,
		FileName:    fmt.Sprintf("audit-export-%s-%s.%s", created.Format("20060102-150405"), id[:8], format.Extension()),
		SizeBytes:   int64(len(data)),
		RecordCount: len(events),
		CreatedAt:   created,
		ExpiresAt:   created.AddDate(0, 0, ExportTTLDays),
	}

	result.DownloadURL, err = s.artifacts.Put(ctx, result.FileName, format.ContentType(), data, result.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("store export artifact: %w", err)
	}
	if err := s.exports.Put(ctx, result); err != nil {
		return nil, fmt.Errorf("register export: %w", err)
	}
	return result, nil
}

// GetExport returns the descriptor of a finished, unexpired export
func (s *Service) GetExport(ctx context.Context, exportID string) (*ExportResult, error) {
	return s.exports.Get(ctx, exportID)
}

// EncodeEvents serializes events in the given format
func EncodeEvents(events []*AuditEvent, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return exportJSON(events)
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	case ExportFormatCSV:
		return exportCSV(events)
	case ExportFormatXML:
		return exportXML(events)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// exportJSON exports audit events as JSON array
func exportJSON(events []*AuditEvent) ([]byte, error) {
	if events == nil {
		events = []*AuditEvent{}
	}
	return json.MarshalIndent(events, "", "  ")
}

// exportNDJSON exports audit events as newline-delimited JSON
func exportNDJSON(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}
	}

	return buf.Bytes(), nil
}

var csvHeader = []string{
	"ID", "Timestamp", "Action", "Severity", "Category", "ServiceName",
	"ResourceType", "ResourceID", "UserID", "Username", "SessionID", "TenantID",
	"CorrelationID", "TraceID", "IPAddress", "UserAgent", "HTTPMethod", "RequestURI",
	"HTTPStatus", "DurationMs", "Success", "ErrorMessage", "ExceptionType", "RetentionDays",
	"Tags", "ComplianceFlags",
}

// exportCSV exports audit events as CSV. Annotation maps are flattened to key=value lists.
func exportCSV(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		row := []string{
			event.ID,
			event.Timestamp.Format(time.RFC3339Nano),
			string(event.Action),
			string(event.Severity),
			event.Category,
			event.ServiceName,
			event.ResourceType,
			event.ResourceID,
			event.UserID,
			event.Username,
			event.SessionID,
			event.TenantID,
			event.CorrelationID,
			event.TraceID,
			event.IPAddress,
			event.UserAgent,
			event.HTTPMethod,
			event.RequestURI,
			formatInt(event.HTTPStatus),
			formatInt64Ptr(event.DurationMs),
			strconv.FormatBool(event.Success),
			event.ErrorMessage,
			event.ExceptionType,
			strconv.Itoa(event.RetentionDays),
			joinTags(event.Tags),
			joinFlags(event.ComplianceFlags),
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

type xmlExport struct {
	XMLName xml.Name   `xml:"auditEvents"`
	Count   int        `xml:"count,attr"`
	Events  []xmlEvent `xml:"auditEvent"`
}

type xmlEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type xmlEvent struct {
	ID              string     `xml:"id,attr"`
	Timestamp       string     `xml:"timestamp"`
	Action          string     `xml:"action"`
	Severity        string     `xml:"severity"`
	Category        string     `xml:"category,omitempty"`
	ServiceName     string     `xml:"serviceName"`
	ResourceType    string     `xml:"resourceType,omitempty"`
	ResourceID      string     `xml:"resourceId,omitempty"`
	UserID          string     `xml:"userId,omitempty"`
	Username        string     `xml:"username,omitempty"`
	SessionID       string     `xml:"sessionId,omitempty"`
	TenantID        string     `xml:"tenantId,omitempty"`
	CorrelationID   string     `xml:"correlationId,omitempty"`
	TraceID         string     `xml:"traceId,omitempty"`
	IPAddress       string     `xml:"ipAddress,omitempty"`
	UserAgent       string     `xml:"userAgent,omitempty"`
	HTTPMethod      string     `xml:"httpMethod,omitempty"`
	RequestURI      string     `xml:"requestUri,omitempty"`
	HTTPStatus      int        `xml:"httpStatus,omitempty"`
	DurationMs      *int64     `xml:"durationMs,omitempty"`
	Success         bool       `xml:"success"`
	ErrorMessage    string     `xml:"errorMessage,omitempty"`
	ExceptionType   string     `xml:"exceptionType,omitempty"`
	RetentionDays   int        `xml:"retentionDays"`
	OldValues       []xmlEntry `xml:"oldValues>entry,omitempty"`
	NewValues       []xmlEntry `xml:"newValues>entry,omitempty"`
	Tags            []xmlEntry `xml:"tags>tag,omitempty"`
	Metadata        []xmlEntry `xml:"metadata>entry,omitempty"`
	SecurityContext []xmlEntry `xml:"securityContext>entry,omitempty"`
	ComplianceFlags []xmlEntry `xml:"complianceFlags>flag,omitempty"`
}

// exportXML exports audit events as an XML document. Map values are written by their string form.
func exportXML(events []*AuditEvent) ([]byte, error) {
	doc := xmlExport{Count: len(events), Events: make([]xmlEvent, 0, len(events))}
	for _, e := range events {
		doc.Events = append(doc.Events, xmlEvent{
			ID:              e.ID,
			Timestamp:       e.Timestamp.Format(time.RFC3339Nano),
			Action:          string(e.Action),
			Severity:        string(e.Severity),
			Category:        e.Category,
			ServiceName:     e.ServiceName,
			ResourceType:    e.ResourceType,
			ResourceID:      e.ResourceID,
			UserID:          e.UserID,
			Username:        e.Username,
			SessionID:       e.SessionID,
			TenantID:        e.TenantID,
			CorrelationID:   e.CorrelationID,
			TraceID:         e.TraceID,
			IPAddress:       e.IPAddress,
			UserAgent:       e.UserAgent,
			HTTPMethod:      e.HTTPMethod,
			RequestURI:      e.RequestURI,
			HTTPStatus:      e.HTTPStatus,
			DurationMs:      e.DurationMs,
			Success:         e.Success,
			ErrorMessage:    e.ErrorMessage,
			ExceptionType:   e.ExceptionType,
			RetentionDays:   e.RetentionDays,
			OldValues:       anyEntries(e.OldValues),
			NewValues:       anyEntries(e.NewValues),
			Tags:            stringEntries(e.Tags),
			Metadata:        anyEntries(e.Metadata),
			SecurityContext: anyEntries(e.SecurityContext),
			ComplianceFlags: flagEntries(e.ComplianceFlags),
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode XML: %w", err)
	}
	return buf.Bytes(), nil
}

func anyEntries(m map[string]interface{}) []xmlEntry {
	out := make([]xmlEntry, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, xmlEntry{Key: k, Value: fmt.Sprint(m[k])})
	}
	return out
}

func stringEntries(m map[string]string) []xmlEntry {
	out := make([]xmlEntry, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, xmlEntry{Key: k, Value: m[k]})
	}
	return out
}

func flagEntries(m map[string]bool) []xmlEntry {
	out := make([]xmlEntry, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, xmlEntry{Key: k, Value: strconv.FormatBool(m[k])})
	}
	return out
}

func joinTags(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ";")
}

func joinFlags(m map[string]bool) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, k+"="+strconv.FormatBool(m[k]))
	}
	return strings.Join(parts, ";")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatInt(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// formatInt64Ptr formats an int64 pointer as string, returning empty string for nil
func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}

// MemoryArtifactStore keeps export files in process memory until they expire.
// Download references use the memory:// scheme.
type MemoryArtifactStore struct {
	mu    sync.RWMutex
	files map[string]memoryArtifact
	now   func() time.Time
}

type memoryArtifact struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryArtifactStore creates an empty in-memory artifact store. Expiry is
// judged against now, or the wall clock when now is nil.
func NewMemoryArtifactStore(now func() time.Time) *MemoryArtifactStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryArtifactStore{files: make(map[string]memoryArtifact), now: now}
}

// Put stores data under key and drops any file that has already expired
func (m *MemoryArtifactStore) Put(ctx context.Context, key, contentType string, data []byte, expiresAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(m.now())
	m.files[key] = memoryArtifact{data: append([]byte(nil), data...), expiresAt: expiresAt}
	return "memory://exports/" + key, nil
}

// Get returns a stored file that has not expired
func (m *MemoryArtifactStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	file, ok := m.files[key]
	if !ok || !m.now().Before(file.expiresAt) {
		return nil, false
	}
	return file.data, true
}

// PurgeExpired removes files whose expiry is at or before now and returns how many were removed
func (m *MemoryArtifactStore) PurgeExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeLocked(now)
}

func (m *MemoryArtifactStore) purgeLocked(now time.Time) int {
	var removed int
	for key, file := range m.files {
		if !now.Before(file.expiresAt) {
			delete(m.files, key)
			removed++
		}
	}
	return removed
}

// MemoryExportRegistry keeps export descriptors in process memory
type MemoryExportRegistry struct {
	mu      sync.RWMutex
	exports map[string]*ExportResult
	now     func() time.Time
}

// NewMemoryExportRegistry creates an empty in-memory registry
func NewMemoryExportRegistry() *MemoryExportRegistry {
	return &MemoryExportRegistry{exports: make(map[string]*ExportResult), now: time.Now}
}

func (r *MemoryExportRegistry) Put(ctx context.Context, result *ExportResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *result
	r.exports[result.ExportID] = &copied
	return nil
}

func (r *MemoryExportRegistry) Get(ctx context.Context, exportID string) (*ExportResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.exports[exportID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExportNotFound, exportID)
	}
	if result.Expired(r.now()) {
		delete(r.exports, exportID)
		return nil, fmt.Errorf("%w: %s", ErrExportNotFound, exportID)
	}
	copied := *result
	return &copied, nil
}
