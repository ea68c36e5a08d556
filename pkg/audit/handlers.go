package audit

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/auditcore/pkg/httputil"
	"github.com/platinummonkey/auditcore/pkg/observability"
)

// Handlers provides HTTP handlers for the audit API
type Handlers struct {
	service *Service
	// exportWait bounds how long POST /audit/exports waits for the export to be ready
	exportWait time.Duration
}

// NewHandlers creates new audit handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{
		service:    service,
		exportWait: 2 * time.Minute,
	}
}

// RegisterRoutes registers audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.recordEvent).Methods("POST")
	router.HandleFunc("/audit/events", h.listEvents).Methods("GET")
	router.HandleFunc("/audit/statistics", h.getStatistics).Methods("GET")
	router.HandleFunc("/audit/exports", h.createExport).Methods("POST")
	router.HandleFunc("/audit/exports/{id}", h.getExport).Methods("GET")
}

// recordEvent handles POST /audit/events. The event is written asynchronously
// and the response waits for the write. Success defaults to true when omitted.
func (h *Handlers) recordEvent(w http.ResponseWriter, r *http.Request) {
	event := AuditEvent{Success: true}
	if err := httputil.ParseJSON(r, &event); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid event body: "+err.Error())
		return
	}

	saved, err := h.service.AuditAsync(r.Context(), &event).Wait(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, saved)
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	criteria, err := parseCriteria(r)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.service.SearchAuditEvents(r.Context(), criteria)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// getStatistics handles GET /audit/statistics?start=...&end=...&group_by=...
func (h *Handlers) getStatistics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, end, err := httputil.ParseWindow(query)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.service.GetAuditStatistics(r.Context(), start, end, query.Get("group_by"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// ExportRequest is the body of POST /audit/exports
type ExportRequest struct {
	Criteria Criteria     `json:"criteria"`
	Format   ExportFormat `json:"format"`
}

// createExport handles POST /audit/exports
func (h *Handlers) createExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid export request: "+err.Error())
		return
	}
	if req.Format == "" {
		req.Format = ExportFormatJSON
	}

	future := h.service.ExportAuditEvents(r.Context(), req.Criteria, req.Format)

	ctx := r.Context()
	if h.exportWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.exportWait)
		defer cancel()
	}
	result, err := future.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
			return
		}
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

// getExport handles GET /audit/exports/{id}
func (h *Handlers) getExport(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.GetExport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// parseCriteria parses search criteria from query parameters
func parseCriteria(r *http.Request) (Criteria, error) {
	query := r.URL.Query()
	c := Criteria{
		UserID:        query.Get("user_id"),
		ResourceType:  query.Get("resource_type"),
		ResourceID:    query.Get("resource_id"),
		ServiceName:   query.Get("service_name"),
		Category:      query.Get("category"),
		IPAddress:     query.Get("ip_address"),
		CorrelationID: query.Get("correlation_id"),
		SessionID:     query.Get("session_id"),
		TenantID:      query.Get("tenant_id"),
		SortField:     query.Get("sort"),
		SortDirection: SortDirection(strings.ToLower(query.Get("direction"))),
	}

	var err error
	if c.Start, err = httputil.ParseTime("start", query.Get("start")); err != nil {
		return c, err
	}
	if c.End, err = httputil.ParseTime("end", query.Get("end")); err != nil {
		return c, err
	}
	if v := query.Get("action"); v != "" {
		if c.Action, err = ParseAction(v); err != nil {
			return c, err
		}
	}
	for _, v := range httputil.ParseCommaSeparated(query.Get("actions")) {
		a, err := ParseAction(v)
		if err != nil {
			return c, err
		}
		c.Actions = append(c.Actions, a)
	}
	if v := query.Get("severity"); v != "" {
		if c.Severity, err = ParseSeverity(v); err != nil {
			return c, err
		}
	}
	if c.Success, err = httputil.ParseQueryBool(query, "success"); err != nil {
		return c, err
	}
	c.Tags = httputil.PrefixedParams(query, "tag.")
	c.Metadata = httputil.PrefixedParams(query, "metadata.")

	if c.Page, err = httputil.ParseQueryInt(query, "page", 0); err != nil {
		return c, err
	}
	if c.Size, err = httputil.ParseQueryInt(query, "size", 0); err != nil {
		return c, err
	}
	return c, nil
}

// writeServiceError maps err to a status and logs server-side failures with the request logger
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("Audit request failed")
	}
	httputil.WriteErrorMessage(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrInvalidCriteria), errors.Is(err, ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, ErrExportNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
