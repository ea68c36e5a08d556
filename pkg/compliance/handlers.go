package compliance

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/httputil"
	"github.com/platinummonkey/auditcore/pkg/observability"
)

// Handlers provides HTTP handlers for compliance reports
type Handlers struct {
	reporter *Reporter
}

// NewHandlers creates new compliance handlers
func NewHandlers(reporter *Reporter) *Handlers {
	return &Handlers{reporter: reporter}
}

// RegisterRoutes registers compliance routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/compliance/dashboard", h.getDashboard).Methods("GET")
	router.HandleFunc("/compliance/reports/{regulation}", h.getReport).Methods("GET")
}

// getReport handles GET /compliance/reports/{regulation}?start=...&end=...&user_id=...
func (h *Handlers) getReport(w http.ResponseWriter, r *http.Request) {
	regulation, err := ParseRegulation(strings.ToUpper(mux.Vars(r)["regulation"]))
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusNotFound, err.Error())
		return
	}

	query := r.URL.Query()
	start, end, err := httputil.ParseWindow(query)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.reporter.GenerateReport(r.Context(), regulation, start, end, query.Get("user_id"))
	if err != nil {
		writeReportError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// getDashboard handles GET /compliance/dashboard?start=...&end=...
func (h *Handlers) getDashboard(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, end, err := httputil.ParseWindow(query)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	dashboard, err := h.reporter.Dashboard(r.Context(), start, end)
	if err != nil {
		writeReportError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dashboard)
}

func writeReportError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("Compliance report failed")
	}
	httputil.WriteErrorMessage(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownRegulation):
		return http.StatusNotFound
	case errors.Is(err, audit.ErrInvalidCriteria):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
