package compliance_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/audit/memory"
	"github.com/platinummonkey/auditcore/pkg/compliance"
)

const windowQuery = "start=2024-05-01T00:00:00Z&end=2024-05-04T00:00:00Z"

func setupRouter(store audit.Store) *mux.Router {
	router := mux.NewRouter()
	compliance.NewHandlers(newReporter(store, noCache())).RegisterRoutes(router)
	return router
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestHandlers_Report(t *testing.T) {
	store := memory.NewStore()
	save(t, store, flagged(0, audit.RegulationGDPR, audit.ActionRead))
	router := setupRouter(store)

	w := get(router, "/compliance/reports/gdpr?"+windowQuery)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report compliance.Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.Equal(t, audit.RegulationGDPR, report.Regulation)
	assert.Equal(t, 1, report.TotalEvents)
	assert.Equal(t, 0.0, report.Scores["data_minimization"])
	assert.Equal(t, []string{"Add justification metadata to 1 data access events"}, report.Recommendations)

	w = get(router, "/compliance/reports/ccpa?"+windowQuery)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(router, "/compliance/reports/sox?start=2024-05-01T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_Dashboard(t *testing.T) {
	store := memory.NewStore()
	seedWindow(t, store, 20, 2)
	router := setupRouter(store)

	w := get(router, "/compliance/dashboard?"+windowQuery)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var dashboard compliance.Dashboard
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dashboard))
	assert.Len(t, dashboard.Summaries, 4)
	require.Len(t, dashboard.RiskIndicators, 1)
	assert.Equal(t, 10.0, dashboard.RiskIndicators[0].Value)

	w = get(router, "/compliance/dashboard?start=2024-05-04T00:00:00Z&end=2024-05-01T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_StoreFailure(t *testing.T) {
	router := setupRouter(&brokenStore{Store: memory.NewStore(), failFlags: true})

	w := get(router, "/compliance/dashboard?"+windowQuery)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = get(router, "/compliance/reports/HIPAA?"+windowQuery)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
