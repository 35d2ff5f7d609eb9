package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/holiday-engine/holiday"
)

func TestMetrics_WorkflowCounters(t *testing.T) {
	m := New()

	m.RequestTransition(holiday.StatusPending)
	m.RequestTransition(holiday.StatusPending)
	m.RequestTransition(holiday.StatusApproved)
	m.LedgerRetry("submit")
	m.LedgerContention("submit")
	m.ImportRecord(holiday.OutcomeImported)
	m.ImportRecord(holiday.OutcomeSkipped)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("submit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.contention.WithLabelValues("submit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.importOutcome.WithLabelValues("skipped")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RequestTransition(holiday.StatusApproved)
		m.LedgerRetry("approve")
		m.ObserveHTTPRequest(http.MethodGet, "/", 200, 0)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/requests/{id}", func(w http.ResponseWriter, r *http.Request) {})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/requests/a", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/requests/b", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestTotal.WithLabelValues(http.MethodGet, "/requests/{id}", "200")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `http_requests_total{method="GET",path="/requests/{id}",status="200"} 2`)
}
