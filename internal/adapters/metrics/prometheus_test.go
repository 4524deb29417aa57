package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperationCountsByOutcome(t *testing.T) {
	m := NewPrometheus()
	m.ObserveOperation("release_funds", "success", 20*time.Millisecond)
	m.ObserveOperation("release_funds", "success", 10*time.Millisecond)
	m.ObserveOperation("release_funds", "failure", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("release_funds", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("release_funds", "failure")))
}

func TestObserveJobAddsItems(t *testing.T) {
	m := NewPrometheus()
	m.ObserveJob("expire_qr_codes", 4, 1, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("expire_qr_codes")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.jobItems.WithLabelValues("expire_qr_codes", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobItems.WithLabelValues("expire_qr_codes", "failed")))
}

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	m := NewPrometheus()
	r := chi.NewRouter()
	r.Use(m.InstrumentHandler)
	r.Get("/v1/transactions/{transaction_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/transactions/tx-1", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/v1/transactions/{transaction_id}", "404"))
	require.Equal(t, 1.0, got)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewPrometheus()
	m.ObserveSecurityEvent("large_transaction", "medium")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `escrow_audit_security_events_total{severity="medium",type="large_transaction"} 1`)
}
