package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("proforma:reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("proforma:reconcile").End(boom), boom)

	body := scrape(t, reg)
	require.Contains(t, body, `slipbook_jobs_total{job="proforma:reconcile",status="success"} 1`)
	require.Contains(t, body, `slipbook_jobs_total{job="proforma:reconcile",status="failure"} 1`)
	require.Contains(t, body, `slipbook_jobs_failures_total{job="proforma:reconcile"} 1`)
	require.Contains(t, body, `slipbook_job_duration_seconds_count{job="proforma:reconcile"} 2`)
}

func TestFindingsAndNilSafety(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddFindings("invoice:verify_totals", "totals_drift", 3)
	m.AddFindings("invoice:verify_totals", "totals_drift", 0)
	require.Contains(t, scrape(t, reg), `slipbook_job_findings_total{job="invoice:verify_totals",kind="totals_drift"} 3`)

	var nilMetrics *Metrics
	nilMetrics.AddFindings("x", "y", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
