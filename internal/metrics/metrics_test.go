package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CasesOpened.Inc()
	m.GovernanceRejections.WithLabelValues("no_disposition").Inc()
	m.GovernanceRejections.WithLabelValues("no_disposition").Inc()
	m.ObserveOperation("open_case", time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CasesOpened))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GovernanceRejections.WithLabelValues("no_disposition")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SubmissionsSealed.Inc()

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sar_submissions_sealed_total 1")
}
