package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIsIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.FanoutRowsInserted.Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.FanoutRowsInserted))
	assert.Zero(t, testutil.ToFloat64(b.FanoutRowsInserted))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.JobsFinished.WithLabelValues("add-user-received-bids", "completed").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bidindex_queue_job_attempts_total{outcome="completed",queue="add-user-received-bids"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
