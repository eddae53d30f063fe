package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_HandlerExposesCounters(t *testing.T) {
	m := New()
	m.Predictions.WithLabelValues("HIGH", "false").Inc()
	m.WorkOrdersCreated.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Predictions.WithLabelValues("HIGH", "false")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fleetrisk_predictions_total")
	assert.Contains(t, rec.Body.String(), "fleetrisk_work_orders_created_total 1")
}
