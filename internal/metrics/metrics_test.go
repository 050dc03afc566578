package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()

	m.ObserveCycle("success", time.Second)
	m.ObserveCycle("success", 2*time.Second)
	m.ObserveCycle("failed", time.Second)
	m.AddRecords(5, 2, 1)
	m.AddRecords(1, 0, 0)
	m.RetentionClamped()
	m.WindowNarrowed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("failed")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.records.WithLabelValues("emitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retentionClamps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.narrowings))
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.AddBucketErrors(3)

	assert.Equal(t, 3.0, testutil.ToFloat64(a.bucketErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.bucketErrors))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetSpooled(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "aw_sync_spool_pending_records 7")
}
