package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdesk/internal/core"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector()

	c.RecordSubmitted(4)
	c.RecordSubmitted(6)
	c.RecordQuotaRejected()
	c.RecordFinished(core.JobStatusCompleted, 3*time.Second)
	c.RecordFinished(core.JobStatusCancelled, 0)
	c.SetQueueDepth(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsSubmitted))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.papersReserved))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.quotaRejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFinished.WithLabelValues("cancelled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 1, testutil.CollectAndCount(c.jobDuration))
}

func TestCollectorsAreIndependent(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector()
		NewCollector()
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordSubmitted(1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "printdesk_jobs_submitted_total 1")
}
