package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollectorsAreIndependent(t *testing.T) {
	a := New("", zap.NewNop())
	b := New("", zap.NewNop())

	a.CapacityWait()
	a.CapacityWait()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.capacityWaits))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.capacityWaits))
}

func TestSessionGaugeTracksOpenAndClose(t *testing.T) {
	c := New("test", nil)
	c.SessionOpened("rod")
	c.SessionOpened("rod")
	c.SessionClosed("rod", "disconnected", 3*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive.WithLabelValues("rod")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionsOpened.WithLabelValues("rod")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsClosed.WithLabelValues("rod", "disconnected")))

	c.SessionRejected()
	c.SessionLaunchFailed()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsRejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionLaunchFail))
}

func TestProbeAndStepLabels(t *testing.T) {
	c := New("test", nil)
	c.ObserveProbe(true, false, 120*time.Millisecond)
	c.ObserveProbe(true, true, 0)
	c.ObserveProbe(false, false, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.probesTotal.WithLabelValues("ok", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.probesTotal.WithLabelValues("ok", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.probesTotal.WithLabelValues("failed", "false")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.probeDuration))

	c.ObserveStep("success", time.Second)
	c.ObserveStep("failed", time.Second)
	c.ObserveStep("success", 2*time.Second)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("success")))

	c.TaskFinished("completed")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksFinished.WithLabelValues("completed")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	c := New("airdrop_test", nil)
	c.RecordHTTPRequest(http.MethodGet, "/api/v1/tasks", 200, 10*time.Millisecond)
	c.TaskFinished("stopped")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `airdrop_test_http_requests_total{method="GET",path="/api/v1/tasks",status="200"} 1`)
	assert.Contains(t, string(body), `airdrop_test_scheduler_tasks_finished_total{state="stopped"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
