package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()
	res, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorsExposed(t *testing.T) {
	metrics.IncScan("wedge")
	metrics.IncMovement("ENTRY", "EXITOSO")
	metrics.IncBackendFailure("identify")
	metrics.IncTransition("WAITING", "LOADING")
	metrics.IncDecodeAttempt("native", "hit")
	metrics.IncPassDownload("IMAGE_CODE", "success")
	metrics.IncCameraAcquireFailure()

	body := scrape(t)
	assert.Contains(t, body, `gatekeeper_scans_total{source="wedge"}`)
	assert.Contains(t, body, `gatekeeper_movements_total{direction="ENTRY",outcome="EXITOSO"}`)
	assert.Contains(t, body, `gatekeeper_backend_failures_total{operation="identify"}`)
	assert.Contains(t, body, `gatekeeper_workflow_state{state="LOADING"} 1`)
	assert.Contains(t, body, `gatekeeper_workflow_state{state="WAITING"} 0`)
}

func TestWorkflowAdapterDoesNotPanic(t *testing.T) {
	var w metrics.Workflow
	w.RecordScan("camera")
	w.RecordTransition("LOADING", "RESULT")
	w.RecordMovement("EXIT", "EXITOSO (PEATONAL)")
	w.RecordBackendFailure("log_movement")
}
