// Package metrics exposes the kiosk's Prometheus instrumentation. All
// collectors are registered on the default registry via promauto and served
// by the API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_scans_total",
		Help: "Accepted scan events by source",
	}, []string{"source"}) // source=wedge|camera|manual|image

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_state_transitions_total",
		Help: "Workflow state transitions",
	}, []string{"from", "to"})

	movementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_movements_total",
		Help: "Audited movements by direction and outcome",
	}, []string{"direction", "outcome"})

	backendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_backend_failures_total",
		Help: "Failed backend calls by operation",
	}, []string{"operation"}) // operation=identify|search_person|register|log_movement

	cameraAcquireFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_camera_acquire_failures_total",
		Help: "Camera activations that failed to open the device",
	})

	decodeAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_decode_attempts_total",
		Help: "Frame decode attempts by mode and outcome",
	}, []string{"mode", "outcome"}) // mode=native|remote outcome=hit|miss|error

	passDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_pass_downloads_total",
		Help: "Pass image downloads by kind and outcome",
	}, []string{"kind", "outcome"})

	currentState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatekeeper_workflow_state",
		Help: "Current workflow state (1 for the active state, 0 otherwise)",
	}, []string{"state"})
)

func IncScan(source string)                 { scansTotal.WithLabelValues(source).Inc() }
func IncMovement(direction, outcome string) { movementsTotal.WithLabelValues(direction, outcome).Inc() }
func IncBackendFailure(operation string)    { backendFailuresTotal.WithLabelValues(operation).Inc() }
func IncCameraAcquireFailure()              { cameraAcquireFailures.Inc() }

func IncTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
	currentState.WithLabelValues(from).Set(0)
	currentState.WithLabelValues(to).Set(1)
}

func IncDecodeAttempt(mode, outcome string) {
	decodeAttemptsTotal.WithLabelValues(mode, outcome).Inc()
}

func IncPassDownload(kind, outcome string) {
	passDownloadsTotal.WithLabelValues(kind, outcome).Inc()
}

// Workflow adapts the package-level collectors to the recorder interface the
// workflow controller consumes.
type Workflow struct{}

func (Workflow) RecordScan(source string)              { IncScan(source) }
func (Workflow) RecordTransition(from, to string)      { IncTransition(from, to) }
func (Workflow) RecordMovement(direction, outcome string) {
	IncMovement(direction, outcome)
}
func (Workflow) RecordBackendFailure(operation string) { IncBackendFailure(operation) }
