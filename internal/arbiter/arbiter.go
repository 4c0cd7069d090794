// Package arbiter merges the kiosk's input channels (keyboard wedge, camera,
// manual entry, image upload) into the single workflow stream. It owns the
// modal exclusivity rules: manual entry and the camera never run together,
// and the wedge only feeds codes while the workflow can consume them.
package arbiter

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"gatekeeper/internal/decode"
	"gatekeeper/internal/log"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/scan"
	"gatekeeper/internal/workflow"
)

// ReclaimInterval paces wedge re-attachment. A scanner that disappears (USB
// re-enumeration, read error) is reopened on the next tick.
const ReclaimInterval = 2 * time.Second

// Controller is the workflow surface the arbiter drives.
type Controller interface {
	Submit(ctx context.Context, ev scan.Event) error
	Generation() uint64
	Snapshot() workflow.Snapshot
	Subscribe() (<-chan workflow.Snapshot, func())
}

// Camera is the capture surface, satisfied by capture.Channel.
type Camera interface {
	Activate(ctx context.Context) error
	Deactivate()
	Codes() <-chan string
	Active() bool
}

// WedgeOpener opens the wedge scanner's line stream. Nil when the kiosk has
// no wedge device configured.
type WedgeOpener func() (io.ReadCloser, error)

// Arbiter funnels every input source into the controller.
type Arbiter struct {
	ctrl      Controller
	camera    Camera
	local     decode.Decoder
	remote    decode.Decoder
	openWedge WedgeOpener
	logger    zerolog.Logger

	reclaim time.Duration

	mu         sync.Mutex
	runCtx     context.Context
	wedge      io.ReadCloser
	cameraOn   bool
	manualOpen bool
	closed     bool

	wg sync.WaitGroup
}

// New creates an arbiter. local may be nil when no local decoder binary is
// installed; openWedge may be nil when no wedge device is configured.
func New(ctrl Controller, camera Camera, local, remote decode.Decoder, openWedge WedgeOpener) *Arbiter {
	return &Arbiter{
		ctrl:      ctrl,
		camera:    camera,
		local:     local,
		remote:    remote,
		openWedge: openWedge,
		reclaim:   ReclaimInterval,
		logger:    log.WithComponent("arbiter"),
	}
}

// SetReclaimInterval overrides the wedge reclaim cadence. Used by tests.
func (a *Arbiter) SetReclaimInterval(d time.Duration) {
	if d > 0 {
		a.reclaim = d
	}
}

// Run supervises the wedge attachment and reacts to workflow transitions
// until ctx is cancelled. The camera is force-released whenever the workflow
// leaves the states that may consume camera codes.
func (a *Arbiter) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	snaps, cancel := a.ctrl.Subscribe()
	defer cancel()

	ticker := time.NewTicker(a.reclaim)
	defer ticker.Stop()

	a.reclaimWedge(ctx)

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case snap := <-snaps:
			if !cameraAllowed(snap.State) {
				a.CloseCamera()
			}
		case <-ticker.C:
			a.reclaimWedge(ctx)
		}
	}
}

// cameraAllowed reports the states in which camera codes have a consumer:
// the scan-accepting states plus the registration form's asset-scan action.
func cameraAllowed(s workflow.State) bool {
	return s.ScanAccepting() || s == workflow.StateRegistering
}

// wedgeListening reports the states in which wedge codes are consumed. The
// RESULT screen still listens: a back-to-back scan starts the next cycle
// immediately instead of waiting out the auto-clear delay.
func wedgeListening(s workflow.State) bool {
	return s.ScanAccepting() || s == workflow.StateResult
}

// OpenCamera activates live capture and pumps decoded codes into the
// workflow. Opening the camera closes the manual-entry modal. The capture
// lifetime is bound to the arbiter's run context, not the caller's.
func (a *Arbiter) OpenCamera() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("arbiter: closed")
	}
	if a.cameraOn {
		a.mu.Unlock()
		return nil
	}
	if !cameraAllowed(a.ctrl.Snapshot().State) {
		a.mu.Unlock()
		return workflow.ErrNotListening
	}
	a.manualOpen = false
	a.mu.Unlock()

	// The emitted code is checked against the generation at activation, so a
	// decode that lands after the workflow moved on is dropped.
	ctx := a.base()
	gen := a.ctrl.Generation()
	if err := a.camera.Activate(ctx); err != nil {
		metrics.IncCameraAcquireFailure()
		return err
	}
	codes := a.camera.Codes()

	a.mu.Lock()
	a.cameraOn = true
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for code := range codes {
			a.submit(ctx, code, scan.SourceCamera, gen)
		}
		a.mu.Lock()
		a.cameraOn = false
		a.mu.Unlock()
	}()
	return nil
}

// CloseCamera releases the camera. Idempotent.
func (a *Arbiter) CloseCamera() {
	a.camera.Deactivate()
	a.mu.Lock()
	a.cameraOn = false
	a.mu.Unlock()
}

// CameraActive reports whether live capture is running.
func (a *Arbiter) CameraActive() bool {
	return a.camera.Active()
}

// OpenManual opens the manual-entry modal, closing the camera if needed.
func (a *Arbiter) OpenManual() {
	a.CloseCamera()
	a.mu.Lock()
	a.manualOpen = true
	a.mu.Unlock()
}

// CloseManual dismisses the manual-entry modal without submitting.
func (a *Arbiter) CloseManual() {
	a.mu.Lock()
	a.manualOpen = false
	a.mu.Unlock()
}

// ManualOpen reports whether the manual-entry modal is showing.
func (a *Arbiter) ManualOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manualOpen
}

// SubmitManual feeds a typed code into the workflow and closes the modal.
func (a *Arbiter) SubmitManual(ctx context.Context, raw string) error {
	a.mu.Lock()
	a.manualOpen = false
	a.mu.Unlock()
	return a.submit(ctx, raw, scan.SourceManual, a.ctrl.Generation())
}

// SubmitImage decodes an uploaded still image through the two-tier policy
// and feeds the result into the workflow.
func (a *Arbiter) SubmitImage(ctx context.Context, image []byte) error {
	gen := a.ctrl.Generation()
	code, err := decode.ScanImage(ctx, image, a.local, a.remote)
	if err != nil {
		return err
	}
	return a.submit(ctx, code, scan.SourceImage, gen)
}

// Close detaches the wedge and releases the camera, then waits for the
// reader goroutines.
func (a *Arbiter) Close() {
	a.mu.Lock()
	a.closed = true
	wedge := a.wedge
	a.wedge = nil
	a.mu.Unlock()

	if wedge != nil {
		_ = wedge.Close()
	}
	a.camera.Deactivate()
	a.wg.Wait()
}

func (a *Arbiter) shutdown() {
	a.Close()
}

// base returns the arbiter's long-lived context for capture and submission,
// falling back to Background before Run has started.
func (a *Arbiter) base() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx != nil {
		return a.runCtx
	}
	return context.Background()
}

// reclaimWedge (re)opens the wedge stream when it is not attached, the
// daemon equivalent of the kiosk reclaiming keyboard focus.
func (a *Arbiter) reclaimWedge(ctx context.Context) {
	if a.openWedge == nil {
		return
	}
	a.mu.Lock()
	if a.closed || a.wedge != nil {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	rc, err := a.openWedge()
	if err != nil {
		a.logger.Debug().Err(err).Str(log.FieldEvent, "wedge.open_failed").Msg("wedge not available")
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = rc.Close()
		return
	}
	a.wedge = rc
	a.mu.Unlock()

	a.logger.Info().Str(log.FieldEvent, "wedge.attached").Msg("wedge scanner attached")
	a.wg.Add(1)
	go a.readWedge(ctx, rc)
}

// readWedge consumes newline-terminated codes until the stream ends. The
// reclaim ticker reopens the device afterwards.
func (a *Arbiter) readWedge(ctx context.Context, rc io.ReadCloser) {
	defer a.wg.Done()
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		a.handleWedgeLine(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn().Err(err).Str(log.FieldEvent, "wedge.read_failed").Msg("wedge stream broke")
	}

	a.mu.Lock()
	if a.wedge == rc {
		a.wedge = nil
	}
	a.mu.Unlock()
	_ = rc.Close()
}

// handleWedgeLine applies the wedge listening gate: codes are dropped while
// a modal input owns the kiosk or the workflow is not accepting scans.
func (a *Arbiter) handleWedgeLine(ctx context.Context, raw string) {
	a.mu.Lock()
	modal := a.manualOpen || a.cameraOn
	a.mu.Unlock()
	if modal || !wedgeListening(a.ctrl.Snapshot().State) {
		a.logger.Debug().
			Str(log.FieldEvent, "wedge.dropped").
			Str(log.FieldCode, log.MaskCode(raw)).
			Msg("wedge code dropped, not listening")
		return
	}
	_ = a.submit(ctx, raw, scan.SourceWedge, a.ctrl.Generation())
}

// submit normalizes and forwards one code. Rejections are expected during
// races and only logged. The event's scan ID is attached to the context so
// downstream log lines correlate.
func (a *Arbiter) submit(ctx context.Context, raw string, source scan.Source, gen uint64) error {
	code := scan.Normalize(raw)
	if utf8.RuneCountInString(raw) > 20 && code == raw {
		// A long burst with no embedded id usually means wedge noise or a
		// misconfigured scanner suffix.
		a.logger.Warn().
			Str(log.FieldEvent, "scan.no_id_run").
			Str(log.FieldSource, string(source)).
			Int("length", len(raw)).
			Msg("long input without an id run passed through")
	}
	ev := scan.NewEvent(code, source, gen)
	ctx = log.ContextWithScanID(ctx, ev.ID)
	err := a.ctrl.Submit(ctx, ev)
	if err != nil {
		a.logger.Debug().Err(err).
			Str(log.FieldEvent, "scan.rejected").
			Str(log.FieldScanID, ev.ID).
			Str(log.FieldSource, string(source)).
			Msg("scan not consumed")
	}
	return err
}
