package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gatekeeper/internal/backend"
	"gatekeeper/internal/log"
	"gatekeeper/internal/scan"
)

// Backend is the remote checkpoint service boundary, satisfied by
// backend.Client and by test stubs.
type Backend interface {
	Identify(ctx context.Context, code string) (*backend.IdentifyResult, error)
	SearchPerson(ctx context.Context, personID string) (*backend.IdentifyResult, error)
	Register(ctx context.Context, reg backend.Registration) error
	LogMovement(ctx context.Context, mv backend.Movement) error
}

// MetricsRecorder receives workflow-level measurements.
type MetricsRecorder interface {
	RecordScan(source string)
	RecordTransition(from, to string)
	RecordMovement(direction, outcome string)
	RecordBackendFailure(operation string)
}

// ResetDelay is how long a RESULT screen stays up before the kiosk
// auto-clears back to WAITING.
const ResetDelay = 4 * time.Second

var (
	// ErrNotListening reports a code arriving in a state that does not
	// accept input.
	ErrNotListening = errors.New("workflow: not accepting codes in current state")
	// ErrStaleEvent reports a code issued against an older workflow
	// generation; late camera or wedge arrivals are dropped this way.
	ErrStaleEvent = errors.New("workflow: stale scan event dropped")
	// ErrBusy reports that a backend call is already in flight.
	ErrBusy = errors.New("workflow: a backend call is in flight")
	// ErrInvalidAction reports an operator action that is not legal in the
	// current state.
	ErrInvalidAction = errors.New("workflow: action not allowed in current state")
)

// Controller owns the Snapshot and is the only component that mutates it.
// At most one backend call is in flight at any time.
type Controller struct {
	mu         sync.Mutex
	snap       Snapshot
	busy       bool
	backend    Backend
	metrics    MetricsRecorder
	resetDelay time.Duration
	timeout    time.Duration
	logger     zerolog.Logger

	listeners map[chan Snapshot]struct{}
}

// Option tweaks controller construction.
type Option func(*Controller)

// WithResetDelay overrides the RESULT auto-clear delay. Used by tests.
func WithResetDelay(d time.Duration) Option {
	return func(c *Controller) { c.resetDelay = d }
}

// WithCallTimeout overrides the per-call backend timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// New creates a controller in WAITING with direction ENTRY.
func New(b Backend, m MetricsRecorder, opts ...Option) *Controller {
	c := &Controller{
		snap: Snapshot{
			State:      StateWaiting,
			Generation: 1,
			Direction:  DirectionEntry,
		},
		backend:    b,
		metrics:    m,
		resetDelay: ResetDelay,
		timeout:    backend.DefaultTimeout,
		logger:     log.WithComponent("workflow"),
		listeners:  make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the current kiosk state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Generation returns the current workflow generation for stamping new scan
// events.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Generation
}

// Subscribe registers a listener for state snapshots. The returned cancel
// func must be called to release the listener.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	c.mu.Lock()
	c.listeners[ch] = struct{}{}
	ch <- c.snap
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.listeners, ch)
		c.mu.Unlock()
	}
}

// SetDirection flips the entry/exit toggle. Only legal while WAITING.
func (c *Controller) SetDirection(d Direction) error {
	if d != DirectionEntry && d != DirectionExit {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidAction, d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateWaiting {
		return ErrInvalidAction
	}
	c.snap.Direction = d
	c.broadcastLocked()
	return nil
}

// Submit feeds one normalized scan event into the workflow. Late events
// issued against an older generation are dropped with ErrStaleEvent.
func (c *Controller) Submit(ctx context.Context, ev scan.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Generation != 0 && ev.Generation != c.snap.Generation {
		c.logger.Debug().
			Str(log.FieldEvent, "scan.stale_dropped").
			Str(log.FieldScanID, ev.ID).
			Uint64("event_generation", ev.Generation).
			Uint64("current_generation", c.snap.Generation).
			Msg("dropping late scan event")
		return ErrStaleEvent
	}
	if ev.Code == "" {
		return ErrInvalidAction
	}
	c.metrics.RecordScan(string(ev.Source))
	c.logger.Info().
		Str(log.FieldEvent, "scan.accepted").
		Str(log.FieldScanID, ev.ID).
		Str(log.FieldSource, string(ev.Source)).
		Str(log.FieldCode, log.MaskCode(ev.Code)).
		Str(log.FieldOldState, string(c.snap.State)).
		Msg("processing scan")

	switch c.snap.State {
	case StateWaiting, StateResult:
		if c.busy {
			return ErrBusy
		}
		c.busy = true
		gen := c.setStateLocked(StateLoading)
		go c.identify(ev.Code, gen)
		return nil

	case StatePersonIdentified:
		if c.busy {
			return ErrBusy
		}
		if c.snap.Person == nil {
			return ErrInvalidAction
		}
		person := *c.snap.Person
		assets := append([]backend.Asset(nil), c.snap.Assets...)
		direction := c.snap.Direction
		c.busy = true
		gen := c.setStateLocked(StateLoading)
		go c.validateAsset(ev.Code, person, assets, direction, gen)
		return nil

	case StateRegistering:
		// Operator scanned the new asset's label while the form is open:
		// the code fills the draft instead of triggering identification.
		if c.snap.Draft == nil || !c.snap.Draft.HasAsset {
			return ErrNotListening
		}
		draft := *c.snap.Draft
		draft.AssetID = ev.Code
		c.snap.Draft = &draft
		c.broadcastLocked()
		return nil

	default:
		return ErrNotListening
	}
}

// PedestrianConfirm handles the operator's "no asset" choice in
// PERSON_IDENTIFIED: a pedestrian movement is logged in the current
// direction.
func (c *Controller) PedestrianConfirm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StatePersonIdentified || c.snap.Person == nil {
		return ErrInvalidAction
	}
	if c.busy {
		return ErrBusy
	}
	person := *c.snap.Person
	assets := append([]backend.Asset(nil), c.snap.Assets...)
	direction := c.snap.Direction
	c.busy = true
	gen := c.setStateLocked(StateLoading)
	go c.pedestrian(person, assets, direction, gen)
	return nil
}

// UpdateDraft replaces the registration draft while the form is open.
func (c *Controller) UpdateDraft(d Draft) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateRegistering {
		return ErrInvalidAction
	}
	if d.PersonID == "" {
		return fmt.Errorf("%w: draft requires a person id", ErrInvalidAction)
	}
	c.snap.Draft = &d
	c.broadcastLocked()
	return nil
}

// SubmitRegistration validates and submits the registration draft.
func (c *Controller) SubmitRegistration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateRegistering || c.snap.Draft == nil {
		return ErrInvalidAction
	}
	if c.busy {
		return ErrBusy
	}
	draft := *c.snap.Draft
	if draft.PersonName == "" {
		return fmt.Errorf("%w: person name required", ErrInvalidAction)
	}
	if draft.HasAsset && draft.AssetID == "" {
		return fmt.Errorf("%w: asset id required", ErrInvalidAction)
	}
	c.busy = true
	gen := c.setStateLocked(StateLoading)
	go c.register(draft, gen)
	return nil
}

// CancelRegistration discards the draft and returns to WAITING.
func (c *Controller) CancelRegistration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateRegistering {
		return ErrInvalidAction
	}
	c.clearCycleLocked()
	c.setStateLocked(StateWaiting)
	return nil
}

// ClosePass leaves CODE_ISSUED through the regular feedback path.
func (c *Controller) ClosePass() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateCodeIssued {
		return ErrInvalidAction
	}
	c.toResultLocked(FeedbackSuccess, "Proceso finalizado.")
	return nil
}

// OpenAdmin opens the control panel from WAITING.
func (c *Controller) OpenAdmin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateWaiting {
		return ErrInvalidAction
	}
	c.snap.AdminSearch = ""
	c.snap.Notice = ""
	c.setStateLocked(StateAdminPanel)
	return nil
}

// CloseAdmin returns to WAITING, clearing the admin lookup context.
func (c *Controller) CloseAdmin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateAdminPanel {
		return ErrInvalidAction
	}
	c.clearCycleLocked()
	c.setStateLocked(StateWaiting)
	return nil
}

// AdminLookup fetches a person by id for the control panel. Not-found is
// reported inline; the panel stays open.
func (c *Controller) AdminLookup(query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateAdminPanel {
		return ErrInvalidAction
	}
	if query == "" {
		return fmt.Errorf("%w: empty lookup", ErrInvalidAction)
	}
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	c.snap.AdminSearch = query
	gen := c.snap.Generation
	c.broadcastLocked()
	go c.adminSearch(query, gen)
	return nil
}

// AdminIssuePass shows a pass for the loaded person (line code) or one of
// their assets (matrix code).
func (c *Controller) AdminIssuePass(subjectID string, kind PassKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateAdminPanel || c.snap.Person == nil {
		return ErrInvalidAction
	}
	if subjectID != c.snap.Person.ID && !c.ownsAssetLocked(subjectID) {
		return fmt.Errorf("%w: subject %q not in lookup result", ErrInvalidAction, subjectID)
	}
	c.snap.Pass = &IssuedPass{SubjectID: subjectID, Kind: kind}
	c.setStateLocked(StateCodeIssued)
	return nil
}

// AdminNewAsset jumps to the registration form pre-seeded with the loaded
// person, to link an additional asset.
func (c *Controller) AdminNewAsset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateAdminPanel || c.snap.Person == nil {
		return ErrInvalidAction
	}
	c.snap.Draft = &Draft{
		PersonID:   c.snap.Person.ID,
		PersonName: c.snap.Person.Name,
		HasAsset:   true,
	}
	c.setStateLocked(StateRegistering)
	return nil
}

func (c *Controller) ownsAssetLocked(assetID string) bool {
	for _, a := range c.snap.Assets {
		if a.ID == assetID {
			return true
		}
	}
	return false
}

// --- backend call goroutines -------------------------------------------

func (c *Controller) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// identify resolves a fresh code scanned from WAITING or RESULT.
func (c *Controller) identify(code string, gen uint64) {
	ctx, cancel := c.callCtx()
	defer cancel()

	res, err := c.backend.Identify(ctx, code)
	if err != nil {
		c.metrics.RecordBackendFailure("identify")
		c.applyResult(gen, func() {
			c.toResultLocked(FeedbackError, connectionMessage(err))
		})
		return
	}

	switch res.Status {
	case backend.StatusError:
		c.applyResult(gen, func() {
			c.toResultLocked(FeedbackError, "Error: "+res.Message)
		})

	case backend.StatusNotFound:
		// Unknown code: seed a registration draft with the scanned code as
		// the new person's identifier. No backend call yet.
		seed := res.Code
		if seed == "" {
			seed = code
		}
		c.applyResult(gen, func() {
			c.snap.Person = &backend.Person{ID: seed}
			c.snap.Draft = &Draft{PersonID: seed, HasAsset: true}
			c.setStateLocked(StateRegistering)
		})

	case backend.StatusSuccess:
		c.identified(res, gen)
	}
}

// identified applies the decision logic for a successfully classified code.
func (c *Controller) identified(res *backend.IdentifyResult, gen uint64) {
	if res.Person == nil {
		c.applyResult(gen, func() {
			c.toResultLocked(FeedbackError, "Error: respuesta sin persona")
		})
		return
	}
	direction := c.direction()

	if res.Classification == backend.ClassAsset && res.Asset != nil && res.Person != nil {
		// Scan-and-go: the code already identifies an asset and its owner.
		err := c.logMovement(backend.Movement{
			Direction:  string(direction),
			PersonID:   res.Person.ID,
			AssetID:    res.Asset.ID,
			Outcome:    OutcomeScanAndGo,
			PersonName: res.Person.Name,
		})
		c.applyResult(gen, func() {
			if err != nil {
				c.toResultLocked(FeedbackError, connectionMessage(err))
				return
			}
			c.toResultLocked(FeedbackSuccess,
				fmt.Sprintf("%s SCAN&GO: %s - %s", direction, res.Person.Name, res.Asset.ID))
		})
		return
	}

	if direction == DirectionExit {
		// Pedestrian exit completes immediately; the person id doubles as
		// the cycle's asset reference.
		err := c.logMovement(backend.Movement{
			Direction:  string(DirectionExit),
			PersonID:   res.Person.ID,
			AssetID:    res.Person.ID,
			Outcome:    OutcomePedestrian,
			PersonName: res.Person.Name,
		})
		c.applyResult(gen, func() {
			if err != nil {
				c.toResultLocked(FeedbackError, connectionMessage(err))
				return
			}
			c.toResultLocked(FeedbackSuccess, "SALIDA PEATONAL: "+res.Person.Name)
		})
		return
	}

	// Entry mode person scan: ask whether an asset accompanies the person.
	c.applyResult(gen, func() {
		c.snap.Person = res.Person
		c.snap.Assets = res.Assets
		c.setStateLocked(StatePersonIdentified)
	})
}

// validateAsset checks a code scanned while a person is identified against
// that person's known assets. A mismatch is a business denial: audited as a
// failed movement and surfaced as an alarm.
func (c *Controller) validateAsset(code string, person backend.Person, assets []backend.Asset, direction Direction, gen uint64) {
	var match *backend.Asset
	for i := range assets {
		if assets[i].ID == code {
			match = &assets[i]
			break
		}
	}

	if match == nil {
		logErr := c.logMovement(backend.Movement{
			Direction:  string(direction) + deniedSuffix,
			PersonID:   person.ID,
			AssetID:    code,
			Outcome:    OutcomeAlert,
			PersonName: person.Name,
		})
		if logErr != nil {
			c.logger.Error().Err(logErr).
				Str(log.FieldEvent, "movement.audit_failed").
				Str(log.FieldPersonID, person.ID).
				Msg("denied movement could not be audited")
		}
		c.applyResult(gen, func() {
			c.toResultLocked(FeedbackAlarm, "ALERTA: EQUIPO NO AUTORIZADO")
		})
		return
	}

	err := c.logMovement(backend.Movement{
		Direction:  string(direction),
		PersonID:   person.ID,
		AssetID:    match.ID,
		Outcome:    OutcomeOK,
		PersonName: person.Name,
	})
	c.applyResult(gen, func() {
		if err != nil {
			c.toResultLocked(FeedbackError, connectionMessage(err))
			return
		}
		c.toResultLocked(FeedbackSuccess,
			fmt.Sprintf("%s EXITOSA: %s", direction, match.Description))
	})
}

// pedestrian logs a no-asset movement for the identified person. On a failed
// call the workflow returns to PERSON_IDENTIFIED so the operator can retry.
func (c *Controller) pedestrian(person backend.Person, assets []backend.Asset, direction Direction, gen uint64) {
	err := c.logMovement(backend.Movement{
		Direction:  string(direction),
		PersonID:   person.ID,
		AssetID:    person.ID,
		Outcome:    OutcomeOK,
		PersonName: person.Name,
	})
	c.applyResult(gen, func() {
		if err != nil {
			c.snap.Person = &person
			c.snap.Assets = assets
			c.snap.Notice = connectionMessage(err)
			c.setStateLocked(StatePersonIdentified)
			return
		}
		c.toResultLocked(FeedbackSuccess,
			fmt.Sprintf("%s PEATONAL EXITOSA", direction))
	})
}

// register creates the person (and optionally asset), audits the entry and
// issues the pass.
func (c *Controller) register(draft Draft, gen uint64) {
	assetID := draft.AssetID
	description := draft.AssetDescription
	if !draft.HasAsset {
		assetID = fmt.Sprintf("SIN-EQUIPO-%d", time.Now().UnixMilli())
		description = "Peatonal"
	}

	ctx, cancel := c.callCtx()
	err := c.backend.Register(ctx, backend.Registration{
		PersonID:         draft.PersonID,
		PersonName:       draft.PersonName,
		AssetID:          assetID,
		AssetDescription: description,
	})
	cancel()
	if err != nil {
		c.metrics.RecordBackendFailure("register")
		c.applyResult(gen, func() {
			c.snap.Draft = &draft
			c.snap.Notice = connectionMessage(err)
			c.setStateLocked(StateRegistering)
		})
		return
	}

	codeForEntry := assetID
	if !draft.HasAsset {
		codeForEntry = draft.PersonID
	}
	if logErr := c.logMovement(backend.Movement{
		Direction:  string(DirectionEntry),
		PersonID:   draft.PersonID,
		AssetID:    codeForEntry,
		Outcome:    OutcomeRegistered,
		PersonName: draft.PersonName,
	}); logErr != nil {
		c.logger.Error().Err(logErr).
			Str(log.FieldEvent, "movement.audit_failed").
			Str(log.FieldPersonID, draft.PersonID).
			Msg("registration movement could not be audited")
	}

	pass := &IssuedPass{SubjectID: assetID, Kind: PassQR}
	if !draft.HasAsset {
		pass = &IssuedPass{SubjectID: draft.PersonID, Kind: PassBarcode}
	}
	c.applyResult(gen, func() {
		c.snap.Person = &backend.Person{ID: draft.PersonID, Name: draft.PersonName, Status: "ACTIVO"}
		c.snap.Draft = nil
		c.snap.Pass = pass
		c.setStateLocked(StateCodeIssued)
	})
}

// adminSearch resolves a control-panel lookup.
func (c *Controller) adminSearch(query string, gen uint64) {
	ctx, cancel := c.callCtx()
	defer cancel()

	res, err := c.backend.SearchPerson(ctx, query)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if c.snap.Generation != gen || c.snap.State != StateAdminPanel {
		return
	}
	switch {
	case err != nil:
		c.metrics.RecordBackendFailure("search_person")
		c.snap.Notice = connectionMessage(err)
	case res.Status == backend.StatusSuccess:
		c.snap.Person = res.Person
		c.snap.Assets = res.Assets
		c.snap.Notice = ""
	case res.Status == backend.StatusNotFound:
		c.snap.Person = nil
		c.snap.Assets = nil
		c.snap.Notice = "Usuario no encontrado."
	default:
		c.snap.Notice = "Error: " + res.Message
	}
	c.broadcastLocked()
}

// logMovement performs the audit call and records the movement metric.
func (c *Controller) logMovement(mv backend.Movement) error {
	ctx, cancel := c.callCtx()
	defer cancel()
	err := c.backend.LogMovement(ctx, mv)
	if err != nil {
		c.metrics.RecordBackendFailure("log_movement")
		return err
	}
	c.metrics.RecordMovement(mv.Direction, mv.Outcome)
	c.logger.Info().
		Str(log.FieldEvent, "movement.logged").
		Str(log.FieldDirection, mv.Direction).
		Str(log.FieldOutcome, mv.Outcome).
		Str(log.FieldPersonID, mv.PersonID).
		Str(log.FieldAssetID, mv.AssetID).
		Msg("movement logged")
	return nil
}

// applyResult runs apply under the lock if the workflow generation still
// matches the one the call was issued against; stale completions are
// dropped.
func (c *Controller) applyResult(gen uint64, apply func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if c.snap.Generation != gen {
		c.logger.Debug().
			Str(log.FieldEvent, "workflow.stale_completion").
			Uint64("call_generation", gen).
			Uint64("current_generation", c.snap.Generation).
			Msg("dropping stale backend completion")
		return
	}
	apply()
}

// --- state plumbing ----------------------------------------------------

// setStateLocked transitions to next, bumps the generation and notifies
// listeners. Returns the new generation.
func (c *Controller) setStateLocked(next State) uint64 {
	prev := c.snap.State
	c.snap.State = next
	c.snap.Generation++
	c.metrics.RecordTransition(string(prev), string(next))
	c.logger.Info().
		Str(log.FieldEvent, "workflow.transition").
		Str(log.FieldOldState, string(prev)).
		Str(log.FieldNewState, string(next)).
		Uint64("generation", c.snap.Generation).
		Msg("state changed")
	c.broadcastLocked()
	return c.snap.Generation
}

// toResultLocked shows terminal feedback and arms the auto-reset timer.
func (c *Controller) toResultLocked(kind FeedbackKind, message string) {
	c.snap.Feedback = &Feedback{Kind: kind, Message: message}
	gen := c.setStateLocked(StateResult)
	time.AfterFunc(c.resetDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.snap.State != StateResult || c.snap.Generation != gen {
			// The operator scanned again from RESULT; that cycle owns the
			// state now.
			return
		}
		c.clearCycleLocked()
		c.setStateLocked(StateWaiting)
	})
}

// clearCycleLocked wipes every piece of per-cycle transient state. The
// direction toggle survives cycles; it only defaults to ENTRY at process
// start.
func (c *Controller) clearCycleLocked() {
	c.snap.Person = nil
	c.snap.Assets = nil
	c.snap.Draft = nil
	c.snap.Pass = nil
	c.snap.Feedback = nil
	c.snap.AdminSearch = ""
	c.snap.Notice = ""
}

func (c *Controller) direction() Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Direction
}

func (c *Controller) broadcastLocked() {
	for ch := range c.listeners {
		select {
		case ch <- c.snap:
		default:
			// Slow listener: evict the oldest buffered snapshot so the
			// latest state is never hidden behind a full buffer.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- c.snap:
			default:
			}
		}
	}
}

func connectionMessage(err error) string {
	switch {
	case errors.Is(err, backend.ErrTimeout):
		return "Error de conexión: tiempo de espera agotado"
	case errors.Is(err, backend.ErrUnavailable):
		return "Error de conexión"
	default:
		return "Error: " + err.Error()
	}
}
