// Package workflow drives the kiosk's finite workflow from waiting through
// identification, asset validation or registration, and feedback. All kiosk
// state lives in one Snapshot owned by the Controller; nothing else mutates
// it.
package workflow

import (
	"gatekeeper/internal/backend"
)

// State is the authoritative kiosk state.
type State string

const (
	StateWaiting          State = "WAITING"
	StateLoading          State = "LOADING"
	StatePersonIdentified State = "PERSON_IDENTIFIED"
	StateRegistering      State = "REGISTERING_PERSON"
	StateResult           State = "RESULT"
	StateCodeIssued       State = "CODE_ISSUED"
	StateAdminPanel       State = "ADMIN_PANEL"
)

// ScanAccepting reports whether the wedge and camera channels may feed codes
// into the workflow in this state. Modal states (registration form, issued
// pass, admin panel) suspend live capture; REGISTERING_PERSON receives codes
// only through the explicit asset-scan action.
func (s State) ScanAccepting() bool {
	switch s {
	case StateWaiting, StateLoading, StatePersonIdentified:
		return true
	}
	return false
}

// Direction is the process-wide entry/exit toggle. Not per-person; defaults
// to ENTRY at kiosk start.
type Direction string

const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)

// Movement outcome vocabulary, preserved from the upstream audit sheets.
const (
	OutcomeOK         = "EXITOSO"
	OutcomeScanAndGo  = "EXITOSO (SCAN&GO)"
	OutcomePedestrian = "EXITOSO (PEATONAL)"
	OutcomeRegistered = "EXITOSO (REGISTRO)"
	OutcomeAlert      = "ALERTA"

	// deniedSuffix marks the direction of a refused movement in the audit
	// trail.
	deniedSuffix = " (FALLIDO)"
)

// FeedbackKind classifies the terminal outcome shown in RESULT state.
type FeedbackKind string

const (
	FeedbackSuccess FeedbackKind = "success"
	FeedbackAlarm   FeedbackKind = "alarm" // business-rule denial, not an error
	FeedbackError   FeedbackKind = "error"
)

// Feedback is what the operator sees in RESULT state.
type Feedback struct {
	Kind    FeedbackKind `json:"kind"`
	Message string       `json:"message"`
}

// Draft is the registration form built incrementally while
// REGISTERING_PERSON; discarded on completion or cancellation.
type Draft struct {
	PersonID         string `json:"personId"`
	PersonName       string `json:"personName"`
	AssetID          string `json:"assetId"`
	AssetDescription string `json:"assetDescription"`
	HasAsset         bool   `json:"hasAsset"`
}

// PassKind selects the symbology of an issued pass.
type PassKind string

const (
	PassQR      PassKind = "IMAGE_CODE" // 2D matrix code for asset passes
	PassBarcode PassKind = "LINE_CODE"  // 1D line code for personal passes
)

// IssuedPass describes the code just generated for display, download and
// print. Lives only in CODE_ISSUED state.
type IssuedPass struct {
	SubjectID string   `json:"subjectId"`
	Kind      PassKind `json:"kind"`
}

// Snapshot is the full externally-visible kiosk state. Per-cycle fields are
// wiped on every reset to WAITING.
type Snapshot struct {
	State       State           `json:"state"`
	Generation  uint64          `json:"generation"`
	Direction   Direction       `json:"direction"`
	Person      *backend.Person `json:"person,omitempty"`
	Assets      []backend.Asset `json:"assets,omitempty"`
	Draft       *Draft          `json:"draft,omitempty"`
	Pass        *IssuedPass     `json:"pass,omitempty"`
	Feedback    *Feedback       `json:"feedback,omitempty"`
	AdminSearch string          `json:"adminSearch,omitempty"`
	// Notice carries inline alerts that do not interrupt the current state
	// (failed registration submit, admin lookup miss).
	Notice string `json:"notice,omitempty"`
}
