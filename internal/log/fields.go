package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldScanID    = "scan_id"
	FieldRequestID = "request_id"
	FieldPersonID  = "person_id"
	FieldAssetID   = "asset_id"

	// Pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldSource    = "source"
	FieldCode      = "code_masked"

	// Workflow fields
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldDirection = "direction"
	FieldOutcome   = "outcome"

	// Device fields
	FieldDevice     = "device"
	FieldDecodeMode = "decode_mode"
)

// MaskCode redacts the middle of an identifier so logs never carry a full
// national ID or serial. Codes of four characters or fewer pass unchanged.
func MaskCode(code string) string {
	if len(code) <= 4 {
		return code
	}
	return code[:2] + "****" + code[len(code)-2:]
}
