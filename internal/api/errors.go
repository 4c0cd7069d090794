package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"gatekeeper/internal/backend"
	"gatekeeper/internal/decode"
	"gatekeeper/internal/workflow"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeWorkflowError maps domain errors to HTTP status codes. Races against
// the workflow (stale events, busy, not listening) are conflicts, not client
// mistakes.
func writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrStaleEvent),
		errors.Is(err, workflow.ErrNotListening),
		errors.Is(err, workflow.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, decode.ErrNoSymbol):
		writeError(w, http.StatusUnprocessableEntity, "no code found in image")
	case errors.Is(err, backend.ErrTimeout), errors.Is(err, backend.ErrUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
