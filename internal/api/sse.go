package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gatekeeper/internal/log"
)

// sseHeartbeat keeps intermediaries from closing an idle stream.
const sseHeartbeat = 15 * time.Second

// handleStateStream pushes workflow snapshots as server-sent events. The
// kiosk front-end drives its whole display from this stream.
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	snaps, cancel := s.ctrl.Subscribe()
	defer cancel()

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Debug().Str(log.FieldEvent, "sse.opened").Msg("state stream opened")

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Str(log.FieldEvent, "sse.closed").Msg("state stream closed")
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				logger.Error().Err(err).Msg("encode snapshot")
				continue
			}
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
