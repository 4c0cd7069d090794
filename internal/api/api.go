// Package api exposes the kiosk daemon over HTTP: scan submission, manual
// entry, the direction-mode toggle, registration and admin flows, state
// observation (poll and server-sent events), and pass image delivery.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gatekeeper/internal/arbiter"
	"gatekeeper/internal/log"
	"gatekeeper/internal/passes"
	"gatekeeper/internal/scan"
	"gatekeeper/internal/workflow"
)

// maxImageBytes bounds uploaded still images.
const maxImageBytes = 8 << 20

// Server wires the workflow, arbiter and pass service into an HTTP API.
type Server struct {
	ctrl   *workflow.Controller
	arb    *arbiter.Arbiter
	passes *passes.Service
	logger zerolog.Logger

	rateLimit int
}

// New creates the API server.
func New(ctrl *workflow.Controller, arb *arbiter.Arbiter, ps *passes.Service, rateLimit int) *Server {
	if rateLimit <= 0 {
		rateLimit = 120
	}
	return &Server{
		ctrl:      ctrl,
		arb:       arb,
		passes:    ps,
		logger:    log.WithComponent("api"),
		rateLimit: rateLimit,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/state/stream", s.handleStateStream)
		r.Get("/pass/image", s.handlePassImage)
		r.Get("/pass/print", s.handlePassPrint)

		// Mutating endpoints share one per-IP budget.
		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(s.rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

			r.Post("/scan", s.handleScan)
			r.Post("/scan/image", s.handleScanImage)
			r.Post("/mode", s.handleMode)
			r.Post("/pedestrian", s.handlePedestrian)

			r.Post("/camera/open", s.handleCameraOpen)
			r.Post("/camera/close", s.handleCameraClose)
			r.Post("/manual/open", s.handleManualOpen)
			r.Post("/manual/close", s.handleManualClose)
			r.Post("/manual", s.handleManualSubmit)

			r.Put("/registration/draft", s.handleDraft)
			r.Post("/registration/submit", s.handleRegistrationSubmit)
			r.Post("/registration/cancel", s.handleRegistrationCancel)

			r.Post("/admin/open", s.handleAdminOpen)
			r.Post("/admin/close", s.handleAdminClose)
			r.Post("/admin/lookup", s.handleAdminLookup)
			r.Post("/admin/pass", s.handleAdminPass)
			r.Post("/admin/new-asset", s.handleAdminNewAsset)

			r.Post("/pass/close", s.handlePassClose)
			r.Post("/pass/download", s.handlePassDownload)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

type scanRequest struct {
	Code   string `json:"code"`
	Source string `json:"source"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	source := scan.Source(req.Source)
	switch source {
	case scan.SourceWedge, scan.SourceManual:
	case "":
		source = scan.SourceWedge
	default:
		writeError(w, http.StatusBadRequest, "unknown source")
		return
	}

	ev := scan.NewEvent(scan.Normalize(req.Code), source, s.ctrl.Generation())
	if err := s.ctrl.Submit(r.Context(), ev); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"scanId": ev.ID})
}

func (s *Server) handleScanImage(w http.ResponseWriter, r *http.Request) {
	image, err := io.ReadAll(io.LimitReader(r.Body, maxImageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read image body")
		return
	}
	if len(image) == 0 {
		writeError(w, http.StatusBadRequest, "empty image")
		return
	}
	if len(image) > maxImageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if err := s.arb.SubmitImage(r.Context(), image); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type modeRequest struct {
	Direction string `json:"direction"`
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.ctrl.SetDirection(workflow.Direction(req.Direction)); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handlePedestrian(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.PedestrianConfirm(); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleCameraOpen(w http.ResponseWriter, r *http.Request) {
	if err := s.arb.OpenCamera(); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cameraActive": true})
}

func (s *Server) handleCameraClose(w http.ResponseWriter, r *http.Request) {
	s.arb.CloseCamera()
	writeJSON(w, http.StatusOK, map[string]bool{"cameraActive": false})
}

func (s *Server) handleManualOpen(w http.ResponseWriter, r *http.Request) {
	s.arb.OpenManual()
	writeJSON(w, http.StatusOK, map[string]bool{"manualOpen": true})
}

func (s *Server) handleManualClose(w http.ResponseWriter, r *http.Request) {
	s.arb.CloseManual()
	writeJSON(w, http.StatusOK, map[string]bool{"manualOpen": false})
}

func (s *Server) handleManualSubmit(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if err := s.arb.SubmitManual(r.Context(), req.Code); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var draft workflow.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.ctrl.UpdateDraft(draft); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleRegistrationSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.SubmitRegistration(); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleRegistrationCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.CancelRegistration(); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleAdminOpen(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.OpenAdmin(); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleAdminClose(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.CloseAdmin(); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

type lookupRequest struct {
	PersonID string `json:"personId"`
}

func (s *Server) handleAdminLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.ctrl.AdminLookup(req.PersonID); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type adminPassRequest struct {
	SubjectID string `json:"subjectId"`
	Kind      string `json:"kind"`
}

func (s *Server) handleAdminPass(w http.ResponseWriter, r *http.Request) {
	var req adminPassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind := workflow.PassKind(req.Kind)
	if kind != workflow.PassQR && kind != workflow.PassBarcode {
		writeError(w, http.StatusBadRequest, "unknown pass kind")
		return
	}
	if err := s.ctrl.AdminIssuePass(req.SubjectID, kind); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleAdminNewAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.AdminNewAsset(); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handlePassClose(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ClosePass(); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// currentPass returns the issued pass or writes a 409.
func (s *Server) currentPass(w http.ResponseWriter) (workflow.IssuedPass, bool) {
	snap := s.ctrl.Snapshot()
	if snap.State != workflow.StateCodeIssued || snap.Pass == nil {
		writeError(w, http.StatusConflict, "no pass is currently issued")
		return workflow.IssuedPass{}, false
	}
	return *snap.Pass, true
}

func (s *Server) handlePassImage(w http.ResponseWriter, r *http.Request) {
	pass, ok := s.currentPass(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"subjectId": pass.SubjectID,
		"kind":      string(pass.Kind),
		"imageUrl":  s.passes.ImageURL(pass),
	})
}

func (s *Server) handlePassDownload(w http.ResponseWriter, r *http.Request) {
	pass, ok := s.currentPass(w)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()
	path, err := s.passes.Download(ctx, pass)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, "pass.download_failed").Msg("pass download failed")
		writeError(w, http.StatusBadGateway, "pass image fetch failed")
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+passes.FileName(pass))
	http.ServeFile(w, r, path)
}

func (s *Server) handlePassPrint(w http.ResponseWriter, r *http.Request) {
	pass, ok := s.currentPass(w)
	if !ok {
		return
	}
	snap := s.ctrl.Snapshot()
	name := ""
	if snap.Person != nil {
		name = snap.Person.Name
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, passes.PrintDocument(pass, name, s.passes.ImageURL(pass)))
}
