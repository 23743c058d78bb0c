// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/drivedex/internal/driveident"
	"github.com/autobrr/drivedex/internal/models"
	"github.com/autobrr/drivedex/internal/services/inspection"
	"github.com/autobrr/drivedex/internal/services/supervisor"
)

type SessionsHandler struct {
	sessions   *models.InspectionStore
	dups       *models.DuplicateStore
	inspection *inspection.Service
	super      *supervisor.Supervisor
	dbPath     string
}

func NewSessionsHandler(
	sessions *models.InspectionStore,
	dups *models.DuplicateStore,
	inspectionSvc *inspection.Service,
	super *supervisor.Supervisor,
	dbPath string,
) *SessionsHandler {
	return &SessionsHandler{
		sessions:   sessions,
		dups:       dups,
		inspection: inspectionSvc,
		super:      super,
		dbPath:     dbPath,
	}
}

func (h *SessionsHandler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{sessionID}", h.get)
	r.Post("/{sessionID}/cancel", h.cancel)
	r.Post("/{sessionID}/passes/{passNumber}/run", h.runPass)
	r.Post("/{sessionID}/passes/{passNumber}/skip", h.skipPass)
	r.Get("/{sessionID}/passes/{passNumber}/report", h.passReport)
	r.Get("/{sessionID}/duplicates", h.duplicates)
	r.Get("/{sessionID}/decisions", h.listDecisions)
	r.Post("/{sessionID}/decisions", h.recordDecisions)
	r.Delete("/{sessionID}/decisions/{decisionKey}", h.deleteDecision)
}

func (h *SessionsHandler) list(w http.ResponseWriter, r *http.Request) {
	status := models.SessionStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	sessions, err := h.sessions.ListSessions(r.Context(), status)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	MountPoint  string `json:"mountPoint"`
	DriveSerial string `json:"driveSerial,omitempty"`
	DriveModel  string `json:"driveModel,omitempty"`
	DriveNotes  string `json:"driveNotes,omitempty"`
}

// create opens a session with all passes pending. No worker is spawned; each
// pass runs on demand.
func (h *SessionsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.MountPoint = strings.TrimSpace(req.MountPoint)
	if req.MountPoint == "" {
		RespondError(w, http.StatusBadRequest, "mountPoint is required")
		return
	}

	var override *driveident.Override
	if req.DriveSerial != "" || req.DriveModel != "" || req.DriveNotes != "" {
		override = &driveident.Override{
			Serial: req.DriveSerial,
			Model:  req.DriveModel,
			Notes:  req.DriveNotes,
		}
	}

	session, err := h.inspection.Start(r.Context(), req.MountPoint, override)
	if err != nil {
		if errors.Is(err, driveident.ErrMountPointMissing) ||
			errors.Is(err, driveident.ErrMountPointNotDir) ||
			errors.Is(err, driveident.ErrMountPointUnreadable) {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		RespondStoreError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, session)
}

func (h *SessionsHandler) get(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := ParseIDParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, session)
}

// cancel stops any running pass worker and closes the session.
func (h *SessionsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := ParseIDParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}

	if n := h.super.CancelPrefix(supervisor.SessionKeyPrefix(sessionID)); n > 0 {
		log.Info().Int64("sessionId", sessionID).Int("workers", n).Msg("Signalled running pass workers")
	}

	if err := h.sessions.CancelSession(r.Context(), sessionID); err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// runPass spawns a worker for one pass. Ordering preconditions are enforced
// by the worker against the store; the supervisor only guards against a
// duplicate worker for the same pass.
func (h *SessionsHandler) runPass(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := ParseIDParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}
	passNumber, ok := ParseIntParam(w, r, "passNumber", "pass number")
	if !ok {
		return
	}
	if passNumber < 1 || passNumber > models.PassCount {
		RespondError(w, http.StatusBadRequest, "Invalid pass number")
		return
	}

	// Fail fast on obvious precondition violations before spawning.
	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	if session.Status != models.SessionStatusActive {
		RespondStoreError(w, models.ErrSessionNotActive)
		return
	}

	args := []string{
		"inspect", "run",
		"--db", h.dbPath,
		"--session", strconv.FormatInt(sessionID, 10),
		"--pass", strconv.Itoa(passNumber),
		"--json-output",
	}

	key := supervisor.PassKey(sessionID, passNumber)
	jobID, err := h.super.Start(key, args, func(outcome supervisor.Outcome) {
		if outcome.Err == nil {
			return
		}
		// A worker that died before reaching the store leaves the pass
		// running; close it here. ErrPassState means the worker already
		// recorded its own failure.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.sessions.FailPass(ctx, sessionID, passNumber, outcome.Err.Error()); err != nil && !errors.Is(err, models.ErrPassState) {
			log.Error().Err(err).Int64("sessionId", sessionID).Int("pass", passNumber).Msg("Failed to close out crashed pass worker")
		}
	})
	if err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			RespondError(w, http.StatusConflict, "this pass is already running")
			return
		}
		RespondError(w, http.StatusInternalServerError, "failed to start pass worker")
		return
	}

	RespondJSON(w, http.StatusAccepted, jobResponse{JobID: jobID, Key: key})
}

type skipPassRequest struct {
	Reason string `json:"reason"`
}

func (h *SessionsHandler) skipPass(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := ParseIDParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}
	passNumber, ok := ParseIntParam(w, r, "passNumber", "pass number")
	if !ok {
		return
	}

	var req skipPassRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.sessions.SkipPass(r.Context(), sessionID, passNumber, strings.TrimSpace(req.Reason)); err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

func (h *SessionsHandler) passReport(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := ParseIDParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}
	passNumber, ok := ParseIntParam(w, r, "passNumber", "pass number")
	if !ok {
		return
	}

	pass, err := h.sessions.GetPass(r.Context(), sessionID, passNumber)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	if pass.Status != models.PassStatusCompleted {
		RespondError(w, http.StatusConflict, "pass has no report yet")
		return
	}

	report, err := models.DecodeReport(passNumber, pass.ReportJSON)
	if err != nil {
		log.Error().Err(err).Int64("sessionId", sessionID).Int("pass", passNumber).Msg("Stored report failed validation")
		RespondError(w, http.StatusInternalServerError, "stored report is invalid")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// duplicates returns the groups found by this session's metadata pass.
func (h *SessionsHandler) duplicates(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := ParseIDParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}

	pass, err := h.sessions.GetPass(r.Context(), sessionID, 3)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	if pass.Status != models.PassStatusCompleted {
		RespondError(w, http.StatusConflict, "metadata pass has not completed")
		return
	}

	report, err := models.DecodeReport(3, pass.ReportJSON)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "stored report is invalid")
		return
	}

	groups, err := h.dups.ListGroups(r.Context(), report.Metadata.ScanID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, groups)
}

func (h *SessionsHandler) listDecisions(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := ParseIDParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}

	decisions, err := h.sessions.ListDecisions(r.Context(), sessionID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, decisions)
}

type decisionRequest struct {
	DecisionType  string `json:"decisionType"`
	DecisionKey   string `json:"decisionKey"`
	DecisionValue string `json:"decisionValue"`
	Description   string `json:"description,omitempty"`
	DecidedBy     string `json:"decidedBy,omitempty"`
}

type recordDecisionsRequest struct {
	Decisions []decisionRequest `json:"decisions"`
}

// recordDecisions accepts either a single decision object or a batch under
// "decisions". Re-submitting a key updates it in place.
func (h *SessionsHandler) recordDecisions(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := ParseIDParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}
	if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
		RespondStoreError(w, err)
		return
	}

	var batch recordDecisionsRequest
	var single decisionRequest

	// Read once, try both shapes.
	if !DecodeJSON(w, r, &struct {
		*recordDecisionsRequest
		*decisionRequest
	}{&batch, &single}) {
		return
	}

	requests := batch.Decisions
	if len(requests) == 0 {
		requests = []decisionRequest{single}
	}

	for _, req := range requests {
		if req.DecisionKey == "" || req.DecisionType == "" || req.DecisionValue == "" {
			RespondError(w, http.StatusBadRequest, "decisionType, decisionKey and decisionValue are required")
			return
		}
	}

	for _, req := range requests {
		if err := h.sessions.UpsertDecision(r.Context(), &models.Decision{
			SessionID:     sessionID,
			DecisionType:  req.DecisionType,
			DecisionKey:   req.DecisionKey,
			DecisionValue: req.DecisionValue,
			Description:   req.Description,
			DecidedBy:     req.DecidedBy,
		}); err != nil {
			RespondStoreError(w, err)
			return
		}
	}

	decisions, err := h.sessions.ListDecisions(r.Context(), sessionID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, decisions)
}

func (h *SessionsHandler) deleteDecision(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := ParseIDParam(w, r, "sessionID", "session ID")
	if !ok {
		return
	}
	decisionKey := strings.TrimSpace(chi.URLParam(r, "decisionKey"))
	if decisionKey == "" {
		RespondError(w, http.StatusBadRequest, "Invalid decision key")
		return
	}

	if err := h.sessions.DeleteDecision(r.Context(), sessionID, decisionKey); err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
