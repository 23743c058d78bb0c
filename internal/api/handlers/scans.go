// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/drivedex/internal/driveident"
	"github.com/autobrr/drivedex/internal/models"
	"github.com/autobrr/drivedex/internal/services/supervisor"
)

type ScansHandler struct {
	scans  *models.ScanStore
	dups   *models.DuplicateStore
	super  *supervisor.Supervisor
	dbPath string
}

func NewScansHandler(scans *models.ScanStore, dups *models.DuplicateStore, super *supervisor.Supervisor, dbPath string) *ScansHandler {
	return &ScansHandler{scans: scans, dups: dups, super: super, dbPath: dbPath}
}

func (h *ScansHandler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.start)
	r.Get("/{scanID}", h.get)
	r.Post("/{scanID}/cancel", h.cancel)
	r.Get("/{scanID}/files", h.files)
	r.Get("/{scanID}/duplicates", h.duplicates)
}

func (h *ScansHandler) list(w http.ResponseWriter, r *http.Request) {
	driveID := int64(QueryInt(r, "driveId", 0))
	scans, err := h.scans.List(r.Context(), driveID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, scans)
}

type startScanRequest struct {
	MountPoint  string `json:"mountPoint"`
	DriveSerial string `json:"driveSerial,omitempty"`
	DriveModel  string `json:"driveModel,omitempty"`
	DriveNotes  string `json:"driveNotes,omitempty"`
}

type jobResponse struct {
	JobID string `json:"jobId"`
	Key   string `json:"key"`
}

// start validates the request and spawns a scan worker. The scan row is
// created by the worker; completion is observed through the store.
func (h *ScansHandler) start(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.MountPoint = strings.TrimSpace(req.MountPoint)
	if req.MountPoint == "" {
		RespondError(w, http.StatusBadRequest, "mountPoint is required")
		return
	}
	if err := driveident.ValidateMountPoint(req.MountPoint); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	args := []string{"scan", "--db", h.dbPath, "--mount", req.MountPoint, "--json-output"}
	if req.DriveSerial != "" {
		args = append(args, "--drive-serial", req.DriveSerial)
	}
	if req.DriveModel != "" {
		args = append(args, "--drive-model", req.DriveModel)
	}
	if req.DriveNotes != "" {
		args = append(args, "--drive-notes", req.DriveNotes)
	}

	key := supervisor.ScanKey(req.MountPoint)
	jobID, err := h.super.Start(key, args, func(outcome supervisor.Outcome) {
		if outcome.Err != nil {
			// The worker closes its own scan row; a crash this early can
			// only be surfaced, not repaired. The cancel endpoint can
			// close a row left in_progress.
			log.Error().Err(outcome.Err).Str("mountPoint", req.MountPoint).Msg("Scan worker failed")
		}
	})
	if err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			RespondError(w, http.StatusConflict, "a scan is already running for this mount point")
			return
		}
		RespondError(w, http.StatusInternalServerError, "failed to start scan worker")
		return
	}

	RespondJSON(w, http.StatusAccepted, jobResponse{JobID: jobID, Key: key})
}

func (h *ScansHandler) get(w http.ResponseWriter, r *http.Request) {
	scanID, ok := ParseIDParam(w, r, "scanID", "scan ID")
	if !ok {
		return
	}

	scan, err := h.scans.Get(r.Context(), scanID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, scan)
}

// cancel signals the worker scanning this scan's mount point. The worker
// closes out the scan row itself.
func (h *ScansHandler) cancel(w http.ResponseWriter, r *http.Request) {
	scanID, ok := ParseIDParam(w, r, "scanID", "scan ID")
	if !ok {
		return
	}

	scan, err := h.scans.Get(r.Context(), scanID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	if scan.Status != models.ScanStatusInProgress {
		RespondError(w, http.StatusConflict, "scan is not in progress")
		return
	}

	if err := h.super.Cancel(supervisor.ScanKey(scan.MountPoint)); err != nil {
		if errors.Is(err, supervisor.ErrNotRunning) {
			// Worker already gone; close the row here so it doesn't
			// hang in_progress forever.
			if err := h.scans.Cancel(r.Context(), scanID); err != nil {
				RespondStoreError(w, err)
				return
			}
			RespondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
			return
		}
		RespondError(w, http.StatusInternalServerError, "failed to cancel scan worker")
		return
	}

	RespondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

type filesResponse struct {
	Files  []*models.FileEntry `json:"files"`
	Total  int64               `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func (h *ScansHandler) files(w http.ResponseWriter, r *http.Request) {
	scanID, ok := ParseIDParam(w, r, "scanID", "scan ID")
	if !ok {
		return
	}
	if _, err := h.scans.Get(r.Context(), scanID); err != nil {
		RespondStoreError(w, err)
		return
	}

	limit := QueryInt(r, "limit", 100)
	offset := QueryInt(r, "offset", 0)

	files, err := h.scans.ListFiles(r.Context(), scanID, limit, offset)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	total, err := h.scans.CountFiles(r.Context(), scanID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, filesResponse{
		Files:  files,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (h *ScansHandler) duplicates(w http.ResponseWriter, r *http.Request) {
	scanID, ok := ParseIDParam(w, r, "scanID", "scan ID")
	if !ok {
		return
	}
	if _, err := h.scans.Get(r.Context(), scanID); err != nil {
		RespondStoreError(w, err)
		return
	}

	groups, err := h.dups.ListGroups(r.Context(), scanID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, groups)
}
