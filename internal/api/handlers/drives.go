// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/drivedex/internal/driveident"
	"github.com/autobrr/drivedex/internal/models"
)

type DrivesHandler struct {
	drives   *models.DriveStore
	resolver *driveident.Resolver
}

func NewDrivesHandler(drives *models.DriveStore, resolver *driveident.Resolver) *DrivesHandler {
	return &DrivesHandler{drives: drives, resolver: resolver}
}

func (h *DrivesHandler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{driveID}", h.get)
	r.Post("/validate", h.validate)
	r.Get("/identity", h.identity)
}

func (h *DrivesHandler) list(w http.ResponseWriter, r *http.Request) {
	drives, err := h.drives.List(r.Context())
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, drives)
}

func (h *DrivesHandler) get(w http.ResponseWriter, r *http.Request) {
	driveID, ok := ParseIDParam(w, r, "driveID", "drive ID")
	if !ok {
		return
	}

	drive, err := h.drives.Get(r.Context(), driveID)
	if err != nil {
		RespondStoreError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, drive)
}

type validateRequest struct {
	Path string `json:"path"`
}

type validateResponse struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// validate checks a mount point without mutating anything.
func (h *DrivesHandler) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		RespondError(w, http.StatusBadRequest, "path is required")
		return
	}

	resp := validateResponse{Path: req.Path, Valid: true}
	if err := driveident.ValidateMountPoint(req.Path); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
		if !errors.Is(err, driveident.ErrMountPointMissing) &&
			!errors.Is(err, driveident.ErrMountPointNotDir) &&
			!errors.Is(err, driveident.ErrMountPointUnreadable) {
			RespondError(w, http.StatusInternalServerError, "validation failed")
			return
		}
	}
	RespondJSON(w, http.StatusOK, resp)
}

// identity probes hardware identity for a mounted path without recording it.
func (h *DrivesHandler) identity(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		RespondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	if err := driveident.ValidateMountPoint(path); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	identity := h.resolver.Resolve(r.Context(), path, nil)
	RespondJSON(w, http.StatusOK, identity.ToDrive(nil))
}
