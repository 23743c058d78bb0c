// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/drivedex/internal/models"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error: message,
	})
}

// RespondStoreError maps store errors onto HTTP statuses: not-found to 404,
// precondition violations to 409, everything else to 500.
func RespondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrDriveNotFound),
		errors.Is(err, models.ErrScanNotFound),
		errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrPassNotFound),
		errors.Is(err, models.ErrDecisionNotFound):
		RespondError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, models.ErrSessionActive),
		errors.Is(err, models.ErrSessionNotActive),
		errors.Is(err, models.ErrPassOrder),
		errors.Is(err, models.ErrPassState),
		errors.Is(err, models.ErrSessionNotDone):
		RespondError(w, http.StatusConflict, err.Error())

	case errors.Is(err, models.ErrPassNotSkippable),
		errors.Is(err, models.ErrSkipReason):
		RespondError(w, http.StatusBadRequest, err.Error())

	default:
		log.Error().Err(err).Msg("Unhandled store error")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// DecodeJSON decodes the request body into the provided struct.
// Returns false if decoding fails (error already sent to client).
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// DecodeJSONOptional decodes the request body into the provided struct.
// Returns true if decoding succeeds or body is empty (io.EOF).
func DecodeJSONOptional[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil && err != io.EOF {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// ParseIDParam extracts and validates a positive int64 URL parameter.
// Returns the value and true on success, or 0 and false if invalid (error
// already sent). The displayName is used in error messages.
func ParseIDParam(w http.ResponseWriter, r *http.Request, paramName, displayName string) (int64, bool) {
	str := strings.TrimSpace(chi.URLParam(r, paramName))
	value, err := strconv.ParseInt(str, 10, 64)
	if err != nil || value <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid "+displayName)
		return 0, false
	}
	return value, true
}

// ParseIntParam extracts and validates an integer URL parameter.
func ParseIntParam(w http.ResponseWriter, r *http.Request, paramName, displayName string) (int, bool) {
	str := strings.TrimSpace(chi.URLParam(r, paramName))
	value, err := strconv.Atoi(str)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid "+displayName)
		return 0, false
	}
	return value, true
}

// QueryInt reads an integer query parameter, falling back to def when absent
// or malformed.
func QueryInt(r *http.Request, name string, def int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return def
	}
	value, err := strconv.Atoi(str)
	if err != nil {
		return def
	}
	return value
}
