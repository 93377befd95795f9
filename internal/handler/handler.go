// Package handler contains the HTTP request handlers for the pool-ride API.
//
// Every response uses one envelope:
//
//	{"success": true,  "data": {...}}
//	{"success": false, "error": "invalid_state_transition", "message": "..."}
//
// Authentication is done upstream; the calling user arrives in the
// X-User-ID header.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/service"
)

// UserHeader carries the id of the authenticated caller.
const UserHeader = "X-User-ID"

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, envelope{Error: kind, Message: message})
}

// writeError maps a service error onto its HTTP status. Domain rejections
// carry their own message; anything else is logged and reported as a 500.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := service.Kind(err)
	var status int
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, service.ErrCapacityExceeded):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrDuplicateParticipant),
		errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	default:
		log.Error("unhandled service error", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "internal_error", service.Message(err))
		return
	}
	writeFailure(w, status, kind.Error(), service.Message(err))
}

// decodeJSON reads the request body into dst, answering 400 itself when the
// body is malformed.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid_body", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// callerID returns the X-User-ID of the request, answering 401 when it is
// missing.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(UserHeader)
	if id == "" {
		writeFailure(w, http.StatusUnauthorized, "unauthenticated", "Missing "+UserHeader+" header.")
		return "", false
	}
	return id, true
}

func nopLogger(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
