package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/service"
)

// CancelHandler handles the ways a rider or driver backs out: leaving or
// cancelling a pool, cancelling or rejecting a booking.
type CancelHandler struct {
	pools    *service.PoolService
	bookings *service.BookingService
	log      *zap.Logger
}

// NewCancelHandler creates a new cancel handler.
func NewCancelHandler(pools *service.PoolService, bookings *service.BookingService, log *zap.Logger) *CancelHandler {
	return &CancelHandler{pools: pools, bookings: bookings, log: nopLogger(log)}
}

// CancelRequest is the optional body of the booking cancel routes.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Register mounts the cancel routes on an /api/v1 subrouter.
func (h *CancelHandler) Register(r *mux.Router) {
	r.HandleFunc("/pools/{id}/leave", h.LeavePool).Methods(http.MethodPost)
	r.HandleFunc("/pools/{id}/cancel", h.CancelPool).Methods(http.MethodPost)
	r.HandleFunc("/bookings/{id}/cancel", h.CancelBooking).Methods(http.MethodPost)
	r.HandleFunc("/bookings/{id}/reject", h.RejectBooking).Methods(http.MethodPost)
}

// LeavePool handles POST /api/v1/pools/{id}/leave
//
// Response codes:
//
//	200: Left (returns the updated pool; cancelled when nobody is left)
//	404: Pool not found, or caller not in it
//	409: A driver is already assigned
func (h *CancelHandler) LeavePool(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	pool, err := h.pools.LeavePool(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, pool)
}

// CancelPool handles POST /api/v1/pools/{id}/cancel
//
// Only the creator may cancel, and only before a driver is assigned.
func (h *CancelHandler) CancelPool(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	pool, err := h.pools.CancelPool(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, pool)
}

// CancelBooking handles POST /api/v1/bookings/{id}/cancel
//
// Request body (optional):
//
//	{"reason": "plans changed"}
func (h *CancelHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	req, ok := decodeReason(w, r)
	if !ok {
		return
	}
	booking, err := h.bookings.CancelBooking(r.Context(), mux.Vars(r)["id"], caller, req.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, booking)
}

// RejectBooking handles POST /api/v1/bookings/{id}/reject
//
// The requested driver declines a pending booking.
func (h *CancelHandler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	req, ok := decodeReason(w, r)
	if !ok {
		return
	}
	booking, err := h.bookings.RejectBooking(r.Context(), mux.Vars(r)["id"], caller, req.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, booking)
}

// decodeReason accepts an empty body as "no reason given".
func decodeReason(w http.ResponseWriter, r *http.Request) (CancelRequest, bool) {
	var req CancelRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeFailure(w, http.StatusBadRequest, "invalid_body", "invalid JSON body: "+err.Error())
		return req, false
	}
	return req, true
}
