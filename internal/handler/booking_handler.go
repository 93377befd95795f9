package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/service"
)

// BookingHandler handles solo booking HTTP requests.
type BookingHandler struct {
	bookings *service.BookingService
	log      *zap.Logger
}

// NewBookingHandler creates a new booking handler.
func NewBookingHandler(bookings *service.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, log: nopLogger(log)}
}

// RatingRequest is the body of POST /api/v1/bookings/{id}/rate.
type RatingRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// Register mounts the booking routes on an /api/v1 subrouter.
func (h *BookingHandler) Register(r *mux.Router) {
	r.HandleFunc("/bookings", h.CreateBooking).Methods(http.MethodPost)
	r.HandleFunc("/bookings/{id}", h.GetBooking).Methods(http.MethodGet)
	r.HandleFunc("/bookings/{id}/accept", h.AcceptBooking).Methods(http.MethodPost)
	r.HandleFunc("/bookings/{id}/start", h.StartRide).Methods(http.MethodPost)
	r.HandleFunc("/bookings/{id}/complete", h.CompleteRide).Methods(http.MethodPost)
	r.HandleFunc("/bookings/{id}/rate", h.RateBooking).Methods(http.MethodPost)
	r.HandleFunc("/riders/{id}/bookings", h.ListRiderBookings).Methods(http.MethodGet)
	r.HandleFunc("/drivers/{id}/bookings", h.ListDriverBookings).Methods(http.MethodGet)
}

// CreateBooking handles POST /api/v1/bookings
//
// Request body:
//
//	{
//	  "rider":  {"name": "Asha", "phone": "+91..."},
//	  "driver": {"id": "d-42", "name": "Kumar", "vehicle": "KA01AB1234"},
//	  "pickup": {"name": "Hostel 3", "lat": 12.9716, "lng": 77.5946},
//	  "drop":   {"name": "Airport", "lat": 13.1986, "lng": 77.7066},
//	  "payment_mode": "upi"
//	}
//
// The fare is locked at creation. Returns 201 with the pending booking.
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var req service.CreateBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Rider.ID = caller

	booking, err := h.bookings.CreateBooking(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusCreated, booking)
}

// GetBooking handles GET /api/v1/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.bookings.GetBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, booking)
}

// AcceptBooking handles POST /api/v1/bookings/{id}/accept
//
// Response codes:
//
//	200: Accepted
//	403: Caller is not the requested driver
//	404: Booking not found
//	409: Booking is no longer pending
func (h *BookingHandler) AcceptBooking(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	booking, err := h.bookings.AcceptBooking(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, booking)
}

// StartRide handles POST /api/v1/bookings/{id}/start
func (h *BookingHandler) StartRide(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	booking, err := h.bookings.StartRide(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, booking)
}

// CompleteRide handles POST /api/v1/bookings/{id}/complete
//
// Completing twice returns the completed booking again; stats move once.
func (h *BookingHandler) CompleteRide(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	booking, err := h.bookings.CompleteRide(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, booking)
}

// RateBooking handles POST /api/v1/bookings/{id}/rate
//
// Request body:
//
//	{"score": 5, "comment": "smooth ride"}
//
// The rider rates the driver and the driver rates the rider, once each.
func (h *BookingHandler) RateBooking(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var req RatingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	booking, err := h.bookings.RateBooking(r.Context(), mux.Vars(r)["id"], caller, req.Score, req.Comment)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, booking)
}

// ListRiderBookings handles GET /api/v1/riders/{id}/bookings
func (h *BookingHandler) ListRiderBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.bookings.ListRiderBookings(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, nonNil(bookings))
}

// ListDriverBookings handles GET /api/v1/drivers/{id}/bookings
func (h *BookingHandler) ListDriverBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.bookings.ListDriverBookings(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, nonNil(bookings))
}
