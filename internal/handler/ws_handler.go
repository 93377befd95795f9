package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/internal/realtime"
)

// WSHandler upgrades subscription requests onto the realtime hub.
type WSHandler struct {
	hub *realtime.Hub
}

// NewWSHandler creates a websocket handler.
func NewWSHandler(hub *realtime.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Register mounts the websocket routes on the root router; they sit
// outside /api/v1 so the JSON middleware stack does not wrap them.
func (h *WSHandler) Register(r *mux.Router) {
	r.HandleFunc("/ws/pools/{id}", h.Pool).Methods(http.MethodGet)
	r.HandleFunc("/ws/bookings/{id}", h.Booking).Methods(http.MethodGet)
}

// Pool handles GET /ws/pools/{id}: every committed change to the pool is
// pushed as a JSON event.
func (h *WSHandler) Pool(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r, model.PoolChannel(mux.Vars(r)["id"]))
}

// Booking handles GET /ws/bookings/{id}.
func (h *WSHandler) Booking(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r, model.BookingChannel(mux.Vars(r)["id"]))
}
