package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/internal/service"
)

// FareRequest is the JSON body for POST /api/v1/fare/estimate.
type FareRequest struct {
	OriginLat float64 `json:"origin_lat"`
	OriginLng float64 `json:"origin_lng"`
	DestLat   float64 `json:"dest_lat"`
	DestLng   float64 `json:"dest_lng"`
}

// FareHandler handles fare estimation HTTP requests.
type FareHandler struct {
	fares *service.FareCalculator
	log   *zap.Logger
}

// NewFareHandler creates a new fare handler.
func NewFareHandler(fares *service.FareCalculator, log *zap.Logger) *FareHandler {
	return &FareHandler{fares: fares, log: nopLogger(log)}
}

// Register mounts the fare routes on an /api/v1 subrouter.
func (h *FareHandler) Register(r *mux.Router) {
	r.HandleFunc("/fare/estimate", h.EstimateFare).Methods(http.MethodPost)
}

// EstimateFare handles POST /api/v1/fare/estimate
//
// Request body:
//
//	{
//	  "origin_lat": 12.9716, "origin_lng": 77.5946,
//	  "dest_lat": 12.9780,   "dest_lng": 77.6400
//	}
//
// Response: solo fare, single-seat pool fare, peak flag and, when the maps
// integration is configured, the driving distance and duration text.
func (h *FareHandler) EstimateFare(w http.ResponseWriter, r *http.Request) {
	var req FareRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Basic validation.
	if req.OriginLat == 0 || req.OriginLng == 0 || req.DestLat == 0 || req.DestLng == 0 {
		writeFailure(w, http.StatusBadRequest, "validation_error",
			"origin_lat, origin_lng, dest_lat, and dest_lng are all required")
		return
	}
	if !inRange(req.OriginLat, req.OriginLng) || !inRange(req.DestLat, req.DestLng) {
		writeFailure(w, http.StatusBadRequest, "validation_error", "Coordinates are out of range")
		return
	}

	origin := model.Location{Lat: req.OriginLat, Lng: req.OriginLng}
	dest := model.Location{Lat: req.DestLat, Lng: req.DestLng}

	writeSuccess(w, http.StatusOK, h.fares.EstimateFare(r.Context(), origin, dest))
}

func inRange(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
