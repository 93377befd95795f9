package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/internal/service"
)

// ─── Request/Response DTOs ──────────────────────────────────

// LocationUpdateBody is the JSON body for PUT /api/v1/drivers/location.
type LocationUpdateBody struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Online bool    `json:"online"`
}

// StatsResponse adds the derived average to the stored aggregate.
type StatsResponse struct {
	*model.UserStats
	AverageRating float64 `json:"average_rating"`
}

// ─── DriverHandler ──────────────────────────────────────────

// DriverHandler handles driver presence, nearby search and user stats.
type DriverHandler struct {
	drivers *service.DriverService
	log     *zap.Logger
}

// NewDriverHandler creates a new driver handler.
func NewDriverHandler(drivers *service.DriverService, log *zap.Logger) *DriverHandler {
	return &DriverHandler{drivers: drivers, log: nopLogger(log)}
}

// Register mounts the driver routes on an /api/v1 subrouter.
func (h *DriverHandler) Register(r *mux.Router) {
	r.HandleFunc("/drivers/location", h.UpdateLocation).Methods(http.MethodPut)
	r.HandleFunc("/drivers/nearby", h.Nearby).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/stats", h.Stats).Methods(http.MethodGet)
}

// UpdateLocation handles PUT /api/v1/drivers/location
//
//	Request body:
//	{"lat": 12.9716, "lng": 77.5946, "online": true}
//
// Going offline removes the driver from nearby searches.
func (h *DriverHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body LocationUpdateBody
	if !decodeJSON(w, r, &body) {
		return
	}
	loc, err := h.drivers.UpdateDriverLocation(r.Context(), caller, body.Lat, body.Lng, body.Online)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, loc)
}

// Nearby handles GET /api/v1/drivers/nearby?lat=..&lng=..&radius_km=5&limit=10
func (h *DriverHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeFailure(w, http.StatusBadRequest, "validation_error", "lat and lng query parameters are required")
		return
	}

	var radiusKm float64
	var limit int
	if v := q.Get("radius_km"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "validation_error", "radius_km must be a number")
			return
		}
		radiusKm = parsed
	}
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "validation_error", "limit must be an integer")
			return
		}
		limit = parsed
	}

	drivers, err := h.drivers.FindNearbyDrivers(r.Context(), lat, lng, radiusKm, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, nonNil(drivers))
}

// Stats handles GET /api/v1/users/{id}/stats
func (h *DriverHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.drivers.GetUserStats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, StatsResponse{UserStats: st, AverageRating: st.AverageRating()})
}
