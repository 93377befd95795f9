package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/service"
)

// PoolHandler handles pool-ride HTTP requests.
type PoolHandler struct {
	pools   *service.PoolService
	matcher *service.MatchingService
	log     *zap.Logger
}

// NewPoolHandler creates a new pool handler.
func NewPoolHandler(pools *service.PoolService, matcher *service.MatchingService, log *zap.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, matcher: matcher, log: nopLogger(log)}
}

// Register mounts the pool routes on an /api/v1 subrouter.
func (h *PoolHandler) Register(r *mux.Router) {
	r.HandleFunc("/pools", h.CreatePool).Methods(http.MethodPost)
	r.HandleFunc("/pools/match", h.FindMatches).Methods(http.MethodPost)
	r.HandleFunc("/pools/{id}", h.GetPool).Methods(http.MethodGet)
	r.HandleFunc("/pools/{id}/join", h.JoinPool).Methods(http.MethodPost)
	r.HandleFunc("/pools/{id}/ready", h.MarkReady).Methods(http.MethodPost)
	r.HandleFunc("/pools/{id}/accept", h.AcceptPool).Methods(http.MethodPost)
	r.HandleFunc("/pools/{id}/pickup/{rider_id}", h.Pickup).Methods(http.MethodPost)
	r.HandleFunc("/pools/{id}/dropoff/{rider_id}", h.Dropoff).Methods(http.MethodPost)
	r.HandleFunc("/pools/{id}/route", h.Route).Methods(http.MethodGet)
	r.HandleFunc("/riders/{id}/pools", h.ListRiderPools).Methods(http.MethodGet)
	r.HandleFunc("/drivers/{id}/pool", h.DriverActivePool).Methods(http.MethodGet)
}

// CreatePool handles POST /api/v1/pools
//
// Request body:
//
//	{
//	  "rider":  {"name": "Asha", "phone": "+91..."},
//	  "pickup": {"name": "Main Gate", "lat": 12.9716, "lng": 77.5946},
//	  "drop":   {"name": "Metro", "lat": 12.9780, "lng": 77.6400},
//	  "direction": "to_metro",
//	  "ride_now": true,
//	  "seats": 1
//	}
//
// The caller becomes the pool creator. Returns 201 with the new pool.
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var req service.CreatePoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Rider.ID = caller

	pool, err := h.pools.CreatePool(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusCreated, pool)
}

// GetPool handles GET /api/v1/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.pools.GetPool(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, pool)
}

// FindMatches handles POST /api/v1/pools/match
//
// Request body:
//
//	{"pickup": {...}, "drop": {...}, "seats_needed": 1, "distance_km": 4.2}
//
// distance_km is optional; without it savings are priced on the straight-line
// distance. Returns open pools ranked by match score. An empty list is a 200.
func (h *PoolHandler) FindMatches(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var req service.MatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.RiderID = caller

	matches, err := h.matcher.FindMatchingPools(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if matches == nil {
		matches = []service.PoolMatch{}
	}
	writeSuccess(w, http.StatusOK, matches)
}

// JoinPool handles POST /api/v1/pools/{id}/join
//
// Request body:
//
//	{"rider": {"name": "Ravi"}, "pickup": {...}, "drop": {...}, "seats": 1}
//
// Response codes:
//
//	200: Joined (returns the updated pool)
//	404: Pool not found
//	409: Pool not open, or caller already in it
//	410: Pool expired
//	422: Not enough seats
func (h *PoolHandler) JoinPool(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var req service.JoinPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Rider.ID = caller

	pool, err := h.pools.JoinPool(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, pool)
}

// MarkReady handles POST /api/v1/pools/{id}/ready
//
// Only the creator may mark a pool ready. A pool that is already ready
// answers 409 and is left unchanged.
func (h *PoolHandler) MarkReady(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	pool, err := h.pools.MarkPoolReady(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, pool)
}

// AcceptPool handles POST /api/v1/pools/{id}/accept
//
// Request body:
//
//	{"driver": {"name": "Kumar", "phone": "+91...", "vehicle": "KA01AB1234"}}
//
// The caller is the driver. Two drivers racing for one pool get one 200 and
// one 409.
func (h *PoolHandler) AcceptPool(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var req service.AcceptPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Driver.ID = caller

	pool, err := h.pools.AcceptPoolRide(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, pool)
}

// Pickup handles POST /api/v1/pools/{id}/pickup/{rider_id}
func (h *PoolHandler) Pickup(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	pool, err := h.pools.PickupParticipant(r.Context(), vars["id"], caller, vars["rider_id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, pool)
}

// Dropoff handles POST /api/v1/pools/{id}/dropoff/{rider_id}
//
// Dropping the last aboard rider completes the pool.
func (h *PoolHandler) Dropoff(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	pool, err := h.pools.DropoffParticipant(r.Context(), vars["id"], caller, vars["rider_id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, pool)
}

// Route handles GET /api/v1/pools/{id}/route
//
// Returns the assigned driver's remaining stops.
func (h *PoolHandler) Route(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	route, err := h.pools.DriverRoute(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, route)
}

// ListRiderPools handles GET /api/v1/riders/{id}/pools?active=true
func (h *PoolHandler) ListRiderPools(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	pools, err := h.pools.ListRiderPools(r.Context(), mux.Vars(r)["id"], activeOnly)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, nonNil(pools))
}

// DriverActivePool handles GET /api/v1/drivers/{id}/pool
func (h *PoolHandler) DriverActivePool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.pools.GetDriverActivePool(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, pool)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
