package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/internal/repository"
	"github.com/shiva/unipool/internal/service"
)

var offPeak = time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)

type testServer struct {
	router *mux.Router
	store  *repository.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := func() time.Time { return offPeak }

	fcfg := service.DefaultFareConfig()
	fcfg.Location = time.UTC
	fares := service.NewFareCalculator(fcfg, clock, nil)
	pcfg := service.DefaultPoolConfig()

	var n int
	ids := func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}

	pools := service.NewPoolService(store, fares, nil, nil, pcfg, nil,
		service.WithClock(clock), service.WithIDGenerator(ids))
	bookings := service.NewBookingService(store, fares, nil, nil, nil,
		service.WithClock(clock), service.WithIDGenerator(ids))
	matcher := service.NewMatchingService(store, fares, pcfg, clock, nil)
	drivers := service.NewDriverService(repository.NewMemoryDriverLocator(), store, nil,
		service.WithClock(clock))

	root := mux.NewRouter()
	api := root.PathPrefix("/api/v1").Subrouter()
	NewPoolHandler(pools, matcher, nil).Register(api)
	NewBookingHandler(bookings, nil).Register(api)
	NewCancelHandler(pools, bookings, nil).Register(api)
	NewFareHandler(fares, nil).Register(api)
	NewDriverHandler(drivers, nil).Register(api)

	return &testServer{router: root, store: store}
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// do sends a request as user (empty for anonymous) and decodes the envelope.
func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, resp
}

func decodeData(t *testing.T, resp response, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", resp.Data, err)
	}
}

func expect(t *testing.T, step string, code, want int, resp response) {
	t.Helper()
	if code != want {
		t.Fatalf("%s: status = %d, want %d (error=%q message=%q)", step, code, want, resp.Error, resp.Message)
	}
}

var (
	mainGate = model.NamedLocation{Name: "Main Gate", Lat: 12.9716, Lng: 77.5946}
	metro    = model.NamedLocation{Name: "Metro", Lat: 12.9780, Lng: 77.6400}
)

func TestPoolFlow(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/pools", "r1", map[string]interface{}{
		"rider":  map[string]string{"name": "Asha"},
		"pickup": mainGate,
		"drop":   metro,
		"seats":  1,
	})
	expect(t, "create", code, http.StatusCreated, resp)
	var pool model.PoolRide
	decodeData(t, resp, &pool)
	if pool.CreatorID != "r1" || pool.Status != model.PoolWaiting {
		t.Fatalf("created pool = %+v", pool)
	}
	base := "/api/v1/pools/" + pool.ID

	code, resp = s.do(t, http.MethodPost, "/api/v1/pools/match", "r2", map[string]interface{}{
		"pickup": mainGate, "drop": metro, "seats_needed": 1,
	})
	expect(t, "match", code, http.StatusOK, resp)
	var matches []service.PoolMatch
	decodeData(t, resp, &matches)
	if len(matches) != 1 || matches[0].Pool.ID != pool.ID {
		t.Fatalf("matches = %+v, want the created pool", matches)
	}

	code, resp = s.do(t, http.MethodPost, base+"/join", "r2", map[string]interface{}{
		"rider": map[string]string{"name": "Ravi"}, "pickup": mainGate, "drop": metro, "seats": 1,
	})
	expect(t, "join", code, http.StatusOK, resp)
	decodeData(t, resp, &pool)
	if pool.Status != model.PoolReady || pool.AvailableSeats != 2 {
		t.Fatalf("after join: status %s, available %d; want ready with 2", pool.Status, pool.AvailableSeats)
	}

	// Reaching the minimum already promoted the pool.
	code, resp = s.do(t, http.MethodPost, base+"/ready", "r1", nil)
	expect(t, "ready again", code, http.StatusConflict, resp)

	code, resp = s.do(t, http.MethodPost, base+"/accept", "d1", map[string]interface{}{
		"driver": map[string]string{"name": "Kumar", "vehicle": "KA01"},
	})
	expect(t, "accept", code, http.StatusOK, resp)

	code, resp = s.do(t, http.MethodGet, base+"/route", "d1", nil)
	expect(t, "route", code, http.StatusOK, resp)
	var route service.DriverRoute
	decodeData(t, resp, &route)
	if route.Phase != "pickup" || len(route.Stops) != 2 {
		t.Fatalf("route = %+v, want 2 pickup stops", route)
	}

	for _, rider := range []string{"r1", "r2"} {
		code, resp = s.do(t, http.MethodPost, base+"/pickup/"+rider, "d1", nil)
		expect(t, "pickup "+rider, code, http.StatusOK, resp)
	}
	for _, rider := range []string{"r1", "r2"} {
		code, resp = s.do(t, http.MethodPost, base+"/dropoff/"+rider, "d1", nil)
		expect(t, "dropoff "+rider, code, http.StatusOK, resp)
	}
	decodeData(t, resp, &pool)
	if pool.Status != model.PoolCompleted {
		t.Fatalf("final status = %s, want completed", pool.Status)
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/users/d1/stats", "", nil)
	expect(t, "stats", code, http.StatusOK, resp)
	var stats StatsResponse
	decodeData(t, resp, &stats)
	if stats.TotalRides != 1 || stats.TotalEarnings != pool.DriverEarning {
		t.Errorf("driver stats = %+v, want 1 ride earning %d", stats.UserStats, pool.DriverEarning)
	}
}

func TestPoolErrors(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/pools", "", map[string]int{"seats": 1})
	expect(t, "anonymous", code, http.StatusUnauthorized, resp)

	code, resp = s.do(t, http.MethodPost, "/api/v1/pools", "r1", "{not json")
	expect(t, "bad body", code, http.StatusBadRequest, resp)
	if resp.Error != "invalid_body" {
		t.Errorf("error = %q, want invalid_body", resp.Error)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/pools", "r1", map[string]interface{}{
		"pickup": mainGate, "drop": metro, "seats": 9,
	})
	expect(t, "too many seats", code, http.StatusBadRequest, resp)
	if resp.Error != service.ErrValidation.Error() || resp.Success {
		t.Errorf("envelope = %+v, want validation failure", resp)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/pools/missing/join", "r2", map[string]interface{}{
		"pickup": mainGate, "drop": metro, "seats": 1,
	})
	expect(t, "join missing", code, http.StatusNotFound, resp)
	if resp.Message == "" {
		t.Error("not-found response carries no message")
	}
}

func TestPoolJoinTwiceAndCapacity(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/pools", "r1", map[string]interface{}{
		"pickup": mainGate, "drop": metro, "seats": 3,
	})
	expect(t, "create", code, http.StatusCreated, resp)
	var pool model.PoolRide
	decodeData(t, resp, &pool)

	join := map[string]interface{}{"pickup": mainGate, "drop": metro, "seats": 2}
	code, resp = s.do(t, http.MethodPost, "/api/v1/pools/"+pool.ID+"/join", "r2", join)
	expect(t, "over capacity", code, http.StatusUnprocessableEntity, resp)

	code, resp = s.do(t, http.MethodPost, "/api/v1/pools/"+pool.ID+"/join", "r1", map[string]interface{}{
		"pickup": mainGate, "drop": metro, "seats": 1,
	})
	expect(t, "duplicate", code, http.StatusConflict, resp)
}

func TestLeaveAndCancelPool(t *testing.T) {
	s := newTestServer(t)

	_, resp := s.do(t, http.MethodPost, "/api/v1/pools", "r1", map[string]interface{}{
		"pickup": mainGate, "drop": metro, "seats": 1,
	})
	var pool model.PoolRide
	decodeData(t, resp, &pool)
	base := "/api/v1/pools/" + pool.ID

	code, resp := s.do(t, http.MethodPost, base+"/cancel", "r2", nil)
	expect(t, "cancel by stranger", code, http.StatusForbidden, resp)

	code, resp = s.do(t, http.MethodPost, base+"/leave", "r1", nil)
	expect(t, "leave", code, http.StatusOK, resp)
	decodeData(t, resp, &pool)
	if pool.Status != model.PoolCancelled {
		t.Errorf("status after last rider left = %s, want cancelled", pool.Status)
	}

	code, resp = s.do(t, http.MethodPost, base+"/cancel", "r1", nil)
	expect(t, "cancel terminal", code, http.StatusConflict, resp)
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/bookings", "r1", map[string]interface{}{
		"rider":        map[string]string{"name": "Asha"},
		"driver":       map[string]string{"id": "d1", "name": "Kumar"},
		"pickup":       mainGate,
		"drop":         metro,
		"payment_mode": "upi",
	})
	expect(t, "create", code, http.StatusCreated, resp)
	var b model.Booking
	decodeData(t, resp, &b)
	if b.Status != model.BookingPending || b.Fare <= 0 {
		t.Fatalf("booking = %+v", b)
	}
	base := "/api/v1/bookings/" + b.ID

	code, resp = s.do(t, http.MethodPost, base+"/accept", "d2", nil)
	expect(t, "wrong driver", code, http.StatusForbidden, resp)

	for _, step := range []string{"accept", "start", "complete"} {
		code, resp = s.do(t, http.MethodPost, base+"/"+step, "d1", nil)
		expect(t, step, code, http.StatusOK, resp)
	}
	decodeData(t, resp, &b)
	if b.Status != model.BookingCompleted {
		t.Fatalf("status = %s, want completed", b.Status)
	}

	code, resp = s.do(t, http.MethodPost, base+"/rate", "r1", RatingRequest{Score: 5, Comment: "smooth"})
	expect(t, "rate", code, http.StatusOK, resp)
	code, resp = s.do(t, http.MethodPost, base+"/rate", "r1", RatingRequest{Score: 4})
	expect(t, "rate twice", code, http.StatusConflict, resp)

	code, resp = s.do(t, http.MethodGet, "/api/v1/riders/r1/bookings", "", nil)
	expect(t, "list", code, http.StatusOK, resp)
	var list []model.Booking
	decodeData(t, resp, &list)
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("rider bookings = %+v", list)
	}
}

func TestBookingCancelAndReject(t *testing.T) {
	s := newTestServer(t)
	create := func() string {
		_, resp := s.do(t, http.MethodPost, "/api/v1/bookings", "r1", map[string]interface{}{
			"driver": map[string]string{"id": "d1"}, "pickup": mainGate, "drop": metro,
		})
		var b model.Booking
		decodeData(t, resp, &b)
		return "/api/v1/bookings/" + b.ID
	}

	first := create()
	code, resp := s.do(t, http.MethodPost, first+"/cancel", "r1", nil)
	expect(t, "cancel pending", code, http.StatusOK, resp)

	second := create()
	code, resp = s.do(t, http.MethodPost, second+"/reject", "d1", CancelRequest{Reason: "off duty"})
	expect(t, "reject", code, http.StatusOK, resp)
	var b model.Booking
	decodeData(t, resp, &b)
	if b.CancelledBy != "driver" || b.CancelReason != "off duty" {
		t.Errorf("rejected booking = %+v", b)
	}

	third := create()
	s.do(t, http.MethodPost, third+"/accept", "d1", nil)
	code, resp = s.do(t, http.MethodPost, third+"/cancel", "r1", nil)
	expect(t, "cancel accepted", code, http.StatusConflict, resp)
	if resp.Message != "Cannot cancel after the driver has accepted. Contact the driver directly." {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestFareEstimate(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/fare/estimate", "", FareRequest{OriginLat: 12.97})
	expect(t, "missing coords", code, http.StatusBadRequest, resp)

	code, resp = s.do(t, http.MethodPost, "/api/v1/fare/estimate", "", FareRequest{
		OriginLat: mainGate.Lat, OriginLng: mainGate.Lng, DestLat: metro.Lat, DestLng: metro.Lng,
	})
	expect(t, "estimate", code, http.StatusOK, resp)
	var est service.FareEstimate
	decodeData(t, resp, &est)
	if est.IsPeak || est.SoloFare < service.DefaultFareConfig().MinimumFare || est.PoolFare.FarePerSeat >= est.SoloFare {
		t.Errorf("estimate = %+v", est)
	}
}

func TestDriverLocationAndNearby(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPut, "/api/v1/drivers/location", "d1", LocationUpdateBody{
		Lat: 12.9720, Lng: 77.5950, Online: true,
	})
	expect(t, "update", code, http.StatusOK, resp)

	code, resp = s.do(t, http.MethodGet, "/api/v1/drivers/nearby?lat=12.9716&lng=77.5946", "", nil)
	expect(t, "nearby", code, http.StatusOK, resp)
	var drivers []model.DriverLocation
	decodeData(t, resp, &drivers)
	if len(drivers) != 1 || drivers[0].DriverID != "d1" {
		t.Errorf("nearby = %+v", drivers)
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/drivers/nearby?lat=abc&lng=1", "", nil)
	expect(t, "bad lat", code, http.StatusBadRequest, resp)
	code, resp = s.do(t, http.MethodGet, "/api/v1/drivers/nearby?lat=1&lng=1&limit=-2", "", nil)
	expect(t, "negative limit", code, http.StatusBadRequest, resp)
}

func TestWriteErrorInfrastructure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, nopLogger(nil), fmt.Errorf("pool: get p1: %w", errors.New("connection refused")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error != "internal_error" || resp.Message == "" {
		t.Errorf("envelope = %+v", resp)
	}
}
