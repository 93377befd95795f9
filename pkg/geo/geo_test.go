package geo

import (
	"math"
	"testing"

	"github.com/shiva/unipool/internal/model"
)

func TestHaversineKm_SamePoint(t *testing.T) {
	loc := model.Location{Lat: 12.9716, Lng: 77.5946}
	got := HaversineKm(loc, loc)
	if got != 0 {
		t.Errorf("HaversineKm(same point) = %v, want 0", got)
	}
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	// One degree of latitude is ~111.19 km on the mean-radius sphere.
	a := model.Location{Lat: 12.0, Lng: 77.0}
	b := model.Location{Lat: 13.0, Lng: 77.0}
	got := HaversineKm(a, b)
	want := 111.195
	if math.Abs(got-want)/want > 0.001 {
		t.Errorf("HaversineKm(1° lat) = %.3f km, want %.3f ±0.1%%", got, want)
	}
}

func TestHaversineKm_Symmetric(t *testing.T) {
	a := model.Location{Lat: 12.90, Lng: 77.59}
	b := model.Location{Lat: 12.93, Lng: 77.61}
	if d1, d2 := HaversineKm(a, b), HaversineKm(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("HaversineKm not symmetric: %v vs %v", d1, d2)
	}
}

func TestHaversineKm_CampusScale(t *testing.T) {
	// 0.001° in both axes near Bangalore is ~155 m.
	a := model.Location{Lat: 12.900, Lng: 77.590}
	b := model.Location{Lat: 12.901, Lng: 77.591}
	got := HaversineKm(a, b)
	if got < 0.14 || got > 0.17 {
		t.Errorf("HaversineKm = %.4f km, want ~0.155", got)
	}
}

func TestEstimateTimeMinutes(t *testing.T) {
	a := model.Location{Lat: 12.0, Lng: 77.0}
	b := model.Location{Lat: 12.1, Lng: 77.0}
	got := EstimateTimeMinutes(a, b)
	// ~11.1 km at 25 km/h ≈ 26.7 min
	if got < 25 || got > 28 {
		t.Errorf("EstimateTimeMinutes = %.1f, expected ~26.7 min", got)
	}
}

func TestRouteDistanceKm(t *testing.T) {
	route := []model.Location{
		{Lat: 12.90, Lng: 77.59},
		{Lat: 12.91, Lng: 77.60},
		{Lat: 12.93, Lng: 77.61},
	}
	got := RouteDistanceKm(route)
	direct := HaversineKm(route[0], route[2])
	if got < direct {
		t.Errorf("RouteDistanceKm = %v, shorter than direct %v", got, direct)
	}
	if RouteDistanceKm(route[:1]) != 0 {
		t.Error("RouteDistanceKm of a single stop should be 0")
	}
}

func TestCompassDirection(t *testing.T) {
	origin := model.Location{Lat: 12.0, Lng: 77.0}
	tests := []struct {
		to   model.Location
		want string
	}{
		{model.Location{Lat: 12.1, Lng: 77.0}, "N"},
		{model.Location{Lat: 11.9, Lng: 77.0}, "S"},
		{model.Location{Lat: 12.0, Lng: 77.1}, "E"},
		{model.Location{Lat: 12.0, Lng: 76.9}, "W"},
		{model.Location{Lat: 12.1, Lng: 77.1}, "NE"},
	}
	for _, tt := range tests {
		if got := CompassDirection(origin, tt.to); got != tt.want {
			t.Errorf("CompassDirection(%v) = %s, want %s", tt.to, got, tt.want)
		}
	}
}

func TestHaversineM(t *testing.T) {
	a := model.Location{Lat: 0, Lng: 0}
	b := model.Location{Lat: 0.001, Lng: 0}
	km := HaversineKm(a, b)
	m := HaversineM(a, b)
	if math.Abs(m-km*1000) > 0.01 {
		t.Errorf("HaversineM = %v, want HaversineKm*1000 = %v", m, km*1000)
	}
}
