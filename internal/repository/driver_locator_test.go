package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shiva/unipool/internal/model"
)

func TestMemoryDriverLocator_Nearby(t *testing.T) {
	ctx := context.Background()
	loc := NewMemoryDriverLocator()
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	reports := []model.DriverLocation{
		{DriverID: "far", Lat: 12.99, Lng: 77.59, Online: true, UpdatedAt: now},    // ~10 km
		{DriverID: "near", Lat: 12.901, Lng: 77.59, Online: true, UpdatedAt: now},  // ~0.1 km
		{DriverID: "mid", Lat: 12.92, Lng: 77.59, Online: true, UpdatedAt: now},    // ~2.2 km
		{DriverID: "off", Lat: 12.90, Lng: 77.59, Online: false, UpdatedAt: now},   // offline
	}
	for _, r := range reports {
		if err := loc.UpdateLocation(ctx, r); err != nil {
			t.Fatalf("update %s: %v", r.DriverID, err)
		}
	}

	center := model.Location{Lat: 12.90, Lng: 77.59}
	got, err := loc.Nearby(ctx, center, 5, 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 2 || got[0].DriverID != "near" || got[1].DriverID != "mid" {
		t.Fatalf("nearby = %+v, want [near mid]", got)
	}
	if got[0].DistanceKm <= 0 || got[0].DistanceKm >= got[1].DistanceKm {
		t.Errorf("distances not ascending: %v, %v", got[0].DistanceKm, got[1].DistanceKm)
	}

	got, _ = loc.Nearby(ctx, center, 50, 1)
	if len(got) != 1 || got[0].DriverID != "near" {
		t.Errorf("limit 1 = %+v, want [near]", got)
	}
}

func TestMemoryDriverLocator_GoingOffline(t *testing.T) {
	ctx := context.Background()
	loc := NewMemoryDriverLocator()
	center := model.Location{Lat: 12.90, Lng: 77.59}

	_ = loc.UpdateLocation(ctx, model.DriverLocation{DriverID: "d1", Lat: 12.90, Lng: 77.59, Online: true})
	_ = loc.UpdateLocation(ctx, model.DriverLocation{DriverID: "d1", Lat: 12.90, Lng: 77.59, Online: false})

	got, _ := loc.Nearby(ctx, center, 5, 10)
	if len(got) != 0 {
		t.Errorf("offline driver returned: %+v", got)
	}
}
