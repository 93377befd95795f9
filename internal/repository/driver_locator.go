package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/pkg/geo"
)

const (
	driverGeoKey    = "drivers:geo"
	driverMetaKey   = "driver:meta:"
	driverMetaTTL   = 24 * time.Hour
	distancePrecise = 100 // round distances to 10 m
)

// ─── RedisDriverLocator ─────────────────────────────────────

// RedisDriverLocator keeps online drivers in a Redis GEO set and their last
// report in a per-driver hash. Offline drivers are removed from the set so
// GEOSEARCH only ever returns drivers who can take a ride.
type RedisDriverLocator struct {
	client *redis.Client
}

// NewRedisDriverLocator creates a locator on an existing Redis client.
func NewRedisDriverLocator(client *redis.Client) *RedisDriverLocator {
	return &RedisDriverLocator{client: client}
}

// UpdateLocation stores the driver's report.
func (r *RedisDriverLocator) UpdateLocation(ctx context.Context, loc model.DriverLocation) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if loc.Online {
			pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
				Name:      loc.DriverID,
				Longitude: loc.Lng,
				Latitude:  loc.Lat,
			})
		} else {
			pipe.ZRem(ctx, driverGeoKey, loc.DriverID)
		}
		pipe.HSet(ctx, driverMetaKey+loc.DriverID, map[string]interface{}{
			"online":  strconv.FormatBool(loc.Online),
			"updated": loc.UpdatedAt.UTC().Format(time.RFC3339),
		})
		pipe.Expire(ctx, driverMetaKey+loc.DriverID, driverMetaTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis geo update %s: %w", loc.DriverID, err)
	}
	return nil
}

// Nearby returns online drivers within radiusKm of center, nearest first.
func (r *RedisDriverLocator) Nearby(ctx context.Context, center model.Location, radiusKm float64, limit int) ([]model.DriverLocation, error) {
	res, err := r.client.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geo search: %w", err)
	}

	out := make([]model.DriverLocation, 0, len(res))
	for _, g := range res {
		d := model.DriverLocation{
			DriverID:   g.Name,
			Lat:        g.Latitude,
			Lng:        g.Longitude,
			Online:     true,
			DistanceKm: roundDistance(g.Dist),
		}
		// Metadata is best effort; the GEO set alone is authoritative.
		if updated, err := r.client.HGet(ctx, driverMetaKey+g.Name, "updated").Result(); err == nil {
			if t, err := time.Parse(time.RFC3339, updated); err == nil {
				d.UpdatedAt = t
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// ─── MemoryDriverLocator ────────────────────────────────────

// MemoryDriverLocator is the single-process locator used with the memory
// backend and in tests. Searches scan every driver.
type MemoryDriverLocator struct {
	mu      sync.RWMutex
	drivers map[string]model.DriverLocation
}

// NewMemoryDriverLocator creates an empty locator.
func NewMemoryDriverLocator() *MemoryDriverLocator {
	return &MemoryDriverLocator{drivers: make(map[string]model.DriverLocation)}
}

// UpdateLocation stores the driver's report.
func (m *MemoryDriverLocator) UpdateLocation(_ context.Context, loc model.DriverLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc.DistanceKm = 0
	m.drivers[loc.DriverID] = loc
	return nil
}

// Nearby returns online drivers within radiusKm of center, nearest first.
func (m *MemoryDriverLocator) Nearby(_ context.Context, center model.Location, radiusKm float64, limit int) ([]model.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.DriverLocation
	for _, d := range m.drivers {
		if !d.Online {
			continue
		}
		dist := geo.HaversineKm(center, model.Location{Lat: d.Lat, Lng: d.Lng})
		if dist > radiusKm {
			continue
		}
		d.DistanceKm = roundDistance(dist)
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].DriverID < out[j].DriverID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func roundDistance(km float64) float64 {
	return math.Round(km*distancePrecise) / distancePrecise
}
