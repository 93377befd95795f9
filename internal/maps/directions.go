// Package maps resolves display-only route text through the Google Maps
// Directions API. Prices never depend on it: every lookup is rate limited,
// cached and allowed to fail.
package maps

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"

	"github.com/shiva/unipool/internal/metrics"
	"github.com/shiva/unipool/internal/model"
)

// ErrRateLimited is returned when the local request budget is spent.
var ErrRateLimited = errors.New("maps: rate limited")

// ErrNoRoute is returned when the API finds no route between the points.
var ErrNoRoute = errors.New("maps: no route found")

// Cache stores route summaries between lookups.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Router is the part of *maps.Client the service calls.
type Router interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// DirectionsService answers route lookups from cache first and calls the
// API only within the configured request rate.
type DirectionsService struct {
	router  Router
	cache   Cache
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient creates a Google Maps client for apiKey.
func NewClient(apiKey string) (*maps.Client, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

// NewDirectionsService creates a service allowing ratePerSecond API calls
// with bursts of burst.
func NewDirectionsService(router Router, cache Cache, ratePerSecond float64, burst int, log *zap.Logger) *DirectionsService {
	if log == nil {
		log = zap.NewNop()
	}
	if burst < 1 {
		burst = 1
	}
	return &DirectionsService{
		router:  router,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		log:     log,
	}
}

// Directions returns the driving distance and duration text between two
// points.
func (s *DirectionsService) Directions(ctx context.Context, origin, destination model.Location) (*model.RouteSummary, error) {
	key := cacheKey(origin, destination)

	// ── Step 1: Cache ───────────────────────────────────
	if s.cache != nil {
		var cached model.RouteSummary
		ok, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("route cache read failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			metrics.MapsRequests.WithLabelValues("cache_hit").Inc()
			return &cached, nil
		}
	}

	// ── Step 2: Budget ──────────────────────────────────
	if !s.limiter.Allow() {
		metrics.MapsRequests.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	// ── Step 3: API call ────────────────────────────────
	routes, _, err := s.router.Directions(ctx, &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		metrics.MapsRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		metrics.MapsRequests.WithLabelValues("no_route").Inc()
		return nil, ErrNoRoute
	}
	metrics.MapsRequests.WithLabelValues("ok").Inc()

	leg := routes[0].Legs[0]
	summary := &model.RouteSummary{
		DistanceText:    leg.Distance.HumanReadable,
		DurationText:    durationText(leg.Duration),
		DistanceMeters:  leg.Distance.Meters,
		DurationSeconds: int(leg.Duration.Seconds()),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary); err != nil {
			s.log.Warn("route cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return summary, nil
}

func durationText(d time.Duration) string {
	mins := int(math.Round(d.Minutes()))
	if mins <= 1 {
		return "1 min"
	}
	return fmt.Sprintf("%d mins", mins)
}

// latLng formats a point the way the Directions API accepts it.
func latLng(l model.Location) string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lng)
}

// cacheKey rounds to ~11 m so nearby requests share an entry.
func cacheKey(a, b model.Location) string {
	return fmt.Sprintf("%.4f,%.4f:%.4f,%.4f", a.Lat, a.Lng, b.Lat, b.Lng)
}
