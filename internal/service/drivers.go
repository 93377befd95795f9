package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/internal/repository"
)

const (
	defaultNearbyRadiusKm = 5.0
	maxNearbyRadiusKm     = 25.0
	defaultNearbyLimit    = 10
	maxNearbyLimit        = 50
)

// DriverService tracks where drivers are so riders can pick one for a solo
// booking, and serves the per-user ride and rating aggregates.
type DriverService struct {
	locator DriverLocator
	stats   repository.StatsStore
	now     func() time.Time
	log     *zap.Logger
}

// NewDriverService creates a driver presence service.
func NewDriverService(locator DriverLocator, stats repository.StatsStore, log *zap.Logger, opts ...Option) *DriverService {
	if log == nil {
		log = zap.NewNop()
	}
	o := buildOptions(opts)
	return &DriverService{locator: locator, stats: stats, now: o.clock, log: log}
}

// UpdateDriverLocation records a driver's position. Going offline keeps the
// last position but removes the driver from nearby searches.
func (s *DriverService) UpdateDriverLocation(ctx context.Context, driverID string, lat, lng float64, online bool) (*model.DriverLocation, error) {
	ctx, span := tracer.Start(ctx, "driver.UpdateLocation")
	defer span.End()

	if strings.TrimSpace(driverID) == "" {
		return nil, reject(ErrValidation, "Driver id is required")
	}
	if err := validateCoordinates(lat, lng); err != nil {
		return nil, err
	}

	loc := model.DriverLocation{
		DriverID:  driverID,
		Lat:       lat,
		Lng:       lng,
		Online:    online,
		UpdatedAt: s.now(),
	}
	if err := s.locator.UpdateLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("driver: update location %s: %w", driverID, err)
	}

	s.log.Debug("driver location updated",
		zap.String("driver", driverID),
		zap.Bool("online", online))
	return &loc, nil
}

// FindNearbyDrivers returns online drivers within radiusKm, nearest first.
// A zero radius or limit falls back to the defaults.
func (s *DriverService) FindNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]model.DriverLocation, error) {
	ctx, span := tracer.Start(ctx, "driver.FindNearby")
	defer span.End()

	if err := validateCoordinates(lat, lng); err != nil {
		return nil, err
	}
	switch {
	case radiusKm < 0:
		return nil, reject(ErrValidation, "Radius cannot be negative")
	case radiusKm == 0:
		radiusKm = defaultNearbyRadiusKm
	case radiusKm > maxNearbyRadiusKm:
		radiusKm = maxNearbyRadiusKm
	}
	switch {
	case limit < 0:
		return nil, reject(ErrValidation, "Limit cannot be negative")
	case limit == 0:
		limit = defaultNearbyLimit
	case limit > maxNearbyLimit:
		limit = maxNearbyLimit
	}

	drivers, err := s.locator.Nearby(ctx, model.Location{Lat: lat, Lng: lng}, radiusKm, limit)
	if err != nil {
		return nil, fmt.Errorf("driver: nearby search: %w", err)
	}
	return drivers, nil
}

// GetUserStats returns the ride and rating aggregate of a user. Users with
// no completed rides get an empty aggregate.
func (s *DriverService) GetUserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	st, err := s.stats.GetStats(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &model.UserStats{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("driver: stats for %s: %w", userID, err)
	}
	return st, nil
}

func validateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return reject(ErrValidation, "Coordinates are out of range")
	}
	return nil
}
