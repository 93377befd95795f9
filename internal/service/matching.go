// Package service contains the core business logic for pool rides and solo
// bookings.
package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/metrics"
	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/internal/repository"
	"github.com/shiva/unipool/pkg/geo"
)

// maxScorePerLeg is the proximity score of a zero-deviation pickup or drop.
const maxScorePerLeg = 50.0

// MatchRequest describes the trip a rider wants to share.
type MatchRequest struct {
	RiderID     string              `json:"rider_id"`
	Pickup      model.NamedLocation `json:"pickup"`
	Drop        model.NamedLocation `json:"drop"`
	SeatsNeeded int                 `json:"seats_needed"`
	DistanceKm  float64             `json:"distance_km"`
}

// PoolMatch is a candidate pool scored against a MatchRequest.
type PoolMatch struct {
	Pool             *model.PoolRide `json:"pool"`
	PickupDeviation  float64         `json:"pickup_deviation_km"`
	DropDeviation    float64         `json:"drop_deviation_km"`
	MatchScore       float64         `json:"match_score"`
	EstimatedFare    int64           `json:"estimated_fare"`
	EstimatedSavings int64           `json:"estimated_savings"`
}

// ─── MatchingService ────────────────────────────────────────

// MatchingService ranks open pools for a rider's requested route.
//
// Algorithm:
//
//  1. FETCH: all pools stored as waiting.
//  2. FILTER: expired (by clock, not stored status), short on seats, or
//     already joined by the requester.
//  3. DEVIATE: haversine distance from the requested pickup/drop to the
//     pool's general areas; either above MaxMatchRadiusKm discards.
//  4. SCORE: each leg scores 50 at zero deviation, falling linearly to 0
//     at MatchRadiusKm.
//  5. SORT: score descending.
//
// Read-only. Results may be stale by the time the rider joins; JoinPool
// re-validates everything.
//
// Complexity: O(P log P) for P waiting pools.
type MatchingService struct {
	pools repository.PoolStore
	fares *FareCalculator
	cfg   PoolConfig
	now   func() time.Time
	log   *zap.Logger
}

// NewMatchingService creates a matching service.
func NewMatchingService(pools repository.PoolStore, fares *FareCalculator, cfg PoolConfig, clock func() time.Time, log *zap.Logger) *MatchingService {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MatchingService{pools: pools, fares: fares, cfg: cfg, now: clock, log: log}
}

// FindMatchingPools returns every compatible pool, best first.
func (s *MatchingService) FindMatchingPools(ctx context.Context, req MatchRequest) ([]PoolMatch, error) {
	ctx, span := tracer.Start(ctx, "match.FindMatchingPools")
	defer span.End()

	if req.SeatsNeeded <= 0 {
		return nil, reject(ErrValidation, "Seats must be at least 1")
	}
	if req.SeatsNeeded > s.cfg.MaxSeats {
		return nil, reject(ErrValidation, "A pool can take at most %d seats", s.cfg.MaxSeats)
	}

	if req.DistanceKm < 0 {
		return nil, reject(ErrValidation, "Distance cannot be negative")
	}

	now := s.now()
	distanceKm := req.DistanceKm
	if distanceKm == 0 {
		distanceKm = geo.RoundKm(geo.HaversineKm(req.Pickup.Point(), req.Drop.Point()))
	}

	// ── Step 1: FETCH waiting pools ─────────────────────
	candidates, err := s.pools.ListPoolsByStatus(ctx, model.PoolWaiting)
	if err != nil {
		return nil, fmt.Errorf("match: list waiting pools: %w", err)
	}

	s.log.Debug("evaluating candidate pools",
		zap.String("rider", req.RiderID),
		zap.Int("candidates", len(candidates)),
		zap.Int("seats", req.SeatsNeeded))

	soloFare := s.fares.CalculateFareAt(distanceKm, now)
	matches := make([]PoolMatch, 0, len(candidates))

	for _, p := range candidates {
		// ── Step 2: FILTER ──────────────────────────────
		if p.IsExpired(now) {
			continue
		}
		if p.AvailableSeats < req.SeatsNeeded {
			continue
		}
		if p.ActiveParticipant(req.RiderID) != nil {
			continue
		}

		// ── Step 3: DEVIATE ─────────────────────────────
		pickupDev := geo.HaversineKm(req.Pickup.Point(), p.PickupArea.Point())
		dropDev := geo.HaversineKm(req.Drop.Point(), p.DropArea.Point())
		if pickupDev > s.cfg.MaxMatchRadiusKm || dropDev > s.cfg.MaxMatchRadiusKm {
			continue
		}

		// ── Step 4: SCORE ───────────────────────────────
		score := legScore(pickupDev, s.cfg.MatchRadiusKm) + legScore(dropDev, s.cfg.MatchRadiusKm)
		fare := p.FarePerSeat * int64(req.SeatsNeeded)

		matches = append(matches, PoolMatch{
			Pool:             p,
			PickupDeviation:  geo.RoundKm(pickupDev),
			DropDeviation:    geo.RoundKm(dropDev),
			MatchScore:       math.Round(score*10) / 10,
			EstimatedFare:    fare,
			EstimatedSavings: soloFare - fare,
		})
	}

	// ── Step 5: SORT ────────────────────────────────────
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})

	metrics.MatchCandidates.Observe(float64(len(matches)))
	span.SetAttributes(attribute.Int("match.results", len(matches)))
	s.log.Info("matching complete",
		zap.String("rider", req.RiderID),
		zap.Int("matches", len(matches)))

	return matches, nil
}

// legScore decays linearly from maxScorePerLeg at zero deviation to 0 at
// radiusKm, clamped at 0.
func legScore(deviationKm, radiusKm float64) float64 {
	if radiusKm <= 0 {
		return 0
	}
	return math.Max(0, maxScorePerLeg-(deviationKm/radiusKm)*maxScorePerLeg)
}
