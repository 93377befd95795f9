package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/pkg/geo"
)

// ─── Fare Configuration ─────────────────────────────────────

// FareConfig holds the pricing parameters. Amounts are whole rupees.
type FareConfig struct {
	BaseFare        int64   // Flat component of every solo fare.
	PerKmRate       int64   // Rate per kilometer.
	MinimumFare     int64   // Floor applied after the peak multiplier.
	PeakMultiplier  float64 // Applied during PeakWindows.
	PoolDiscount    float64 // Fraction off the solo fare per pool seat.
	DriverPoolBonus float64 // Fraction on top of the solo fare paid to a pool driver.
	Location        *time.Location
}

// DefaultFareConfig returns the campus defaults.
func DefaultFareConfig() FareConfig {
	return FareConfig{
		BaseFare:        25,
		PerKmRate:       10,
		MinimumFare:     40,
		PeakMultiplier:  1.5,
		PoolDiscount:    0.30,
		DriverPoolBonus: 0.20,
		Location:        time.Local,
	}
}

// PeakWindows are inclusive local-hour ranges that carry the peak multiplier.
var PeakWindows = [][2]int{{7, 10}, {17, 20}}

// ─── Results ────────────────────────────────────────────────

// PoolFare is the split of a solo fare across pool seats.
type PoolFare struct {
	BaseFare         int64 `json:"base_fare"`
	FarePerSeat      int64 `json:"fare_per_seat"`
	TotalPoolFare    int64 `json:"total_pool_fare"`
	DriverEarning    int64 `json:"driver_earning"`
	SavingsPerPerson int64 `json:"savings_per_person"`
	DiscountPercent  int   `json:"discount_percent"`
}

// FareEstimate is what a rider sees before requesting a ride.
type FareEstimate struct {
	DistanceKm   float64             `json:"distance_km"`
	SoloFare     int64               `json:"solo_fare"`
	PoolFare     PoolFare            `json:"pool_fare"`
	IsPeak       bool                `json:"is_peak"`
	Multiplier   float64             `json:"multiplier"`
	Route        *model.RouteSummary `json:"route,omitempty"`
	EstimatedMin float64             `json:"estimated_minutes"`
}

// ─── FareCalculator ─────────────────────────────────────────

// FareCalculator computes fares. It holds no state besides its config and
// clock, so a fare is a function of distance and wall-clock time only.
//
// Formula:
//
//	fare = max(MinimumFare, round((BaseFare + distanceKm × PerKmRate) × m))
//	m    = PeakMultiplier during PeakWindows, else 1
type FareCalculator struct {
	config     FareConfig
	now        func() time.Time
	directions DirectionsProvider
	log        *zap.Logger
}

// NewFareCalculator creates a calculator. A nil clock means time.Now.
func NewFareCalculator(config FareConfig, clock func() time.Time, log *zap.Logger) *FareCalculator {
	if clock == nil {
		clock = time.Now
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FareCalculator{config: config, now: clock, log: log}
}

// WithDirections attaches a directions provider used only by EstimateFare.
func (c *FareCalculator) WithDirections(d DirectionsProvider) *FareCalculator {
	c.directions = d
	return c
}

// Config returns the calculator's parameters.
func (c *FareCalculator) Config() FareConfig { return c.config }

// IsPeak reports whether t falls inside a peak window in the fare timezone.
func (c *FareCalculator) IsPeak(t time.Time) bool {
	hour := t.In(c.config.Location).Hour()
	for _, w := range PeakWindows {
		if hour >= w[0] && hour <= w[1] {
			return true
		}
	}
	return false
}

// CalculateFare prices a solo ride of distanceKm at the current time.
func (c *FareCalculator) CalculateFare(distanceKm float64) int64 {
	return c.CalculateFareAt(distanceKm, c.now())
}

// CalculateFareAt prices a solo ride of distanceKm at t.
func (c *FareCalculator) CalculateFareAt(distanceKm float64, t time.Time) int64 {
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		distanceKm = 0
	}
	multiplier := 1.0
	if c.IsPeak(t) {
		multiplier = c.config.PeakMultiplier
	}

	raw := (float64(c.config.BaseFare) + distanceKm*float64(c.config.PerKmRate)) * multiplier
	fare := int64(math.Round(raw))

	if fare < c.config.MinimumFare {
		fare = c.config.MinimumFare
	}
	return fare
}

// CalculatePoolFare splits baseFare into discounted per-seat fares.
func (c *FareCalculator) CalculatePoolFare(baseFare int64, totalSeats int) PoolFare {
	perSeat := int64(math.Round(float64(baseFare) * (1 - c.config.PoolDiscount)))
	return PoolFare{
		BaseFare:         baseFare,
		FarePerSeat:      perSeat,
		TotalPoolFare:    perSeat * int64(totalSeats),
		DriverEarning:    int64(math.Round(float64(baseFare) * (1 + c.config.DriverPoolBonus))),
		SavingsPerPerson: baseFare - perSeat,
		DiscountPercent:  int(math.Round(c.config.PoolDiscount * 100)),
	}
}

// EstimateFare returns solo and single-seat pool prices for a trip between
// pickup and drop. The straight-line distance drives the price; the
// directions text, when available, is display only.
func (c *FareCalculator) EstimateFare(ctx context.Context, pickup, drop model.Location) *FareEstimate {
	now := c.now()

	// ── Step 1: Distance ────────────────────────────────
	distanceKm := geo.RoundKm(geo.HaversineKm(pickup, drop))

	// ── Step 2: Prices ──────────────────────────────────
	solo := c.CalculateFareAt(distanceKm, now)
	est := &FareEstimate{
		DistanceKm:   distanceKm,
		SoloFare:     solo,
		PoolFare:     c.CalculatePoolFare(solo, 1),
		IsPeak:       c.IsPeak(now),
		Multiplier:   1,
		EstimatedMin: math.Round(geo.EstimateTimeMinutes(pickup, drop)*10) / 10,
	}
	if est.IsPeak {
		est.Multiplier = c.config.PeakMultiplier
	}

	// ── Step 3: Directions (best effort) ────────────────
	if c.directions != nil {
		route, err := c.directions.Directions(ctx, pickup, drop)
		if err != nil {
			c.log.Warn("directions lookup failed, returning estimate without route",
				zap.Error(err))
		} else {
			est.Route = route
		}
	}

	c.log.Debug("fare estimated",
		zap.Float64("distance_km", distanceKm),
		zap.Int64("solo", solo),
		zap.Int64("per_seat", est.PoolFare.FarePerSeat),
		zap.Bool("peak", est.IsPeak))

	return est
}
