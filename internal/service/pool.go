package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/metrics"
	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/internal/repository"
	"github.com/shiva/unipool/pkg/geo"
)

// ─── Pool Configuration ─────────────────────────────────────

// PoolConfig holds the pool constants.
type PoolConfig struct {
	MaxSeats         int
	MinParticipants  int
	MatchRadiusKm    float64 // Preferred radius: full score at 0, zero score here.
	MaxMatchRadiusKm float64 // Hard radius: candidates beyond it are discarded.
	Expiry           time.Duration
}

// DefaultPoolConfig returns the campus defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSeats:         4,
		MinParticipants:  2,
		MatchRadiusKm:    2,
		MaxMatchRadiusKm: 4,
		Expiry:           30 * time.Minute,
	}
}

// ─── Requests ───────────────────────────────────────────────

// CreatePoolRequest opens a new pool. The creator's own pickup and drop
// become the pool's general areas.
type CreatePoolRequest struct {
	Rider         model.RiderInfo     `json:"rider"`
	Pickup        model.NamedLocation `json:"pickup"`
	Drop          model.NamedLocation `json:"drop"`
	Direction     string              `json:"direction"`
	DepartureTime time.Time           `json:"departure_time"`
	RideNow       bool                `json:"ride_now"`
	Seats         int                 `json:"seats"`
	DistanceKm    float64             `json:"distance_km"`
}

// JoinPoolRequest adds a rider to an existing pool.
type JoinPoolRequest struct {
	Rider  model.RiderInfo     `json:"rider"`
	Pickup model.NamedLocation `json:"pickup"`
	Drop   model.NamedLocation `json:"drop"`
	Seats  int                 `json:"seats"`
}

// AcceptPoolRequest binds a driver to a pool. BookingID optionally links
// the pool to a solo booking record kept for the driver's history.
type AcceptPoolRequest struct {
	Driver    model.DriverInfo `json:"driver"`
	BookingID string           `json:"booking_id,omitempty"`
}

// RouteStop is one stop of the driver's current route.
type RouteStop struct {
	Order    int                     `json:"order"`
	RiderID  string                  `json:"rider_id"`
	Name     string                  `json:"name"`
	Phone    string                  `json:"phone"`
	Location model.NamedLocation     `json:"location"`
	Seats    int                     `json:"seats"`
	Status   model.ParticipantStatus `json:"status"`
}

// DriverRoute is the ordered list of stops the driver still has to make.
type DriverRoute struct {
	PoolID     string           `json:"pool_id"`
	Phase      string           `json:"phase"` // "pickup", "dropoff" or "done"
	Stops      []RouteStop      `json:"stops"`
	DistanceKm float64          `json:"distance_km"`
	Status     model.PoolStatus `json:"status"`
}

// poolChange describes what a successful mutation committed.
type poolChange struct {
	event      model.EventType
	actor      string
	deltas     []model.StatsDelta
	recipients []string
	message    string
}

// ─── PoolService ────────────────────────────────────────────

// PoolService owns the PoolRide aggregate and its state machine:
//
//	waiting → ready → driver_assigned → pickup_in_progress → in_progress → completed
//	   │        │           │
//	   └────────┴───────────┴──→ cancelled / expired
//
// Concurrency model: every transition re-reads the pool, validates guards
// against that snapshot and writes conditionally on its version. A lost
// race re-runs the whole read/validate/write, up to MaxConflictRetries.
// Seat counts are recomputed from the participant list on every attempt.
type PoolService struct {
	store repository.PoolStore
	fares *FareCalculator
	cfg   PoolConfig
	now   func() time.Time
	newID func() string
	log   *zap.Logger
	ann   announcer
}

// NewPoolService creates a pool service.
func NewPoolService(
	store repository.PoolStore,
	fares *FareCalculator,
	publisher Publisher,
	notifier Notifier,
	cfg PoolConfig,
	log *zap.Logger,
	opts ...Option,
) *PoolService {
	if log == nil {
		log = zap.NewNop()
	}
	o := buildOptions(opts)
	return &PoolService{
		store: store,
		fares: fares,
		cfg:   cfg,
		now:   o.clock,
		newID: o.newID,
		log:   log,
		ann:   newAnnouncer(publisher, notifier, log),
	}
}

// Config returns the pool constants.
func (s *PoolService) Config() PoolConfig { return s.cfg }

// ─── Create ─────────────────────────────────────────────────

// CreatePool opens a new waiting pool with the creator as first participant.
//
// Steps:
//  1. Validate seats and identity.
//  2. Price the creator's trip: solo fare → discounted per-seat fare.
//  3. Persist with version 0 and expiry fixed at now + Expiry.
func (s *PoolService) CreatePool(ctx context.Context, req CreatePoolRequest) (*model.PoolRide, error) {
	ctx, span := s.startSpan(ctx, "pool.CreatePool", "")
	defer span.End()

	// ── Step 1: Validate ────────────────────────────────
	if strings.TrimSpace(req.Rider.ID) == "" {
		return nil, reject(ErrValidation, "Rider id is required")
	}
	if err := s.validateSeats(req.Seats); err != nil {
		return nil, err
	}
	if req.DistanceKm < 0 {
		return nil, reject(ErrValidation, "Distance cannot be negative")
	}

	now := s.now()
	distanceKm := req.DistanceKm
	if distanceKm == 0 {
		distanceKm = geo.RoundKm(geo.HaversineKm(req.Pickup.Point(), req.Drop.Point()))
	}

	// ── Step 2: Price ───────────────────────────────────
	baseFare := s.fares.CalculateFareAt(distanceKm, now)
	split := s.fares.CalculatePoolFare(baseFare, req.Seats)

	direction := strings.TrimSpace(req.Direction)
	if direction == "" {
		direction = geo.CompassDirection(req.Pickup.Point(), req.Drop.Point())
	}
	departure := req.DepartureTime
	if req.RideNow || departure.IsZero() {
		departure = now
	}

	pool := &model.PoolRide{
		ID:            s.newID(),
		CreatorID:     req.Rider.ID,
		PickupArea:    req.Pickup,
		DropArea:      req.Drop,
		Direction:     direction,
		DepartureTime: departure,
		RideNow:       req.RideNow,
		MaxSeats:      s.cfg.MaxSeats,
		DistanceKm:    distanceKm,
		BaseFare:      baseFare,
		FarePerSeat:   split.FarePerSeat,
		Discount:      s.fares.Config().PoolDiscount,
		DriverEarning: split.DriverEarning,
		Status:        model.PoolWaiting,
		MatchRadiusKm: s.cfg.MatchRadiusKm,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.Expiry),
		Participants: []model.PoolParticipant{
			newParticipant(req.Rider, req.Pickup, req.Drop, req.Seats, split.FarePerSeat, 1, now),
		},
	}
	pool.RecomputeSeats()

	// ── Step 3: Persist ─────────────────────────────────
	if err := s.store.CreatePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("pool: create: %w", err)
	}

	metrics.PoolTransitions.WithLabelValues(string(pool.Status)).Inc()
	s.log.Info("pool created",
		zap.String("pool", pool.ID),
		zap.String("creator", pool.CreatorID),
		zap.Int("seats", req.Seats),
		zap.Float64("distance_km", distanceKm),
		zap.Int64("fare_per_seat", pool.FarePerSeat))

	s.ann.announce(ctx, s.event(pool, model.EventPoolCreated, req.Rider.ID, now), nil, "")
	return pool, nil
}

// ─── Join / Leave ───────────────────────────────────────────

// JoinPool adds a rider to a waiting pool. The pool becomes ready once it
// reaches MinParticipants active riders or runs out of seats.
func (s *PoolService) JoinPool(ctx context.Context, poolID string, req JoinPoolRequest) (*model.PoolRide, error) {
	ctx, span := s.startSpan(ctx, "pool.JoinPool", poolID)
	defer span.End()

	if strings.TrimSpace(req.Rider.ID) == "" {
		return nil, reject(ErrValidation, "Rider id is required")
	}
	// The upper bound is the pool's free seats, checked against the stored pool.
	if req.Seats <= 0 {
		return nil, reject(ErrValidation, "Seats must be at least 1")
	}

	return s.mutate(ctx, poolID, func(p *model.PoolRide, now time.Time) (*poolChange, error) {
		if p.Status != model.PoolWaiting {
			return nil, errPoolNotJoinable(statusLabel(p.Status))
		}
		if p.IsExpired(now) {
			return nil, errPoolExpired()
		}
		if p.ActiveParticipant(req.Rider.ID) != nil {
			return nil, reject(ErrDuplicateParticipant, "You have already joined this pool")
		}
		if p.AvailableSeats < req.Seats {
			return nil, errInsufficientSeats(p.AvailableSeats)
		}

		order := p.NextOrder()
		p.Participants = append(p.Participants,
			newParticipant(req.Rider, req.Pickup, req.Drop, req.Seats, p.FarePerSeat, order, now))
		p.RecomputeSeats()

		if p.ActiveCount() >= s.cfg.MinParticipants || p.AvailableSeats == 0 {
			p.Status = model.PoolReady
		}

		return &poolChange{
			event:      model.EventPoolJoined,
			actor:      req.Rider.ID,
			recipients: activeRiderIDs(p, req.Rider.ID),
			message:    fmt.Sprintf("%s joined your pool", displayName(req.Rider)),
		}, nil
	})
}

// LeavePool removes a rider before a driver is assigned. The last rider
// leaving cancels the pool.
func (s *PoolService) LeavePool(ctx context.Context, poolID, riderID string) (*model.PoolRide, error) {
	ctx, span := s.startSpan(ctx, "pool.LeavePool", poolID)
	defer span.End()

	return s.mutate(ctx, poolID, func(p *model.PoolRide, now time.Time) (*poolChange, error) {
		switch {
		case p.Status.IsTerminal():
			return nil, reject(ErrInvalidState, "This pool is already %s", statusLabel(p.Status))
		case !p.Status.IsOpen():
			return nil, reject(ErrInvalidState, "Cannot leave after a driver has been assigned. Contact the driver directly.")
		}

		pp := p.ActiveParticipant(riderID)
		if pp == nil {
			return nil, errRiderNotInPool()
		}
		pp.Status = model.ParticipantCancelled
		pp.CancelledAt = timePtr(now)
		p.RecomputeSeats()

		change := &poolChange{
			event:      model.EventPoolLeft,
			actor:      riderID,
			recipients: activeRiderIDs(p, riderID),
			message:    fmt.Sprintf("%s left the pool", pp.Name),
		}

		if p.ActiveCount() == 0 {
			p.Status = model.PoolCancelled
			p.CancelledAt = timePtr(now)
			change.event = model.EventPoolCancelled
			change.message = "The pool was cancelled because every rider left"
		} else {
			// A freed seat reopens the pool for joining, even when enough riders
			// remain; the creator marks it ready again.
			p.Status = model.PoolWaiting
		}
		return change, nil
	})
}

// ─── Ready / Cancel ─────────────────────────────────────────

// MarkPoolReady lets the creator close a pool early once MinParticipants
// riders have joined.
func (s *PoolService) MarkPoolReady(ctx context.Context, poolID, creatorID string) (*model.PoolRide, error) {
	ctx, span := s.startSpan(ctx, "pool.MarkPoolReady", poolID)
	defer span.End()

	return s.mutate(ctx, poolID, func(p *model.PoolRide, now time.Time) (*poolChange, error) {
		if p.CreatorID != creatorID {
			return nil, reject(ErrUnauthorized, "Only the pool creator can mark the pool ready")
		}
		if p.Status == model.PoolReady {
			return nil, reject(ErrInvalidState, "This pool is already ready")
		}
		if p.Status != model.PoolWaiting {
			return nil, reject(ErrInvalidState, "A %s pool cannot be marked ready", statusLabel(p.Status))
		}
		if p.IsExpired(now) {
			return nil, errPoolExpired()
		}
		if n := p.ActiveCount(); n < s.cfg.MinParticipants {
			return nil, reject(ErrInvalidState, "At least %d riders are needed, only %d joined", s.cfg.MinParticipants, n)
		}

		p.Status = model.PoolReady
		return &poolChange{
			event:      model.EventPoolReady,
			actor:      creatorID,
			recipients: activeRiderIDs(p, creatorID),
			message:    "Your pool is ready and waiting for a driver",
		}, nil
	})
}

// CancelPool lets the creator call off a pool before a driver accepts.
// Every active participant is cancelled with it.
func (s *PoolService) CancelPool(ctx context.Context, poolID, creatorID string) (*model.PoolRide, error) {
	ctx, span := s.startSpan(ctx, "pool.CancelPool", poolID)
	defer span.End()

	return s.mutate(ctx, poolID, func(p *model.PoolRide, now time.Time) (*poolChange, error) {
		if p.CreatorID != creatorID {
			return nil, reject(ErrUnauthorized, "Only the pool creator can cancel the pool")
		}
		if p.Status.IsTerminal() {
			return nil, reject(ErrInvalidState, "This pool is already %s", statusLabel(p.Status))
		}
		if !p.Status.IsOpen() {
			return nil, reject(ErrInvalidState, "Cannot cancel after a driver has been assigned. Contact the driver directly.")
		}

		recipients := activeRiderIDs(p, creatorID)
		for i := range p.Participants {
			if p.Participants[i].IsActive() {
				p.Participants[i].Status = model.ParticipantCancelled
				p.Participants[i].CancelledAt = timePtr(now)
			}
		}
		p.Status = model.PoolCancelled
		p.CancelledAt = timePtr(now)

		return &poolChange{
			event:      model.EventPoolCancelled,
			actor:      creatorID,
			recipients: recipients,
			message:    "The pool creator cancelled this pool",
		}, nil
	})
}

// ─── Driver flow ────────────────────────────────────────────

// AcceptPoolRide assigns a driver. Exactly one of several racing drivers
// wins; the rest see the pool as already assigned.
func (s *PoolService) AcceptPoolRide(ctx context.Context, poolID string, req AcceptPoolRequest) (*model.PoolRide, error) {
	ctx, span := s.startSpan(ctx, "pool.AcceptPoolRide", poolID)
	defer span.End()

	if strings.TrimSpace(req.Driver.ID) == "" {
		return nil, reject(ErrValidation, "Driver id is required")
	}

	return s.mutate(ctx, poolID, func(p *model.PoolRide, now time.Time) (*poolChange, error) {
		if p.Driver != nil {
			if p.Driver.ID == req.Driver.ID {
				return nil, reject(ErrInvalidState, "You have already accepted this pool")
			}
			return nil, reject(ErrInvalidState, "This pool has already been accepted by another driver")
		}
		if !p.Status.IsOpen() {
			return nil, reject(ErrInvalidState, "A %s pool cannot be accepted", statusLabel(p.Status))
		}
		if p.IsExpired(now) {
			return nil, errPoolExpired()
		}
		if p.ActiveCount() == 0 {
			return nil, reject(ErrInvalidState, "This pool has no riders")
		}

		driver := req.Driver
		p.Driver = &driver
		if req.BookingID != "" {
			id := req.BookingID
			p.BookingID = &id
		}
		p.AcceptedAt = timePtr(now)
		p.Status = model.PoolDriverAssigned
		for i := range p.Participants {
			if p.Participants[i].Status == model.ParticipantJoined {
				p.Participants[i].Status = model.ParticipantConfirmed
			}
		}

		return &poolChange{
			event:      model.EventPoolAccepted,
			actor:      driver.ID,
			recipients: activeRiderIDs(p, ""),
			message:    fmt.Sprintf("%s accepted your pool ride", displayDriver(driver)),
		}, nil
	})
}

// PickupParticipant marks a rider as aboard. The pool moves to in_progress
// once every active rider has been picked up.
func (s *PoolService) PickupParticipant(ctx context.Context, poolID, driverID, riderID string) (*model.PoolRide, error) {
	ctx, span := s.startSpan(ctx, "pool.PickupParticipant", poolID)
	defer span.End()

	return s.mutate(ctx, poolID, func(p *model.PoolRide, now time.Time) (*poolChange, error) {
		if p.Status != model.PoolDriverAssigned && p.Status != model.PoolPickupInProgress {
			return nil, reject(ErrInvalidState, "Pickups are not allowed while the pool is %s", statusLabel(p.Status))
		}
		if err := requireDriver(p, driverID); err != nil {
			return nil, err
		}

		pp := p.ActiveParticipant(riderID)
		if pp == nil {
			return nil, errRiderNotInPool()
		}
		if pp.Status == model.ParticipantPickedUp || pp.Status == model.ParticipantDroppedOff {
			return nil, reject(ErrInvalidState, "%s has already been picked up", pp.Name)
		}

		pp.Status = model.ParticipantPickedUp
		pp.PickedUpAt = timePtr(now)

		if p.AllPickedUp() {
			p.Status = model.PoolInProgress
			p.StartedAt = timePtr(now)
		} else {
			p.Status = model.PoolPickupInProgress
		}

		return &poolChange{
			event:      model.EventPoolPickup,
			actor:      driverID,
			recipients: []string{riderID},
			message:    "You have been picked up. Enjoy the ride!",
		}, nil
	})
}

// DropoffParticipant marks a picked-up rider as dropped. The last dropoff
// completes the pool and credits driver and rider stats in the same write.
func (s *PoolService) DropoffParticipant(ctx context.Context, poolID, driverID, riderID string) (*model.PoolRide, error) {
	ctx, span := s.startSpan(ctx, "pool.DropoffParticipant", poolID)
	defer span.End()

	return s.mutate(ctx, poolID, func(p *model.PoolRide, now time.Time) (*poolChange, error) {
		if p.Status != model.PoolInProgress {
			return nil, reject(ErrInvalidState, "Dropoffs start once every rider is aboard; the pool is %s", statusLabel(p.Status))
		}
		if err := requireDriver(p, driverID); err != nil {
			return nil, err
		}

		pp := p.ActiveParticipant(riderID)
		if pp == nil {
			return nil, errRiderNotInPool()
		}
		if pp.Status != model.ParticipantPickedUp {
			if pp.Status == model.ParticipantDroppedOff {
				return nil, reject(ErrInvalidState, "%s has already been dropped off", pp.Name)
			}
			return nil, reject(ErrInvalidState, "%s has not been picked up yet", pp.Name)
		}

		pp.Status = model.ParticipantDroppedOff
		pp.DroppedOffAt = timePtr(now)

		change := &poolChange{
			event:      model.EventPoolDropoff,
			actor:      driverID,
			recipients: []string{riderID},
			message:    fmt.Sprintf("You have arrived. Please pay ₹%d to your driver.", pp.TotalFare),
		}

		if p.AllDroppedOff() {
			p.Status = model.PoolCompleted
			p.CompletedAt = timePtr(now)
			change.event = model.EventPoolCompleted
			change.deltas = completionDeltas(p)
			change.recipients = append(change.recipients, p.Driver.ID)
			change.message = "Pool ride completed"
		}
		return change, nil
	})
}

// ─── Expiry ─────────────────────────────────────────────────

// expirableStatuses are the statuses the sweeper may expire. Pools with
// riders already aboard are left to the driver to finish.
var expirableStatuses = []model.PoolStatus{
	model.PoolWaiting, model.PoolReady, model.PoolDriverAssigned,
}

// ExpireStalePools moves every expirable pool whose TTL has passed to
// expired and returns how many were expired. The scheduler lives outside
// this service; it only decides "is this expired" against its clock.
func (s *PoolService) ExpireStalePools(ctx context.Context) (int, error) {
	ctx, span := s.startSpan(ctx, "pool.ExpireStalePools", "")
	defer span.End()

	candidates, err := s.store.ListPoolsByStatus(ctx, expirableStatuses...)
	if err != nil {
		return 0, fmt.Errorf("pool: list expirable: %w", err)
	}

	now := s.now()
	expired := 0
	for _, c := range candidates {
		if !c.IsExpired(now) {
			continue
		}
		_, err := s.mutate(ctx, c.ID, func(p *model.PoolRide, now time.Time) (*poolChange, error) {
			if !containsPoolStatus(expirableStatuses, p.Status) || !p.IsExpired(now) {
				return nil, errSkip
			}
			recipients := activeRiderIDs(p, "")
			if p.Driver != nil {
				recipients = append(recipients, p.Driver.ID)
			}
			p.Status = model.PoolExpired
			return &poolChange{
				event:      model.EventPoolExpired,
				recipients: recipients,
				message:    "This pool expired before the ride started",
			}, nil
		})
		switch {
		case err == nil:
			expired++
			metrics.PoolsExpired.Inc()
		case errors.Is(err, errSkip):
		default:
			s.log.Warn("expire pool failed", zap.String("pool", c.ID), zap.Error(err))
		}
	}

	if expired > 0 {
		s.log.Info("expired stale pools", zap.Int("count", expired))
	}
	span.SetAttributes(attribute.Int("pool.expired", expired))
	return expired, nil
}

// ─── Reads ──────────────────────────────────────────────────

// GetPool returns a pool by id.
func (s *PoolService) GetPool(ctx context.Context, poolID string) (*model.PoolRide, error) {
	p, err := s.store.GetPool(ctx, poolID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errPoolNotFound(poolID)
	}
	if err != nil {
		return nil, fmt.Errorf("pool: get %s: %w", poolID, err)
	}
	return p, nil
}

// ListRiderPools returns the pools a rider has joined, newest first. With
// activeOnly set, terminal pools and pools the rider left are skipped.
func (s *PoolService) ListRiderPools(ctx context.Context, riderID string, activeOnly bool) ([]*model.PoolRide, error) {
	pools, err := s.store.ListPoolsByRider(ctx, riderID)
	if err != nil {
		return nil, fmt.Errorf("pool: list for rider %s: %w", riderID, err)
	}
	if !activeOnly {
		return pools, nil
	}
	out := pools[:0]
	for _, p := range pools {
		if !p.Status.IsTerminal() && p.ActiveParticipant(riderID) != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetDriverActivePool returns the non-terminal pool assigned to a driver.
func (s *PoolService) GetDriverActivePool(ctx context.Context, driverID string) (*model.PoolRide, error) {
	pools, err := s.store.ListPoolsByDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("pool: list for driver %s: %w", driverID, err)
	}
	for _, p := range pools {
		if !p.Status.IsTerminal() {
			return p, nil
		}
	}
	return nil, reject(ErrNotFound, "You have no active pool ride")
}

// DriverRoute returns the stops left for the assigned driver: pickups in
// pickup order until everyone is aboard, then dropoffs in dropoff order.
func (s *PoolService) DriverRoute(ctx context.Context, poolID, driverID string) (*DriverRoute, error) {
	p, err := s.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if err := requireDriver(p, driverID); err != nil {
		return nil, err
	}

	route := &DriverRoute{PoolID: p.ID, Status: p.Status, Stops: []RouteStop{}}
	switch p.Status {
	case model.PoolDriverAssigned, model.PoolPickupInProgress:
		route.Phase = "pickup"
		for _, pp := range p.PickupSequence() {
			route.Stops = append(route.Stops, stopFor(pp, pp.Pickup, pp.PickupOrder))
		}
	case model.PoolInProgress:
		route.Phase = "dropoff"
		for _, pp := range p.DropoffSequence() {
			route.Stops = append(route.Stops, stopFor(pp, pp.Drop, pp.DropoffOrder))
		}
	default:
		route.Phase = "done"
	}

	points := make([]model.Location, 0, len(route.Stops))
	for _, st := range route.Stops {
		points = append(points, st.Location.Point())
	}
	route.DistanceKm = geo.RoundKm(geo.RouteDistanceKm(points))
	return route, nil
}

// ─── Internals ──────────────────────────────────────────────

// errSkip aborts a mutation without committing or reporting an error.
var errSkip = errors.New("pool: nothing to do")

// mutate is the read → validate → conditional write loop shared by every
// pool transition. fn receives a fresh copy with seat counts recomputed.
func (s *PoolService) mutate(
	ctx context.Context,
	poolID string,
	fn func(p *model.PoolRide, now time.Time) (*poolChange, error),
) (*model.PoolRide, error) {
	var (
		result *model.PoolRide
		change *poolChange
		at     time.Time
	)

	err := retryOnConflict("pool", s.log, func() (bool, error) {
		p, err := s.store.GetPool(ctx, poolID)
		if errors.Is(err, repository.ErrNotFound) {
			return false, errPoolNotFound(poolID)
		}
		if err != nil {
			return false, fmt.Errorf("pool: get %s: %w", poolID, err)
		}

		now := s.now()
		expected := p.Version
		p.RecomputeSeats()

		c, err := fn(p, now)
		if err != nil {
			return false, err
		}

		p.RecomputeSeats()
		p.UpdatedAt = now

		ok, err := s.store.UpdatePool(ctx, p, expected, c.deltas...)
		if err != nil {
			return false, fmt.Errorf("pool: update %s: %w", poolID, err)
		}
		if ok {
			result, change, at = p, c, now
		}
		return ok, nil
	})
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			s.log.Info("pool transition rejected",
				zap.String("pool", poolID),
				zap.String("kind", de.Kind.Error()),
				zap.String("reason", de.Message))
		}
		return nil, err
	}

	metrics.PoolTransitions.WithLabelValues(string(result.Status)).Inc()
	s.log.Info("pool updated",
		zap.String("pool", result.ID),
		zap.String("event", string(change.event)),
		zap.String("status", string(result.Status)),
		zap.Int("occupied", result.OccupiedSeats),
		zap.Int("available", result.AvailableSeats),
		zap.Int64("version", result.Version))

	s.ann.announce(ctx, s.event(result, change.event, change.actor, at), change.recipients, change.message)
	return result, nil
}

func (s *PoolService) event(p *model.PoolRide, t model.EventType, actor string, at time.Time) model.Event {
	return model.Event{
		Type:        t,
		AggregateID: p.ID,
		Status:      string(p.Status),
		ActorID:     actor,
		Version:     p.Version,
		OccurredAt:  at,
	}
}

func (s *PoolService) startSpan(ctx context.Context, name, poolID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	if poolID != "" {
		span.SetAttributes(attribute.String("pool.id", poolID))
	}
	return ctx, span
}

func (s *PoolService) validateSeats(seats int) error {
	if seats <= 0 {
		return reject(ErrValidation, "Seats must be at least 1")
	}
	if seats > s.cfg.MaxSeats {
		return reject(ErrValidation, "A pool can take at most %d seats", s.cfg.MaxSeats)
	}
	return nil
}

func newParticipant(rider model.RiderInfo, pickup, drop model.NamedLocation, seats int, farePerSeat int64, order int, now time.Time) model.PoolParticipant {
	return model.PoolParticipant{
		RiderID:      rider.ID,
		Name:         rider.Name,
		Phone:        rider.Phone,
		Pickup:       pickup,
		Drop:         drop,
		SeatsNeeded:  seats,
		FarePerSeat:  farePerSeat,
		TotalFare:    farePerSeat * int64(seats),
		Status:       model.ParticipantJoined,
		PickupOrder:  order,
		DropoffOrder: order,
		JoinedAt:     now,
	}
}

// completionDeltas credits the driver with the pool earning and each rider
// with their fare.
func completionDeltas(p *model.PoolRide) []model.StatsDelta {
	deltas := []model.StatsDelta{{
		UserID:   p.Driver.ID,
		Role:     model.RoleDriver,
		Rides:    1,
		Earnings: p.DriverEarning,
	}}
	for _, pp := range p.Participants {
		if pp.Status != model.ParticipantDroppedOff {
			continue
		}
		deltas = append(deltas, model.StatsDelta{
			UserID: pp.RiderID,
			Role:   model.RoleRider,
			Rides:  1,
			Spent:  pp.TotalFare,
		})
	}
	return deltas
}

func requireDriver(p *model.PoolRide, driverID string) error {
	if p.Driver == nil || p.Driver.ID != driverID {
		return reject(ErrUnauthorized, "Only the assigned driver can do this")
	}
	return nil
}

func activeRiderIDs(p *model.PoolRide, except string) []string {
	var ids []string
	for _, pp := range p.Participants {
		if pp.IsActive() && pp.RiderID != except {
			ids = append(ids, pp.RiderID)
		}
	}
	return ids
}

func stopFor(pp model.PoolParticipant, loc model.NamedLocation, order int) RouteStop {
	return RouteStop{
		Order:    order,
		RiderID:  pp.RiderID,
		Name:     pp.Name,
		Phone:    pp.Phone,
		Location: loc,
		Seats:    pp.SeatsNeeded,
		Status:   pp.Status,
	}
}

func containsPoolStatus(statuses []model.PoolStatus, s model.PoolStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func statusLabel[S ~string](s S) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

func displayName(r model.RiderInfo) string {
	if r.Name != "" {
		return r.Name
	}
	return "A rider"
}

func displayDriver(d model.DriverInfo) string {
	if d.Name != "" {
		return d.Name
	}
	return "A driver"
}

func timePtr(t time.Time) *time.Time { return &t }
