package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/metrics"
	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/internal/repository"
	"github.com/shiva/unipool/pkg/geo"
)

// Payment modes recorded on a booking. Money never moves through the
// service; the mode is bookkeeping for the driver.
const (
	PaymentCash = "cash"
	PaymentUPI  = "upi"
)

// Sides of a booking, recorded in CancelledBy.
const (
	sideRider  = "rider"
	sideDriver = "driver"
)

// CreateBookingRequest asks a specific driver for a solo ride.
type CreateBookingRequest struct {
	Rider       model.RiderInfo     `json:"rider"`
	Driver      model.DriverInfo    `json:"driver"`
	Pickup      model.NamedLocation `json:"pickup"`
	Drop        model.NamedLocation `json:"drop"`
	DistanceKm  float64             `json:"distance_km"`
	PaymentMode string              `json:"payment_mode"`
}

// bookingChange describes what a successful booking mutation committed.
type bookingChange struct {
	event     model.EventType
	actor     string
	deltas    []model.StatsDelta
	recipient string
	message   string
}

// ─── BookingService ─────────────────────────────────────────

// BookingService owns the solo Booking aggregate:
//
//	pending → accepted → in_progress → completed
//	   │
//	   └──→ cancelled (rider cancel or driver reject)
//
// Every transition checks the actor against the stored rider or driver id
// and writes conditionally on the booking version, like PoolService.
type BookingService struct {
	store repository.BookingStore
	fares *FareCalculator
	now   func() time.Time
	newID func() string
	log   *zap.Logger
	ann   announcer
}

// NewBookingService creates a booking service.
func NewBookingService(
	store repository.BookingStore,
	fares *FareCalculator,
	publisher Publisher,
	notifier Notifier,
	log *zap.Logger,
	opts ...Option,
) *BookingService {
	if log == nil {
		log = zap.NewNop()
	}
	o := buildOptions(opts)
	return &BookingService{
		store: store,
		fares: fares,
		now:   o.clock,
		newID: o.newID,
		log:   log,
		ann:   newAnnouncer(publisher, notifier, log),
	}
}

// CreateBooking records a pending request. The fare is computed now and
// locked for the rest of the booking's life.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*model.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.CreateBooking")
	defer span.End()

	// ── Step 1: Validate ────────────────────────────────
	if strings.TrimSpace(req.Rider.ID) == "" || strings.TrimSpace(req.Driver.ID) == "" {
		return nil, reject(ErrValidation, "Rider and driver are required")
	}
	if req.Rider.ID == req.Driver.ID {
		return nil, reject(ErrValidation, "You cannot book a ride with yourself")
	}
	if req.DistanceKm < 0 {
		return nil, reject(ErrValidation, "Distance cannot be negative")
	}
	mode := strings.ToLower(strings.TrimSpace(req.PaymentMode))
	switch mode {
	case "":
		mode = PaymentCash
	case PaymentCash, PaymentUPI:
	default:
		return nil, reject(ErrValidation, "Payment mode must be cash or upi")
	}

	// ── Step 2: Lock the fare ───────────────────────────
	now := s.now()
	distanceKm := req.DistanceKm
	if distanceKm == 0 {
		distanceKm = geo.RoundKm(geo.HaversineKm(req.Pickup.Point(), req.Drop.Point()))
	}

	b := &model.Booking{
		ID:          s.newID(),
		RiderID:     req.Rider.ID,
		RiderName:   req.Rider.Name,
		RiderPhone:  req.Rider.Phone,
		DriverID:    req.Driver.ID,
		DriverName:  req.Driver.Name,
		Pickup:      req.Pickup,
		Drop:        req.Drop,
		DistanceKm:  distanceKm,
		Fare:        s.fares.CalculateFareAt(distanceKm, now),
		PaymentMode: mode,
		Status:      model.BookingPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// ── Step 3: Persist ─────────────────────────────────
	if err := s.store.CreateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("booking: create: %w", err)
	}

	metrics.BookingTransitions.WithLabelValues(string(b.Status)).Inc()
	s.log.Info("booking created",
		zap.String("booking", b.ID),
		zap.String("rider", b.RiderID),
		zap.String("driver", b.DriverID),
		zap.Int64("fare", b.Fare))

	s.ann.announce(ctx, bookingEvent(b, model.EventBookingCreated, b.RiderID, now),
		[]string{b.DriverID}, fmt.Sprintf("New ride request from %s", displayName(req.Rider)))
	return b, nil
}

// AcceptBooking is the driver taking a pending request.
func (s *BookingService) AcceptBooking(ctx context.Context, bookingID, driverID string) (*model.Booking, error) {
	return s.mutate(ctx, "booking.AcceptBooking", bookingID, func(b *model.Booking, now time.Time) (*bookingChange, error) {
		if b.DriverID != driverID {
			return nil, reject(ErrUnauthorized, "This ride was requested from another driver")
		}
		if b.Status != model.BookingPending {
			return nil, reject(ErrInvalidState, "Only pending rides can be accepted; this one is %s", statusLabel(b.Status))
		}
		b.Status = model.BookingAccepted
		b.AcceptedAt = timePtr(now)
		return &bookingChange{
			event:     model.EventBookingAccepted,
			actor:     driverID,
			recipient: b.RiderID,
			message:   "Your driver accepted the ride and is on the way",
		}, nil
	})
}

// RejectBooking is the driver declining a pending request.
func (s *BookingService) RejectBooking(ctx context.Context, bookingID, driverID, reason string) (*model.Booking, error) {
	return s.mutate(ctx, "booking.RejectBooking", bookingID, func(b *model.Booking, now time.Time) (*bookingChange, error) {
		if b.DriverID != driverID {
			return nil, reject(ErrUnauthorized, "This ride was requested from another driver")
		}
		if b.Status != model.BookingPending {
			return nil, reject(ErrInvalidState, "Only pending rides can be rejected; this one is %s", statusLabel(b.Status))
		}
		b.Status = model.BookingCancelled
		b.CancelledAt = timePtr(now)
		b.CancelledBy = sideDriver
		b.CancelReason = strings.TrimSpace(reason)
		return &bookingChange{
			event:     model.EventBookingRejected,
			actor:     driverID,
			recipient: b.RiderID,
			message:   "The driver could not take your ride. Please pick another driver.",
		}, nil
	})
}

// StartRide marks the rider as picked up.
func (s *BookingService) StartRide(ctx context.Context, bookingID, driverID string) (*model.Booking, error) {
	return s.mutate(ctx, "booking.StartRide", bookingID, func(b *model.Booking, now time.Time) (*bookingChange, error) {
		if b.DriverID != driverID {
			return nil, reject(ErrUnauthorized, "Only the assigned driver can start this ride")
		}
		if b.Status != model.BookingAccepted {
			return nil, reject(ErrInvalidState, "Only accepted rides can be started; this one is %s", statusLabel(b.Status))
		}
		b.Status = model.BookingInProgress
		b.StartedAt = timePtr(now)
		return &bookingChange{
			event:     model.EventBookingStarted,
			actor:     driverID,
			recipient: b.RiderID,
			message:   "Your ride has started",
		}, nil
	})
}

// CompleteRide finishes the ride and credits both sides' stats in the same
// write. Completing an already completed booking returns it unchanged.
func (s *BookingService) CompleteRide(ctx context.Context, bookingID, driverID string) (*model.Booking, error) {
	return s.mutate(ctx, "booking.CompleteRide", bookingID, func(b *model.Booking, now time.Time) (*bookingChange, error) {
		if b.DriverID != driverID {
			return nil, reject(ErrUnauthorized, "Only the assigned driver can complete this ride")
		}
		if b.Status == model.BookingCompleted {
			return nil, nil
		}
		if b.Status != model.BookingInProgress {
			return nil, reject(ErrInvalidState, "Only rides in progress can be completed; this one is %s", statusLabel(b.Status))
		}
		b.Status = model.BookingCompleted
		b.CompletedAt = timePtr(now)
		return &bookingChange{
			event: model.EventBookingCompleted,
			actor: driverID,
			deltas: []model.StatsDelta{
				{UserID: b.DriverID, Role: model.RoleDriver, Rides: 1, Earnings: b.Fare},
				{UserID: b.RiderID, Role: model.RoleRider, Rides: 1, Spent: b.Fare},
			},
			recipient: b.RiderID,
			message:   fmt.Sprintf("You have arrived. Please pay ₹%d by %s.", b.Fare, b.PaymentMode),
		}, nil
	})
}

// CancelBooking is the rider withdrawing a request. Once a driver has
// accepted, the rider has to sort it out with the driver directly.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, riderID, reason string) (*model.Booking, error) {
	return s.mutate(ctx, "booking.CancelBooking", bookingID, func(b *model.Booking, now time.Time) (*bookingChange, error) {
		if b.RiderID != riderID {
			return nil, reject(ErrUnauthorized, "Only the rider who requested this ride can cancel it")
		}
		switch b.Status {
		case model.BookingPending:
		case model.BookingAccepted, model.BookingInProgress:
			return nil, reject(ErrInvalidState, "Cannot cancel after the driver has accepted. Contact the driver directly.")
		default:
			return nil, reject(ErrInvalidState, "This ride is already %s", statusLabel(b.Status))
		}
		b.Status = model.BookingCancelled
		b.CancelledAt = timePtr(now)
		b.CancelledBy = sideRider
		b.CancelReason = strings.TrimSpace(reason)
		return &bookingChange{
			event:     model.EventBookingCancelled,
			actor:     riderID,
			recipient: b.DriverID,
			message:   "The rider cancelled the request",
		}, nil
	})
}

// RateBooking records one side's 1–5 rating of the other after completion.
// Each side rates once; the counterpart's rating aggregate moves in the
// same write.
func (s *BookingService) RateBooking(ctx context.Context, bookingID, userID string, score int, comment string) (*model.Booking, error) {
	if score < 1 || score > 5 {
		return nil, reject(ErrValidation, "Rating must be between 1 and 5")
	}

	return s.mutate(ctx, "booking.RateBooking", bookingID, func(b *model.Booking, now time.Time) (*bookingChange, error) {
		if userID != b.RiderID && userID != b.DriverID {
			return nil, reject(ErrUnauthorized, "Only the rider or driver of this ride can rate it")
		}
		if b.Status != model.BookingCompleted {
			return nil, reject(ErrInvalidState, "Rides can be rated only after completion")
		}

		rating := &model.Rating{Score: score, Comment: strings.TrimSpace(comment), RatedAt: now}
		change := &bookingChange{event: model.EventBookingRated, actor: userID}

		if userID == b.RiderID {
			if b.RiderRating != nil {
				return nil, reject(ErrInvalidState, "You have already rated this ride")
			}
			b.RiderRating = rating
			change.deltas = []model.StatsDelta{{UserID: b.DriverID, Role: model.RoleDriver, Rating: score}}
			change.recipient = b.DriverID
		} else {
			if b.DriverRating != nil {
				return nil, reject(ErrInvalidState, "You have already rated this ride")
			}
			b.DriverRating = rating
			change.deltas = []model.StatsDelta{{UserID: b.RiderID, Role: model.RoleRider, Rating: score}}
			change.recipient = b.RiderID
		}
		change.message = fmt.Sprintf("You received a %d★ rating", score)
		return change, nil
	})
}

// ─── Reads ──────────────────────────────────────────────────

// GetBooking returns a booking by id.
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errBookingNotFound(bookingID)
	}
	if err != nil {
		return nil, fmt.Errorf("booking: get %s: %w", bookingID, err)
	}
	return b, nil
}

// ListRiderBookings returns a rider's bookings, newest first.
func (s *BookingService) ListRiderBookings(ctx context.Context, riderID string) ([]*model.Booking, error) {
	out, err := s.store.ListBookingsByRider(ctx, riderID)
	if err != nil {
		return nil, fmt.Errorf("booking: list for rider %s: %w", riderID, err)
	}
	return out, nil
}

// ListDriverBookings returns a driver's bookings, newest first.
func (s *BookingService) ListDriverBookings(ctx context.Context, driverID string) ([]*model.Booking, error) {
	out, err := s.store.ListBookingsByDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("booking: list for driver %s: %w", driverID, err)
	}
	return out, nil
}

// ─── Internals ──────────────────────────────────────────────

// mutate runs the read → validate → conditional write loop. fn returning
// a nil change means the booking is already in the requested state and
// nothing is written.
func (s *BookingService) mutate(
	ctx context.Context,
	op, bookingID string,
	fn func(b *model.Booking, now time.Time) (*bookingChange, error),
) (*model.Booking, error) {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID))

	var (
		result *model.Booking
		change *bookingChange
		at     time.Time
	)

	err := retryOnConflict("booking", s.log, func() (bool, error) {
		b, err := s.store.GetBooking(ctx, bookingID)
		if errors.Is(err, repository.ErrNotFound) {
			return false, errBookingNotFound(bookingID)
		}
		if err != nil {
			return false, fmt.Errorf("booking: get %s: %w", bookingID, err)
		}

		now := s.now()
		expected := b.Version

		c, err := fn(b, now)
		if err != nil {
			return false, err
		}
		if c == nil {
			result = b
			return true, nil
		}

		b.UpdatedAt = now
		ok, err := s.store.UpdateBooking(ctx, b, expected, c.deltas...)
		if err != nil {
			return false, fmt.Errorf("booking: update %s: %w", bookingID, err)
		}
		if ok {
			result, change, at = b, c, now
		}
		return ok, nil
	})
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			s.log.Info("booking transition rejected",
				zap.String("booking", bookingID),
				zap.String("kind", de.Kind.Error()),
				zap.String("reason", de.Message))
		}
		return nil, err
	}

	if change == nil {
		s.log.Debug("booking already in requested state", zap.String("booking", bookingID))
		return result, nil
	}

	metrics.BookingTransitions.WithLabelValues(string(result.Status)).Inc()
	s.log.Info("booking updated",
		zap.String("booking", result.ID),
		zap.String("event", string(change.event)),
		zap.String("status", string(result.Status)),
		zap.Int64("version", result.Version))

	var recipients []string
	if change.recipient != "" {
		recipients = []string{change.recipient}
	}
	s.ann.announce(ctx, bookingEvent(result, change.event, change.actor, at), recipients, change.message)
	return result, nil
}

func bookingEvent(b *model.Booking, t model.EventType, actor string, at time.Time) model.Event {
	return model.Event{
		Type:        t,
		AggregateID: b.ID,
		Status:      string(b.Status),
		ActorID:     actor,
		Version:     b.Version,
		OccurredAt:  at,
	}
}
