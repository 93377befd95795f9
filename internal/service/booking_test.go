package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/internal/repository"
)

type bookingFixture struct {
	svc       *BookingService
	store     *repository.MemoryStore
	fares     *FareCalculator
	clock     *testClock
	publisher *recordingPublisher
	notifier  *recordingNotifier
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	clock := newTestClock(offPeak)
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{}
	notif := &recordingNotifier{}

	fcfg := DefaultFareConfig()
	fcfg.Location = time.UTC
	fares := NewFareCalculator(fcfg, clock.Now, nil)

	svc := NewBookingService(store, fares, pub, notif, nil,
		WithClock(clock.Now), WithIDGenerator(sequentialIDs("booking")))

	return &bookingFixture{svc: svc, store: store, fares: fares, clock: clock, publisher: pub, notifier: notif}
}

func (f *bookingFixture) create(t *testing.T) *model.Booking {
	t.Helper()
	b, err := f.svc.CreateBooking(context.Background(), CreateBookingRequest{
		Rider:      rider("r1"),
		Driver:     driver("d1"),
		Pickup:     mainGate,
		Drop:       library,
		DistanceKm: 5.5,
	})
	mustNoErr(t, err)
	return b
}

// complete drives a fresh booking through to completed.
func (f *bookingFixture) complete(t *testing.T) *model.Booking {
	t.Helper()
	ctx := context.Background()
	b := f.create(t)
	_, err := f.svc.AcceptBooking(ctx, b.ID, "d1")
	mustNoErr(t, err)
	_, err = f.svc.StartRide(ctx, b.ID, "d1")
	mustNoErr(t, err)
	b, err = f.svc.CompleteRide(ctx, b.ID, "d1")
	mustNoErr(t, err)
	return b
}

func TestCreateBooking(t *testing.T) {
	f := newBookingFixture(t)
	b := f.create(t)

	if b.ID != "booking-1" {
		t.Errorf("id = %s, want booking-1", b.ID)
	}
	if b.Status != model.BookingPending {
		t.Errorf("status = %s, want pending", b.Status)
	}
	if want := f.fares.CalculateFareAt(5.5, offPeak); b.Fare != want {
		t.Errorf("fare = %d, want %d", b.Fare, want)
	}
	if b.PaymentMode != PaymentCash {
		t.Errorf("payment mode = %q, want cash default", b.PaymentMode)
	}
	if got := f.notifier.to("d1"); len(got) != 1 || got[0] != model.EventBookingCreated {
		t.Errorf("driver notifications = %v", got)
	}
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateBookingRequest
	}{
		{"missing rider", CreateBookingRequest{Driver: driver("d1")}},
		{"missing driver", CreateBookingRequest{Rider: rider("r1")}},
		{"self booking", CreateBookingRequest{Rider: rider("x"), Driver: driver("x")}},
		{"negative distance", CreateBookingRequest{Rider: rider("r1"), Driver: driver("d1"), DistanceKm: -1}},
		{"bad payment", CreateBookingRequest{Rider: rider("r1"), Driver: driver("d1"), DistanceKm: 2, PaymentMode: "card"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateBooking(ctx, tt.req)
			wantKind(t, err, ErrValidation)
		})
	}
}

func TestCreateBooking_FareLockedAtCreation(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	b := f.create(t)
	locked := b.Fare

	// Move into the evening peak before the ride happens.
	f.clock.Advance(4 * time.Hour)
	_, err := f.svc.AcceptBooking(ctx, b.ID, "d1")
	mustNoErr(t, err)
	_, err = f.svc.StartRide(ctx, b.ID, "d1")
	mustNoErr(t, err)
	done, err := f.svc.CompleteRide(ctx, b.ID, "d1")
	mustNoErr(t, err)

	if done.Fare != locked {
		t.Errorf("fare changed from %d to %d", locked, done.Fare)
	}
}

func TestBookingLifecycle(t *testing.T) {
	f := newBookingFixture(t)
	b := f.complete(t)

	if b.Status != model.BookingCompleted {
		t.Fatalf("status = %s, want completed", b.Status)
	}
	if b.AcceptedAt == nil || b.StartedAt == nil || b.CompletedAt == nil {
		t.Error("lifecycle timestamps not set")
	}
	if b.Version != 3 {
		t.Errorf("version = %d, want 3", b.Version)
	}

	want := []model.EventType{
		model.EventBookingCreated, model.EventBookingAccepted,
		model.EventBookingStarted, model.EventBookingCompleted,
	}
	got := f.publisher.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	ctx := context.Background()
	ds, err := f.store.GetStats(ctx, "d1")
	mustNoErr(t, err)
	if ds.TotalRides != 1 || ds.TotalEarnings != b.Fare {
		t.Errorf("driver stats = %+v, want 1 ride and %d earned", ds, b.Fare)
	}
	rs, err := f.store.GetStats(ctx, "r1")
	mustNoErr(t, err)
	if rs.TotalRides != 1 || rs.TotalSpent != b.Fare {
		t.Errorf("rider stats = %+v, want 1 ride and %d spent", rs, b.Fare)
	}
}

func TestCompleteRide_Idempotent(t *testing.T) {
	f := newBookingFixture(t)
	b := f.complete(t)
	events := len(f.publisher.types())

	again, err := f.svc.CompleteRide(context.Background(), b.ID, "d1")
	mustNoErr(t, err)
	if again.Version != b.Version {
		t.Errorf("second completion wrote: version %d → %d", b.Version, again.Version)
	}
	if len(f.publisher.types()) != events {
		t.Error("second completion published an event")
	}

	ds, _ := f.store.GetStats(context.Background(), "d1")
	if ds.TotalRides != 1 {
		t.Errorf("driver rides = %d, want 1 after repeated completion", ds.TotalRides)
	}
}

func TestBookingTransitions_WrongState(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	b := f.create(t)

	_, err := f.svc.StartRide(ctx, b.ID, "d1")
	wantKind(t, err, ErrInvalidState)
	_, err = f.svc.CompleteRide(ctx, b.ID, "d1")
	wantKind(t, err, ErrInvalidState)

	_, err = f.svc.AcceptBooking(ctx, b.ID, "d1")
	mustNoErr(t, err)
	_, err = f.svc.AcceptBooking(ctx, b.ID, "d1")
	wantKind(t, err, ErrInvalidState)
	_, err = f.svc.RejectBooking(ctx, b.ID, "d1", "busy")
	wantKind(t, err, ErrInvalidState)
}

func TestBookingTransitions_WrongActor(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	b := f.create(t)

	_, err := f.svc.AcceptBooking(ctx, b.ID, "d2")
	wantKind(t, err, ErrUnauthorized)
	_, err = f.svc.RejectBooking(ctx, b.ID, "r1", "")
	wantKind(t, err, ErrUnauthorized)
	_, err = f.svc.CancelBooking(ctx, b.ID, "d1", "")
	wantKind(t, err, ErrUnauthorized)

	_, err = f.svc.AcceptBooking(ctx, b.ID, "d1")
	mustNoErr(t, err)
	_, err = f.svc.StartRide(ctx, b.ID, "d2")
	wantKind(t, err, ErrUnauthorized)
}

func TestBooking_NotFound(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	_, err := f.svc.AcceptBooking(ctx, "nope", "d1")
	wantKind(t, err, ErrNotFound)
	_, err = f.svc.GetBooking(ctx, "nope")
	wantKind(t, err, ErrNotFound)
}

func TestRejectBooking(t *testing.T) {
	f := newBookingFixture(t)
	b := f.create(t)

	got, err := f.svc.RejectBooking(context.Background(), b.ID, "d1", "  off shift ")
	mustNoErr(t, err)
	if got.Status != model.BookingCancelled || got.CancelledBy != "driver" || got.CancelReason != "off shift" {
		t.Errorf("rejected booking = %s by %q (%q)", got.Status, got.CancelledBy, got.CancelReason)
	}
	if n := f.notifier.to("r1"); len(n) != 1 || n[0] != model.EventBookingRejected {
		t.Errorf("rider notifications = %v", n)
	}
}

func TestCancelBooking(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	pending := f.create(t)
	got, err := f.svc.CancelBooking(ctx, pending.ID, "r1", "changed plans")
	mustNoErr(t, err)
	if got.Status != model.BookingCancelled || got.CancelledBy != "rider" || got.CancelledAt == nil {
		t.Errorf("cancelled booking = %+v", got)
	}
	_, err = f.svc.CancelBooking(ctx, pending.ID, "r1", "")
	wantKind(t, err, ErrInvalidState)

	accepted := f.create(t)
	_, err = f.svc.AcceptBooking(ctx, accepted.ID, "d1")
	mustNoErr(t, err)
	_, err = f.svc.CancelBooking(ctx, accepted.ID, "r1", "")
	wantKind(t, err, ErrInvalidState)
	if msg := Message(err); msg != "Cannot cancel after the driver has accepted. Contact the driver directly." {
		t.Errorf("message = %q", msg)
	}
}

func TestTerminalBookingsAreFinal(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	b := f.complete(t)

	_, err := f.svc.CancelBooking(ctx, b.ID, "r1", "")
	wantKind(t, err, ErrInvalidState)
	_, err = f.svc.AcceptBooking(ctx, b.ID, "d1")
	wantKind(t, err, ErrInvalidState)
	_, err = f.svc.StartRide(ctx, b.ID, "d1")
	wantKind(t, err, ErrInvalidState)
}

func TestRateBooking(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	b := f.complete(t)

	got, err := f.svc.RateBooking(ctx, b.ID, "r1", 5, "smooth ride")
	mustNoErr(t, err)
	if got.RiderRating == nil || got.RiderRating.Score != 5 {
		t.Fatalf("rider rating = %+v", got.RiderRating)
	}
	_, err = f.svc.RateBooking(ctx, b.ID, "r1", 4, "")
	wantKind(t, err, ErrInvalidState)

	_, err = f.svc.RateBooking(ctx, b.ID, "d1", 3, "")
	mustNoErr(t, err)

	ds, _ := f.store.GetStats(ctx, "d1")
	if ds.RatingCount != 1 || ds.AverageRating() != 5 {
		t.Errorf("driver rating = %d over %d, want 5 over 1", ds.RatingSum, ds.RatingCount)
	}
	rs, _ := f.store.GetStats(ctx, "r1")
	if rs.RatingCount != 1 || rs.AverageRating() != 3 {
		t.Errorf("rider rating = %d over %d, want 3 over 1", rs.RatingSum, rs.RatingCount)
	}
}

func TestRateBooking_Guards(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	pending := f.create(t)
	_, err := f.svc.RateBooking(ctx, pending.ID, "r1", 4, "")
	wantKind(t, err, ErrInvalidState)

	done := f.complete(t)
	for _, score := range []int{0, 6, -1} {
		_, err = f.svc.RateBooking(ctx, done.ID, "r1", score, "")
		wantKind(t, err, ErrValidation)
	}
	_, err = f.svc.RateBooking(ctx, done.ID, "stranger", 4, "")
	wantKind(t, err, ErrUnauthorized)
}

func TestListBookings(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	first := f.create(t)
	f.clock.Advance(time.Minute)
	second := f.create(t)

	got, err := f.svc.ListRiderBookings(ctx, "r1")
	mustNoErr(t, err)
	if len(got) != 2 || got[0].ID != second.ID || got[1].ID != first.ID {
		t.Errorf("rider bookings not newest first")
	}

	got, err = f.svc.ListDriverBookings(ctx, "d1")
	mustNoErr(t, err)
	if len(got) != 2 {
		t.Errorf("driver bookings = %d, want 2", len(got))
	}

	got, err = f.svc.ListDriverBookings(ctx, "d2")
	mustNoErr(t, err)
	if len(got) != 0 {
		t.Errorf("other driver bookings = %d, want 0", len(got))
	}
}

func TestBooking_ConflictRetriesExhausted(t *testing.T) {
	base := repository.NewMemoryStore()
	store := &losingStore{MemoryStore: base}
	fcfg := DefaultFareConfig()
	fcfg.Location = time.UTC
	svc := NewBookingService(store, NewFareCalculator(fcfg, fixedClock(offPeak), nil), nil, nil, nil,
		WithClock(fixedClock(offPeak)))

	b, err := svc.CreateBooking(context.Background(), CreateBookingRequest{
		Rider: rider("r1"), Driver: driver("d1"), DistanceKm: 3,
	})
	mustNoErr(t, err)

	_, err = svc.AcceptBooking(context.Background(), b.ID, "d1")
	wantKind(t, err, ErrConflict)
	if n := atomic.LoadInt32(&store.attempts); n != MaxConflictRetries {
		t.Errorf("attempts = %d, want %d", n, MaxConflictRetries)
	}
}

func TestBooking_NotificationFailureDoesNotFailTransition(t *testing.T) {
	f := newBookingFixture(t)
	f.notifier.err = errors.New("fcm down")

	b := f.create(t)
	got, err := f.svc.AcceptBooking(context.Background(), b.ID, "d1")
	mustNoErr(t, err)
	if got.Status != model.BookingAccepted {
		t.Errorf("status = %s, want accepted", got.Status)
	}
}
