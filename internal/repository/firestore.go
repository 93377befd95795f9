package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shiva/unipool/internal/model"
)

const (
	poolsCollection    = "pool_rides"
	bookingsCollection = "bookings"
	statsCollection    = "user_stats"
)

// FirestoreStore implements Store on Cloud Firestore. Updates run in a
// transaction that re-reads the document, compares versions and writes the
// aggregate plus stats increments together.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a store on an open client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// poolDoc adds the denormalised fields queries filter on.
type poolDoc struct {
	model.PoolRide
	RiderIDs []string `firestore:"rider_ids"`
	DriverID string   `firestore:"driver_id"`
}

func newPoolDoc(p *model.PoolRide) poolDoc {
	d := poolDoc{PoolRide: *p, RiderIDs: riderIDs(p)}
	if p.Driver != nil {
		d.DriverID = p.Driver.ID
	}
	return d
}

// ─── Pools ──────────────────────────────────────────────────

func (s *FirestoreStore) GetPool(ctx context.Context, id string) (*model.PoolRide, error) {
	snap, err := s.client.Collection(poolsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: get pool %s: %w", id, err)
	}
	var d poolDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("firestore: decode pool %s: %w", id, err)
	}
	return &d.PoolRide, nil
}

func (s *FirestoreStore) CreatePool(ctx context.Context, p *model.PoolRide) error {
	_, err := s.client.Collection(poolsCollection).Doc(p.ID).Create(ctx, newPoolDoc(p))
	if status.Code(err) == codes.AlreadyExists {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("firestore: create pool %s: %w", p.ID, err)
	}
	return nil
}

func (s *FirestoreStore) UpdatePool(ctx context.Context, p *model.PoolRide, expectedVersion int64, deltas ...model.StatsDelta) (bool, error) {
	ref := s.client.Collection(poolsCollection).Doc(p.ID)
	next := newPoolDoc(p)
	next.Version = expectedVersion + 1

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Reads first: Firestore rejects reads after writes in a transaction.
		if err := checkVersion(tx, ref, expectedVersion); err != nil {
			return err
		}
		if err := tx.Set(ref, next); err != nil {
			return err
		}
		return s.incrementStats(tx, deltas, p.UpdatedAt)
	})
	if errors.Is(err, errStaleVersion) {
		return false, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("firestore: update pool %s: %w", p.ID, err)
	}
	p.Version = next.Version
	return true, nil
}

func (s *FirestoreStore) ListPoolsByStatus(ctx context.Context, statuses ...model.PoolStatus) ([]*model.PoolRide, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	return s.queryPools(ctx, s.client.Collection(poolsCollection).
		Where("status", "in", statusStrings(statuses)).
		OrderBy("created_at", firestore.Asc))
}

func (s *FirestoreStore) ListPoolsByRider(ctx context.Context, riderID string) ([]*model.PoolRide, error) {
	return s.queryPools(ctx, s.client.Collection(poolsCollection).
		Where("rider_ids", "array-contains", riderID).
		OrderBy("created_at", firestore.Desc))
}

func (s *FirestoreStore) ListPoolsByDriver(ctx context.Context, driverID string) ([]*model.PoolRide, error) {
	return s.queryPools(ctx, s.client.Collection(poolsCollection).
		Where("driver_id", "==", driverID).
		OrderBy("created_at", firestore.Desc))
}

func (s *FirestoreStore) queryPools(ctx context.Context, q firestore.Query) ([]*model.PoolRide, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*model.PoolRide
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: query pools: %w", err)
		}
		var d poolDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("firestore: decode pool %s: %w", snap.Ref.ID, err)
		}
		pool := d.PoolRide
		out = append(out, &pool)
	}
}

// ─── Bookings ───────────────────────────────────────────────

func (s *FirestoreStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	snap, err := s.client.Collection(bookingsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: get booking %s: %w", id, err)
	}
	var b model.Booking
	if err := snap.DataTo(&b); err != nil {
		return nil, fmt.Errorf("firestore: decode booking %s: %w", id, err)
	}
	return &b, nil
}

func (s *FirestoreStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	_, err := s.client.Collection(bookingsCollection).Doc(b.ID).Create(ctx, b)
	if status.Code(err) == codes.AlreadyExists {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("firestore: create booking %s: %w", b.ID, err)
	}
	return nil
}

func (s *FirestoreStore) UpdateBooking(ctx context.Context, b *model.Booking, expectedVersion int64, deltas ...model.StatsDelta) (bool, error) {
	ref := s.client.Collection(bookingsCollection).Doc(b.ID)
	next := b.Clone()
	next.Version = expectedVersion + 1

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := checkVersion(tx, ref, expectedVersion); err != nil {
			return err
		}
		if err := tx.Set(ref, next); err != nil {
			return err
		}
		return s.incrementStats(tx, deltas, b.UpdatedAt)
	})
	if errors.Is(err, errStaleVersion) {
		return false, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("firestore: update booking %s: %w", b.ID, err)
	}
	b.Version = next.Version
	return true, nil
}

func (s *FirestoreStore) ListBookingsByRider(ctx context.Context, riderID string) ([]*model.Booking, error) {
	return s.queryBookings(ctx, s.client.Collection(bookingsCollection).
		Where("rider_id", "==", riderID).
		OrderBy("created_at", firestore.Desc))
}

func (s *FirestoreStore) ListBookingsByDriver(ctx context.Context, driverID string) ([]*model.Booking, error) {
	return s.queryBookings(ctx, s.client.Collection(bookingsCollection).
		Where("driver_id", "==", driverID).
		OrderBy("created_at", firestore.Desc))
}

func (s *FirestoreStore) queryBookings(ctx context.Context, q firestore.Query) ([]*model.Booking, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: query bookings: %w", err)
	}
	out := make([]*model.Booking, 0, len(snaps))
	for _, snap := range snaps {
		var b model.Booking
		if err := snap.DataTo(&b); err != nil {
			return nil, fmt.Errorf("firestore: decode booking %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &b)
	}
	return out, nil
}

// ─── Stats ──────────────────────────────────────────────────

func (s *FirestoreStore) GetStats(ctx context.Context, userID string) (*model.UserStats, error) {
	snap, err := s.client.Collection(statsCollection).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: get stats %s: %w", userID, err)
	}
	var st model.UserStats
	if err := snap.DataTo(&st); err != nil {
		return nil, fmt.Errorf("firestore: decode stats %s: %w", userID, err)
	}
	return &st, nil
}

// incrementStats merges server-side increments into each user's document,
// creating it on first use.
func (s *FirestoreStore) incrementStats(tx *firestore.Transaction, deltas []model.StatsDelta, at time.Time) error {
	for _, d := range deltas {
		fields := map[string]interface{}{
			"user_id":        d.UserID,
			"role":           string(d.Role),
			"total_rides":    firestore.Increment(d.Rides),
			"total_earnings": firestore.Increment(d.Earnings),
			"total_spent":    firestore.Increment(d.Spent),
			"updated_at":     at,
		}
		if d.Rating > 0 {
			fields["rating_sum"] = firestore.Increment(d.Rating)
			fields["rating_count"] = firestore.Increment(1)
		}
		ref := s.client.Collection(statsCollection).Doc(d.UserID)
		if err := tx.Set(ref, fields, firestore.MergeAll); err != nil {
			return fmt.Errorf("stats for %s: %w", d.UserID, err)
		}
	}
	return nil
}

// checkVersion reads the stored version inside tx.
func checkVersion(tx *firestore.Transaction, ref *firestore.DocumentRef, expected int64) error {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	v, err := snap.DataAt("version")
	if err != nil {
		return err
	}
	if stored, ok := v.(int64); !ok || stored != expected {
		return errStaleVersion
	}
	return nil
}
