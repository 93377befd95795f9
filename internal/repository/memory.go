package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shiva/unipool/internal/model"
)

// MemoryStore keeps every aggregate in process memory behind one mutex.
// Values are cloned on the way in and out so callers never alias stored
// state. The version check and the stats deltas happen under the same lock,
// which gives the same atomicity as the database backends.
type MemoryStore struct {
	mu       sync.Mutex
	pools    map[string]*model.PoolRide
	bookings map[string]*model.Booking
	stats    map[string]*model.UserStats
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:    make(map[string]*model.PoolRide),
		bookings: make(map[string]*model.Booking),
		stats:    make(map[string]*model.UserStats),
		now:      time.Now,
	}
}

// ─── Pools ──────────────────────────────────────────────────

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.PoolRide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) CreatePool(_ context.Context, pool *model.PoolRide) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[pool.ID]; ok {
		return ErrAlreadyExists
	}
	s.pools[pool.ID] = pool.Clone()
	return nil
}

func (s *MemoryStore) UpdatePool(_ context.Context, pool *model.PoolRide, expectedVersion int64, deltas ...model.StatsDelta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.pools[pool.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return false, nil
	}

	pool.Version = expectedVersion + 1
	s.pools[pool.ID] = pool.Clone()
	s.applyDeltas(deltas)
	return true, nil
}

func (s *MemoryStore) ListPoolsByStatus(_ context.Context, statuses ...model.PoolStatus) ([]*model.PoolRide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.PoolRide
	for _, p := range s.pools {
		if containsStatus(statuses, p.Status) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListPoolsByRider(_ context.Context, riderID string) ([]*model.PoolRide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.PoolRide
	for _, p := range s.pools {
		for _, id := range riderIDs(p) {
			if id == riderID {
				out = append(out, p.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListPoolsByDriver(_ context.Context, driverID string) ([]*model.PoolRide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.PoolRide
	for _, p := range s.pools {
		if p.Driver != nil && p.Driver.ID == driverID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ─── Bookings ───────────────────────────────────────────────

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) CreateBooking(_ context.Context, booking *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[booking.ID]; ok {
		return ErrAlreadyExists
	}
	s.bookings[booking.ID] = booking.Clone()
	return nil
}

func (s *MemoryStore) UpdateBooking(_ context.Context, booking *model.Booking, expectedVersion int64, deltas ...model.StatsDelta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bookings[booking.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return false, nil
	}

	booking.Version = expectedVersion + 1
	s.bookings[booking.ID] = booking.Clone()
	s.applyDeltas(deltas)
	return true, nil
}

func (s *MemoryStore) ListBookingsByRider(_ context.Context, riderID string) ([]*model.Booking, error) {
	return s.listBookings(func(b *model.Booking) bool { return b.RiderID == riderID }), nil
}

func (s *MemoryStore) ListBookingsByDriver(_ context.Context, driverID string) ([]*model.Booking, error) {
	return s.listBookings(func(b *model.Booking) bool { return b.DriverID == driverID }), nil
}

func (s *MemoryStore) listBookings(match func(*model.Booking) bool) []*model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Booking
	for _, b := range s.bookings {
		if match(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ─── Stats ──────────────────────────────────────────────────

func (s *MemoryStore) GetStats(_ context.Context, userID string) (*model.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// applyDeltas must be called with s.mu held.
func (s *MemoryStore) applyDeltas(deltas []model.StatsDelta) {
	now := s.now()
	for _, d := range deltas {
		st, ok := s.stats[d.UserID]
		if !ok {
			st = &model.UserStats{}
			s.stats[d.UserID] = st
		}
		d.Apply(st, now)
	}
}
