// Package repository provides persistence for pools, bookings and user
// statistics.
//
// Three backends implement the same interfaces: PostgreSQL (pgx), Firestore
// and an in-memory store used by tests and local runs. Every update is a
// conditional write on the aggregate's version:
//
//	UPDATE ... SET ..., version = version + 1 WHERE id = $1 AND version = $2
//
// A false result means another writer got there first; the service layer
// re-reads and retries. Stats deltas passed to an update commit in the same
// transaction as the aggregate write, or not at all.
package repository

import (
	"context"
	"errors"

	"github.com/shiva/unipool/internal/model"
)

// ErrNotFound is returned by Get* when the aggregate does not exist.
var ErrNotFound = errors.New("repository: not found")

// ErrAlreadyExists is returned by Create* on an id collision.
var ErrAlreadyExists = errors.New("repository: already exists")

// errStaleVersion aborts a transaction whose conditional write lost the
// race. Update* turn it into (false, nil).
var errStaleVersion = errors.New("repository: stale version")

// PoolStore persists PoolRide aggregates.
type PoolStore interface {
	GetPool(ctx context.Context, id string) (*model.PoolRide, error)
	CreatePool(ctx context.Context, pool *model.PoolRide) error

	// UpdatePool writes pool if the stored version still equals
	// expectedVersion. On success pool.Version is advanced.
	UpdatePool(ctx context.Context, pool *model.PoolRide, expectedVersion int64, deltas ...model.StatsDelta) (bool, error)

	// ListPoolsByStatus returns pools in any of statuses, oldest first.
	ListPoolsByStatus(ctx context.Context, statuses ...model.PoolStatus) ([]*model.PoolRide, error)
	// ListPoolsByRider returns pools the rider has ever joined, newest first.
	ListPoolsByRider(ctx context.Context, riderID string) ([]*model.PoolRide, error)
	// ListPoolsByDriver returns pools assigned to the driver, newest first.
	ListPoolsByDriver(ctx context.Context, driverID string) ([]*model.PoolRide, error)
}

// BookingStore persists solo Booking aggregates.
type BookingStore interface {
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	CreateBooking(ctx context.Context, booking *model.Booking) error
	UpdateBooking(ctx context.Context, booking *model.Booking, expectedVersion int64, deltas ...model.StatsDelta) (bool, error)
	ListBookingsByRider(ctx context.Context, riderID string) ([]*model.Booking, error)
	ListBookingsByDriver(ctx context.Context, driverID string) ([]*model.Booking, error)
}

// StatsStore reads per-user aggregates. Writes only happen through deltas
// attached to pool and booking updates.
type StatsStore interface {
	GetStats(ctx context.Context, userID string) (*model.UserStats, error)
}

// Store bundles every store a backend provides.
type Store interface {
	PoolStore
	BookingStore
	StatsStore
}

func containsStatus(statuses []model.PoolStatus, s model.PoolStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func statusStrings(statuses []model.PoolStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func riderIDs(p *model.PoolRide) []string {
	seen := make(map[string]bool, len(p.Participants))
	var ids []string
	for _, pp := range p.Participants {
		if !seen[pp.RiderID] {
			seen[pp.RiderID] = true
			ids = append(ids, pp.RiderID)
		}
	}
	return ids
}
