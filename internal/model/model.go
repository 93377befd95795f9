// Package model contains domain models for the campus pool-ride system.
// These structs map to the PostgreSQL schema defined in migrations/001_create_schema.up.sql
// and to the Firestore documents of the same name.
package model

import (
	"strings"
	"time"
)

// ─── Enums ──────────────────────────────────────────────────

type UserRole string

const (
	RoleRider  UserRole = "rider"
	RoleDriver UserRole = "driver"
)

// ─── Location ───────────────────────────────────────────────

// Location represents a WGS-84 geographic point.
type Location struct {
	Lat float64 `json:"lat" firestore:"lat"`
	Lng float64 `json:"lng" firestore:"lng"`
}

// NamedLocation is a geo-point with a human-readable label
// (e.g. "Main Gate", "Library").
type NamedLocation struct {
	Name string  `json:"name" firestore:"name"`
	Lat  float64 `json:"lat" firestore:"lat"`
	Lng  float64 `json:"lng" firestore:"lng"`
}

// Point drops the label.
func (n NamedLocation) Point() Location {
	return Location{Lat: n.Lat, Lng: n.Lng}
}

// ─── Users ──────────────────────────────────────────────────

// RiderInfo identifies a rider acting on a pool or booking.
type RiderInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// DriverInfo identifies a driver and the vehicle they bring.
type DriverInfo struct {
	ID      string `json:"id" firestore:"id"`
	Name    string `json:"name" firestore:"name"`
	Phone   string `json:"phone" firestore:"phone"`
	Vehicle string `json:"vehicle" firestore:"vehicle"`
}

// UserStats maps to the `user_stats` table. Rows are only ever changed by
// applying a StatsDelta inside the same transaction as a booking or pool write.
type UserStats struct {
	UserID        string    `json:"user_id" firestore:"user_id"`
	Role          UserRole  `json:"role" firestore:"role"`
	TotalRides    int       `json:"total_rides" firestore:"total_rides"`
	TotalEarnings int64     `json:"total_earnings" firestore:"total_earnings"`
	TotalSpent    int64     `json:"total_spent" firestore:"total_spent"`
	RatingSum     int       `json:"rating_sum" firestore:"rating_sum"`
	RatingCount   int       `json:"rating_count" firestore:"rating_count"`
	UpdatedAt     time.Time `json:"updated_at" firestore:"updated_at"`
}

// AverageRating returns 0 when the user has never been rated.
func (s UserStats) AverageRating() float64 {
	if s.RatingCount == 0 {
		return 0
	}
	return float64(s.RatingSum) / float64(s.RatingCount)
}

// StatsDelta is an increment applied atomically with an aggregate write.
type StatsDelta struct {
	UserID   string
	Role     UserRole
	Rides    int
	Earnings int64
	Spent    int64
	Rating   int // 0 means no rating change
}

// Apply adds the delta to s.
func (d StatsDelta) Apply(s *UserStats, now time.Time) {
	if s.UserID == "" {
		s.UserID = d.UserID
		s.Role = d.Role
	}
	s.TotalRides += d.Rides
	s.TotalEarnings += d.Earnings
	s.TotalSpent += d.Spent
	if d.Rating > 0 {
		s.RatingSum += d.Rating
		s.RatingCount++
	}
	s.UpdatedAt = now
}

// DriverLocation is the last reported position of a driver.
type DriverLocation struct {
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Online     bool      `json:"online"`
	DistanceKm float64   `json:"distance_km,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ─── Events ─────────────────────────────────────────────────

type EventType string

const (
	EventPoolCreated      EventType = "pool_created"
	EventPoolJoined       EventType = "pool_joined"
	EventPoolLeft         EventType = "pool_left"
	EventPoolReady        EventType = "pool_ready"
	EventPoolAccepted     EventType = "pool_driver_assigned"
	EventPoolPickup       EventType = "pool_pickup"
	EventPoolDropoff      EventType = "pool_dropoff"
	EventPoolCompleted    EventType = "pool_completed"
	EventPoolCancelled    EventType = "pool_cancelled"
	EventPoolExpired      EventType = "pool_expired"
	EventBookingCreated   EventType = "booking_created"
	EventBookingAccepted  EventType = "booking_accepted"
	EventBookingRejected  EventType = "booking_rejected"
	EventBookingStarted   EventType = "booking_started"
	EventBookingCompleted EventType = "booking_completed"
	EventBookingCancelled EventType = "booking_cancelled"
	EventBookingRated     EventType = "booking_rated"
)

// Event describes a committed state change of a pool or booking. Events are
// published after the write and are never part of the transaction.
type Event struct {
	Type        EventType `json:"type"`
	AggregateID string    `json:"aggregate_id"`
	Status      string    `json:"status"`
	ActorID     string    `json:"actor_id,omitempty"`
	Version     int64     `json:"version"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Channel returns the pub/sub channel subscribers of the aggregate listen on.
func (e Event) Channel() string {
	if strings.HasPrefix(string(e.Type), "pool_") {
		return PoolChannel(e.AggregateID)
	}
	return BookingChannel(e.AggregateID)
}

// PoolChannel names the channel of one pool's events.
func PoolChannel(poolID string) string { return "pool:" + poolID }

// BookingChannel names the channel of one booking's events.
func BookingChannel(bookingID string) string { return "booking:" + bookingID }

// RouteSummary is the display-only result of a directions lookup.
type RouteSummary struct {
	DistanceText    string `json:"distance_text"`
	DurationText    string `json:"duration_text"`
	DistanceMeters  int    `json:"distance_meters"`
	DurationSeconds int    `json:"duration_seconds"`
}
