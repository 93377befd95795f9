package model

import "time"

// ─── Booking statuses ───────────────────────────────────────

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingAccepted   BookingStatus = "accepted"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

// IsTerminal reports whether the booking can no longer change status.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// Rating is a post-ride score left by one side of a booking.
type Rating struct {
	Score   int       `json:"score" firestore:"score"`
	Comment string    `json:"comment,omitempty" firestore:"comment"`
	RatedAt time.Time `json:"rated_at" firestore:"rated_at"`
}

// ─── Booking ────────────────────────────────────────────────

// Booking maps to the `bookings` table: a solo ride between one rider and
// one driver.
//
// Fare is locked at creation. Timestamps are nil until the matching
// transition happens. CancelledBy and CancelReason are set only when
// Status is cancelled. RiderRating (rider rates driver) and DriverRating
// (driver rates rider) are nil until the booking is completed and rated.
type Booking struct {
	ID           string        `json:"id" firestore:"id"`
	RiderID      string        `json:"rider_id" firestore:"rider_id"`
	RiderName    string        `json:"rider_name" firestore:"rider_name"`
	RiderPhone   string        `json:"rider_phone" firestore:"rider_phone"`
	DriverID     string        `json:"driver_id" firestore:"driver_id"`
	DriverName   string        `json:"driver_name" firestore:"driver_name"`
	Pickup       NamedLocation `json:"pickup" firestore:"pickup"`
	Drop         NamedLocation `json:"drop" firestore:"drop"`
	DistanceKm   float64       `json:"distance_km" firestore:"distance_km"`
	Fare         int64         `json:"fare" firestore:"fare"`
	PaymentMode  string        `json:"payment_mode" firestore:"payment_mode"`
	Status       BookingStatus `json:"status" firestore:"status"`
	Version      int64         `json:"version" firestore:"version"`
	CreatedAt    time.Time     `json:"created_at" firestore:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" firestore:"updated_at"`
	AcceptedAt   *time.Time    `json:"accepted_at,omitempty" firestore:"accepted_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty" firestore:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty" firestore:"completed_at"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty" firestore:"cancelled_at"`
	CancelledBy  string        `json:"cancelled_by,omitempty" firestore:"cancelled_by"`
	CancelReason string        `json:"cancel_reason,omitempty" firestore:"cancel_reason"`
	RiderRating  *Rating       `json:"rider_rating,omitempty" firestore:"rider_rating"`
	DriverRating *Rating       `json:"driver_rating,omitempty" firestore:"driver_rating"`
}

// Clone returns a deep copy.
func (b *Booking) Clone() *Booking {
	cp := *b
	if b.RiderRating != nil {
		r := *b.RiderRating
		cp.RiderRating = &r
	}
	if b.DriverRating != nil {
		r := *b.DriverRating
		cp.DriverRating = &r
	}
	return &cp
}
