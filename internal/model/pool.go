package model

import (
	"sort"
	"time"
)

// ─── Pool statuses ──────────────────────────────────────────

type PoolStatus string

const (
	PoolWaiting          PoolStatus = "waiting"
	PoolReady            PoolStatus = "ready"
	PoolDriverAssigned   PoolStatus = "driver_assigned"
	PoolPickupInProgress PoolStatus = "pickup_in_progress"
	PoolInProgress       PoolStatus = "in_progress"
	PoolCompleted        PoolStatus = "completed"
	PoolCancelled        PoolStatus = "cancelled"
	PoolExpired          PoolStatus = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s PoolStatus) IsTerminal() bool {
	return s == PoolCompleted || s == PoolCancelled || s == PoolExpired
}

// IsOpen reports whether riders may still join or leave.
func (s PoolStatus) IsOpen() bool {
	return s == PoolWaiting || s == PoolReady
}

type ParticipantStatus string

const (
	ParticipantJoined     ParticipantStatus = "joined"
	ParticipantConfirmed  ParticipantStatus = "confirmed"
	ParticipantPickedUp   ParticipantStatus = "picked_up"
	ParticipantDroppedOff ParticipantStatus = "dropped_off"
	ParticipantCancelled  ParticipantStatus = "cancelled"
)

// ─── PoolRide ───────────────────────────────────────────────

// PoolParticipant is a rider's membership record inside a PoolRide.
//
// Status only moves forward (joined → confirmed → picked_up → dropped_off);
// cancelled is terminal and removes the participant from seat accounting.
type PoolParticipant struct {
	RiderID      string            `json:"rider_id" firestore:"rider_id"`
	Name         string            `json:"name" firestore:"name"`
	Phone        string            `json:"phone" firestore:"phone"`
	Pickup       NamedLocation     `json:"pickup" firestore:"pickup"`
	Drop         NamedLocation     `json:"drop" firestore:"drop"`
	SeatsNeeded  int               `json:"seats_needed" firestore:"seats_needed"`
	FarePerSeat  int64             `json:"fare_per_seat" firestore:"fare_per_seat"`
	TotalFare    int64             `json:"total_fare" firestore:"total_fare"`
	Status       ParticipantStatus `json:"status" firestore:"status"`
	PickupOrder  int               `json:"pickup_order" firestore:"pickup_order"`
	DropoffOrder int               `json:"dropoff_order" firestore:"dropoff_order"`
	JoinedAt     time.Time         `json:"joined_at" firestore:"joined_at"`
	PickedUpAt   *time.Time        `json:"picked_up_at,omitempty" firestore:"picked_up_at"`
	DroppedOffAt *time.Time        `json:"dropped_off_at,omitempty" firestore:"dropped_off_at"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty" firestore:"cancelled_at"`
}

// IsActive reports whether the participant still holds seats.
func (p *PoolParticipant) IsActive() bool {
	return p.Status != ParticipantCancelled
}

func (p *PoolParticipant) hasBeenPickedUp() bool {
	return p.Status == ParticipantPickedUp || p.Status == ParticipantDroppedOff
}

// PoolRide maps to the `pool_rides` table (participants are stored as JSONB).
//
// Driver is nil until a driver accepts; BookingID is optional even then.
// OccupiedSeats and AvailableSeats are derived from Participants by
// RecomputeSeats and are never adjusted incrementally.
type PoolRide struct {
	ID             string            `json:"id" firestore:"id"`
	CreatorID      string            `json:"creator_id" firestore:"creator_id"`
	PickupArea     NamedLocation     `json:"pickup_area" firestore:"pickup_area"`
	DropArea       NamedLocation     `json:"drop_area" firestore:"drop_area"`
	Direction      string            `json:"direction" firestore:"direction"`
	DepartureTime  time.Time         `json:"departure_time" firestore:"departure_time"`
	RideNow        bool              `json:"ride_now" firestore:"ride_now"`
	MaxSeats       int               `json:"max_seats" firestore:"max_seats"`
	OccupiedSeats  int               `json:"occupied_seats" firestore:"occupied_seats"`
	AvailableSeats int               `json:"available_seats" firestore:"available_seats"`
	DistanceKm     float64           `json:"distance_km" firestore:"distance_km"`
	BaseFare       int64             `json:"base_fare" firestore:"base_fare"`
	FarePerSeat    int64             `json:"fare_per_seat" firestore:"fare_per_seat"`
	Discount       float64           `json:"discount" firestore:"discount"`
	DriverEarning  int64             `json:"driver_earning" firestore:"driver_earning"`
	Status         PoolStatus        `json:"status" firestore:"status"`
	Participants   []PoolParticipant `json:"participants" firestore:"participants"`
	Driver         *DriverInfo       `json:"driver,omitempty" firestore:"driver"`
	BookingID      *string           `json:"booking_id,omitempty" firestore:"booking_id"`
	MatchRadiusKm  float64           `json:"match_radius_km" firestore:"match_radius_km"`
	Version        int64             `json:"version" firestore:"version"`
	CreatedAt      time.Time         `json:"created_at" firestore:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" firestore:"updated_at"`
	ExpiresAt      time.Time         `json:"expires_at" firestore:"expires_at"`
	AcceptedAt     *time.Time        `json:"accepted_at,omitempty" firestore:"accepted_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty" firestore:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty" firestore:"completed_at"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty" firestore:"cancelled_at"`
}

// IsExpired reports whether the pool's TTL has passed at now, regardless of
// the stored status.
func (p *PoolRide) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// RecomputeSeats derives seat counts from the participant list.
func (p *PoolRide) RecomputeSeats() {
	occupied := 0
	for i := range p.Participants {
		if p.Participants[i].IsActive() {
			occupied += p.Participants[i].SeatsNeeded
		}
	}
	p.OccupiedSeats = occupied
	p.AvailableSeats = p.MaxSeats - occupied
	if p.AvailableSeats < 0 {
		p.AvailableSeats = 0
	}
}

// ActiveCount returns the number of non-cancelled participants.
func (p *PoolRide) ActiveCount() int {
	n := 0
	for i := range p.Participants {
		if p.Participants[i].IsActive() {
			n++
		}
	}
	return n
}

// ActiveParticipant returns the rider's non-cancelled membership, or nil.
func (p *PoolRide) ActiveParticipant(riderID string) *PoolParticipant {
	for i := range p.Participants {
		if p.Participants[i].RiderID == riderID && p.Participants[i].IsActive() {
			return &p.Participants[i]
		}
	}
	return nil
}

// AllPickedUp reports whether every active participant is aboard or already
// dropped off. False when there are no active participants.
func (p *PoolRide) AllPickedUp() bool {
	active := 0
	for i := range p.Participants {
		pp := &p.Participants[i]
		if !pp.IsActive() {
			continue
		}
		active++
		if !pp.hasBeenPickedUp() {
			return false
		}
	}
	return active > 0
}

// AllDroppedOff reports whether every active participant has been dropped off.
func (p *PoolRide) AllDroppedOff() bool {
	active := 0
	for i := range p.Participants {
		pp := &p.Participants[i]
		if !pp.IsActive() {
			continue
		}
		active++
		if pp.Status != ParticipantDroppedOff {
			return false
		}
	}
	return active > 0
}

// NextOrder returns the sequence number for the next joining rider.
// Orders are never reused, so cancelled riders leave gaps.
func (p *PoolRide) NextOrder() int {
	max := 0
	for i := range p.Participants {
		if p.Participants[i].PickupOrder > max {
			max = p.Participants[i].PickupOrder
		}
	}
	return max + 1
}

// PickupSequence returns active participants still waiting to be picked up,
// sorted by pickup order.
func (p *PoolRide) PickupSequence() []PoolParticipant {
	var out []PoolParticipant
	for _, pp := range p.Participants {
		if pp.IsActive() && !pp.hasBeenPickedUp() {
			out = append(out, pp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PickupOrder < out[j].PickupOrder })
	return out
}

// DropoffSequence returns active participants currently aboard, sorted by
// dropoff order.
func (p *PoolRide) DropoffSequence() []PoolParticipant {
	var out []PoolParticipant
	for _, pp := range p.Participants {
		if pp.Status == ParticipantPickedUp {
			out = append(out, pp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DropoffOrder < out[j].DropoffOrder })
	return out
}

// Clone returns a deep copy so stores never share participant slices with callers.
func (p *PoolRide) Clone() *PoolRide {
	cp := *p
	cp.Participants = make([]PoolParticipant, len(p.Participants))
	copy(cp.Participants, p.Participants)
	if p.Driver != nil {
		d := *p.Driver
		cp.Driver = &d
	}
	if p.BookingID != nil {
		b := *p.BookingID
		cp.BookingID = &b
	}
	return &cp
}
