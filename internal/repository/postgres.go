package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/unipool/internal/model"
	"github.com/shiva/unipool/pkg/db"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL.
//
// Concurrency strategy: OPTIMISTIC LOCKING
//
//	T1: SELECT pool (version 7) → validate → UPDATE ... WHERE version = 7 → 1 row
//	T2: SELECT pool (version 7) → validate → UPDATE ... WHERE version = 7 → 0 rows
//	T2: re-read (version 8) → re-validate → UPDATE ... WHERE version = 8
//
// Nested participant and driver data live in JSONB columns so a pool is
// always written as one row. Stats deltas are upserted in the same
// transaction as the aggregate row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an open connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type scanner interface {
	Scan(dest ...any) error
}

// ─── Pools ──────────────────────────────────────────────────

const poolColumns = `
	id, creator_id, pickup_area, drop_area, direction, departure_time, ride_now,
	max_seats, occupied_seats, available_seats, distance_km, base_fare,
	fare_per_seat, discount, driver_earning, status, participants, driver,
	booking_id, match_radius_km, version, created_at, updated_at, expires_at,
	accepted_at, started_at, completed_at, cancelled_at`

func scanPool(row scanner) (*model.PoolRide, error) {
	p := &model.PoolRide{}
	err := row.Scan(
		&p.ID, &p.CreatorID, &p.PickupArea, &p.DropArea, &p.Direction, &p.DepartureTime, &p.RideNow,
		&p.MaxSeats, &p.OccupiedSeats, &p.AvailableSeats, &p.DistanceKm, &p.BaseFare,
		&p.FarePerSeat, &p.Discount, &p.DriverEarning, &p.Status, &p.Participants, &p.Driver,
		&p.BookingID, &p.MatchRadiusKm, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.ExpiresAt,
		&p.AcceptedAt, &p.StartedAt, &p.CompletedAt, &p.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func assignedDriverID(p *model.PoolRide) *string {
	if p.Driver == nil {
		return nil
	}
	id := p.Driver.ID
	return &id
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.PoolRide, error) {
	p, err := scanPool(s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pool_rides WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get pool %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.PoolRide) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pool_rides (`+poolColumns+`, rider_ids, driver_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
	`,
		p.ID, p.CreatorID, p.PickupArea, p.DropArea, p.Direction, p.DepartureTime, p.RideNow,
		p.MaxSeats, p.OccupiedSeats, p.AvailableSeats, p.DistanceKm, p.BaseFare,
		p.FarePerSeat, p.Discount, p.DriverEarning, p.Status, p.Participants, p.Driver,
		p.BookingID, p.MatchRadiusKm, p.Version, p.CreatedAt, p.UpdatedAt, p.ExpiresAt,
		p.AcceptedAt, p.StartedAt, p.CompletedAt, p.CancelledAt,
		riderIDs(p), assignedDriverID(p),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("postgres: insert pool %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdatePool(ctx context.Context, p *model.PoolRide, expectedVersion int64, deltas ...model.StatsDelta) (bool, error) {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		// ── Step 1: Conditional write on version ────────
		tag, err := tx.Exec(ctx, `
			UPDATE pool_rides SET
				occupied_seats = $3, available_seats = $4, status = $5,
				participants = $6, rider_ids = $7, driver = $8, driver_id = $9,
				booking_id = $10, updated_at = $11, accepted_at = $12,
				started_at = $13, completed_at = $14, cancelled_at = $15,
				version = version + 1
			WHERE id = $1 AND version = $2
		`,
			p.ID, expectedVersion,
			p.OccupiedSeats, p.AvailableSeats, p.Status,
			p.Participants, riderIDs(p), p.Driver, assignedDriverID(p),
			p.BookingID, p.UpdatedAt, p.AcceptedAt,
			p.StartedAt, p.CompletedAt, p.CancelledAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: update pool %s: %w", p.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return s.missingOrStale(ctx, tx, "pool_rides", p.ID)
		}

		// ── Step 2: Stats in the same transaction ───────
		return upsertStats(ctx, tx, deltas, p.UpdatedAt)
	})
	if errors.Is(err, errStaleVersion) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.Version = expectedVersion + 1
	return true, nil
}

func (s *PostgresStore) ListPoolsByStatus(ctx context.Context, statuses ...model.PoolStatus) ([]*model.PoolRide, error) {
	return s.queryPools(ctx, `
		SELECT `+poolColumns+` FROM pool_rides
		WHERE status = ANY($1)
		ORDER BY created_at ASC
	`, statusStrings(statuses))
}

func (s *PostgresStore) ListPoolsByRider(ctx context.Context, riderID string) ([]*model.PoolRide, error) {
	return s.queryPools(ctx, `
		SELECT `+poolColumns+` FROM pool_rides
		WHERE $1 = ANY(rider_ids)
		ORDER BY created_at DESC
	`, riderID)
}

func (s *PostgresStore) ListPoolsByDriver(ctx context.Context, driverID string) ([]*model.PoolRide, error) {
	return s.queryPools(ctx, `
		SELECT `+poolColumns+` FROM pool_rides
		WHERE driver_id = $1
		ORDER BY created_at DESC
	`, driverID)
}

func (s *PostgresStore) queryPools(ctx context.Context, sql string, args ...any) ([]*model.PoolRide, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query pools: %w", err)
	}
	pools, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.PoolRide, error) {
		return scanPool(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pools: %w", err)
	}
	return pools, nil
}

// ─── Bookings ───────────────────────────────────────────────

const bookingColumns = `
	id, rider_id, rider_name, rider_phone, driver_id, driver_name, pickup,
	drop_location, distance_km, fare, payment_mode, status, version,
	created_at, updated_at, accepted_at, started_at, completed_at,
	cancelled_at, cancelled_by, cancel_reason, rider_rating, driver_rating`

func scanBooking(row scanner) (*model.Booking, error) {
	b := &model.Booking{}
	err := row.Scan(
		&b.ID, &b.RiderID, &b.RiderName, &b.RiderPhone, &b.DriverID, &b.DriverName, &b.Pickup,
		&b.Drop, &b.DistanceKm, &b.Fare, &b.PaymentMode, &b.Status, &b.Version,
		&b.CreatedAt, &b.UpdatedAt, &b.AcceptedAt, &b.StartedAt, &b.CompletedAt,
		&b.CancelledAt, &b.CancelledBy, &b.CancelReason, &b.RiderRating, &b.DriverRating,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PostgresStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(s.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get booking %s: %w", id, err)
	}
	return b, nil
}

func (s *PostgresStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23)
	`,
		b.ID, b.RiderID, b.RiderName, b.RiderPhone, b.DriverID, b.DriverName, b.Pickup,
		b.Drop, b.DistanceKm, b.Fare, b.PaymentMode, b.Status, b.Version,
		b.CreatedAt, b.UpdatedAt, b.AcceptedAt, b.StartedAt, b.CompletedAt,
		b.CancelledAt, b.CancelledBy, b.CancelReason, b.RiderRating, b.DriverRating,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("postgres: insert booking %s: %w", b.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateBooking(ctx context.Context, b *model.Booking, expectedVersion int64, deltas ...model.StatsDelta) (bool, error) {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE bookings SET
				status = $3, updated_at = $4, accepted_at = $5, started_at = $6,
				completed_at = $7, cancelled_at = $8, cancelled_by = $9,
				cancel_reason = $10, rider_rating = $11, driver_rating = $12,
				version = version + 1
			WHERE id = $1 AND version = $2
		`,
			b.ID, expectedVersion,
			b.Status, b.UpdatedAt, b.AcceptedAt, b.StartedAt,
			b.CompletedAt, b.CancelledAt, b.CancelledBy,
			b.CancelReason, b.RiderRating, b.DriverRating,
		)
		if err != nil {
			return fmt.Errorf("postgres: update booking %s: %w", b.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return s.missingOrStale(ctx, tx, "bookings", b.ID)
		}
		return upsertStats(ctx, tx, deltas, b.UpdatedAt)
	})
	if errors.Is(err, errStaleVersion) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b.Version = expectedVersion + 1
	return true, nil
}

func (s *PostgresStore) ListBookingsByRider(ctx context.Context, riderID string) ([]*model.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE rider_id = $1
		ORDER BY created_at DESC
	`, riderID)
}

func (s *PostgresStore) ListBookingsByDriver(ctx context.Context, driverID string) ([]*model.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE driver_id = $1
		ORDER BY created_at DESC
	`, driverID)
}

func (s *PostgresStore) queryBookings(ctx context.Context, sql string, args ...any) ([]*model.Booking, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query bookings: %w", err)
	}
	bookings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Booking, error) {
		return scanBooking(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bookings: %w", err)
	}
	return bookings, nil
}

// ─── Stats ──────────────────────────────────────────────────

func (s *PostgresStore) GetStats(ctx context.Context, userID string) (*model.UserStats, error) {
	st := &model.UserStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, role, total_rides, total_earnings, total_spent,
		       rating_sum, rating_count, updated_at
		FROM user_stats WHERE user_id = $1
	`, userID).Scan(&st.UserID, &st.Role, &st.TotalRides, &st.TotalEarnings, &st.TotalSpent,
		&st.RatingSum, &st.RatingCount, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get stats %s: %w", userID, err)
	}
	return st, nil
}

// upsertStats increments each user's row, creating it on first use.
func upsertStats(ctx context.Context, tx pgx.Tx, deltas []model.StatsDelta, at time.Time) error {
	for _, d := range deltas {
		ratingCount := 0
		if d.Rating > 0 {
			ratingCount = 1
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO user_stats (user_id, role, total_rides, total_earnings,
			                        total_spent, rating_sum, rating_count, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id) DO UPDATE SET
				total_rides    = user_stats.total_rides + EXCLUDED.total_rides,
				total_earnings = user_stats.total_earnings + EXCLUDED.total_earnings,
				total_spent    = user_stats.total_spent + EXCLUDED.total_spent,
				rating_sum     = user_stats.rating_sum + EXCLUDED.rating_sum,
				rating_count   = user_stats.rating_count + EXCLUDED.rating_count,
				updated_at     = EXCLUDED.updated_at
		`, d.UserID, d.Role, d.Rides, d.Earnings, d.Spent, d.Rating, ratingCount, at)
		if err != nil {
			return fmt.Errorf("postgres: stats for %s: %w", d.UserID, err)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────

func (s *PostgresStore) missingOrStale(ctx context.Context, tx pgx.Tx, table, id string) error {
	var exists bool
	// table is one of two constants above, never user input.
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check %s %s: %w", table, id, err)
	}
	if !exists {
		return ErrNotFound
	}
	return errStaleVersion
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
