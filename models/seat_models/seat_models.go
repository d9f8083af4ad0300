package seat_models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/config/db"
	"github.com/joy095/gobus/logger"
)

type State string

const (
	StateAvailable State = "available"
	StateHeld      State = "held"
	StateBooked    State = "booked"
)

// Key addresses one seat in the inventory arena.
type Key struct {
	TripID uuid.UUID `json:"trip_id"`
	SeatID string    `json:"seat_id"`
}

// Seat is the mutable state of one seat on one trip. HolderID is the booking
// attempt that owns a Held or Booked seat; it is uuid.Nil otherwise.
type Seat struct {
	TripID        uuid.UUID `json:"trip_id"`
	SeatID        string    `json:"seat_id"`
	State         State     `json:"state"`
	HolderID      uuid.UUID `json:"holder_id,omitempty"`
	HoldExpiresAt time.Time `json:"hold_expires_at,omitempty"`
}

func (s Seat) Key() Key { return Key{TripID: s.TripID, SeatID: s.SeatID} }

// HoldExpired reports whether a Held seat's hold has run out at now.
func (s Seat) HoldExpired(now time.Time) bool {
	return s.State == StateHeld && !now.Before(s.HoldExpiresAt)
}

// LiveHoldBy reports whether holder owns an unexpired hold on the seat.
func (s Seat) LiveHoldBy(holder uuid.UUID, now time.Time) bool {
	return s.State == StateHeld && s.HolderID == holder && !s.HoldExpiresAt.IsZero() && now.Before(s.HoldExpiresAt)
}

// CanHold reports whether holder may take the seat at now. Expired holds count
// as free, and a holder re-asking for its own live hold is accepted.
func (s Seat) CanHold(holder uuid.UUID, now time.Time) bool {
	switch s.State {
	case StateAvailable:
		return true
	case StateHeld:
		return s.HoldExpired(now) || s.HolderID == holder
	default:
		return false
	}
}

// NormalizeSeatIDs sorts and de-duplicates seat ids. Locking in this order
// keeps concurrent multi-seat holds from deadlocking.
func NormalizeSeatIDs(seatIDs []string) []string {
	seen := make(map[string]struct{}, len(seatIDs))
	out := make([]string, 0, len(seatIDs))
	for _, id := range seatIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

const seatSelectColumns = `trip_id, seat_id, state,
	COALESCE(holder_id, '00000000-0000-0000-0000-000000000000'::uuid),
	COALESCE(hold_expires_at, 'epoch'::timestamptz)`

func scanSeat(row interface{ Scan(dest ...any) error }) (Seat, error) {
	var s Seat
	var state string
	if err := row.Scan(&s.TripID, &s.SeatID, &state, &s.HolderID, &s.HoldExpiresAt); err != nil {
		return Seat{}, err
	}
	s.State = State(state)
	if s.State != StateHeld {
		s.HoldExpiresAt = time.Time{}
	}
	return s, nil
}

func querySeats(ctx context.Context, q db.Querier, sql string, args ...any) ([]Seat, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []Seat
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// LockSeats row-locks the requested seats in seat id order for the rest of tx.
func LockSeats(ctx context.Context, tx db.Querier, tripID uuid.UUID, seatIDs []string) ([]Seat, error) {
	seats, err := querySeats(ctx, tx, `
		SELECT `+seatSelectColumns+`
		FROM trip_seats
		WHERE trip_id = $1 AND seat_id = ANY($2)
		ORDER BY seat_id
		FOR UPDATE`, tripID, seatIDs)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to lock seats %v on trip %s: %v", seatIDs, tripID, err)
		return nil, fmt.Errorf("failed to lock seats: %w", err)
	}
	return seats, nil
}

// HoldSeats marks seats Held by holder. Live holds already owned by holder
// keep their expiry.
func HoldSeats(ctx context.Context, tx db.Querier, tripID uuid.UUID, seatIDs []string, holder uuid.UUID, expiresAt, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE trip_seats
		SET state = 'held',
		    holder_id = $3,
		    hold_expires_at = CASE
		        WHEN state = 'held' AND holder_id = $3 AND hold_expires_at > $5 THEN hold_expires_at
		        ELSE $4
		    END,
		    updated_at = $5
		WHERE trip_id = $1 AND seat_id = ANY($2)`,
		tripID, seatIDs, holder, expiresAt, now)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to hold seats %v on trip %s: %v", seatIDs, tripID, err)
		return fmt.Errorf("failed to hold seats: %w", err)
	}
	return nil
}

// BookSeats turns seats held by holder into Booked.
func BookSeats(ctx context.Context, tx db.Querier, tripID uuid.UUID, seatIDs []string, holder uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE trip_seats
		SET state = 'booked', hold_expires_at = NULL, updated_at = $4
		WHERE trip_id = $1 AND seat_id = ANY($2) AND holder_id = $3`,
		tripID, seatIDs, holder, now)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to book seats %v on trip %s: %v", seatIDs, tripID, err)
		return fmt.Errorf("failed to book seats: %w", err)
	}
	return nil
}

// ReleaseSeats frees seats held by holder and returns how many changed.
func ReleaseSeats(ctx context.Context, q db.Querier, tripID uuid.UUID, seatIDs []string, holder uuid.UUID, now time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE trip_seats
		SET state = 'available', holder_id = NULL, hold_expires_at = NULL, updated_at = $4
		WHERE trip_id = $1 AND seat_id = ANY($2) AND state = 'held' AND holder_id = $3`,
		tripID, seatIDs, holder, now)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to release seats %v on trip %s: %v", seatIDs, tripID, err)
		return 0, fmt.Errorf("failed to release seats: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExtendHolds moves the expiry of holder's live holds and returns how many changed.
func ExtendHolds(ctx context.Context, q db.Querier, tripID uuid.UUID, seatIDs []string, holder uuid.UUID, expiresAt, now time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE trip_seats
		SET hold_expires_at = $4, updated_at = $5
		WHERE trip_id = $1 AND seat_id = ANY($2) AND state = 'held' AND holder_id = $3 AND hold_expires_at > $5`,
		tripID, seatIDs, holder, expiresAt, now)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to extend holds %v on trip %s: %v", seatIDs, tripID, err)
		return 0, fmt.Errorf("failed to extend holds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepExpiredHolds frees every hold that expired at or before now and
// returns the seats as they were before release.
func SweepExpiredHolds(ctx context.Context, q db.Querier, now time.Time) ([]Seat, error) {
	seats, err := querySeats(ctx, q, `
		WITH expired AS (
			SELECT trip_id, seat_id, holder_id, hold_expires_at
			FROM trip_seats
			WHERE state = 'held' AND hold_expires_at <= $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE trip_seats AS t
		SET state = 'available', holder_id = NULL, hold_expires_at = NULL, updated_at = $1
		FROM expired e
		WHERE t.trip_id = e.trip_id AND t.seat_id = e.seat_id
		RETURNING e.trip_id, e.seat_id, 'held',
			COALESCE(e.holder_id, '00000000-0000-0000-0000-000000000000'::uuid),
			COALESCE(e.hold_expires_at, 'epoch'::timestamptz)`, now)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to sweep expired holds: %v", err)
		return nil, fmt.Errorf("failed to sweep expired holds: %w", err)
	}
	return seats, nil
}

// GetSeatsByHolder returns every Held or Booked seat owned by holder.
func GetSeatsByHolder(ctx context.Context, q db.Querier, holder uuid.UUID) ([]Seat, error) {
	seats, err := querySeats(ctx, q, `
		SELECT `+seatSelectColumns+`
		FROM trip_seats
		WHERE holder_id = $1
		ORDER BY trip_id, seat_id`, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch seats for holder %s: %w", holder, err)
	}
	return seats, nil
}

// GetSeatsByTrip returns the state of every seat on a trip.
func GetSeatsByTrip(ctx context.Context, q db.Querier, tripID uuid.UUID) ([]Seat, error) {
	seats, err := querySeats(ctx, q, `
		SELECT `+seatSelectColumns+`
		FROM trip_seats
		WHERE trip_id = $1
		ORDER BY seat_row, seat_column`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch seats for trip %s: %w", tripID, err)
	}
	return seats, nil
}
