package booking_models

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joy095/gobus/config/db"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/shared_models"
)

type Status string

const (
	StatusRequested      Status = "requested"
	StatusHeld           Status = "held"
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

var transitions = map[Status][]Status{
	StatusRequested:      {StatusHeld, StatusCancelled},
	StatusHeld:           {StatusPendingPayment, StatusCancelled, StatusExpired},
	StatusPendingPayment: {StatusConfirmed, StatusCancelled, StatusExpired},
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusExpired
}

// OpenStatuses are the states a recovery pass may need to drive forward.
var OpenStatuses = []Status{StatusRequested, StatusHeld, StatusPendingPayment}

// Contact is where the ticket and notifications go.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// BookingAttempt is one run of the booking saga. Its id is the client's
// idempotency key and doubles as the seat holder id.
type BookingAttempt struct {
	ID            uuid.UUID  `json:"id"`
	PassengerID   uuid.UUID  `json:"passenger_id"`
	TripID        uuid.UUID  `json:"trip_id"`
	SeatIDs       []string   `json:"seat_ids"`
	Contact       Contact    `json:"contact"`
	TotalAmount   int64      `json:"total_amount"`
	Currency      string     `json:"currency"`
	Status        Status     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SamePayload reports whether other is a retry of the same request. Status,
// timestamps and the server-computed amount are not part of the request.
func (b *BookingAttempt) SamePayload(other *BookingAttempt) bool {
	return b.ID == other.ID &&
		b.PassengerID == other.PassengerID &&
		b.TripID == other.TripID &&
		slices.Equal(b.SeatIDs, other.SeatIDs) &&
		b.Contact == other.Contact
}

// HoldLapsed reports whether the attempt's seat hold has run out at now.
func (b *BookingAttempt) HoldLapsed(now time.Time) bool {
	return b.HoldExpiresAt != nil && !now.Before(*b.HoldExpiresAt)
}

// Transition describes a compare-and-set on an attempt's status.
type Transition struct {
	From          Status
	To            Status
	Reason        string
	HoldExpiresAt *time.Time
}

const attemptColumns = `id, passenger_id, trip_id, seat_ids, contact_name, contact_email, contact_phone,
	total_amount, currency, status, reason, hold_expires_at, created_at, updated_at`

func scanAttempt(row pgx.Row) (*BookingAttempt, error) {
	a := &BookingAttempt{}
	var status string
	err := row.Scan(
		&a.ID, &a.PassengerID, &a.TripID, &a.SeatIDs,
		&a.Contact.Name, &a.Contact.Email, &a.Contact.Phone,
		&a.TotalAmount, &a.Currency, &status, &a.Reason,
		&a.HoldExpiresAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return a, nil
}

// InsertBookingAttempt writes a new attempt. It reports false without error
// when the id is already taken.
func InsertBookingAttempt(ctx context.Context, q db.Querier, a *BookingAttempt) (bool, error) {
	logger.InfoLogger.Infof("Attempting to record booking attempt %s for trip %s", a.ID, a.TripID)

	tag, err := q.Exec(ctx, `
		INSERT INTO booking_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.PassengerID, a.TripID, a.SeatIDs,
		a.Contact.Name, a.Contact.Email, a.Contact.Phone,
		a.TotalAmount, a.Currency, string(a.Status), a.Reason,
		a.HoldExpiresAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to insert booking attempt %s: %v", a.ID, err)
		return false, fmt.Errorf("failed to insert booking attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetBookingAttemptByID fetches one attempt.
func GetBookingAttemptByID(ctx context.Context, q db.Querier, id uuid.UUID) (*BookingAttempt, error) {
	a, err := scanAttempt(q.QueryRow(ctx, `SELECT `+attemptColumns+` FROM booking_attempts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("booking attempt %s: %w", id, shared_models.ErrNotFound)
		}
		logger.ErrorLogger.Errorf("Failed to fetch booking attempt %s: %v", id, err)
		return nil, fmt.Errorf("database error fetching booking attempt: %w", err)
	}
	return a, nil
}

// CompareAndSetStatus applies t only if the stored status is still t.From.
// It returns nil, nil when the status had already moved on.
func CompareAndSetStatus(ctx context.Context, q db.Querier, id uuid.UUID, t Transition, now time.Time) (*BookingAttempt, error) {
	a, err := scanAttempt(q.QueryRow(ctx, `
		UPDATE booking_attempts
		SET status = $3,
		    reason = CASE WHEN $4 = '' THEN reason ELSE $4 END,
		    hold_expires_at = COALESCE($5, hold_expires_at),
		    updated_at = $6
		WHERE id = $1 AND status = $2
		RETURNING `+attemptColumns,
		id, string(t.From), string(t.To), t.Reason, t.HoldExpiresAt, now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		logger.ErrorLogger.Errorf("Failed to move booking attempt %s from %s to %s: %v", id, t.From, t.To, err)
		return nil, fmt.Errorf("failed to update booking attempt status: %w", err)
	}
	return a, nil
}

func listAttempts(ctx context.Context, q db.Querier, sql string, args ...any) ([]*BookingAttempt, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*BookingAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating booking attempts: %w", err)
	}
	return attempts, nil
}

// ListExpiringAttempts returns held or pending attempts whose hold ran out.
func ListExpiringAttempts(ctx context.Context, q db.Querier, now time.Time, limit int) ([]*BookingAttempt, error) {
	return listAttempts(ctx, q, `
		SELECT `+attemptColumns+`
		FROM booking_attempts
		WHERE status IN ('held', 'pending_payment') AND hold_expires_at <= $1
		ORDER BY hold_expires_at
		LIMIT $2`, now, limit)
}

// ListStaleAttempts returns attempts in statuses untouched since before.
func ListStaleAttempts(ctx context.Context, q db.Querier, statuses []Status, before time.Time, limit int) ([]*BookingAttempt, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return listAttempts(ctx, q, `
		SELECT `+attemptColumns+`
		FROM booking_attempts
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`, names, before, limit)
}

// ListAttemptsUpdatedSince returns attempts in statuses changed at or after since.
func ListAttemptsUpdatedSince(ctx context.Context, q db.Querier, statuses []Status, since time.Time, limit int) ([]*BookingAttempt, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return listAttempts(ctx, q, `
		SELECT `+attemptColumns+`
		FROM booking_attempts
		WHERE status = ANY($1) AND updated_at >= $2
		ORDER BY updated_at
		LIMIT $3`, names, since, limit)
}

// ListAttemptsByPassenger returns a passenger's most recent attempts first.
func ListAttemptsByPassenger(ctx context.Context, q db.Querier, passengerID uuid.UUID, limit int) ([]*BookingAttempt, error) {
	return listAttempts(ctx, q, `
		SELECT `+attemptColumns+`
		FROM booking_attempts
		WHERE passenger_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, passengerID, limit)
}
