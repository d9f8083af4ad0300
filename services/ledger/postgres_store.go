package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/config/db"
	"github.com/joy095/gobus/models/booking_models"
)

// PostgresStore keeps attempts in booking_attempts.
type PostgresStore struct {
	DB db.Pool
}

func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{DB: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, a *booking_models.BookingAttempt) (bool, error) {
	return booking_models.InsertBookingAttempt(ctx, s.DB, a)
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*booking_models.BookingAttempt, error) {
	return booking_models.GetBookingAttemptByID(ctx, s.DB, id)
}

func (s *PostgresStore) CompareAndSet(ctx context.Context, id uuid.UUID, t booking_models.Transition, now time.Time) (*booking_models.BookingAttempt, error) {
	return booking_models.CompareAndSetStatus(ctx, s.DB, id, t, now)
}

func (s *PostgresStore) ListExpiring(ctx context.Context, now time.Time, limit int) ([]*booking_models.BookingAttempt, error) {
	return booking_models.ListExpiringAttempts(ctx, s.DB, now, limit)
}

func (s *PostgresStore) ListStale(ctx context.Context, statuses []booking_models.Status, before time.Time, limit int) ([]*booking_models.BookingAttempt, error) {
	return booking_models.ListStaleAttempts(ctx, s.DB, statuses, before, limit)
}

func (s *PostgresStore) ListUpdatedSince(ctx context.Context, statuses []booking_models.Status, since time.Time, limit int) ([]*booking_models.BookingAttempt, error) {
	return booking_models.ListAttemptsUpdatedSince(ctx, s.DB, statuses, since, limit)
}

func (s *PostgresStore) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit int) ([]*booking_models.BookingAttempt, error) {
	return booking_models.ListAttemptsByPassenger(ctx, s.DB, passengerID, limit)
}
