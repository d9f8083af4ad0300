package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/config/db"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/seat_models"
	"github.com/joy095/gobus/models/shared_models"
)

// PostgresInventory keeps seat state in trip_seats. Multi-seat operations run
// in one transaction that row-locks the seats in seat id order first.
type PostgresInventory struct {
	DB  db.Pool
	now shared_models.Clock
}

func NewPostgresInventory(pool db.Pool, clock shared_models.Clock) *PostgresInventory {
	if clock == nil {
		clock = shared_models.SystemClock
	}
	return &PostgresInventory{DB: pool, now: clock}
}

func (p *PostgresInventory) TryHold(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID, ttl time.Duration) (time.Time, error) {
	seatIDs = seat_models.NormalizeSeatIDs(seatIDs)
	if len(seatIDs) == 0 {
		return time.Time{}, shared_models.NewValidationError("seat_ids", "at least one seat is required")
	}

	tx, err := p.DB.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin hold transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	seats, err := seat_models.LockSeats(ctx, tx, tripID, seatIDs)
	if err != nil {
		return time.Time{}, err
	}

	now := p.now()
	if err := classifyHold(tripID, seatIDs, seats, holder, now); err != nil {
		return time.Time{}, err
	}

	expiresAt := now.Add(ttl)
	if err := seat_models.HoldSeats(ctx, tx, tripID, seatIDs, holder, expiresAt, now); err != nil {
		return time.Time{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		logger.ErrorLogger.Errorf("Failed to commit hold for %s on trip %s: %v", holder, tripID, err)
		return time.Time{}, fmt.Errorf("failed to commit hold: %w", err)
	}

	reported := earliestExpiry(seats, expiresAt, holder, now)
	logger.InfoLogger.Infof("Held seats %v on trip %s for %s until %s", seatIDs, tripID, holder, reported.Format(time.RFC3339))
	return reported, nil
}

func (p *PostgresInventory) Commit(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID) error {
	seatIDs = seat_models.NormalizeSeatIDs(seatIDs)

	tx, err := p.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	seats, err := seat_models.LockSeats(ctx, tx, tripID, seatIDs)
	if err != nil {
		return err
	}

	now := p.now()
	if err := classifyCommit(seats, len(seatIDs), holder, now); err != nil {
		return fmt.Errorf("commit seats %v on trip %s: %w", seatIDs, tripID, err)
	}
	if err := seat_models.BookSeats(ctx, tx, tripID, seatIDs, holder, now); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit seat booking: %w", err)
	}
	logger.InfoLogger.Infof("Booked seats %v on trip %s for %s", seatIDs, tripID, holder)
	return nil
}

func (p *PostgresInventory) Release(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID) error {
	n, err := seat_models.ReleaseSeats(ctx, p.DB, tripID, seat_models.NormalizeSeatIDs(seatIDs), holder, p.now())
	if err != nil {
		return err
	}
	if n > 0 {
		logger.InfoLogger.Infof("Released %d seats on trip %s held by %s", n, tripID, holder)
	}
	return nil
}

func (p *PostgresInventory) Extend(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID, expiresAt time.Time) error {
	seatIDs = seat_models.NormalizeSeatIDs(seatIDs)

	tx, err := p.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin extend transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := seat_models.ExtendHolds(ctx, tx, tripID, seatIDs, holder, expiresAt, p.now())
	if err != nil {
		return err
	}
	if int(n) != len(seatIDs) {
		return fmt.Errorf("extend %d of %d seats on trip %s: %w", n, len(seatIDs), tripID, shared_models.ErrHoldExpired)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit hold extension: %w", err)
	}
	return nil
}

func (p *PostgresInventory) HeldBy(ctx context.Context, holder uuid.UUID) ([]seat_models.Seat, error) {
	return seat_models.GetSeatsByHolder(ctx, p.DB, holder)
}

func (p *PostgresInventory) SweepExpired(ctx context.Context, now time.Time) ([]seat_models.Seat, error) {
	seats, err := seat_models.SweepExpiredHolds(ctx, p.DB, now)
	if err != nil {
		return nil, err
	}
	if len(seats) > 0 {
		logger.InfoLogger.Infof("Swept %d expired seat holds", len(seats))
	}
	return seats, nil
}

func (p *PostgresInventory) TripSeats(ctx context.Context, tripID uuid.UUID) ([]seat_models.Seat, error) {
	seats, err := seat_models.GetSeatsByTrip(ctx, p.DB, tripID)
	if err != nil {
		return nil, err
	}
	if len(seats) == 0 {
		return nil, fmt.Errorf("trip %s: %w", tripID, shared_models.ErrNotFound)
	}
	return seats, nil
}
