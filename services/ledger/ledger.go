// Package ledger is the durable record of booking attempts. Every status
// change is a compare-and-set against the state machine in booking_models.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/shared_models"
)

// Store persists attempts. Insert reports false when the id exists; CAS
// returns nil when the stored status no longer equals t.From.
type Store interface {
	Insert(ctx context.Context, a *booking_models.BookingAttempt) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*booking_models.BookingAttempt, error)
	CompareAndSet(ctx context.Context, id uuid.UUID, t booking_models.Transition, now time.Time) (*booking_models.BookingAttempt, error)
	ListExpiring(ctx context.Context, now time.Time, limit int) ([]*booking_models.BookingAttempt, error)
	ListStale(ctx context.Context, statuses []booking_models.Status, before time.Time, limit int) ([]*booking_models.BookingAttempt, error)
	ListUpdatedSince(ctx context.Context, statuses []booking_models.Status, since time.Time, limit int) ([]*booking_models.BookingAttempt, error)
	ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit int) ([]*booking_models.BookingAttempt, error)
}

type Ledger struct {
	store Store
	now   shared_models.Clock
}

func New(store Store, clock shared_models.Clock) *Ledger {
	if clock == nil {
		clock = shared_models.SystemClock
	}
	return &Ledger{store: store, now: clock}
}

// Create records a new attempt in the Requested state. Replaying the same
// payload returns the stored attempt with created=false; reusing the id for a
// different payload is ErrLedgerConflict.
func (l *Ledger) Create(ctx context.Context, a *booking_models.BookingAttempt) (attempt *booking_models.BookingAttempt, created bool, err error) {
	now := l.now()
	a.Status = booking_models.StatusRequested
	a.Reason = ""
	a.HoldExpiresAt = nil
	a.CreatedAt = now
	a.UpdatedAt = now

	inserted, err := l.store.Insert(ctx, a)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		logger.InfoLogger.Infof("Booking attempt %s recorded as %s", a.ID, a.Status)
		return a, true, nil
	}

	existing, err := l.store.Get(ctx, a.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing booking attempt: %w", err)
	}
	if !existing.SamePayload(a) {
		logger.WarnLogger.Warnf("Booking attempt id %s reused with a different payload", a.ID)
		return nil, false, fmt.Errorf("attempt %s: %w", a.ID, shared_models.ErrLedgerConflict)
	}
	return existing, false, nil
}

// Transition moves an attempt along one edge of the state machine.
func (l *Ledger) Transition(ctx context.Context, id uuid.UUID, t booking_models.Transition) (*booking_models.BookingAttempt, error) {
	if !booking_models.CanTransition(t.From, t.To) {
		logger.ErrorLogger.Errorf("Rejected transition %s -> %s for attempt %s", t.From, t.To, id)
		return nil, &shared_models.InvalidTransitionError{From: string(t.From), To: string(t.To)}
	}

	updated, err := l.store.CompareAndSet(ctx, id, t, l.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		current, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		logger.WarnLogger.Warnf("Transition %s -> %s for attempt %s lost: status is %s", t.From, t.To, id, current.Status)
		return nil, &shared_models.InvalidTransitionError{From: string(t.From), To: string(t.To), Actual: string(current.Status)}
	}

	logger.InfoLogger.Infof("Booking attempt %s moved %s -> %s", id, t.From, t.To)
	return updated, nil
}

// ExtendHold records a new hold expiry without changing status. It fails with
// InvalidTransitionError if the attempt is no longer in status.
func (l *Ledger) ExtendHold(ctx context.Context, id uuid.UUID, status booking_models.Status, expiresAt time.Time) (*booking_models.BookingAttempt, error) {
	if status != booking_models.StatusHeld && status != booking_models.StatusPendingPayment {
		return nil, &shared_models.InvalidTransitionError{From: string(status), To: string(status)}
	}
	updated, err := l.store.CompareAndSet(ctx, id, booking_models.Transition{From: status, To: status, HoldExpiresAt: &expiresAt}, l.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		current, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &shared_models.InvalidTransitionError{From: string(status), To: string(status), Actual: string(current.Status)}
	}
	return updated, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*booking_models.BookingAttempt, error) {
	return l.store.Get(ctx, id)
}

// ListExpiring returns open attempts whose hold ran out at or before now.
func (l *Ledger) ListExpiring(ctx context.Context, now time.Time, limit int) ([]*booking_models.BookingAttempt, error) {
	return l.store.ListExpiring(ctx, now, limit)
}

// ListStale returns attempts in statuses that have not changed since before.
func (l *Ledger) ListStale(ctx context.Context, statuses []booking_models.Status, before time.Time, limit int) ([]*booking_models.BookingAttempt, error) {
	return l.store.ListStale(ctx, statuses, before, limit)
}

// ListUpdatedSince returns attempts in statuses that changed at or after since.
func (l *Ledger) ListUpdatedSince(ctx context.Context, statuses []booking_models.Status, since time.Time, limit int) ([]*booking_models.BookingAttempt, error) {
	return l.store.ListUpdatedSince(ctx, statuses, since, limit)
}

func (l *Ledger) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit int) ([]*booking_models.BookingAttempt, error) {
	return l.store.ListByPassenger(ctx, passengerID, limit)
}
