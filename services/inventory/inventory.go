// Package inventory is the authority on seat state for every trip. It knows
// nothing about bookings beyond the opaque holder id attached to a seat.
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/models/seat_models"
	"github.com/joy095/gobus/models/shared_models"
)

// Inventory is implemented by the in-memory arena and the PostgreSQL store.
// Multi-seat operations are all-or-nothing.
type Inventory interface {
	// TryHold holds every seat for holder until now+ttl or holds none of them,
	// returning *shared_models.SeatConflictError with the blocking seats.
	TryHold(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID, ttl time.Duration) (time.Time, error)
	// Commit books seats that holder still holds with a live hold.
	Commit(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID) error
	// Release frees seats held by holder. Seats held by anyone else, or
	// already free, are left alone.
	Release(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID) error
	// Extend moves the expiry of holder's live holds to expiresAt.
	Extend(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID, expiresAt time.Time) error
	// HeldBy lists the Held and Booked seats owned by holder.
	HeldBy(ctx context.Context, holder uuid.UUID) ([]seat_models.Seat, error)
	// SweepExpired frees holds that expired at or before now.
	SweepExpired(ctx context.Context, now time.Time) ([]seat_models.Seat, error)
	// TripSeats is a point-in-time snapshot of a trip's seats.
	TripSeats(ctx context.Context, tripID uuid.UUID) ([]seat_models.Seat, error)
}

// classifyHold decides a hold request against the current seat states, which
// must be in the same order as seatIDs. Missing seats fail validation.
func classifyHold(tripID uuid.UUID, seatIDs []string, seats []seat_models.Seat, holder uuid.UUID, now time.Time) error {
	if len(seats) != len(seatIDs) {
		found := make(map[string]bool, len(seats))
		for _, s := range seats {
			found[s.SeatID] = true
		}
		for _, id := range seatIDs {
			if !found[id] {
				return shared_models.NewValidationError("seat_ids", "seat %s does not exist on trip %s", id, tripID)
			}
		}
	}

	var blocked []string
	for _, s := range seats {
		if !s.CanHold(holder, now) {
			blocked = append(blocked, s.SeatID)
		}
	}
	if len(blocked) > 0 {
		return &shared_models.SeatConflictError{TripID: tripID, SeatIDs: blocked}
	}
	return nil
}

// classifyCommit checks that every seat is either live-held or already booked
// by holder.
func classifyCommit(seats []seat_models.Seat, want int, holder uuid.UUID, now time.Time) error {
	if len(seats) != want {
		return shared_models.ErrNotHeldByHolder
	}
	for _, s := range seats {
		if s.HolderID != holder {
			return shared_models.ErrNotHeldByHolder
		}
		switch s.State {
		case seat_models.StateBooked:
		case seat_models.StateHeld:
			if s.HoldExpired(now) {
				return shared_models.ErrHoldExpired
			}
		default:
			return shared_models.ErrNotHeldByHolder
		}
	}
	return nil
}

// earliestExpiry is the expiry reported for a hold spanning seats with
// different expiries after a re-drive.
func earliestExpiry(seats []seat_models.Seat, fallback time.Time, holder uuid.UUID, now time.Time) time.Time {
	earliest := fallback
	for _, s := range seats {
		if s.LiveHoldBy(holder, now) && s.HoldExpiresAt.Before(earliest) {
			earliest = s.HoldExpiresAt
		}
	}
	return earliest
}
