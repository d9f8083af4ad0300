// Package holds applies the hold time-to-live policy on top of the inventory.
package holds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/seat_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/services/inventory"
)

// Hold is a time-boxed claim on a set of seats by one booking attempt.
type Hold struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	TripID    uuid.UUID `json:"trip_id"`
	SeatIDs   []string  `json:"seat_ids"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Manager struct {
	Inventory inventory.Inventory
	TTL       time.Duration
	now       shared_models.Clock
}

func NewManager(inv inventory.Inventory, ttl time.Duration, clock shared_models.Clock) *Manager {
	if clock == nil {
		clock = shared_models.SystemClock
	}
	return &Manager{Inventory: inv, TTL: ttl, now: clock}
}

// Reserve holds seatIDs for the attempt until now+TTL.
func (m *Manager) Reserve(ctx context.Context, attemptID, tripID uuid.UUID, seatIDs []string) (*Hold, error) {
	logger.InfoLogger.Infof("Attempting to reserve seats %v on trip %s for attempt %s", seatIDs, tripID, attemptID)

	expiresAt, err := m.Inventory.TryHold(ctx, tripID, seatIDs, attemptID, m.TTL)
	if err != nil {
		return nil, err
	}
	return &Hold{
		AttemptID: attemptID,
		TripID:    tripID,
		SeatIDs:   seat_models.NormalizeSeatIDs(seatIDs),
		ExpiresAt: expiresAt,
	}, nil
}

// Extend pushes the attempt's live hold out to now+TTL. A hold that already
// lapsed cannot be revived.
func (m *Manager) Extend(ctx context.Context, attemptID uuid.UUID) (*Hold, error) {
	seats, err := m.Inventory.HeldBy(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up hold for attempt %s: %w", attemptID, err)
	}

	now := m.now()
	var held []seat_models.Seat
	for _, s := range seats {
		if s.State != seat_models.StateHeld {
			continue
		}
		if !s.LiveHoldBy(attemptID, now) {
			return nil, fmt.Errorf("attempt %s: %w", attemptID, shared_models.ErrHoldExpired)
		}
		held = append(held, s)
	}
	if len(held) == 0 {
		return nil, fmt.Errorf("attempt %s has no live hold: %w", attemptID, shared_models.ErrHoldExpired)
	}

	tripID := held[0].TripID
	seatIDs := make([]string, len(held))
	for i, s := range held {
		seatIDs[i] = s.SeatID
	}

	expiresAt := now.Add(m.TTL)
	if err := m.Inventory.Extend(ctx, tripID, seatIDs, attemptID, expiresAt); err != nil {
		return nil, err
	}
	logger.InfoLogger.Infof("Extended hold for attempt %s to %s", attemptID, expiresAt.Format(time.RFC3339))
	return &Hold{AttemptID: attemptID, TripID: tripID, SeatIDs: seat_models.NormalizeSeatIDs(seatIDs), ExpiresAt: expiresAt}, nil
}

// Cancel releases every seat still held by the attempt. Booked seats stay booked.
func (m *Manager) Cancel(ctx context.Context, attemptID uuid.UUID) error {
	seats, err := m.Inventory.HeldBy(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("failed to look up hold for attempt %s: %w", attemptID, err)
	}

	byTrip := make(map[uuid.UUID][]string)
	for _, s := range seats {
		if s.State == seat_models.StateHeld {
			byTrip[s.TripID] = append(byTrip[s.TripID], s.SeatID)
		}
	}
	for tripID, seatIDs := range byTrip {
		if err := m.Inventory.Release(ctx, tripID, seatIDs, attemptID); err != nil {
			logger.ErrorLogger.Errorf("Failed to release seats %v for attempt %s: %v", seatIDs, attemptID, err)
			return fmt.Errorf("failed to release hold: %w", err)
		}
		logger.InfoLogger.Infof("Released seats %v on trip %s for attempt %s", seatIDs, tripID, attemptID)
	}
	return nil
}
