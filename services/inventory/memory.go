package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/seat_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/models/trip_models"
)

type seatCell struct {
	mu   sync.Mutex
	seat seat_models.Seat
}

// MemoryInventory keeps seats in an arena indexed by (trip, seat). Each seat
// has its own mutex; multi-seat operations lock in seat id order. The arena
// lock only guards the map itself and is held for lookups, never across a
// seat mutation.
type MemoryInventory struct {
	mu    sync.RWMutex
	cells map[seat_models.Key]*seatCell
	trips map[uuid.UUID][]string
	now   shared_models.Clock
}

func NewMemoryInventory(clock shared_models.Clock) *MemoryInventory {
	if clock == nil {
		clock = shared_models.SystemClock
	}
	return &MemoryInventory{
		cells: make(map[seat_models.Key]*seatCell),
		trips: make(map[uuid.UUID][]string),
		now:   clock,
	}
}

// AddTrip publishes every seat of trip as Available. Seats already present
// keep their state.
func (m *MemoryInventory) AddTrip(trip *trip_models.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, layout := range trip.Seats {
		key := seat_models.Key{TripID: trip.ID, SeatID: layout.SeatID}
		if _, ok := m.cells[key]; ok {
			continue
		}
		m.cells[key] = &seatCell{seat: seat_models.Seat{
			TripID: trip.ID,
			SeatID: layout.SeatID,
			State:  seat_models.StateAvailable,
		}}
		m.trips[trip.ID] = append(m.trips[trip.ID], layout.SeatID)
	}
}

// lockCells resolves and locks the cells for seatIDs, which must already be
// normalized. Missing seats are skipped; the caller compares lengths.
func (m *MemoryInventory) lockCells(tripID uuid.UUID, seatIDs []string) []*seatCell {
	m.mu.RLock()
	cells := make([]*seatCell, 0, len(seatIDs))
	for _, id := range seatIDs {
		if c, ok := m.cells[seat_models.Key{TripID: tripID, SeatID: id}]; ok {
			cells = append(cells, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range cells {
		c.mu.Lock()
	}
	return cells
}

func unlockCells(cells []*seatCell) {
	for i := len(cells) - 1; i >= 0; i-- {
		cells[i].mu.Unlock()
	}
}

func snapshot(cells []*seatCell) []seat_models.Seat {
	seats := make([]seat_models.Seat, len(cells))
	for i, c := range cells {
		seats[i] = c.seat
	}
	return seats
}

func (m *MemoryInventory) TryHold(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID, ttl time.Duration) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	seatIDs = seat_models.NormalizeSeatIDs(seatIDs)
	if len(seatIDs) == 0 {
		return time.Time{}, shared_models.NewValidationError("seat_ids", "at least one seat is required")
	}

	cells := m.lockCells(tripID, seatIDs)
	defer unlockCells(cells)

	now := m.now()
	seats := snapshot(cells)
	if err := classifyHold(tripID, seatIDs, seats, holder, now); err != nil {
		return time.Time{}, err
	}

	expiresAt := now.Add(ttl)
	reported := earliestExpiry(seats, expiresAt, holder, now)
	for _, c := range cells {
		if c.seat.LiveHoldBy(holder, now) {
			continue
		}
		c.seat.State = seat_models.StateHeld
		c.seat.HolderID = holder
		c.seat.HoldExpiresAt = expiresAt
	}

	logger.InfoLogger.Infof("Held seats %v on trip %s for %s until %s", seatIDs, tripID, holder, reported.Format(time.RFC3339))
	return reported, nil
}

func (m *MemoryInventory) Commit(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seatIDs = seat_models.NormalizeSeatIDs(seatIDs)

	cells := m.lockCells(tripID, seatIDs)
	defer unlockCells(cells)

	if err := classifyCommit(snapshot(cells), len(seatIDs), holder, m.now()); err != nil {
		return fmt.Errorf("commit seats %v on trip %s: %w", seatIDs, tripID, err)
	}
	for _, c := range cells {
		c.seat.State = seat_models.StateBooked
		c.seat.HoldExpiresAt = time.Time{}
	}
	return nil
}

func (m *MemoryInventory) Release(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cells := m.lockCells(tripID, seat_models.NormalizeSeatIDs(seatIDs))
	defer unlockCells(cells)

	for _, c := range cells {
		if c.seat.State == seat_models.StateHeld && c.seat.HolderID == holder {
			c.seat = seat_models.Seat{TripID: c.seat.TripID, SeatID: c.seat.SeatID, State: seat_models.StateAvailable}
		}
	}
	return nil
}

func (m *MemoryInventory) Extend(ctx context.Context, tripID uuid.UUID, seatIDs []string, holder uuid.UUID, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seatIDs = seat_models.NormalizeSeatIDs(seatIDs)

	cells := m.lockCells(tripID, seatIDs)
	defer unlockCells(cells)

	now := m.now()
	if len(cells) != len(seatIDs) {
		return shared_models.ErrNotHeldByHolder
	}
	for _, c := range cells {
		if c.seat.HolderID != holder || c.seat.State != seat_models.StateHeld {
			return shared_models.ErrNotHeldByHolder
		}
		if c.seat.HoldExpired(now) {
			return shared_models.ErrHoldExpired
		}
	}
	for _, c := range cells {
		c.seat.HoldExpiresAt = expiresAt
	}
	return nil
}

func (m *MemoryInventory) HeldBy(ctx context.Context, holder uuid.UUID) ([]seat_models.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var seats []seat_models.Seat
	for tripID, ids := range m.trips {
		for _, id := range ids {
			c := m.cells[seat_models.Key{TripID: tripID, SeatID: id}]
			c.mu.Lock()
			if c.seat.HolderID == holder && c.seat.State != seat_models.StateAvailable {
				seats = append(seats, c.seat)
			}
			c.mu.Unlock()
		}
	}
	return seats, nil
}

func (m *MemoryInventory) SweepExpired(ctx context.Context, now time.Time) ([]seat_models.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	cells := make([]*seatCell, 0, len(m.cells))
	for _, c := range m.cells {
		cells = append(cells, c)
	}
	m.mu.RUnlock()

	var released []seat_models.Seat
	for _, c := range cells {
		c.mu.Lock()
		if c.seat.HoldExpired(now) {
			released = append(released, c.seat)
			c.seat = seat_models.Seat{TripID: c.seat.TripID, SeatID: c.seat.SeatID, State: seat_models.StateAvailable}
		}
		c.mu.Unlock()
	}
	if len(released) > 0 {
		logger.InfoLogger.Infof("Swept %d expired seat holds", len(released))
	}
	return released, nil
}

func (m *MemoryInventory) TripSeats(ctx context.Context, tripID uuid.UUID) ([]seat_models.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	ids, ok := m.trips[tripID]
	cells := make([]*seatCell, 0, len(ids))
	for _, id := range ids {
		cells = append(cells, m.cells[seat_models.Key{TripID: tripID, SeatID: id}])
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, shared_models.ErrNotFound)
	}

	// One seat at a time: layout order is not lock order.
	seats := make([]seat_models.Seat, len(cells))
	for i, c := range cells {
		c.mu.Lock()
		seats[i] = c.seat
		c.mu.Unlock()
	}
	return seats, nil
}
