package ledger

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/shared_models"
)

// MemoryStore keeps attempts in a map. Callers get copies, never the stored
// pointer.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*booking_models.BookingAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[uuid.UUID]*booking_models.BookingAttempt)}
}

func clone(a *booking_models.BookingAttempt) *booking_models.BookingAttempt {
	c := *a
	c.SeatIDs = slices.Clone(a.SeatIDs)
	if a.HoldExpiresAt != nil {
		t := *a.HoldExpiresAt
		c.HoldExpiresAt = &t
	}
	return &c
}

func (s *MemoryStore) Insert(ctx context.Context, a *booking_models.BookingAttempt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[a.ID]; ok {
		return false, nil
	}
	s.attempts[a.ID] = clone(a)
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*booking_models.BookingAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, fmt.Errorf("booking attempt %s: %w", id, shared_models.ErrNotFound)
	}
	return clone(a), nil
}

func (s *MemoryStore) CompareAndSet(ctx context.Context, id uuid.UUID, t booking_models.Transition, now time.Time) (*booking_models.BookingAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, fmt.Errorf("booking attempt %s: %w", id, shared_models.ErrNotFound)
	}
	if a.Status != t.From {
		return nil, nil
	}
	a.Status = t.To
	if t.Reason != "" {
		a.Reason = t.Reason
	}
	if t.HoldExpiresAt != nil {
		exp := *t.HoldExpiresAt
		a.HoldExpiresAt = &exp
	}
	a.UpdatedAt = now
	return clone(a), nil
}

func (s *MemoryStore) filter(keep func(*booking_models.BookingAttempt) bool, less func(a, b *booking_models.BookingAttempt) bool, limit int) []*booking_models.BookingAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*booking_models.BookingAttempt
	for _, a := range s.attempts {
		if keep(a) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) ListExpiring(ctx context.Context, now time.Time, limit int) ([]*booking_models.BookingAttempt, error) {
	return s.filter(
		func(a *booking_models.BookingAttempt) bool {
			return (a.Status == booking_models.StatusHeld || a.Status == booking_models.StatusPendingPayment) && a.HoldLapsed(now)
		},
		func(a, b *booking_models.BookingAttempt) bool { return a.HoldExpiresAt.Before(*b.HoldExpiresAt) },
		limit,
	), nil
}

func (s *MemoryStore) ListStale(ctx context.Context, statuses []booking_models.Status, before time.Time, limit int) ([]*booking_models.BookingAttempt, error) {
	return s.filter(
		func(a *booking_models.BookingAttempt) bool {
			return slices.Contains(statuses, a.Status) && a.UpdatedAt.Before(before)
		},
		func(a, b *booking_models.BookingAttempt) bool { return a.UpdatedAt.Before(b.UpdatedAt) },
		limit,
	), nil
}

func (s *MemoryStore) ListUpdatedSince(ctx context.Context, statuses []booking_models.Status, since time.Time, limit int) ([]*booking_models.BookingAttempt, error) {
	return s.filter(
		func(a *booking_models.BookingAttempt) bool {
			return slices.Contains(statuses, a.Status) && !a.UpdatedAt.Before(since)
		},
		func(a, b *booking_models.BookingAttempt) bool { return a.UpdatedAt.Before(b.UpdatedAt) },
		limit,
	), nil
}

func (s *MemoryStore) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit int) ([]*booking_models.BookingAttempt, error) {
	return s.filter(
		func(a *booking_models.BookingAttempt) bool { return a.PassengerID == passengerID },
		func(a, b *booking_models.BookingAttempt) bool { return a.CreatedAt.After(b.CreatedAt) },
		limit,
	), nil
}
