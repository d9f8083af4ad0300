package tickets

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/config/db"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/models/ticket_models"
)

// Store keeps at most one ticket per booking.
type Store interface {
	Insert(ctx context.Context, t *ticket_models.Ticket) (bool, error)
	GetByBooking(ctx context.Context, bookingID uuid.UUID) (*ticket_models.Ticket, error)
	GetByID(ctx context.Context, ticketID uuid.UUID) (*ticket_models.Ticket, error)
	MarkValidated(ctx context.Context, ticketID uuid.UUID, by string, now time.Time) (bool, error)
}

type MemoryStore struct {
	mu        sync.Mutex
	byBooking map[uuid.UUID]*ticket_models.Ticket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byBooking: make(map[uuid.UUID]*ticket_models.Ticket)}
}

func copyTicket(t *ticket_models.Ticket) *ticket_models.Ticket {
	c := *t
	c.Payload.Seats = slices.Clone(t.Payload.Seats)
	if t.ValidatedAt != nil {
		v := *t.ValidatedAt
		c.ValidatedAt = &v
	}
	return &c
}

func (s *MemoryStore) Insert(ctx context.Context, t *ticket_models.Ticket) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byBooking[t.BookingID]; ok {
		return false, nil
	}
	s.byBooking[t.BookingID] = copyTicket(t)
	return true, nil
}

func (s *MemoryStore) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*ticket_models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byBooking[bookingID]
	if !ok {
		return nil, fmt.Errorf("ticket for booking %s: %w", bookingID, shared_models.ErrNotFound)
	}
	return copyTicket(t), nil
}

func (s *MemoryStore) GetByID(ctx context.Context, ticketID uuid.UUID) (*ticket_models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.byBooking {
		if t.ID == ticketID {
			return copyTicket(t), nil
		}
	}
	return nil, fmt.Errorf("ticket %s: %w", ticketID, shared_models.ErrNotFound)
}

func (s *MemoryStore) MarkValidated(ctx context.Context, ticketID uuid.UUID, by string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.byBooking {
		if t.ID != ticketID {
			continue
		}
		if t.ValidatedAt != nil {
			return false, nil
		}
		v := now
		t.ValidatedAt = &v
		t.ValidatedBy = by
		return true, nil
	}
	return false, fmt.Errorf("ticket %s: %w", ticketID, shared_models.ErrNotFound)
}

// PostgresStore keeps tickets in the tickets table.
type PostgresStore struct {
	DB db.Pool
}

func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{DB: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, t *ticket_models.Ticket) (bool, error) {
	return ticket_models.InsertTicket(ctx, s.DB, t)
}

func (s *PostgresStore) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*ticket_models.Ticket, error) {
	return ticket_models.GetTicketByBookingID(ctx, s.DB, bookingID)
}

func (s *PostgresStore) GetByID(ctx context.Context, ticketID uuid.UUID) (*ticket_models.Ticket, error) {
	return ticket_models.GetTicketByID(ctx, s.DB, ticketID)
}

func (s *PostgresStore) MarkValidated(ctx context.Context, ticketID uuid.UUID, by string, now time.Time) (bool, error) {
	return ticket_models.MarkTicketValidated(ctx, s.DB, ticketID, by, now)
}
