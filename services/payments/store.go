package payments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/config/db"
	"github.com/joy095/gobus/models/payment_models"
	"github.com/joy095/gobus/models/shared_models"
)

// Store persists payment records, at most one per booking. Settle returns
// nil when the record was no longer Initiated.
type Store interface {
	Insert(ctx context.Context, p *payment_models.PaymentRecord) (bool, error)
	GetByBooking(ctx context.Context, bookingID uuid.UUID) (*payment_models.PaymentRecord, error)
	GetByOrder(ctx context.Context, orderID string) (*payment_models.PaymentRecord, error)
	Settle(ctx context.Context, bookingID uuid.UUID, to payment_models.Status, paymentID, reason string, now time.Time) (*payment_models.PaymentRecord, error)
}

type MemoryStore struct {
	mu        sync.Mutex
	byBooking map[uuid.UUID]*payment_models.PaymentRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byBooking: make(map[uuid.UUID]*payment_models.PaymentRecord)}
}

func copyRecord(p *payment_models.PaymentRecord) *payment_models.PaymentRecord {
	c := *p
	if p.VerifiedAt != nil {
		t := *p.VerifiedAt
		c.VerifiedAt = &t
	}
	return &c
}

func (s *MemoryStore) Insert(ctx context.Context, p *payment_models.PaymentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byBooking[p.BookingID]; ok {
		return false, nil
	}
	s.byBooking[p.BookingID] = copyRecord(p)
	return true, nil
}

func (s *MemoryStore) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*payment_models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byBooking[bookingID]
	if !ok {
		return nil, fmt.Errorf("payment record for booking %s: %w", bookingID, shared_models.ErrNotFound)
	}
	return copyRecord(p), nil
}

func (s *MemoryStore) GetByOrder(ctx context.Context, orderID string) (*payment_models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byBooking {
		if p.ProviderOrderID == orderID {
			return copyRecord(p), nil
		}
	}
	return nil, fmt.Errorf("payment record for order %s: %w", orderID, shared_models.ErrNotFound)
}

func (s *MemoryStore) Settle(ctx context.Context, bookingID uuid.UUID, to payment_models.Status, paymentID, reason string, now time.Time) (*payment_models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byBooking[bookingID]
	if !ok {
		return nil, fmt.Errorf("payment record for booking %s: %w", bookingID, shared_models.ErrNotFound)
	}
	if p.Status != payment_models.StatusInitiated {
		return nil, nil
	}
	p.Status = to
	if paymentID != "" {
		p.ProviderPaymentID = paymentID
	}
	p.FailureReason = reason
	if to == payment_models.StatusVerified {
		t := now
		p.VerifiedAt = &t
	}
	p.UpdatedAt = now
	return copyRecord(p), nil
}

// PostgresStore keeps records in payment_records.
type PostgresStore struct {
	DB db.Pool
}

func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{DB: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, p *payment_models.PaymentRecord) (bool, error) {
	return payment_models.InsertPaymentRecord(ctx, s.DB, p)
}

func (s *PostgresStore) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*payment_models.PaymentRecord, error) {
	return payment_models.GetPaymentRecordByBookingID(ctx, s.DB, bookingID)
}

func (s *PostgresStore) GetByOrder(ctx context.Context, orderID string) (*payment_models.PaymentRecord, error) {
	return payment_models.GetPaymentRecordByOrderID(ctx, s.DB, orderID)
}

func (s *PostgresStore) Settle(ctx context.Context, bookingID uuid.UUID, to payment_models.Status, paymentID, reason string, now time.Time) (*payment_models.PaymentRecord, error) {
	return payment_models.SettlePaymentRecord(ctx, s.DB, bookingID, to, paymentID, reason, now)
}
