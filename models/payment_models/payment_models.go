package payment_models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joy095/gobus/config/db"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/shared_models"
)

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusVerified  Status = "verified"
	StatusFailed    Status = "failed"
)

// PaymentRecord tracks the provider order for one booking attempt. Verified
// and Failed are terminal.
type PaymentRecord struct {
	ID                uuid.UUID  `json:"id"`
	BookingID         uuid.UUID  `json:"booking_id"`
	ProviderOrderID   string     `json:"provider_order_id"`
	ProviderPaymentID string     `json:"provider_payment_id,omitempty"`
	Amount            int64      `json:"amount"` // minor units
	Currency          string     `json:"currency"`
	Status            Status     `json:"status"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

const paymentColumns = `id, booking_id, provider_order_id, provider_payment_id, amount, currency,
	status, failure_reason, verified_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*PaymentRecord, error) {
	p := &PaymentRecord{}
	var status string
	err := row.Scan(
		&p.ID, &p.BookingID, &p.ProviderOrderID, &p.ProviderPaymentID, &p.Amount, &p.Currency,
		&status, &p.FailureReason, &p.VerifiedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return p, nil
}

// InsertPaymentRecord stores p unless the booking already has a record, in
// which case it reports false.
func InsertPaymentRecord(ctx context.Context, q db.Querier, p *PaymentRecord) (bool, error) {
	logger.InfoLogger.Infof("Attempting to record payment order %s for booking %s", p.ProviderOrderID, p.BookingID)

	tag, err := q.Exec(ctx, `
		INSERT INTO payment_records (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (booking_id) DO NOTHING`,
		p.ID, p.BookingID, p.ProviderOrderID, p.ProviderPaymentID, p.Amount, p.Currency,
		string(p.Status), p.FailureReason, p.VerifiedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to insert payment record for booking %s: %v", p.BookingID, err)
		return false, fmt.Errorf("failed to insert payment record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func getPayment(ctx context.Context, q db.Querier, where string, arg any) (*PaymentRecord, error) {
	p, err := scanPayment(q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_records WHERE `+where+` = $1`, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payment record for %v: %w", arg, shared_models.ErrNotFound)
		}
		logger.ErrorLogger.Errorf("Failed to fetch payment record by %s %v: %v", where, arg, err)
		return nil, fmt.Errorf("database error fetching payment record: %w", err)
	}
	return p, nil
}

func GetPaymentRecordByBookingID(ctx context.Context, q db.Querier, bookingID uuid.UUID) (*PaymentRecord, error) {
	return getPayment(ctx, q, "booking_id", bookingID)
}

func GetPaymentRecordByOrderID(ctx context.Context, q db.Querier, orderID string) (*PaymentRecord, error) {
	return getPayment(ctx, q, "provider_order_id", orderID)
}

// SettlePaymentRecord moves an Initiated record to a terminal status. It
// returns nil, nil when the record was already settled.
func SettlePaymentRecord(ctx context.Context, q db.Querier, bookingID uuid.UUID, to Status, paymentID, reason string, now time.Time) (*PaymentRecord, error) {
	var verifiedAt *time.Time
	if to == StatusVerified {
		verifiedAt = &now
	}

	p, err := scanPayment(q.QueryRow(ctx, `
		UPDATE payment_records
		SET status = $2,
		    provider_payment_id = CASE WHEN $3 = '' THEN provider_payment_id ELSE $3 END,
		    failure_reason = $4,
		    verified_at = $5,
		    updated_at = $6
		WHERE booking_id = $1 AND status = 'initiated'
		RETURNING `+paymentColumns,
		bookingID, string(to), paymentID, reason, verifiedAt, now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		logger.ErrorLogger.Errorf("Failed to settle payment for booking %s as %s: %v", bookingID, to, err)
		return nil, fmt.Errorf("failed to settle payment record: %w", err)
	}
	return p, nil
}
