// Package payments drives a payment provider through order creation and
// verification for booking attempts.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/payment_models"
	"github.com/joy095/gobus/models/shared_models"
)

type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeFailed   Outcome = "failed"
	OutcomePending  Outcome = "pending"
)

var ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

// Verification is the result of one verification call. Replayed is set when
// the payload had been seen before and nothing was re-run.
type Verification struct {
	Outcome  Outcome
	Record   *payment_models.PaymentRecord
	Replayed bool
}

type Coordinator struct {
	Gateway Gateway
	store   Store
	replay  ReplayCache
	now     shared_models.Clock
}

func NewCoordinator(gateway Gateway, store Store, replay ReplayCache, clock shared_models.Clock) *Coordinator {
	if replay == nil {
		replay = NewMemoryReplayCache()
	}
	if clock == nil {
		clock = shared_models.SystemClock
	}
	return &Coordinator{Gateway: gateway, store: store, replay: replay, now: clock}
}

func outcomeOf(status payment_models.Status) Outcome {
	switch status {
	case payment_models.StatusVerified:
		return OutcomeVerified
	case payment_models.StatusFailed:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// Get returns the booking's payment record.
func (c *Coordinator) Get(ctx context.Context, bookingID uuid.UUID) (*payment_models.PaymentRecord, error) {
	return c.store.GetByBooking(ctx, bookingID)
}

// Initiate opens a provider order for the booking. A booking that already
// has an open or verified record gets that record back.
func (c *Coordinator) Initiate(ctx context.Context, bookingID uuid.UUID, amount int64, currency string) (*payment_models.PaymentRecord, error) {
	existing, err := c.existing(ctx, bookingID)
	if err != nil || existing != nil {
		return existing, err
	}

	logger.InfoLogger.Infof("Creating %s order for booking %s: %d %s", c.Gateway.Name(), bookingID, amount, currency)
	order, err := c.Gateway.CreateOrder(ctx, OrderRequest{
		Receipt:  bookingID.String(),
		Amount:   amount,
		Currency: currency,
		Notes:    map[string]string{"booking_id": bookingID.String()},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrGatewayUnavailable) {
			logger.WarnLogger.Warnf("Payment gateway timed out creating order for booking %s: %v", bookingID, err)
			return nil, fmt.Errorf("create order for booking %s: %w", bookingID, shared_models.ErrPaymentTimeout)
		}
		logger.ErrorLogger.Errorf("Payment gateway rejected order for booking %s: %v", bookingID, err)
		return nil, fmt.Errorf("create order for booking %s: %v: %w", bookingID, err, shared_models.ErrPaymentFailed)
	}

	id, err := shared_models.GenerateUUIDv7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate payment id: %w", err)
	}
	now := c.now()
	record := &payment_models.PaymentRecord{
		ID:              id,
		BookingID:       bookingID,
		ProviderOrderID: order.ID,
		Amount:          amount,
		Currency:        currency,
		Status:          payment_models.StatusInitiated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	inserted, err := c.store.Insert(ctx, record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A concurrent initiate got there first; its order is the one in use.
		logger.WarnLogger.Warnf("Order %s for booking %s superseded by a concurrent initiate", order.ID, bookingID)
		return c.existing(ctx, bookingID)
	}

	logger.InfoLogger.Infof("Payment order %s initiated for booking %s", order.ID, bookingID)
	return record, nil
}

// existing returns the usable record for bookingID, nil if there is none,
// and ErrPaymentFailed if the booking's payment already failed.
func (c *Coordinator) existing(ctx context.Context, bookingID uuid.UUID) (*payment_models.PaymentRecord, error) {
	record, err := c.store.GetByBooking(ctx, bookingID)
	if errors.Is(err, shared_models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if record.Status == payment_models.StatusFailed {
		return nil, fmt.Errorf("booking %s: %s: %w", bookingID, record.FailureReason, shared_models.ErrPaymentFailed)
	}
	return record, nil
}

// Verify checks a checkout callback for the booking's order.
func (c *Coordinator) Verify(ctx context.Context, bookingID uuid.UUID, cb CheckoutCallback) (*Verification, error) {
	record, err := c.store.GetByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	key := replayKey("checkout", bookingID.String(), cb.OrderID, cb.PaymentID, cb.Signature, cb.ErrorCode)
	if v, ok := c.lookupReplay(ctx, key, record); ok {
		return v, nil
	}

	if record.Status != payment_models.StatusInitiated {
		return &Verification{Outcome: outcomeOf(record.Status), Record: record, Replayed: true}, nil
	}

	switch {
	case cb.ErrorCode != "":
		reason := cb.ErrorDescription
		if reason == "" {
			reason = cb.ErrorCode
		}
		return c.settle(ctx, record, payment_models.StatusFailed, "", reason, key)
	case cb.PaymentID == "":
		return &Verification{Outcome: OutcomePending, Record: record}, nil
	case cb.OrderID != record.ProviderOrderID:
		logger.WarnLogger.Warnf("Callback for booking %s names order %s, expected %s", bookingID, cb.OrderID, record.ProviderOrderID)
		return c.settle(ctx, record, payment_models.StatusFailed, cb.PaymentID, "order mismatch", key)
	case !c.Gateway.VerifyPaymentSignature(record.ProviderOrderID, cb.PaymentID, cb.Signature):
		logger.WarnLogger.Warnf("Invalid payment signature for booking %s", bookingID)
		return c.settle(ctx, record, payment_models.StatusFailed, cb.PaymentID, "signature verification failed", key)
	default:
		return c.settle(ctx, record, payment_models.StatusVerified, cb.PaymentID, "", key)
	}
}

// ApplyWebhook authenticates and applies a provider webhook. Events that do
// not settle a payment come back as Pending.
func (c *Coordinator) ApplyWebhook(ctx context.Context, body []byte, signature string) (*Verification, error) {
	if !c.Gateway.VerifyWebhookSignature(body, signature) {
		logger.WarnLogger.Warn("Rejected webhook with invalid signature")
		return nil, ErrInvalidWebhookSignature
	}
	event, err := c.Gateway.ParseWebhook(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse webhook: %w", err)
	}

	record, err := c.store.GetByOrder(ctx, event.OrderID)
	if err != nil {
		return nil, err
	}

	key := replayKey("webhook", string(body))
	if v, ok := c.lookupReplay(ctx, key, record); ok {
		return v, nil
	}
	if record.Status != payment_models.StatusInitiated {
		return &Verification{Outcome: outcomeOf(record.Status), Record: record, Replayed: true}, nil
	}

	switch event.Event {
	case EventPaymentCaptured, EventOrderPaid:
		return c.settle(ctx, record, payment_models.StatusVerified, event.PaymentID, "", key)
	case EventPaymentFailed:
		return c.settle(ctx, record, payment_models.StatusFailed, event.PaymentID, event.ErrorDescription, key)
	default:
		logger.InfoLogger.Infof("Ignoring webhook event %s for order %s", event.Event, event.OrderID)
		return &Verification{Outcome: OutcomePending, Record: record}, nil
	}
}

// Cancel fails an open payment so a late callback cannot verify it. Verified
// payments are returned untouched; a booking without a payment is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (*payment_models.PaymentRecord, error) {
	record, err := c.store.GetByBooking(ctx, bookingID)
	if errors.Is(err, shared_models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if record.Status != payment_models.StatusInitiated {
		return record, nil
	}

	updated, err := c.store.Settle(ctx, bookingID, payment_models.StatusFailed, "", reason, c.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return c.store.GetByBooking(ctx, bookingID)
	}
	logger.InfoLogger.Infof("Payment for booking %s cancelled: %s", bookingID, reason)
	return updated, nil
}

func (c *Coordinator) lookupReplay(ctx context.Context, key string, record *payment_models.PaymentRecord) (*Verification, bool) {
	outcome, ok, err := c.replay.Lookup(ctx, key)
	if err != nil {
		logger.WarnLogger.Warnf("Replay cache lookup failed, verifying from store: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	logger.InfoLogger.Infof("Replayed verification for booking %s: %s", record.BookingID, outcome)
	return &Verification{Outcome: outcome, Record: record, Replayed: true}, true
}

func (c *Coordinator) settle(ctx context.Context, record *payment_models.PaymentRecord, to payment_models.Status, paymentID, reason, key string) (*Verification, error) {
	updated, err := c.store.Settle(ctx, record.BookingID, to, paymentID, reason, c.now())
	if err != nil {
		return nil, err
	}

	v := &Verification{Record: updated}
	if updated == nil {
		// Lost the race to another delivery; report what it decided.
		current, err := c.store.GetByBooking(ctx, record.BookingID)
		if err != nil {
			return nil, err
		}
		v.Record = current
		v.Replayed = true
	}
	v.Outcome = outcomeOf(v.Record.Status)

	if err := c.replay.Remember(ctx, key, v.Outcome); err != nil {
		logger.WarnLogger.Warnf("Failed to remember verification for booking %s: %v", record.BookingID, err)
	}
	logger.InfoLogger.Infof("Payment for booking %s settled as %s", record.BookingID, v.Outcome)
	return v, nil
}
