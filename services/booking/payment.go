package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/payment_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/models/ticket_models"
	"github.com/joy095/gobus/services/payments"
)

const paymentVerified = payment_models.StatusVerified

// Checkout is what a client needs to open the provider's payment page.
type Checkout struct {
	BookingID   uuid.UUID         `json:"booking_id"`
	Provider    string            `json:"provider"`
	KeyID       string            `json:"key_id"`
	OrderID     string            `json:"order_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Prefill     map[string]string `json:"prefill"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

func (o *Orchestrator) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if o.settings.RetryInitialInterval > 0 {
		b.InitialInterval = o.settings.RetryInitialInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.settings.PaymentRetryLimit-1)), ctx)
}

// InitiatePayment opens the provider order for a held attempt. PendingPayment
// is recorded before the provider is called; provider timeouts are retried
// with the same booking id, and exhausting the retries cancels the attempt.
func (o *Orchestrator) InitiatePayment(ctx context.Context, caller shared_models.Caller, id uuid.UUID) (*Checkout, error) {
	attempt, err := o.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	switch attempt.Status {
	case booking_models.StatusHeld:
		if attempt.HoldLapsed(o.now()) {
			o.expire(ctx, attempt)
			return nil, fmt.Errorf("attempt %s: %w", id, shared_models.ErrHoldExpired)
		}
		lctx, cancel := withTimeout(ctx, o.settings.LedgerTimeout)
		attempt, err = o.ledger.Transition(lctx, id, booking_models.Transition{
			From: booking_models.StatusHeld,
			To:   booking_models.StatusPendingPayment,
		})
		cancel()
		if err != nil {
			return nil, err
		}
	case booking_models.StatusPendingPayment:
		if attempt.HoldLapsed(o.now()) {
			if o.expire(ctx, attempt) {
				return nil, fmt.Errorf("attempt %s: %w", id, shared_models.ErrAlreadyPaid)
			}
			return nil, fmt.Errorf("attempt %s: %w", id, shared_models.ErrHoldExpired)
		}
	case booking_models.StatusConfirmed:
		return nil, fmt.Errorf("attempt %s: %w", id, shared_models.ErrAlreadyPaid)
	default:
		return nil, o.terminalError(attempt)
	}

	var record *payment_models.PaymentRecord
	calls := 0
	op := func() error {
		calls++
		pctx, cancel := withTimeout(ctx, o.settings.PaymentTimeout)
		defer cancel()
		r, err := o.payments.Initiate(pctx, id, attempt.TotalAmount, attempt.Currency)
		if err != nil {
			if errors.Is(err, shared_models.ErrPaymentTimeout) {
				return err
			}
			return backoff.Permanent(err)
		}
		record = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnLogger.Warnf("Payment initiation for attempt %s failed (call %d of %d), retrying in %s: %v",
			id, calls, o.settings.PaymentRetryLimit, wait, err)
	}

	if err := backoff.RetryNotify(op, o.newBackOff(ctx), notify); err != nil {
		return nil, o.failInitiate(ctx, attempt, err)
	}

	if record.Status == paymentVerified {
		if _, err := o.confirm(ctx, attempt); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("attempt %s: %w", id, shared_models.ErrAlreadyPaid)
	}

	return &Checkout{
		BookingID:   attempt.ID,
		Provider:    o.payments.Gateway.Name(),
		KeyID:       o.payments.Gateway.KeyID(),
		OrderID:     record.ProviderOrderID,
		Amount:      record.Amount,
		Currency:    record.Currency,
		Name:        o.settings.MerchantName,
		Description: fmt.Sprintf("%d seat(s): %v", len(attempt.SeatIDs), attempt.SeatIDs),
		Prefill: map[string]string{
			"name":    attempt.Contact.Name,
			"email":   attempt.Contact.Email,
			"contact": attempt.Contact.Phone,
		},
		ExpiresAt: attempt.HoldExpiresAt,
	}, nil
}

// failInitiate compensates a PendingPayment attempt whose order could not be
// created. A caller that simply went away leaves the attempt for the sweep.
func (o *Orchestrator) failInitiate(ctx context.Context, attempt *booking_models.BookingAttempt, err error) error {
	var reason string
	switch {
	case errors.Is(err, shared_models.ErrPaymentTimeout):
		reason = shared_models.ReasonPaymentTimedOut
	case errors.Is(err, shared_models.ErrPaymentFailed):
		reason = shared_models.ReasonPaymentDeclined
	default:
		logger.WarnLogger.Warnf("Payment initiation for attempt %s interrupted: %v", attempt.ID, err)
		return err
	}

	logger.ErrorLogger.Errorf("Giving up on payment for attempt %s: %v", attempt.ID, err)
	if _, cerr := o.abort(ctx, attempt, reason); cerr != nil {
		logger.ErrorLogger.Errorf("Failed to cancel attempt %s after payment failure: %v", attempt.ID, cerr)
	}
	return err
}

// VerifyPayment applies the checkout callback for the caller's attempt.
func (o *Orchestrator) VerifyPayment(ctx context.Context, caller shared_models.Caller, id uuid.UUID, cb payments.CheckoutCallback) (*booking_models.BookingAttempt, error) {
	attempt, err := o.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	switch attempt.Status {
	case booking_models.StatusConfirmed:
		return attempt, nil
	case booking_models.StatusPendingPayment:
	default:
		if attempt.Status.Terminal() && cb.PaymentID != "" {
			logger.ErrorLogger.Errorf("Payment %s arrived for %s attempt %s and may need a refund", cb.PaymentID, attempt.Status, id)
		}
		return nil, o.terminalError(attempt)
	}

	pctx, cancel := withTimeout(ctx, o.settings.PaymentTimeout)
	v, err := o.payments.Verify(pctx, id, cb)
	cancel()
	if err != nil {
		return nil, err
	}
	return o.settle(ctx, attempt, v)
}

// HandleWebhook applies a provider notification. It authenticates itself and
// needs no caller.
func (o *Orchestrator) HandleWebhook(ctx context.Context, body []byte, signature string) (*booking_models.BookingAttempt, error) {
	pctx, cancel := withTimeout(ctx, o.settings.PaymentTimeout)
	v, err := o.payments.ApplyWebhook(pctx, body, signature)
	cancel()
	if err != nil {
		return nil, err
	}

	attempt, err := o.ledger.Get(ctx, v.Record.BookingID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != booking_models.StatusPendingPayment {
		if v.Outcome == payments.OutcomeVerified && attempt.Status.Terminal() && attempt.Status != booking_models.StatusConfirmed {
			logger.ErrorLogger.Errorf("Verified payment %s for %s attempt %s needs a refund", v.Record.ProviderPaymentID, attempt.Status, attempt.ID)
		}
		return attempt, nil
	}
	attempt, err = o.settle(ctx, attempt, v)
	if errors.Is(err, shared_models.ErrPaymentFailed) {
		// The provider's failure is recorded; the webhook itself was handled.
		return attempt, nil
	}
	return attempt, err
}

func (o *Orchestrator) settle(ctx context.Context, attempt *booking_models.BookingAttempt, v *payments.Verification) (*booking_models.BookingAttempt, error) {
	switch v.Outcome {
	case payments.OutcomeVerified:
		return o.confirm(ctx, attempt)
	case payments.OutcomeFailed:
		closed, err := o.abort(ctx, attempt, shared_models.ReasonPaymentDeclined)
		if err != nil {
			current, gerr := o.ledger.Get(ctx, attempt.ID)
			if gerr != nil {
				return nil, err
			}
			closed = current
		}
		return closed, fmt.Errorf("attempt %s: %s: %w", attempt.ID, v.Record.FailureReason, shared_models.ErrPaymentFailed)
	default:
		return attempt, nil
	}
}

// confirm books the seats of an attempt whose payment is verified. If the
// seats were lost the attempt ends Expired and the payment needs a refund.
// Only the caller that wins the Confirmed transition issues the ticket.
func (o *Orchestrator) confirm(ctx context.Context, attempt *booking_models.BookingAttempt) (*booking_models.BookingAttempt, error) {
	if attempt.Status == booking_models.StatusConfirmed {
		return attempt, nil
	}

	hctx, cancel := withTimeout(ctx, o.settings.HoldTimeout)
	err := o.inventory.Commit(hctx, attempt.TripID, attempt.SeatIDs, attempt.ID)
	cancel()
	if err != nil {
		if !errors.Is(err, shared_models.ErrHoldExpired) && !errors.Is(err, shared_models.ErrNotHeldByHolder) {
			// Transient; recovery confirms it later from the verified payment.
			logger.ErrorLogger.Errorf("Failed to commit seats for paid attempt %s: %v", attempt.ID, err)
			return nil, err
		}
		logger.ErrorLogger.Errorf("Seats for paid attempt %s were lost (%v); payment needs a refund", attempt.ID, err)
		expired, cerr := o.close(ctx, attempt, booking_models.StatusExpired, shared_models.ReasonSessionExpired)
		if cerr != nil {
			return o.afterLostTransition(ctx, attempt, cerr)
		}
		return expired, fmt.Errorf("attempt %s: %w", attempt.ID, shared_models.ErrHoldExpired)
	}

	lctx, cancel := withTimeout(ctx, o.settings.LedgerTimeout)
	confirmed, err := o.ledger.Transition(lctx, attempt.ID, booking_models.Transition{
		From: attempt.Status,
		To:   booking_models.StatusConfirmed,
	})
	cancel()
	if err != nil {
		return o.afterLostTransition(ctx, attempt, err)
	}

	if _, err := o.issueTicket(ctx, confirmed); err != nil {
		logger.ErrorLogger.Errorf("Ticket issuance for attempt %s failed, recovery will retry: %v", confirmed.ID, err)
	}
	return confirmed, nil
}

// afterLostTransition reports the state a concurrent worker left behind.
func (o *Orchestrator) afterLostTransition(ctx context.Context, attempt *booking_models.BookingAttempt, err error) (*booking_models.BookingAttempt, error) {
	current, gerr := o.ledger.Get(ctx, attempt.ID)
	if gerr != nil {
		return nil, err
	}
	switch current.Status {
	case booking_models.StatusConfirmed:
		return current, nil
	case booking_models.StatusExpired:
		return current, fmt.Errorf("attempt %s: %w", attempt.ID, shared_models.ErrHoldExpired)
	default:
		return current, err
	}
}

// issueTicket creates the attempt's ticket and notifies the passenger the
// first time it is created.
func (o *Orchestrator) issueTicket(ctx context.Context, attempt *booking_models.BookingAttempt) (*ticket_models.Ticket, error) {
	trip, err := o.catalog.GetTrip(ctx, attempt.TripID)
	if err != nil {
		return nil, err
	}
	ticket, created, err := o.tickets.Issue(ctx, attempt, trip)
	if err != nil {
		return nil, err
	}
	if created {
		if err := o.notifier.BookingConfirmed(ctx, attempt, trip, ticket); err != nil {
			logger.WarnLogger.Warnf("Failed to send ticket for booking %s: %v", attempt.ID, err)
		}
	}
	return ticket, nil
}
