package booking

import (
	"context"
	"errors"

	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/shared_models"
)

// SweepReport summarises one expiry pass.
type SweepReport struct {
	Expired       int `json:"expired"`
	Confirmed     int `json:"confirmed"`
	ReleasedSeats int `json:"released_seats"`
}

// SweepExpired closes every open attempt whose hold has lapsed and then
// returns lapsed seats to the pool. An attempt whose payment was verified
// before the sweep reached it is confirmed instead, if its seats are still
// held.
func (o *Orchestrator) SweepExpired(ctx context.Context) (*SweepReport, error) {
	now := o.now()
	report := &SweepReport{}

	attempts, err := o.ledger.ListExpiring(ctx, now, o.settings.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if o.expire(ctx, attempt) {
			report.Confirmed++
		} else {
			report.Expired++
		}
	}

	released, err := o.inventory.SweepExpired(ctx, now)
	if err != nil {
		logger.ErrorLogger.Errorf("Seat sweep failed: %v", err)
		return report, err
	}
	report.ReleasedSeats = len(released)

	if len(attempts) > 0 || len(released) > 0 {
		logger.InfoLogger.Infof("Sweep at %s: %d expired, %d confirmed, %d seats released",
			now.Format("15:04:05"), report.Expired, report.Confirmed, report.ReleasedSeats)
	}
	return report, nil
}

// expire ends an attempt whose hold lapsed. It reports true when the attempt
// turned out to be paid and was confirmed.
func (o *Orchestrator) expire(ctx context.Context, attempt *booking_models.BookingAttempt) bool {
	if attempt.Status == booking_models.StatusPendingPayment {
		pctx, cancel := withTimeout(ctx, o.settings.PaymentTimeout)
		record, err := o.payments.Cancel(pctx, attempt.ID, shared_models.ReasonSessionExpired)
		cancel()
		if err != nil {
			logger.ErrorLogger.Errorf("Failed to cancel payment for expiring attempt %s: %v", attempt.ID, err)
			return false
		}
		if record != nil && record.Status == paymentVerified {
			confirmed, err := o.confirm(ctx, attempt)
			return err == nil && confirmed.Status == booking_models.StatusConfirmed
		}
	}

	_, err := o.close(ctx, attempt, booking_models.StatusExpired, shared_models.ReasonSessionExpired)
	if err != nil && !errors.Is(err, shared_models.ErrInvalidTransition) {
		logger.ErrorLogger.Errorf("Failed to expire attempt %s: %v", attempt.ID, err)
	}
	return false
}
