package booking

import (
	"context"
	"errors"
	"time"

	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/payment_models"
	"github.com/joy095/gobus/models/seat_models"
	"github.com/joy095/gobus/models/shared_models"
)

// RecoveryReport summarises one recovery pass.
type RecoveryReport struct {
	Held      int `json:"held"`
	Abandoned int `json:"abandoned"`
	Confirmed int `json:"confirmed"`
	Declined  int `json:"declined"`
	Ticketed  int `json:"ticketed"`
}

// Recover finishes attempts a crashed worker left mid-flight. Only attempts
// untouched for RecoveryGrace are considered so live requests are not raced.
func (o *Orchestrator) Recover(ctx context.Context) (*RecoveryReport, error) {
	now := o.now()
	before := now.Add(-o.settings.RecoveryGrace)
	report := &RecoveryReport{}

	requested, err := o.ledger.ListStale(ctx, []booking_models.Status{booking_models.StatusRequested}, before, o.settings.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, attempt := range requested {
		if o.recoverRequested(ctx, attempt, now) {
			report.Held++
		} else {
			report.Abandoned++
		}
	}

	pending, err := o.ledger.ListStale(ctx, []booking_models.Status{booking_models.StatusPendingPayment}, before, o.settings.BatchSize)
	if err != nil {
		return report, err
	}
	for _, attempt := range pending {
		record, err := o.payments.Get(ctx, attempt.ID)
		if err != nil {
			if !errors.Is(err, shared_models.ErrNotFound) {
				logger.ErrorLogger.Errorf("Recovery could not load payment for attempt %s: %v", attempt.ID, err)
			}
			continue
		}
		switch record.Status {
		case payment_models.StatusVerified:
			if confirmed, err := o.confirm(ctx, attempt); err == nil && confirmed.Status == booking_models.StatusConfirmed {
				report.Confirmed++
			}
		case payment_models.StatusFailed:
			if _, err := o.abort(ctx, attempt, shared_models.ReasonPaymentDeclined); err == nil {
				report.Declined++
			}
		}
	}

	lookback := o.settings.TicketLookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	confirmed, err := o.ledger.ListUpdatedSince(ctx, []booking_models.Status{booking_models.StatusConfirmed}, now.Add(-lookback), o.settings.BatchSize)
	if err != nil {
		return report, err
	}
	for _, attempt := range confirmed {
		if _, err := o.tickets.Get(ctx, attempt.ID); !errors.Is(err, shared_models.ErrNotFound) {
			continue
		}
		if _, err := o.issueTicket(ctx, attempt); err != nil {
			logger.ErrorLogger.Errorf("Recovery could not issue ticket for attempt %s: %v", attempt.ID, err)
			continue
		}
		report.Ticketed++
	}

	if *report != (RecoveryReport{}) {
		logger.InfoLogger.Infof("Recovery pass: %+v", *report)
	}
	return report, nil
}

// recoverRequested moves a stale Requested attempt to Held when it still owns
// a live hold on every seat, and cancels it otherwise.
func (o *Orchestrator) recoverRequested(ctx context.Context, attempt *booking_models.BookingAttempt, now time.Time) bool {
	seats, err := o.inventory.HeldBy(ctx, attempt.ID)
	if err != nil {
		logger.ErrorLogger.Errorf("Recovery could not read holds for attempt %s: %v", attempt.ID, err)
		return false
	}

	live := make(map[string]bool, len(seats))
	var expiresAt time.Time
	for _, s := range seats {
		if s.TripID != attempt.TripID || s.State != seat_models.StateHeld || !s.LiveHoldBy(attempt.ID, now) {
			continue
		}
		live[s.SeatID] = true
		if expiresAt.IsZero() || s.HoldExpiresAt.Before(expiresAt) {
			expiresAt = s.HoldExpiresAt
		}
	}

	complete := len(attempt.SeatIDs) > 0
	for _, id := range attempt.SeatIDs {
		if !live[id] {
			complete = false
			break
		}
	}

	if complete {
		_, err := o.ledger.Transition(ctx, attempt.ID, booking_models.Transition{
			From:          booking_models.StatusRequested,
			To:            booking_models.StatusHeld,
			HoldExpiresAt: &expiresAt,
		})
		if err == nil {
			logger.InfoLogger.Infof("Recovered attempt %s to held", attempt.ID)
			return true
		}
		logger.WarnLogger.Warnf("Recovery could not mark attempt %s held: %v", attempt.ID, err)
		return false
	}

	if _, err := o.abort(ctx, attempt, shared_models.ReasonAbandoned); err != nil {
		logger.WarnLogger.Warnf("Recovery could not abandon attempt %s: %v", attempt.ID, err)
	}
	return false
}
