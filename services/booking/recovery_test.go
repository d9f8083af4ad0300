package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/payment_models"
	"github.com/joy095/gobus/models/seat_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requested records an attempt the way a worker would right before it
// crashed: in the ledger, optionally with its seats held.
func (h *harness) requested(t *testing.T, withHold bool, seats ...string) *booking_models.BookingAttempt {
	t.Helper()
	ctx := context.Background()
	caller := newCaller()
	attempt, _, err := h.ledger.Create(ctx, &booking_models.BookingAttempt{
		ID:          uuid.New(),
		PassengerID: caller.PassengerID,
		TripID:      h.trip.ID,
		SeatIDs:     seats,
		Contact:     booking_models.Contact{Name: caller.Name, Email: caller.Email},
		TotalAmount: int64(len(seats)) * 65000,
		Currency:    "INR",
	})
	require.NoError(t, err)
	if withHold {
		_, err := h.inventory.TryHold(ctx, h.trip.ID, seats, attempt.ID, holdTTL)
		require.NoError(t, err)
	}
	return attempt
}

func TestRecoverRequestedWithLiveHold(t *testing.T) {
	h := newHarness(t)
	attempt := h.requested(t, true, "2A", "2B")

	h.clock.Advance(3 * time.Minute)
	report, err := h.orch.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Held)

	recovered := h.attempt(t, attempt.ID)
	assert.Equal(t, booking_models.StatusHeld, recovered.Status)
	require.NotNil(t, recovered.HoldExpiresAt)
	assert.True(t, recovered.HoldExpiresAt.Equal(h.seat(t, "2A").HoldExpiresAt))
}

func TestRecoverRequestedWithoutHoldIsAbandoned(t *testing.T) {
	h := newHarness(t)
	partial := h.requested(t, false, "3C", "3D")
	_, err := h.inventory.TryHold(context.Background(), h.trip.ID, []string{"3C"}, partial.ID, holdTTL)
	require.NoError(t, err)

	h.clock.Advance(3 * time.Minute)
	report, err := h.orch.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Abandoned)

	abandoned := h.attempt(t, partial.ID)
	assert.Equal(t, booking_models.StatusCancelled, abandoned.Status)
	assert.Equal(t, shared_models.ReasonAbandoned, abandoned.Reason)
	assert.Equal(t, seat_models.StateAvailable, h.seat(t, "3C").State)
}

func TestRecoverLeavesFreshAttemptsAlone(t *testing.T) {
	h := newHarness(t)
	attempt := h.requested(t, false, "4A")

	h.clock.Advance(30 * time.Second)
	report, err := h.orch.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{}, *report)
	assert.Equal(t, booking_models.StatusRequested, h.attempt(t, attempt.ID).Status)
}

func TestRecoverConfirmsVerifiedPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, attempt, checkout := h.pending(t, "5A")

	_, err := h.payments.Verify(ctx, attempt.ID, paidCallback(checkout, "pay_orphan"))
	require.NoError(t, err)

	h.clock.Advance(3 * time.Minute)
	report, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Confirmed)
	assert.Equal(t, 0, report.Ticketed, "confirming issues the ticket directly")

	assert.Equal(t, booking_models.StatusConfirmed, h.attempt(t, attempt.ID).Status)
	_, err = h.orch.GetTicket(ctx, caller, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.notifier.confirmedCount())
}

func TestRecoverIssuesMissingTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	attempt := h.requested(t, true, "6A")

	expires := h.clock.Now().Add(holdTTL)
	for _, step := range []booking_models.Transition{
		{From: booking_models.StatusRequested, To: booking_models.StatusHeld, HoldExpiresAt: &expires},
		{From: booking_models.StatusHeld, To: booking_models.StatusPendingPayment},
		{From: booking_models.StatusPendingPayment, To: booking_models.StatusConfirmed},
	} {
		_, err := h.ledger.Transition(ctx, attempt.ID, step)
		require.NoError(t, err)
	}
	require.NoError(t, h.inventory.Commit(ctx, h.trip.ID, attempt.SeatIDs, attempt.ID))

	h.clock.Advance(time.Minute)
	report, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ticketed)

	ticket, err := h.tickets.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"6A"}, ticket.Payload.Seats)

	report, err = h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Ticketed)
}

func TestSweepFreesOrphanedHolds(t *testing.T) {
	h := newHarness(t)
	_, err := h.inventory.TryHold(context.Background(), h.trip.ID, []string{"7C", "7D"}, uuid.New(), holdTTL)
	require.NoError(t, err)

	h.clock.Advance(holdTTL)
	report, err := h.orch.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.ReleasedSeats)
	assert.Equal(t, 0, report.Expired)
	assert.Equal(t, seat_models.StateAvailable, h.seat(t, "7C").State)
}

func TestSweepExpiresPaidAttemptWithLostSeats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, attempt, checkout := h.pending(t, "8C")

	_, err := h.payments.Verify(ctx, attempt.ID, paidCallback(checkout, "pay_lost"))
	require.NoError(t, err)

	h.clock.Advance(holdTTL + time.Second)
	_, err = h.orch.SweepExpired(ctx)
	require.NoError(t, err)

	expired := h.attempt(t, attempt.ID)
	assert.Equal(t, booking_models.StatusExpired, expired.Status)
	record, err := h.payments.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, payment_models.StatusVerified, record.Status, "a verified payment is kept for refund")
	assert.Equal(t, seat_models.StateAvailable, h.seat(t, "8C").State)
}
