package booking

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/payment_models"
	"github.com/joy095/gobus/models/seat_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/services/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPathTwoSeats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	caller, attempt, checkout := h.pending(t, "3B", "3A")
	assert.Equal(t, []string{"3A", "3B"}, attempt.SeatIDs)
	assert.Equal(t, int64(130000), checkout.Amount)
	assert.Equal(t, "fake_key", checkout.KeyID)
	assert.Equal(t, booking_models.StatusPendingPayment, h.attempt(t, attempt.ID).Status)

	confirmed, err := h.orch.VerifyPayment(ctx, caller, attempt.ID, paidCallback(checkout, "pay_happy"))
	require.NoError(t, err)
	assert.Equal(t, booking_models.StatusConfirmed, confirmed.Status)

	for _, id := range []string{"3A", "3B"} {
		s := h.seat(t, id)
		assert.Equal(t, seat_models.StateBooked, s.State)
		assert.Equal(t, attempt.ID, s.HolderID)
	}

	ticket, err := h.orch.GetTicket(ctx, caller, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"3A", "3B"}, ticket.Payload.Seats)
	assert.Equal(t, "Pune", ticket.Payload.Origin)
	assert.Equal(t, 1, h.notifier.confirmedCount())
}

func TestDuplicateRequestDoesNotReserveTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller := newCaller()
	req := h.request("5C")

	first, created, err := h.orch.RequestBooking(ctx, caller, req)
	require.NoError(t, err)
	assert.True(t, created)

	h.clock.Advance(time.Minute)
	again, created, err := h.orch.RequestBooking(ctx, caller, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, booking_models.StatusHeld, again.Status)
	assert.Equal(t, first.HoldExpiresAt, again.HoldExpiresAt, "the replay does not take a fresh hold")

	seats, err := h.inventory.HeldBy(ctx, req.AttemptID)
	require.NoError(t, err)
	assert.Len(t, seats, 1)

	other := req
	other.SeatIDs = []string{"5D"}
	_, _, err = h.orch.RequestBooking(ctx, caller, other)
	assert.ErrorIs(t, err, shared_models.ErrLedgerConflict)
}

func TestDoubleVerifyIssuesOneTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, attempt, checkout := h.pending(t, "7A")
	cb := paidCallback(checkout, "pay_twice")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := h.orch.VerifyPayment(ctx, caller, attempt.ID, cb)
			if assert.NoError(t, err) {
				assert.Equal(t, booking_models.StatusConfirmed, a.Status)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.notifier.confirmedCount())
	first, err := h.orch.GetTicket(ctx, caller, attempt.ID)
	require.NoError(t, err)

	_, err = h.orch.VerifyPayment(ctx, caller, attempt.ID, cb)
	require.NoError(t, err)
	second, err := h.orch.GetTicket(ctx, caller, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestHoldExpiresAfterTTL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, attempt, checkout := h.pending(t, "9A", "9B")

	h.clock.Advance(holdTTL + time.Second)
	report, err := h.orch.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	expired := h.attempt(t, attempt.ID)
	assert.Equal(t, booking_models.StatusExpired, expired.Status)
	assert.Equal(t, shared_models.ReasonSessionExpired, expired.Reason)
	assert.Equal(t, seat_models.StateAvailable, h.seat(t, "9A").State)

	record, err := h.payments.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, payment_models.StatusFailed, record.Status)

	_, err = h.orch.VerifyPayment(ctx, caller, attempt.ID, paidCallback(checkout, "pay_late"))
	assert.ErrorIs(t, err, shared_models.ErrHoldExpired)
	assert.Equal(t, 0, h.notifier.confirmedCount())
}

func TestVerifyAfterLapseBeforeSweepExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, attempt, checkout := h.pending(t, "2D")

	h.clock.Advance(holdTTL + time.Second)
	closed, err := h.orch.VerifyPayment(ctx, caller, attempt.ID, paidCallback(checkout, "pay_slow"))
	assert.ErrorIs(t, err, shared_models.ErrHoldExpired)
	require.NotNil(t, closed)
	assert.Equal(t, booking_models.StatusExpired, closed.Status)

	_, err = h.tickets.Get(ctx, attempt.ID)
	assert.ErrorIs(t, err, shared_models.ErrNotFound)
}

func TestReinitiateAfterLapseExpiresAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, attempt, _ := h.pending(t, "4C")

	h.clock.Advance(holdTTL + time.Second)
	_, err := h.orch.InitiatePayment(ctx, caller, attempt.ID)
	assert.ErrorIs(t, err, shared_models.ErrHoldExpired)

	closed := h.attempt(t, attempt.ID)
	assert.Equal(t, booking_models.StatusExpired, closed.Status)
	assert.Equal(t, shared_models.ReasonSessionExpired, closed.Reason)

	held, err := h.inventory.HeldBy(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Empty(t, held)

	record, err := h.payments.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, payment_models.StatusFailed, record.Status)
}

func TestSimultaneousRequestsForSameSeat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	type result struct {
		req     Request
		attempt *booking_models.BookingAttempt
		err     error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i := range results {
		results[i].req = h.request("12A")
		wg.Add(1)
		go func(r *result) {
			defer wg.Done()
			r.attempt, _, r.err = h.orch.RequestBooking(ctx, newCaller(), r.req)
		}(&results[i])
	}
	wg.Wait()

	var winners, losers int
	for _, r := range results {
		if r.err == nil {
			winners++
			assert.Equal(t, booking_models.StatusHeld, r.attempt.Status)
			continue
		}
		losers++
		assert.ErrorIs(t, r.err, shared_models.ErrSeatConflict)
		lost := h.attempt(t, r.req.AttemptID)
		assert.Equal(t, booking_models.StatusCancelled, lost.Status)
		assert.Equal(t, shared_models.ReasonSeatsTaken, lost.Reason)
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)
}

func TestPaymentDeclinedCancelsAndFreesSeats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, attempt, checkout := h.pending(t, "4C")

	closed, err := h.orch.VerifyPayment(ctx, caller, attempt.ID, payments.CheckoutCallback{
		OrderID:          checkout.OrderID,
		ErrorCode:        "BAD_REQUEST_ERROR",
		ErrorDescription: "Payment failed due to insufficient funds",
	})
	assert.ErrorIs(t, err, shared_models.ErrPaymentFailed)
	require.NotNil(t, closed)
	assert.Equal(t, booking_models.StatusCancelled, closed.Status)
	assert.Equal(t, shared_models.ReasonPaymentDeclined, closed.Reason)
	assert.Equal(t, seat_models.StateAvailable, h.seat(t, "4C").State)

	_, err = h.orch.GetTicket(ctx, caller, attempt.ID)
	assert.ErrorIs(t, err, shared_models.ErrNotFound)
	assert.Equal(t, 0, h.notifier.confirmedCount())
}

func TestPaymentTimeoutRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)
	h.gateway.timeouts = 2
	caller, attempt := h.held(t, "6B")

	checkout, err := h.orch.InitiatePayment(context.Background(), caller, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, "order_3", checkout.OrderID)
	assert.Equal(t, int32(3), h.gateway.calls.Load())
}

func TestPaymentTimeoutRetryIsBounded(t *testing.T) {
	h := newHarness(t)
	h.gateway.timeouts = 100
	caller, attempt := h.held(t, "6C", "6D")

	_, err := h.orch.InitiatePayment(context.Background(), caller, attempt.ID)
	assert.ErrorIs(t, err, shared_models.ErrPaymentTimeout)
	assert.Equal(t, int32(3), h.gateway.calls.Load())

	cancelled := h.attempt(t, attempt.ID)
	assert.Equal(t, booking_models.StatusCancelled, cancelled.Status)
	assert.Equal(t, shared_models.ReasonPaymentTimedOut, cancelled.Reason)
	assert.Equal(t, seat_models.StateAvailable, h.seat(t, "6C").State)
}

func TestUserCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, attempt, _ := h.pending(t, "8A")

	cancelled, err := h.orch.Cancel(ctx, caller, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking_models.StatusCancelled, cancelled.Status)
	assert.Equal(t, shared_models.ReasonUserCancelled, cancelled.Reason)
	assert.Equal(t, seat_models.StateAvailable, h.seat(t, "8A").State)

	record, err := h.payments.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, payment_models.StatusFailed, record.Status)

	again, err := h.orch.Cancel(ctx, caller, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking_models.StatusCancelled, again.Status)
}

func TestCancelAfterPaymentConfirms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, attempt, checkout := h.pending(t, "8B")

	// The payment lands directly, as a webhook processed elsewhere would.
	_, err := h.payments.Verify(ctx, attempt.ID, paidCallback(checkout, "pay_race"))
	require.NoError(t, err)

	a, err := h.orch.Cancel(ctx, caller, attempt.ID)
	assert.ErrorIs(t, err, shared_models.ErrAlreadyPaid)
	require.NotNil(t, a)
	assert.Equal(t, booking_models.StatusConfirmed, a.Status)
	assert.Equal(t, seat_models.StateBooked, h.seat(t, "8B").State)
}

func TestOtherPassengersCannotSeeAttempt(t *testing.T) {
	h := newHarness(t)
	_, attempt := h.held(t, "1A")

	_, err := h.orch.GetBooking(context.Background(), newCaller(), attempt.ID)
	assert.ErrorIs(t, err, shared_models.ErrNotFound)
	_, err = h.orch.Cancel(context.Background(), newCaller(), attempt.ID)
	assert.ErrorIs(t, err, shared_models.ErrNotFound)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.orch.RequestBooking(ctx, newCaller(), h.request("1A", "1B", "1C", "1D", "2A", "2B", "2C"))
	assert.ErrorIs(t, err, shared_models.ErrValidation)

	_, _, err = h.orch.RequestBooking(ctx, newCaller(), h.request())
	assert.ErrorIs(t, err, shared_models.ErrValidation)

	req := h.request("99Z")
	_, _, err = h.orch.RequestBooking(ctx, newCaller(), req)
	assert.ErrorIs(t, err, shared_models.ErrValidation)

	_, _, err = h.orch.RequestBooking(ctx, newCaller(), Request{AttemptID: uuid.New(), TripID: uuid.New(), SeatIDs: []string{"1A"}})
	assert.ErrorIs(t, err, shared_models.ErrNotFound)
}

func TestExtendHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, attempt := h.held(t, "10A")

	h.clock.Advance(5 * time.Minute)
	extended, err := h.orch.ExtendHold(ctx, caller, attempt.ID)
	require.NoError(t, err)
	require.NotNil(t, extended.HoldExpiresAt)
	assert.True(t, extended.HoldExpiresAt.Equal(h.clock.Now().Add(holdTTL)))
	assert.True(t, h.seat(t, "10A").HoldExpiresAt.Equal(*extended.HoldExpiresAt))

	h.clock.Advance(holdTTL)
	_, err = h.orch.ExtendHold(ctx, caller, attempt.ID)
	assert.ErrorIs(t, err, shared_models.ErrHoldExpired)
	assert.Equal(t, booking_models.StatusExpired, h.attempt(t, attempt.ID).Status)
}

func TestWebhookConfirmsBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller, attempt, checkout := h.pending(t, "11C")

	body, err := json.Marshal(payments.WebhookEvent{Event: payments.EventPaymentCaptured, OrderID: checkout.OrderID, PaymentID: "pay_hook"})
	require.NoError(t, err)

	_, err = h.orch.HandleWebhook(ctx, body, "forged")
	assert.ErrorIs(t, err, payments.ErrInvalidWebhookSignature)

	a, err := h.orch.HandleWebhook(ctx, body, "webhook-ok")
	require.NoError(t, err)
	assert.Equal(t, booking_models.StatusConfirmed, a.Status)

	// The client's own callback arrives after the webhook.
	a, err = h.orch.VerifyPayment(ctx, caller, attempt.ID, paidCallback(checkout, "pay_hook"))
	require.NoError(t, err)
	assert.Equal(t, booking_models.StatusConfirmed, a.Status)
	assert.Equal(t, 1, h.notifier.confirmedCount())
}

func TestListBookings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller := newCaller()

	for _, seat := range []string{"1A", "1B"} {
		_, _, err := h.orch.RequestBooking(ctx, caller, h.request(seat))
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}
	_, _ = h.held(t, "1C")

	list, err := h.orch.ListBookings(ctx, caller, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"1B"}, list[0].SeatIDs)
}
