package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/seat_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/models/ticket_models"
	"github.com/joy095/gobus/models/trip_models"
	"github.com/joy095/gobus/services/catalog"
	"github.com/joy095/gobus/services/holds"
	"github.com/joy095/gobus/services/inventory"
	"github.com/joy095/gobus/services/ledger"
	"github.com/joy095/gobus/services/payments"
	"github.com/joy095/gobus/services/tickets"
	"github.com/stretchr/testify/require"
)

const holdTTL = 10 * time.Minute

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeGateway times out on its first timeouts order calls and accepts
// signatures of the form "ok:<order>|<payment>".
type fakeGateway struct {
	timeouts int32
	calls    atomic.Int32
}

func okSignature(orderID, paymentID string) string { return "ok:" + orderID + "|" + paymentID }

func (g *fakeGateway) Name() string  { return "fake" }
func (g *fakeGateway) KeyID() string { return "fake_key" }

func (g *fakeGateway) CreateOrder(ctx context.Context, req payments.OrderRequest) (*payments.Order, error) {
	n := g.calls.Add(1)
	if n <= atomic.LoadInt32(&g.timeouts) {
		return nil, fmt.Errorf("connection reset: %w", payments.ErrGatewayUnavailable)
	}
	return &payments.Order{ID: fmt.Sprintf("order_%d", n), Amount: req.Amount, Currency: req.Currency}, nil
}

func (g *fakeGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return signature == okSignature(orderID, paymentID)
}

func (g *fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return signature == "webhook-ok"
}

func (g *fakeGateway) ParseWebhook(body []byte) (*payments.WebhookEvent, error) {
	var e payments.WebhookEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

type countingNotifier struct {
	mu        sync.Mutex
	confirmed []uuid.UUID
	closed    []uuid.UUID
}

func (n *countingNotifier) BookingConfirmed(ctx context.Context, attempt *booking_models.BookingAttempt, trip *trip_models.Trip, ticket *ticket_models.Ticket) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, attempt.ID)
	return nil
}

func (n *countingNotifier) BookingClosed(ctx context.Context, attempt *booking_models.BookingAttempt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, attempt.ID)
	return nil
}

func (n *countingNotifier) confirmedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.confirmed)
}

type harness struct {
	clock     *testClock
	inventory *inventory.MemoryInventory
	ledger    *ledger.Ledger
	payments  *payments.Coordinator
	tickets   *tickets.Issuer
	gateway   *fakeGateway
	notifier  *countingNotifier
	orch      *Orchestrator
	trip      *trip_models.Trip
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}

	trip := &trip_models.Trip{
		ID:          uuid.New(),
		BusName:     "Konkan Sleeper",
		BusNumber:   "MH-12-AB-9001",
		Origin:      "Pune",
		Destination: "Goa",
		DepartureAt: time.Date(2025, 5, 3, 22, 0, 0, 0, time.UTC),
		Currency:    "INR",
		Seats:       trip_models.StandardLayout(12, 4, 65000),
	}
	cat := catalog.NewMemoryCatalog()
	cat.AddTrip(trip)

	inv := inventory.NewMemoryInventory(clock.Now)
	inv.AddTrip(trip)

	h := &harness{
		clock:     clock,
		inventory: inv,
		ledger:    ledger.New(ledger.NewMemoryStore(), clock.Now),
		gateway:   &fakeGateway{},
		notifier:  &countingNotifier{},
		trip:      trip,
	}
	h.payments = payments.NewCoordinator(h.gateway, payments.NewMemoryStore(), payments.NewMemoryReplayCache(), clock.Now)
	h.tickets = tickets.NewIssuer(tickets.NewMemoryStore(), "test-ticket-secret", clock.Now)

	h.orch = New(Deps{
		Catalog:   cat,
		Inventory: inv,
		Holds:     holds.NewManager(inv, holdTTL, clock.Now),
		Ledger:    h.ledger,
		Payments:  h.payments,
		Tickets:   h.tickets,
		Notifier:  h.notifier,
	}, Settings{
		MaxSeatsPerBooking:   6,
		PaymentRetryLimit:    3,
		RetryInitialInterval: time.Millisecond,
		HoldTimeout:          time.Second,
		LedgerTimeout:        time.Second,
		PaymentTimeout:       time.Second,
		RecoveryGrace:        2 * time.Minute,
		TicketLookback:       24 * time.Hour,
		Currency:             "INR",
		MerchantName:         "GoBus",
	}, clock.Now)
	return h
}

func newCaller() shared_models.Caller {
	return shared_models.Caller{
		PassengerID: uuid.New(),
		Name:        "Meera Iyer",
		Email:       "meera@example.com",
		Phone:       "+919822222222",
	}
}

func (h *harness) request(seats ...string) Request {
	return Request{AttemptID: uuid.New(), TripID: h.trip.ID, SeatIDs: seats}
}

// held books seats up to Held for a fresh caller.
func (h *harness) held(t *testing.T, seats ...string) (shared_models.Caller, *booking_models.BookingAttempt) {
	t.Helper()
	caller := newCaller()
	attempt, _, err := h.orch.RequestBooking(context.Background(), caller, h.request(seats...))
	require.NoError(t, err)
	require.Equal(t, booking_models.StatusHeld, attempt.Status)
	return caller, attempt
}

// pending takes a fresh attempt through InitiatePayment.
func (h *harness) pending(t *testing.T, seats ...string) (shared_models.Caller, *booking_models.BookingAttempt, *Checkout) {
	t.Helper()
	caller, attempt := h.held(t, seats...)
	checkout, err := h.orch.InitiatePayment(context.Background(), caller, attempt.ID)
	require.NoError(t, err)
	return caller, attempt, checkout
}

func paidCallback(checkout *Checkout, paymentID string) payments.CheckoutCallback {
	return payments.CheckoutCallback{
		OrderID:   checkout.OrderID,
		PaymentID: paymentID,
		Signature: okSignature(checkout.OrderID, paymentID),
	}
}

func (h *harness) seat(t *testing.T, seatID string) seat_models.Seat {
	t.Helper()
	_, seats, err := h.orch.SeatMap(context.Background(), h.trip.ID)
	require.NoError(t, err)
	for _, s := range seats {
		if s.SeatID == seatID {
			return s
		}
	}
	t.Fatalf("seat %s not found", seatID)
	return seat_models.Seat{}
}

func (h *harness) attempt(t *testing.T, id uuid.UUID) *booking_models.BookingAttempt {
	t.Helper()
	a, err := h.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}
