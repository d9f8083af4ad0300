package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/models/payment_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway signs with a readable scheme so tests can forge both valid and
// invalid callbacks.
type stubGateway struct {
	block       bool
	createErr   error
	orders      atomic.Int32
	verifyCalls atomic.Int32
}

func sign(orderID, paymentID string) string { return "sig:" + orderID + "|" + paymentID }

func (g *stubGateway) Name() string  { return "stub" }
func (g *stubGateway) KeyID() string { return "stub_key" }

func (g *stubGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.createErr != nil {
		return nil, g.createErr
	}
	n := g.orders.Add(1)
	return &Order{ID: fmt.Sprintf("order_%d_%s", n, req.Receipt[:8]), Amount: req.Amount, Currency: req.Currency}, nil
}

func (g *stubGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	g.verifyCalls.Add(1)
	return signature == sign(orderID, paymentID)
}

func (g *stubGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return signature == "whsig:"+string(body)
}

func (g *stubGateway) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var e WebhookEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

var fixedNow = time.Date(2025, 2, 2, 10, 0, 0, 0, time.UTC)

func newCoordinator(g *stubGateway) *Coordinator {
	return NewCoordinator(g, NewMemoryStore(), NewMemoryReplayCache(), func() time.Time { return fixedNow })
}

func TestInitiateIsIdempotentPerBooking(t *testing.T) {
	g := &stubGateway{}
	c := newCoordinator(g)
	ctx := context.Background()
	booking := uuid.New()

	first, err := c.Initiate(ctx, booking, 85000, "INR")
	require.NoError(t, err)
	assert.Equal(t, payment_models.StatusInitiated, first.Status)
	assert.Equal(t, int64(85000), first.Amount)

	second, err := c.Initiate(ctx, booking, 85000, "INR")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ProviderOrderID, second.ProviderOrderID)
	assert.Equal(t, int32(1), g.orders.Load(), "only one provider order is created")
}

func TestInitiateTimeoutLeavesNoRecord(t *testing.T) {
	g := &stubGateway{block: true}
	c := newCoordinator(g)
	booking := uuid.New()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Initiate(ctx, booking, 1000, "INR")
	assert.ErrorIs(t, err, shared_models.ErrPaymentTimeout)

	_, err = c.Get(context.Background(), booking)
	assert.ErrorIs(t, err, shared_models.ErrNotFound)

	g.block = false
	record, err := c.Initiate(context.Background(), booking, 1000, "INR")
	require.NoError(t, err)
	assert.Equal(t, payment_models.StatusInitiated, record.Status)
}

func TestInitiateGatewayUnavailableIsTimeout(t *testing.T) {
	c := newCoordinator(&stubGateway{createErr: fmt.Errorf("dial tcp: %w", ErrGatewayUnavailable)})
	_, err := c.Initiate(context.Background(), uuid.New(), 1000, "INR")
	assert.ErrorIs(t, err, shared_models.ErrPaymentTimeout)
}

func TestVerifyValidSignatureAndReplay(t *testing.T) {
	g := &stubGateway{}
	c := newCoordinator(g)
	ctx := context.Background()
	booking := uuid.New()

	record, err := c.Initiate(ctx, booking, 120000, "INR")
	require.NoError(t, err)

	cb := CheckoutCallback{OrderID: record.ProviderOrderID, PaymentID: "pay_1", Signature: sign(record.ProviderOrderID, "pay_1")}
	v, err := c.Verify(ctx, booking, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, v.Outcome)
	assert.False(t, v.Replayed)
	assert.Equal(t, "pay_1", v.Record.ProviderPaymentID)
	require.NotNil(t, v.Record.VerifiedAt)

	again, err := c.Verify(ctx, booking, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, again.Outcome)
	assert.True(t, again.Replayed)
	assert.Equal(t, int32(1), g.verifyCalls.Load(), "a replayed payload is not re-verified")
}

func TestVerifyInvalidSignatureFailsTerminally(t *testing.T) {
	c := newCoordinator(&stubGateway{})
	ctx := context.Background()
	booking := uuid.New()

	record, err := c.Initiate(ctx, booking, 50000, "INR")
	require.NoError(t, err)

	v, err := c.Verify(ctx, booking, CheckoutCallback{OrderID: record.ProviderOrderID, PaymentID: "pay_x", Signature: "forged"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, v.Outcome)
	assert.Equal(t, "signature verification failed", v.Record.FailureReason)

	_, err = c.Initiate(ctx, booking, 50000, "INR")
	assert.ErrorIs(t, err, shared_models.ErrPaymentFailed)

	good := CheckoutCallback{OrderID: record.ProviderOrderID, PaymentID: "pay_y", Signature: sign(record.ProviderOrderID, "pay_y")}
	v, err = c.Verify(ctx, booking, good)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, v.Outcome, "failed records are never re-opened")
}

func TestVerifyPendingAndDeclined(t *testing.T) {
	c := newCoordinator(&stubGateway{})
	ctx := context.Background()
	booking := uuid.New()

	record, err := c.Initiate(ctx, booking, 50000, "INR")
	require.NoError(t, err)

	v, err := c.Verify(ctx, booking, CheckoutCallback{OrderID: record.ProviderOrderID})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, v.Outcome)

	v, err = c.Verify(ctx, booking, CheckoutCallback{OrderID: record.ProviderOrderID, ErrorCode: "BAD_REQUEST_ERROR", ErrorDescription: "card declined"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, v.Outcome)
	assert.Equal(t, "card declined", v.Record.FailureReason)
}

func TestConcurrentVerifySettlesOnce(t *testing.T) {
	c := newCoordinator(&stubGateway{})
	ctx := context.Background()
	booking := uuid.New()

	record, err := c.Initiate(ctx, booking, 70000, "INR")
	require.NoError(t, err)
	cb := CheckoutCallback{OrderID: record.ProviderOrderID, PaymentID: "pay_c", Signature: sign(record.ProviderOrderID, "pay_c")}

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Verify(ctx, booking, cb)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, OutcomeVerified, v.Outcome)
			if !v.Replayed {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load())
}

func TestCancelPayment(t *testing.T) {
	c := newCoordinator(&stubGateway{})
	ctx := context.Background()

	none, err := c.Cancel(ctx, uuid.New(), shared_models.ReasonUserCancelled)
	require.NoError(t, err)
	assert.Nil(t, none)

	open := uuid.New()
	_, err = c.Initiate(ctx, open, 1000, "INR")
	require.NoError(t, err)
	cancelled, err := c.Cancel(ctx, open, shared_models.ReasonUserCancelled)
	require.NoError(t, err)
	assert.Equal(t, payment_models.StatusFailed, cancelled.Status)

	paid := uuid.New()
	record, err := c.Initiate(ctx, paid, 1000, "INR")
	require.NoError(t, err)
	_, err = c.Verify(ctx, paid, CheckoutCallback{OrderID: record.ProviderOrderID, PaymentID: "pay_p", Signature: sign(record.ProviderOrderID, "pay_p")})
	require.NoError(t, err)
	kept, err := c.Cancel(ctx, paid, shared_models.ReasonUserCancelled)
	require.NoError(t, err)
	assert.Equal(t, payment_models.StatusVerified, kept.Status, "cancel never undoes a verified payment")
}

func TestApplyWebhook(t *testing.T) {
	c := newCoordinator(&stubGateway{})
	ctx := context.Background()
	booking := uuid.New()

	record, err := c.Initiate(ctx, booking, 99000, "INR")
	require.NoError(t, err)

	body, err := json.Marshal(WebhookEvent{Event: EventPaymentCaptured, OrderID: record.ProviderOrderID, PaymentID: "pay_w"})
	require.NoError(t, err)

	_, err = c.ApplyWebhook(ctx, body, "wrong")
	assert.ErrorIs(t, err, ErrInvalidWebhookSignature)

	v, err := c.ApplyWebhook(ctx, body, "whsig:"+string(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, v.Outcome)
	assert.Equal(t, booking, v.Record.BookingID)

	v, err = c.ApplyWebhook(ctx, body, "whsig:"+string(body))
	require.NoError(t, err)
	assert.True(t, v.Replayed)
}

func TestMemoryReplayCacheExpires(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	cache := NewMemoryReplayCache()
	cache.TTL = time.Hour
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Remember(ctx, "a", OutcomeVerified))
	require.NoError(t, cache.Remember(ctx, "a", OutcomeFailed))
	got, ok, err := cache.Lookup(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, OutcomeVerified, got, "first outcome wins while it is live")

	now = now.Add(time.Hour)
	_, ok, err = cache.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Remember(ctx, "b", OutcomePending))
	now = now.Add(2 * time.Hour)
	require.NoError(t, cache.Remember(ctx, "c", OutcomeVerified))
	assert.Equal(t, 1, cache.Len(), "stale entries are purged on write")
}
