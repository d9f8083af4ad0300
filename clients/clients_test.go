package clients

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/models/ticket_models"
	"github.com/joy095/gobus/services/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	body  map[string]interface{}
	err   error
	delay time.Duration
	got   map[string]interface{}
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.got = data
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.body, f.err
}

func TestRazorpayCreateOrder(t *testing.T) {
	orders := &fakeOrders{body: map[string]interface{}{"id": "order_Q1", "amount": float64(130000), "currency": "INR"}}
	g := newRazorpayGateway(orders, "rzp_test_key", "secret", "whsecret", 0)

	order, err := g.CreateOrder(context.Background(), payments.OrderRequest{Receipt: "r-1", Amount: 130000, Currency: "INR"})
	require.NoError(t, err)
	assert.Equal(t, "order_Q1", order.ID)
	assert.Equal(t, int64(130000), order.Amount)
	assert.Equal(t, "r-1", orders.got["receipt"])
}

func TestRazorpayTransportErrorIsUnavailable(t *testing.T) {
	orders := &fakeOrders{err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	g := newRazorpayGateway(orders, "k", "s", "w", 0)

	_, err := g.CreateOrder(context.Background(), payments.OrderRequest{Receipt: "r-2", Amount: 100, Currency: "INR"})
	assert.ErrorIs(t, err, payments.ErrGatewayUnavailable)
}

func TestRazorpayHonoursDeadline(t *testing.T) {
	orders := &fakeOrders{body: map[string]interface{}{"id": "order_slow"}, delay: 200 * time.Millisecond}
	g := newRazorpayGateway(orders, "k", "s", "w", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.CreateOrder(ctx, payments.OrderRequest{Receipt: "r-3", Amount: 100, Currency: "INR"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRazorpayWebhook(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","order_id":"order_9"}}}}`)
	event, err := parseRazorpayWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, payments.EventPaymentCaptured, event.Event)
	assert.Equal(t, "order_9", event.OrderID)
	assert.Equal(t, "pay_9", event.PaymentID)

	_, err = parseRazorpayWebhook([]byte(`{"event":"payment.captured","payload":{}}`))
	assert.Error(t, err)
}

func TestMockGatewaySignatures(t *testing.T) {
	m := NewMockGateway("local")
	order, err := m.CreateOrder(context.Background(), payments.OrderRequest{Receipt: "r", Amount: 500, Currency: "INR"})
	require.NoError(t, err)
	assert.Contains(t, order.ID, "order_mock_")

	sig := m.Sign(order.ID + "|pay_1")
	assert.True(t, m.VerifyPaymentSignature(order.ID, "pay_1", sig))
	assert.False(t, m.VerifyPaymentSignature(order.ID, "pay_2", sig))

	body := []byte(`{"event":"order.paid","payload":{"order":{"entity":{"id":"order_x"}}}}`)
	assert.True(t, m.VerifyWebhookSignature(body, m.Sign(string(body))))
}

func TestRenderTicketPDF(t *testing.T) {
	ticket := &ticket_models.Ticket{
		ID:    uuid.New(),
		Token: "header.payload.signature",
		Payload: ticket_models.Payload{
			Type:          ticket_models.TicketType,
			TicketID:      uuid.New(),
			BookingID:     uuid.New(),
			Origin:        "Chennai",
			Destination:   "Madurai",
			DepartureAt:   time.Date(2025, 6, 1, 21, 0, 0, 0, time.UTC),
			Seats:         []string{"3A"},
			PassengerName: "Karthik",
			TotalAmount:   72050,
			Currency:      "INR",
		},
	}

	qr, err := RenderTicketQR(ticket)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(qr, []byte("\x89PNG")))

	doc, err := RenderTicketPDF(ticket)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
	assert.Equal(t, "INR 720.50", formatAmount(72050, "INR"))
}
