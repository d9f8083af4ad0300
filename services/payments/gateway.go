package payments

import (
	"context"
	"errors"
)

// ErrGatewayUnavailable marks transport-level gateway failures. Callers treat
// it like a timeout: the request may be retried with the same booking id.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// OrderRequest asks the provider for a payable order. Amount is in minor units.
type OrderRequest struct {
	Receipt  string
	Amount   int64
	Currency string
	Notes    map[string]string
}

type Order struct {
	ID       string
	Amount   int64
	Currency string
}

// CheckoutCallback is what the client relays after the provider's checkout.
// A declined checkout carries an error code and no payment id.
type CheckoutCallback struct {
	OrderID          string `json:"razorpay_order_id"`
	PaymentID        string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WebhookEvent is a provider-pushed payment outcome, already authenticated.
type WebhookEvent struct {
	Event            string
	OrderID          string
	PaymentID        string
	ErrorDescription string
}

// Webhook event names the coordinator acts on.
const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
	EventPaymentFailed   = "payment.failed"
)

// Gateway is a payment provider. Implementations must honour ctx and report
// an exhausted deadline as context.DeadlineExceeded.
type Gateway interface {
	Name() string
	// KeyID is the public key the client checkout needs.
	KeyID() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
	ParseWebhook(body []byte) (*WebhookEvent, error)
}
