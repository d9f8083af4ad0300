package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/services/payments"
	"github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
	"golang.org/x/time/rate"
)

// RazorpayOrderAPI is the slice of the Razorpay SDK the gateway uses. It lets
// tests stand in for the network.
type RazorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGateway implements payments.Gateway on top of the Razorpay SDK.
type RazorpayGateway struct {
	Orders        RazorpayOrderAPI
	keyID         string
	keySecret     string
	webhookSecret string
	limiter       *rate.Limiter
}

// NewRazorpayGateway creates the SDK client. ratePerSecond caps outgoing
// order calls; zero disables the cap.
func NewRazorpayGateway(keyID, keySecret, webhookSecret string, ratePerSecond float64) *RazorpayGateway {
	client := razorpay.NewClient(keyID, keySecret)
	return newRazorpayGateway(client.Order, keyID, keySecret, webhookSecret, ratePerSecond)
}

func newRazorpayGateway(orders RazorpayOrderAPI, keyID, keySecret, webhookSecret string, ratePerSecond float64) *RazorpayGateway {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = max(1, int(ratePerSecond))
	}
	return &RazorpayGateway{
		Orders:        orders,
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		limiter:       rate.NewLimiter(limit, burst),
	}
}

func (r *RazorpayGateway) Name() string  { return "razorpay" }
func (r *RazorpayGateway) KeyID() string { return r.keyID }

// CreateOrder creates a Razorpay order. The SDK takes no context, so the call
// runs in its own goroutine and is abandoned when ctx ends.
func (r *RazorpayGateway) CreateOrder(ctx context.Context, req payments.OrderRequest) (*payments.Order, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for gateway rate limit: %w", context.DeadlineExceeded)
	}

	notes := make(map[string]interface{}, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes":    notes,
	}

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := r.Orders.Create(data, nil)
		done <- result{body, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		logger.WarnLogger.Warnf("Razorpay order for receipt %s abandoned: %v", req.Receipt, ctx.Err())
		return nil, ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		if isTransportError(res.err) {
			return nil, fmt.Errorf("%w: %v", payments.ErrGatewayUnavailable, res.err)
		}
		logger.ErrorLogger.Errorf("Razorpay rejected order for receipt %s: %v", req.Receipt, res.err)
		return nil, fmt.Errorf("razorpay order: %w", res.err)
	}

	orderID, ok := res.body["id"].(string)
	if !ok || orderID == "" {
		return nil, fmt.Errorf("razorpay order response has no id")
	}
	order := &payments.Order{ID: orderID, Amount: req.Amount, Currency: req.Currency}
	if amount, ok := res.body["amount"].(float64); ok {
		order.Amount = int64(amount)
	}
	if currency, ok := res.body["currency"].(string); ok {
		order.Currency = currency
	}
	logger.InfoLogger.Infof("Razorpay order %s created for receipt %s", orderID, req.Receipt)
	return order, nil
}

func isTransportError(err error) bool {
	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr)
}

// VerifyPaymentSignature checks the checkout signature, an HMAC of
// "order_id|payment_id" under the key secret.
func (r *RazorpayGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return utils.VerifyPaymentSignature(map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  signature,
	}, signature, r.keySecret)
}

// VerifyWebhookSignature checks X-Razorpay-Signature against the raw body.
func (r *RazorpayGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	if r.webhookSecret == "" {
		logger.WarnLogger.Warn("Razorpay webhook secret not configured; rejecting webhook")
		return false
	}
	return utils.VerifyWebhookSignature(string(body), signature, r.webhookSecret)
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseWebhook extracts the order and payment ids from a Razorpay event.
func (r *RazorpayGateway) ParseWebhook(body []byte) (*payments.WebhookEvent, error) {
	return parseRazorpayWebhook(body)
}

func parseRazorpayWebhook(body []byte) (*payments.WebhookEvent, error) {
	var w razorpayWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("invalid webhook body: %w", err)
	}
	event := &payments.WebhookEvent{
		Event:            w.Event,
		OrderID:          w.Payload.Payment.Entity.OrderID,
		PaymentID:        w.Payload.Payment.Entity.ID,
		ErrorDescription: w.Payload.Payment.Entity.ErrorDescription,
	}
	if event.OrderID == "" {
		event.OrderID = w.Payload.Order.Entity.ID
	}
	if event.OrderID == "" {
		return nil, fmt.Errorf("webhook %s carries no order id", w.Event)
	}
	return event, nil
}
