package clients

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/services/payments"
	"github.com/razorpay/razorpay-go/utils"
)

// MockGateway stands in for Razorpay when no credentials are configured.
// It signs the same way Razorpay does, with a local secret, so the checkout
// flow can be exercised end to end.
type MockGateway struct {
	secret string
}

func NewMockGateway(secret string) *MockGateway {
	if secret == "" {
		secret = "mock_secret"
	}
	return &MockGateway{secret: secret}
}

func (m *MockGateway) Name() string  { return "mock" }
func (m *MockGateway) KeyID() string { return "rzp_test_mock" }

func (m *MockGateway) CreateOrder(ctx context.Context, req payments.OrderRequest) (*payments.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	id := "order_mock_" + hex.EncodeToString(b)
	logger.InfoLogger.Infof("Mock order %s created for receipt %s", id, req.Receipt)
	return &payments.Order{ID: id, Amount: req.Amount, Currency: req.Currency}, nil
}

// Sign returns the HMAC-SHA256 hex digest of payload under the mock secret.
// Clients of the mock use it to forge a successful checkout.
func (m *MockGateway) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(m.secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *MockGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return utils.VerifySignature([]byte(orderID+"|"+paymentID), signature, m.secret)
}

func (m *MockGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return utils.VerifySignature(body, signature, m.secret)
}

// ParseWebhook accepts the Razorpay webhook shape.
func (m *MockGateway) ParseWebhook(body []byte) (*payments.WebhookEvent, error) {
	return parseRazorpayWebhook(body)
}
