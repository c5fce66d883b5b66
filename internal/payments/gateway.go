package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"gigworks/api_credits/pkg/logging"
)

// OrderRequest describes a gateway order for a credit purchase
type OrderRequest struct {
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Order is the gateway's view of a created order
type Order struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Gateway is the external payment collaborator contract. Order creation and
// signature verification are the only two operations this service consumes;
// the gateway's own flows (checkout UI, capture, refunds) live elsewhere.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// HostedCheckoutConfig configures a hosted-checkout gateway
type HostedCheckoutConfig struct {
	Name      string
	BaseURL   string
	KeyID     string
	KeySecret string
	Logger    logging.Logger
}

// HostedCheckoutGateway talks to a hosted-checkout payment provider: orders
// are created server side, the client pays on the provider's page, and the
// confirmation webhook carries an HMAC signature over the order and payment
// IDs.
type HostedCheckoutGateway struct {
	name      string
	client    *resty.Client
	keySecret string
	logger    logging.Logger
}

// NewHostedCheckoutGateway creates a gateway client
func NewHostedCheckoutGateway(cfg HostedCheckoutConfig) *HostedCheckoutGateway {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetHeader("Content-Type", "application/json")

	return &HostedCheckoutGateway{
		name:      cfg.Name,
		client:    client,
		keySecret: cfg.KeySecret,
		logger:    cfg.Logger,
	}
}

// Name returns the configured gateway name
func (g *HostedCheckoutGateway) Name() string {
	return g.name
}

type orderPayload struct {
	Amount   int64             `json:"amount"` // minor currency units
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateOrder creates an order with the provider
func (g *HostedCheckoutGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	payload := orderPayload{
		Amount:   req.Amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}

	var created orderResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&created).
		Post("/v1/orders")
	if err != nil {
		return nil, fmt.Errorf("gateway order request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway order failed (%d): %s", resp.StatusCode(), resp.String())
	}
	if created.ID == "" {
		return nil, fmt.Errorf("gateway order response missing order ID")
	}

	return &Order{
		ID:       created.ID,
		Amount:   decimal.NewFromInt(created.Amount).Div(decimal.NewFromInt(100)),
		Currency: created.Currency,
	}, nil
}

// VerifySignature checks the webhook signature: HMAC-SHA256 over
// "orderID|paymentID" keyed with the API secret, compared in constant time.
func (g *HostedCheckoutGateway) VerifySignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(g.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
