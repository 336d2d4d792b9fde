package payments

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

// Status is a gateway state normalized for reconciliation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Credentials are the secrets used for one gateway account.
type Credentials struct {
	Gateway         enums.Gateway
	SecretKey       string
	WebhookSecret   string
	LocationID      string
	NotificationURL string
	Environment     string
}

// CreateOrderParams describes the gateway-side order opened for a payment.
type CreateOrderParams struct {
	OrderID        uuid.UUID
	Receipt        string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Credentials    Credentials
}

// GatewayOrder is the gateway's answer to CreateOrder. Raw is cached on the
// payment and handed back to clients on repeated initiation.
type GatewayOrder struct {
	ID  string
	Raw json.RawMessage
}

// StatusResult is the normalized state of a gateway payment.
type StatusResult struct {
	Status        Status
	TransactionID string
	RefundedCents int64
	FullRefund    bool
}

// WebhookEvent is a verified gateway notification. Ignored events are
// acknowledged without being applied.
type WebhookEvent struct {
	Gateway        enums.Gateway `json:"gateway"`
	EventID        string        `json:"event_id"`
	Type           string        `json:"type"`
	GatewayOrderID string        `json:"gateway_order_id,omitempty"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	Status         Status        `json:"status"`
	RefundedCents  int64         `json:"refunded_cents,omitempty"`
	FullRefund     bool          `json:"full_refund,omitempty"`
	Ignored        bool          `json:"ignored,omitempty"`
}

// Result returns the status portion of the event.
func (e WebhookEvent) Result() StatusResult {
	return StatusResult{
		Status:        e.Status,
		TransactionID: e.TransactionID,
		RefundedCents: e.RefundedCents,
		FullRefund:    e.FullRefund,
	}
}

// Gateway adapts one payment provider.
type Gateway interface {
	Name() enums.Gateway
	CreateOrder(ctx context.Context, params CreateOrderParams) (*GatewayOrder, error)
	FetchStatus(ctx context.Context, payment *models.Payment, creds Credentials) (*StatusResult, error)
	VerifyWebhook(creds Credentials, signature string, body []byte) (*WebhookEvent, error)
}

// Registry resolves gateways by name.
type Registry map[enums.Gateway]Gateway

func NewRegistry(gateways ...Gateway) Registry {
	reg := make(Registry, len(gateways))
	for _, g := range gateways {
		if g != nil {
			reg[g.Name()] = g
		}
	}
	return reg
}

// Get returns the adapter for name or a validation error.
func (r Registry) Get(name enums.Gateway) (Gateway, error) {
	name = enums.Gateway(strings.ToLower(strings.TrimSpace(string(name))))
	if g, ok := r[name]; ok {
		return g, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment gateway").
		WithDetails(map[string]any{"gateway": name})
}

func invalidSignature(gateway enums.Gateway, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook signature").
		WithDetails(map[string]any{"gateway": gateway})
}

func invalidPayload(gateway enums.Gateway, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload").
		WithDetails(map[string]any{"gateway": gateway})
}
