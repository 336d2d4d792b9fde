package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook delivery.
const SignatureHeader = "X-Square-Hmacsha256-Signature"

var (
	ErrSignatureMissing = errors.New("square signature missing")
	ErrSignatureInvalid = errors.New("invalid square signature")
)

// WebhookEvent is the notification envelope Square posts to subscribers.
type WebhookEvent struct {
	MerchantID string      `json:"merchant_id"`
	Type       string      `json:"type"`
	EventID    string      `json:"event_id"`
	CreatedAt  string      `json:"created_at"`
	Data       WebhookData `json:"data"`
}

type WebhookData struct {
	Type   string        `json:"type"`
	ID     string        `json:"id"`
	Object WebhookObject `json:"object"`
}

type WebhookObject struct {
	Payment *WebhookPayment `json:"payment,omitempty"`
	Refund  *WebhookRefund  `json:"refund,omitempty"`
}

type WebhookPayment struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	Status        string        `json:"status"`
	AmountMoney   *WebhookMoney `json:"amount_money,omitempty"`
	RefundedMoney *WebhookMoney `json:"refunded_money,omitempty"`
}

type WebhookRefund struct {
	ID          string        `json:"id"`
	PaymentID   string        `json:"payment_id"`
	OrderID     string        `json:"order_id"`
	Status      string        `json:"status"`
	AmountMoney *WebhookMoney `json:"amount_money,omitempty"`
}

type WebhookMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// VerifySignature checks the signature Square computes over the subscription
// URL followed by the raw body.
func VerifySignature(signatureKey, notificationURL, header string, body []byte) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrSignatureMissing
	}
	if strings.TrimSpace(signatureKey) == "" {
		return fmt.Errorf("%w: signature key not configured", ErrSignatureInvalid)
	}
	expected := Sign(signatureKey, notificationURL, body)
	if !hmac.Equal([]byte(expected), []byte(header)) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign returns the base64 HMAC-SHA256 signature for a delivery.
func Sign(signatureKey, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseWebhookEvent decodes a verified body.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode square event: %w", err)
	}
	if strings.TrimSpace(event.EventID) == "" {
		return nil, errors.New("square event id missing")
	}
	return &event, nil
}
