package stripe

import (
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// SignatureHeader carries Stripe's timestamped webhook signature.
const SignatureHeader = "Stripe-Signature"

var (
	ErrSignatureMissing = errors.New("stripe signature missing")
	ErrSecretMissing    = errors.New("stripe webhook secret not configured")
)

// ConstructEvent verifies the signature over the raw body and decodes the event.
// Events pinned to an older API version are still accepted.
func ConstructEvent(payload []byte, header, secret string) (stripe.Event, error) {
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, ErrSignatureMissing
	}
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, ErrSecretMissing
	}
	return webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
