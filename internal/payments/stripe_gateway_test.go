package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	stripepkg "github.com/angelmondragon/shopcore/pkg/stripe"
)

type stubIntents struct {
	params stripepkg.PaymentIntentParams
	intent *stripe.PaymentIntent
}

func (s *stubIntents) CreatePaymentIntent(ctx context.Context, p stripepkg.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.params = p
	return s.intent, nil
}

func (s *stubIntents) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	return s.intent, nil
}

func signStripe(t *testing.T, payload map[string]any, secret string) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, body)))
	return body, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripePayload(id, eventType string, object map[string]any) map[string]any {
	return map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	}
}

func TestStripeCreateOrderCachesClientSecret(t *testing.T) {
	stub := &stubIntents{intent: &stripe.PaymentIntent{ID: "pi_new", ClientSecret: "pi_new_secret", Amount: 5000}}
	g := &StripeGateway{newClient: func(ctx context.Context, opts stripepkg.Options) (stripeIntents, error) {
		if opts.APIKey != "sk_test_1" {
			t.Fatalf("unexpected key %q", opts.APIKey)
		}
		return stub, nil
	}}
	orderID := uuid.New()

	out, err := g.CreateOrder(context.Background(), CreateOrderParams{
		OrderID:        orderID,
		Receipt:        "ORD-20261017-ABCDEF12",
		AmountCents:    5000,
		Currency:       "USD",
		IdempotencyKey: "order-x-stripe-1",
		Credentials:    Credentials{SecretKey: "sk_test_1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.ID != "pi_new" {
		t.Fatalf("unexpected id %q", out.ID)
	}
	var raw map[string]any
	if err := json.Unmarshal(out.Raw, &raw); err != nil || raw["client_secret"] != "pi_new_secret" {
		t.Fatalf("expected client secret in payload, got %s (%v)", out.Raw, err)
	}
	if stub.params.IdempotencyKey != "order-x-stripe-1" || stub.params.Metadata["order_id"] != orderID.String() {
		t.Fatalf("unexpected params %+v", stub.params)
	}
}

func TestStripeVerifyWebhookNormalizesEvents(t *testing.T) {
	g := NewStripeGateway(nil)
	creds := Credentials{WebhookSecret: "whsec_1"}

	body, sig := signStripe(t, stripePayload("evt_s", "payment_intent.succeeded", map[string]any{
		"id": "pi_1", "object": "payment_intent", "latest_charge": "ch_1",
	}), "whsec_1")
	event, err := g.VerifyWebhook(creds, sig, body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.EventID != "evt_s" || event.Status != StatusSuccess || event.GatewayOrderID != "pi_1" || event.TransactionID != "ch_1" {
		t.Fatalf("unexpected event %+v", event)
	}

	body, sig = signStripe(t, stripePayload("evt_r", "charge.refunded", map[string]any{
		"id": "ch_1", "object": "charge", "payment_intent": "pi_1", "amount_refunded": 700, "refunded": false,
	}), "whsec_1")
	event, err = g.VerifyWebhook(creds, sig, body)
	if err != nil {
		t.Fatalf("verify refund: %v", err)
	}
	if event.Status != StatusRefunded || event.RefundedCents != 700 || event.FullRefund || event.GatewayOrderID != "pi_1" {
		t.Fatalf("unexpected refund event %+v", event)
	}

	body, sig = signStripe(t, stripePayload("evt_c", "customer.created", map[string]any{"id": "cus_1", "object": "customer"}), "whsec_1")
	event, err = g.VerifyWebhook(creds, sig, body)
	if err != nil || !event.Ignored {
		t.Fatalf("expected ignored event, got %+v (%v)", event, err)
	}

	if _, err := g.VerifyWebhook(creds, "t=1,v1=deadbeef", body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := g.VerifyWebhook(Credentials{}, sig, body); !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected missing secret to be a gateway error, got %v", err)
	}
}

func TestStripeIntentStatus(t *testing.T) {
	cases := []struct {
		name   string
		intent *stripe.PaymentIntent
		want   Status
	}{
		{"succeeded", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded}, StatusSuccess},
		{"canceled", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusCanceled}, StatusFailed},
		{"processing", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing}, StatusPending},
		{"declined", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod, LastPaymentError: &stripe.Error{}}, StatusFailed},
		{"refunded", &stripe.PaymentIntent{
			Status:       stripe.PaymentIntentStatusSucceeded,
			LatestCharge: &stripe.Charge{ID: "ch_9", AmountRefunded: 100, Refunded: true},
		}, StatusRefunded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripeIntentStatus(tc.intent).Status; got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestRegistryRejectsUnknownGateway(t *testing.T) {
	reg := NewRegistry(NewStripeGateway(nil), NewSquareGateway(nil))
	if g, err := reg.Get(" Stripe "); err != nil || g.Name() != enums.GatewayStripe {
		t.Fatalf("expected stripe, got %v %v", g, err)
	}
	if _, err := reg.Get("razorpay"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
