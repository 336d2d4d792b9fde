package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

type stubIntents struct {
	created *stripe.PaymentIntentCreateParams
	err     error
}

func (s *stubIntents) Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	s.created = params
	if s.err != nil {
		return nil, s.err
	}
	return &stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusRequiresPaymentMethod}, nil
}

func (s *stubIntents) Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded}, nil
}

func TestNewClientValidatesKeyForEnvironment(t *testing.T) {
	if _, err := NewClient(context.Background(), Options{}, nil); !errors.Is(err, errAPIKeyRequired) {
		t.Fatalf("expected api key error, got %v", err)
	}
	if _, err := NewClient(context.Background(), Options{APIKey: "sk_live_x", Environment: "test"}, nil); err == nil {
		t.Fatalf("expected live key to be rejected in test env")
	}
	if _, err := NewClient(context.Background(), Options{APIKey: "sk_test_x", Environment: "prod"}, nil); !errors.Is(err, errInvalidStripeEnv) {
		t.Fatalf("expected env error, got %v", err)
	}
	client, err := NewClient(context.Background(), Options{APIKey: "sk_test_x"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Environment() != testEnv {
		t.Fatalf("expected test env, got %s", client.Environment())
	}
}

func TestCreatePaymentIntentSetsIdempotencyKey(t *testing.T) {
	stub := &stubIntents{}
	c := &Client{intents: stub}
	intent, err := c.CreatePaymentIntent(context.Background(), PaymentIntentParams{
		AmountCents:    1500,
		Currency:       "USD",
		Receipt:        "ORD-20261017-AAAA0001",
		IdempotencyKey: "order-1-stripe-1",
		Metadata:       map[string]string{"order_id": "1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if intent.ID != "pi_123" {
		t.Fatalf("unexpected intent %s", intent.ID)
	}
	if stub.created.IdempotencyKey == nil || *stub.created.IdempotencyKey != "order-1-stripe-1" {
		t.Fatalf("idempotency key not forwarded")
	}
	if *stub.created.Currency != "usd" || *stub.created.Amount != 1500 {
		t.Fatalf("unexpected params %+v", stub.created)
	}
	if stub.created.Metadata["order_id"] != "1" {
		t.Fatalf("metadata not forwarded")
	}
}

func TestCreatePaymentIntentMapsErrors(t *testing.T) {
	stub := &stubIntents{err: &stripe.Error{HTTPStatusCode: 401}}
	c := &Client{intents: stub}
	_, err := c.CreatePaymentIntent(context.Background(), PaymentIntentParams{AmountCents: 100, Currency: "usd"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	stub.err = errors.New("connection reset")
	_, err = c.CreatePaymentIntent(context.Background(), PaymentIntentParams{AmountCents: 100, Currency: "usd"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}
