package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/shopcore/pkg/config"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Options carries the credentials for one Stripe account.
type Options struct {
	APIKey      string
	Environment string
}

// OptionsFromConfig maps the env-level Stripe settings.
func OptionsFromConfig(cfg config.StripeConfig) Options {
	return Options{APIKey: cfg.APIKey, Environment: cfg.Environment()}
}

type paymentIntentsAPI interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
}

// Client wraps Stripe's PaymentIntents API plus env-specific metadata.
type Client struct {
	intents     paymentIntentsAPI
	environment string
	logg        *logger.Logger
}

// NewClient validates the key against the environment and builds a client.
func NewClient(ctx context.Context, opts Options, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(opts.Environment)
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey)
	return &Client{
		intents:     api.V1PaymentIntents,
		environment: env,
		logg:        logg,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// PaymentIntentParams describes the intent opened for one local payment attempt.
type PaymentIntentParams struct {
	AmountCents    int64
	Currency       string
	Receipt        string
	IdempotencyKey string
	Metadata       map[string]string
}

// CreatePaymentIntent opens a PaymentIntent. Stripe replays the original
// response when the idempotency key is reused.
func (c *Client) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(p.AmountCents),
		Currency: stripe.String(strings.ToLower(strings.TrimSpace(p.Currency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if p.Receipt != "" {
		params.Description = stripe.String(p.Receipt)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	intent, err := c.intents.Create(ctx, params)
	if err != nil {
		c.logError(ctx, "create payment intent", err)
		return nil, mapStripeError(err, "create payment intent")
	}
	c.logInfo(ctx, "stripe payment intent created", map[string]any{
		"payment_intent_id": intent.ID,
		"status":            string(intent.Status),
	})
	return intent, nil
}

// GetPaymentIntent fetches an intent with its latest charge expanded so refunds are visible.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentRetrieveParams{}
	params.AddExpand("latest_charge")
	intent, err := c.intents.Retrieve(ctx, id, params)
	if err != nil {
		c.logError(ctx, "get payment intent", err)
		return nil, mapStripeError(err, "get payment intent")
	}
	return intent, nil
}

func (c *Client) logInfo(ctx context.Context, msg string, fields map[string]any) {
	if c == nil || c.logg == nil {
		return
	}
	c.logg.Info(c.logg.WithFields(ctx, fields), msg)
}

func (c *Client) logError(ctx context.Context, op string, err error) {
	if c == nil || c.logg == nil {
		return
	}
	c.logg.Error(c.logg.WithField(ctx, "operation", op), "stripe request failed", err)
}

func mapStripeError(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == 401:
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, fmt.Sprintf("stripe %s failed", op))
		case stripeErr.HTTPStatusCode == 404:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("stripe %s failed", op))
		case stripeErr.Type == stripe.ErrorTypeIdempotency:
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, fmt.Sprintf("stripe %s failed", op))
		case stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("stripe %s failed", op))
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("stripe %s failed", op))
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
