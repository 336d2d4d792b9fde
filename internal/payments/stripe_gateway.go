package payments

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
	stripepkg "github.com/angelmondragon/shopcore/pkg/stripe"
)

type stripeIntents interface {
	CreatePaymentIntent(ctx context.Context, p stripepkg.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

// StripeGateway settles orders through PaymentIntents.
type StripeGateway struct {
	newClient func(ctx context.Context, opts stripepkg.Options) (stripeIntents, error)
}

func NewStripeGateway(logg *logger.Logger) *StripeGateway {
	return &StripeGateway{
		newClient: func(ctx context.Context, opts stripepkg.Options) (stripeIntents, error) {
			client, err := stripepkg.NewClient(ctx, opts, logg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

func (g *StripeGateway) Name() enums.Gateway {
	return enums.GatewayStripe
}

func (g *StripeGateway) client(ctx context.Context, creds Credentials) (stripeIntents, error) {
	client, err := g.newClient(ctx, stripepkg.Options{APIKey: creds.SecretKey, Environment: creds.Environment})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "stripe client unavailable")
	}
	return client, nil
}

func (g *StripeGateway) CreateOrder(ctx context.Context, params CreateOrderParams) (*GatewayOrder, error) {
	client, err := g.client(ctx, params.Credentials)
	if err != nil {
		return nil, err
	}
	intent, err := client.CreatePaymentIntent(ctx, stripepkg.PaymentIntentParams{
		AmountCents:    params.AmountCents,
		Currency:       params.Currency,
		Receipt:        params.Receipt,
		IdempotencyKey: params.IdempotencyKey,
		Metadata:       map[string]string{"order_id": params.OrderID.String()},
	})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(map[string]any{
		"id":            intent.ID,
		"client_secret": intent.ClientSecret,
		"status":        intent.Status,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode stripe intent")
	}
	return &GatewayOrder{ID: intent.ID, Raw: raw}, nil
}

func (g *StripeGateway) FetchStatus(ctx context.Context, payment *models.Payment, creds Credentials) (*StatusResult, error) {
	client, err := g.client(ctx, creds)
	if err != nil {
		return nil, err
	}
	intent, err := client.GetPaymentIntent(ctx, payment.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	return stripeIntentStatus(intent), nil
}

func (g *StripeGateway) VerifyWebhook(creds Credentials, signature string, body []byte) (*WebhookEvent, error) {
	event, err := stripepkg.ConstructEvent(body, signature, creds.WebhookSecret)
	if err != nil {
		if errors.Is(err, stripepkg.ErrSecretMissing) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "stripe webhook secret not configured")
		}
		return nil, invalidSignature(enums.GatewayStripe, err)
	}
	if event.ID == "" || event.Data == nil {
		return nil, invalidPayload(enums.GatewayStripe, errors.New("event id or data missing"))
	}

	out := &WebhookEvent{Gateway: enums.GatewayStripe, EventID: event.ID, Type: string(event.Type)}
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, invalidPayload(enums.GatewayStripe, err)
		}
		out.GatewayOrderID = intent.ID
		if intent.LatestCharge != nil {
			out.TransactionID = intent.LatestCharge.ID
		}
		out.Status = StatusFailed
		if event.Type == stripe.EventTypePaymentIntentSucceeded {
			out.Status = StatusSuccess
		}
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, invalidPayload(enums.GatewayStripe, err)
		}
		out.TransactionID = charge.ID
		if charge.PaymentIntent != nil {
			out.GatewayOrderID = charge.PaymentIntent.ID
		}
		out.Status = StatusRefunded
		out.RefundedCents = charge.AmountRefunded
		out.FullRefund = charge.Refunded
	default:
		out.Ignored = true
	}
	return out, nil
}

func stripeIntentStatus(intent *stripe.PaymentIntent) *StatusResult {
	res := &StatusResult{Status: StatusPending}
	if intent == nil {
		return res
	}
	if charge := intent.LatestCharge; charge != nil {
		res.TransactionID = charge.ID
		if charge.AmountRefunded > 0 {
			res.Status = StatusRefunded
			res.RefundedCents = charge.AmountRefunded
			res.FullRefund = charge.Refunded
			return res
		}
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Status = StatusSuccess
	case stripe.PaymentIntentStatusCanceled:
		res.Status = StatusFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if intent.LastPaymentError != nil {
			res.Status = StatusFailed
		}
	}
	return res
}
