package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
	squarepkg "github.com/angelmondragon/shopcore/pkg/square"
)

type squareOrders interface {
	CreateOrder(ctx context.Context, params squarepkg.OrderCreateParams) (*sq.Order, error)
	GetOrder(ctx context.Context, orderID string) (*sq.Order, error)
}

// SquareGateway settles orders through the Square Orders API.
type SquareGateway struct {
	newClient func(ctx context.Context, opts squarepkg.Options) (squareOrders, error)
}

func NewSquareGateway(logg *logger.Logger) *SquareGateway {
	return &SquareGateway{
		newClient: func(ctx context.Context, opts squarepkg.Options) (squareOrders, error) {
			client, err := squarepkg.NewClient(ctx, opts, logg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

func (g *SquareGateway) Name() enums.Gateway {
	return enums.GatewaySquare
}

func (g *SquareGateway) client(ctx context.Context, creds Credentials) (squareOrders, error) {
	client, err := g.newClient(ctx, squarepkg.Options{
		AccessToken: creds.SecretKey,
		LocationID:  creds.LocationID,
		Environment: creds.Environment,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "square client unavailable")
	}
	return client, nil
}

func (g *SquareGateway) CreateOrder(ctx context.Context, params CreateOrderParams) (*GatewayOrder, error) {
	client, err := g.client(ctx, params.Credentials)
	if err != nil {
		return nil, err
	}
	order, err := client.CreateOrder(ctx, squarepkg.OrderCreateParams{
		ReferenceID:    params.OrderID.String(),
		Description:    params.Receipt,
		AmountCents:    params.AmountCents,
		Currency:       params.Currency,
		IdempotencyKey: params.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if order == nil || order.GetID() == nil {
		return &GatewayOrder{}, nil
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode square order")
	}
	return &GatewayOrder{ID: *order.GetID(), Raw: raw}, nil
}

func (g *SquareGateway) FetchStatus(ctx context.Context, payment *models.Payment, creds Credentials) (*StatusResult, error) {
	client, err := g.client(ctx, creds)
	if err != nil {
		return nil, err
	}
	order, err := client.GetOrder(ctx, payment.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	return squareOrderStatus(squarepkg.Summarize(order)), nil
}

func (g *SquareGateway) VerifyWebhook(creds Credentials, signature string, body []byte) (*WebhookEvent, error) {
	if err := squarepkg.VerifySignature(creds.WebhookSecret, creds.NotificationURL, signature, body); err != nil {
		return nil, invalidSignature(enums.GatewaySquare, err)
	}
	event, err := squarepkg.ParseWebhookEvent(body)
	if err != nil {
		return nil, invalidPayload(enums.GatewaySquare, err)
	}

	out := &WebhookEvent{Gateway: enums.GatewaySquare, EventID: event.EventID, Type: event.Type}
	switch event.Type {
	case "payment.created", "payment.updated":
		p := event.Data.Object.Payment
		if p == nil {
			return nil, invalidPayload(enums.GatewaySquare, errors.New("payment object missing"))
		}
		out.GatewayOrderID = p.OrderID
		out.TransactionID = p.ID
		out.Status = squarePaymentStatus(p.Status)
		if p.RefundedMoney != nil && p.RefundedMoney.Amount > 0 {
			out.Status = StatusRefunded
			out.RefundedCents = p.RefundedMoney.Amount
			out.FullRefund = p.AmountMoney != nil && p.RefundedMoney.Amount >= p.AmountMoney.Amount
		}
	case "refund.created", "refund.updated":
		r := event.Data.Object.Refund
		if r == nil {
			return nil, invalidPayload(enums.GatewaySquare, errors.New("refund object missing"))
		}
		out.GatewayOrderID = r.OrderID
		out.TransactionID = r.PaymentID
		out.Status = StatusPending
		if strings.EqualFold(r.Status, "COMPLETED") && r.AmountMoney != nil {
			out.Status = StatusRefunded
			out.RefundedCents = r.AmountMoney.Amount
		}
	default:
		out.Ignored = true
	}
	return out, nil
}

func squarePaymentStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETED":
		return StatusSuccess
	case "FAILED", "CANCELED":
		return StatusFailed
	default:
		return StatusPending
	}
}

func squareOrderStatus(summary squarepkg.OrderSummary) *StatusResult {
	res := &StatusResult{Status: StatusPending, TransactionID: summary.PaymentID}
	switch {
	case summary.RefundedCents > 0:
		res.Status = StatusRefunded
		res.RefundedCents = summary.RefundedCents
		res.FullRefund = summary.TotalCents > 0 && summary.RefundedCents >= summary.TotalCents
	case summary.State == string(sq.OrderStateCompleted):
		res.Status = StatusSuccess
	case summary.State == string(sq.OrderStateCanceled):
		res.Status = StatusFailed
	}
	return res
}
