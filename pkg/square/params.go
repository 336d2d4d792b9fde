package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

// OrderCreateParams describes a single-line Square order for a local order total.
type OrderCreateParams struct {
	ReferenceID    string
	Description    string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

func (p OrderCreateParams) toSquareRequest(locationID string) *sq.CreateOrderRequest {
	name := strings.TrimSpace(p.Description)
	if name == "" {
		name = "Order " + p.ReferenceID
	}
	order := &sq.Order{
		LocationID:  locationID,
		ReferenceID: ptrString(p.ReferenceID),
		LineItems: []*sq.OrderLineItem{
			{
				Name:           ptrString(name),
				Quantity:       "1",
				BasePriceMoney: moneyPtr(p.AmountCents, p.Currency),
			},
		},
	}
	return &sq.CreateOrderRequest{
		Order:          order,
		IdempotencyKey: ptrString(p.IdempotencyKey),
	}
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "USD"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}
