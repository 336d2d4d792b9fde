package checkout

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shopcore/pkg/config"
)

// PricingPolicy holds the tax and shipping settings applied at placement.
type PricingPolicy struct {
	TaxRate              decimal.Decimal
	ShippingFeeCents     int64
	FreeShippingMinCents int64
	Currency             string
}

// PricingFromConfig builds the policy from checkout settings.
func PricingFromConfig(cfg config.CheckoutConfig) (PricingPolicy, error) {
	rate, err := cfg.TaxRateDecimal()
	if err != nil {
		return PricingPolicy{}, err
	}
	if cfg.ShippingFeeCents < 0 || cfg.FreeShippingMinCents < 0 {
		return PricingPolicy{}, fmt.Errorf("shipping settings must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "USD"
	}
	return PricingPolicy{
		TaxRate:              rate,
		ShippingFeeCents:     cfg.ShippingFeeCents,
		FreeShippingMinCents: cfg.FreeShippingMinCents,
		Currency:             currency,
	}, nil
}

// Tax rounds half away from zero to whole minor units.
func (p PricingPolicy) Tax(amountCents int64) int64 {
	if amountCents <= 0 || p.TaxRate.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amountCents).Mul(p.TaxRate).Round(0).IntPart()
}

// Shipping is waived once the discounted subtotal reaches the free threshold.
func (p PricingPolicy) Shipping(discountedSubtotalCents int64) int64 {
	if p.FreeShippingMinCents > 0 && discountedSubtotalCents >= p.FreeShippingMinCents {
		return 0
	}
	return p.ShippingFeeCents
}

// Totals is the money breakdown of an order.
type Totals struct {
	SubtotalCents   int64
	TaxCents        int64
	ShippingCents   int64
	DiscountCents   int64
	GrandTotalCents int64
	TotalItems      int
}

// Price computes totals for lines, filling each line's tax. discountCents
// must already be clamped to the subtotal.
func (p PricingPolicy) Price(lines []Line, discountCents int64) Totals {
	var totals Totals
	for i := range lines {
		lines[i].TaxCents = p.Tax(lines[i].TotalCents)
		totals.SubtotalCents += lines[i].TotalCents
		totals.TaxCents += lines[i].TaxCents
		totals.TotalItems += lines[i].Quantity
	}
	if discountCents > totals.SubtotalCents {
		discountCents = totals.SubtotalCents
	}
	totals.DiscountCents = discountCents
	totals.ShippingCents = p.Shipping(totals.SubtotalCents - discountCents)
	totals.GrandTotalCents = totals.SubtotalCents + totals.TaxCents + totals.ShippingCents - totals.DiscountCents
	if totals.GrandTotalCents < 0 {
		totals.GrandTotalCents = 0
	}
	return totals
}
