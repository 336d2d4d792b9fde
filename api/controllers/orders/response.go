package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
)

type orderResponse struct {
	ID              uuid.UUID                `json:"id"`
	OrderNumber     string                   `json:"order_number"`
	OrderStatus     enums.OrderStatus        `json:"order_status"`
	PaymentStatus   enums.OrderPaymentStatus `json:"payment_status"`
	PaymentMethod   string                   `json:"payment_method"`
	SubtotalCents   int64                    `json:"subtotal_cents"`
	TaxCents        int64                    `json:"tax_cents"`
	ShippingCents   int64                    `json:"shipping_cents"`
	DiscountCents   int64                    `json:"discount_cents"`
	GrandTotalCents int64                    `json:"grand_total_cents"`
	Currency        string                   `json:"currency"`
	CouponCode      *string                  `json:"coupon_code,omitempty"`
	Payment         *models.PaymentSnapshot  `json:"payment,omitempty"`
	CancelReason    *string                  `json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time               `json:"cancelled_at,omitempty"`
	ConfirmedAt     *time.Time               `json:"confirmed_at,omitempty"`
	Items           []orderItemResponse      `json:"items"`
	CreatedAt       time.Time                `json:"created_at"`
}

type orderItemResponse struct {
	ID             uuid.UUID             `json:"id"`
	ProductID      uuid.UUID             `json:"product_id"`
	VariantID      *uuid.UUID            `json:"variant_id,omitempty"`
	SKU            string                `json:"sku"`
	Title          string                `json:"title"`
	Quantity       int                   `json:"quantity"`
	UnitPriceCents int64                 `json:"unit_price_cents"`
	TotalCents     int64                 `json:"total_cents"`
	Status         enums.OrderItemStatus `json:"status"`
}

func newOrderResponse(o *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ID:             item.ID,
			ProductID:      item.ProductID,
			VariantID:      item.ProductVariantID,
			SKU:            item.SKU,
			Title:          item.Title,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.TotalCents,
			Status:         item.Status,
		})
	}
	return orderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		OrderStatus:     o.OrderStatus,
		PaymentStatus:   o.PaymentStatus,
		PaymentMethod:   o.PaymentMethod,
		SubtotalCents:   o.SubtotalCents,
		TaxCents:        o.TaxCents,
		ShippingCents:   o.ShippingCents,
		DiscountCents:   o.DiscountCents,
		GrandTotalCents: o.GrandTotalCents,
		Currency:        o.Currency,
		CouponCode:      o.CouponCode,
		Payment:         o.PaymentSnapshot,
		CancelReason:    o.CancelReason,
		CancelledAt:     o.CancelledAt,
		ConfirmedAt:     o.ConfirmedAt,
		Items:           items,
		CreatedAt:       o.CreatedAt,
	}
}
