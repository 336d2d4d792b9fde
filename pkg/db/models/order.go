package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/enums"
)

// Order is a placed purchase. Amounts are integer minor units.
type Order struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber       string                   `gorm:"column:order_number;not null;uniqueIndex"`
	UserID            uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	ShippingAddressID uuid.UUID                `gorm:"column:shipping_address_id;type:uuid;not null"`
	BillingAddressID  uuid.UUID                `gorm:"column:billing_address_id;type:uuid;not null"`
	SubtotalCents     int64                    `gorm:"column:subtotal_cents;not null"`
	TaxCents          int64                    `gorm:"column:tax_cents;not null;default:0"`
	ShippingCents     int64                    `gorm:"column:shipping_cents;not null;default:0"`
	DiscountCents     int64                    `gorm:"column:discount_cents;not null;default:0"`
	GrandTotalCents   int64                    `gorm:"column:grand_total_cents;not null"`
	Currency          string                   `gorm:"column:currency;not null"`
	CouponID          *uuid.UUID               `gorm:"column:coupon_id;type:uuid"`
	CouponCode        *string                  `gorm:"column:coupon_code"`
	PaymentMethod     string                   `gorm:"column:payment_method;not null"`
	PaymentStatus     enums.OrderPaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	OrderStatus       enums.OrderStatus        `gorm:"column:order_status;type:text;not null;default:'created'"`
	PaymentSnapshot   *PaymentSnapshot         `gorm:"column:payment_snapshot;type:jsonb"`
	Notes             *string                  `gorm:"column:notes"`
	ConfirmedAt       *time.Time               `gorm:"column:confirmed_at"`
	CancelledAt       *time.Time               `gorm:"column:cancelled_at"`
	CancelReason      *string                  `gorm:"column:cancel_reason"`
	IsDeleted         bool                     `gorm:"column:is_deleted;not null;default:false"`
	Items             []OrderItem              `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderItem is one purchased line. Returned lines no longer hold stock.
type OrderItem struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID        uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	ProductVariantID *uuid.UUID            `gorm:"column:product_variant_id;type:uuid"`
	VendorID         *uuid.UUID            `gorm:"column:vendor_id;type:uuid"`
	SKU              string                `gorm:"column:sku;not null"`
	Title            string                `gorm:"column:title;not null"`
	Quantity         int                   `gorm:"column:quantity;not null"`
	UnitPriceCents   int64                 `gorm:"column:unit_price_cents;not null"`
	TaxCents         int64                 `gorm:"column:tax_cents;not null;default:0"`
	TotalCents       int64                 `gorm:"column:total_cents;not null"`
	Status           enums.OrderItemStatus `gorm:"column:status;type:text;not null;default:'active'"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
