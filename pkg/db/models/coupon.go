package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/enums"
)

// Coupon is a redeemable discount code. DiscountValue is a percentage for
// percent coupons and minor units for fixed coupons.
type Coupon struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code             string             `gorm:"column:code;not null;uniqueIndex"`
	DiscountType     enums.DiscountType `gorm:"column:discount_type;type:text;not null"`
	DiscountValue    decimal.Decimal    `gorm:"column:discount_value;type:numeric(12,4);not null"`
	MaxDiscountCents *int64             `gorm:"column:max_discount_cents"`
	MinOrderCents    int64              `gorm:"column:min_order_cents;not null;default:0"`
	StartsAt         *time.Time         `gorm:"column:starts_at"`
	EndsAt           *time.Time         `gorm:"column:ends_at"`
	MaxRedemptions   *int               `gorm:"column:max_redemptions"`
	RedemptionCount  int                `gorm:"column:redemption_count;not null;default:0"`
	PerUserLimit     *int               `gorm:"column:per_user_limit"`
	IsActive         bool               `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// CouponUsage records one redemption. An order redeems at most one coupon.
type CouponUsage struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CouponID  uuid.UUID `gorm:"column:coupon_id;type:uuid;not null;index"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (u *CouponUsage) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
