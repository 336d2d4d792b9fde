package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is a sellable listing. StockQty is the authoritative available
// quantity when the product has no variants.
type Product struct {
	ID                uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	VendorID          *uuid.UUID       `gorm:"column:vendor_id;type:uuid"`
	SKU               string           `gorm:"column:sku;not null"`
	Title             string           `gorm:"column:title;not null"`
	PriceCents        int64            `gorm:"column:price_cents;not null"`
	StockQty          int              `gorm:"column:stock_qty;not null;default:0"`
	LowStockThreshold *int             `gorm:"column:low_stock_threshold"`
	IsActive          bool             `gorm:"column:is_active;not null;default:true"`
	Variants          []ProductVariant `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// ProductVariant carries its own stock and price.
type ProductVariant struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;not null;index"`
	SKU               string    `gorm:"column:sku;not null"`
	Title             string    `gorm:"column:title;not null"`
	PriceCents        int64     `gorm:"column:price_cents;not null"`
	StockQty          int       `gorm:"column:stock_qty;not null;default:0"`
	LowStockThreshold *int      `gorm:"column:low_stock_threshold"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}
