// Package dbtest opens throwaway SQLite databases carrying the full schema.
package dbtest

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
)

// Models lists every table the services touch.
var Models = []any{
	&models.Product{},
	&models.ProductVariant{},
	&models.Address{},
	&models.Cart{},
	&models.CartItem{},
	&models.Coupon{},
	&models.CouponUsage{},
	&models.Order{},
	&models.OrderItem{},
	&models.Payment{},
	&models.GatewaySetting{},
	&models.ReturnRequest{},
	&models.ReturnRequestItem{},
	&models.OutboxEvent{},
	&models.OutboxDLQ{},
}

// Open returns an isolated in-memory database migrated with Models.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:sc_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(Models...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	if err := conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_open_order_gateway ON payments(order_id, gateway) WHERE status = 'created'`).Error; err != nil {
		t.Fatalf("create open payment index: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// SeedProduct inserts a product with the given stock.
func SeedProduct(t testing.TB, conn *gorm.DB, stock int, priceCents int64) *models.Product {
	t.Helper()
	product := &models.Product{
		SKU:        "SKU-" + uuid.NewString()[:8],
		Title:      "Test product",
		PriceCents: priceCents,
		StockQty:   stock,
		IsActive:   true,
	}
	if err := conn.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// SeedVariant inserts a variant of product with the given stock.
func SeedVariant(t testing.TB, conn *gorm.DB, product *models.Product, stock int, priceCents int64) *models.ProductVariant {
	t.Helper()
	variant := &models.ProductVariant{
		ProductID:  product.ID,
		SKU:        product.SKU + "-V",
		Title:      "Test variant",
		PriceCents: priceCents,
		StockQty:   stock,
	}
	if err := conn.Create(variant).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return variant
}

// StockOf reads stock_qty straight from the row.
func StockOf(t testing.TB, conn *gorm.DB, model any, id uuid.UUID) int {
	t.Helper()
	var qty int
	if err := conn.Model(model).Select("stock_qty").Where("id = ?", id).Scan(&qty).Error; err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return qty
}

// OrderLine describes one item of a seeded order.
type OrderLine struct {
	Product  *models.Product
	Variant  *models.ProductVariant
	Quantity int
}

// SeedOrder inserts a created, unpaid order for userID. Stock is not touched.
func SeedOrder(t testing.TB, conn *gorm.DB, userID uuid.UUID, lines ...OrderLine) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderNumber:       "ORD-TEST-" + strings.ToUpper(uuid.NewString()[:8]),
		UserID:            userID,
		ShippingAddressID: uuid.New(),
		BillingAddressID:  uuid.New(),
		Currency:          "USD",
		PaymentMethod:     "card",
		PaymentStatus:     enums.OrderPaymentPending,
		OrderStatus:       enums.OrderStatusCreated,
	}
	for _, line := range lines {
		item := models.OrderItem{
			ProductID:      line.Product.ID,
			SKU:            line.Product.SKU,
			Title:          line.Product.Title,
			Quantity:       line.Quantity,
			UnitPriceCents: line.Product.PriceCents,
			Status:         enums.OrderItemStatusActive,
		}
		if line.Variant != nil {
			item.ProductVariantID = &line.Variant.ID
			item.SKU = line.Variant.SKU
			item.UnitPriceCents = line.Variant.PriceCents
		}
		item.TotalCents = item.UnitPriceCents * int64(item.Quantity)
		order.SubtotalCents += item.TotalCents
		order.Items = append(order.Items, item)
	}
	order.GrandTotalCents = order.SubtotalCents
	if err := conn.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}
