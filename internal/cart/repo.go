package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopcore/pkg/db/models"
)

// Owner identifies whose cart is addressed. A signed-in user wins over an
// anonymous session id.
type Owner struct {
	UserID    *uuid.UUID
	SessionID string
}

func (o Owner) empty() bool {
	return (o.UserID == nil || *o.UserID == uuid.Nil) && o.SessionID == ""
}

// Repository exposes persistence operations for carts.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction or session handle.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) scoped(ctx context.Context, owner Owner) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Cart{})
	if owner.UserID != nil && *owner.UserID != uuid.Nil {
		return q.Where("user_id = ?", *owner.UserID)
	}
	return q.Where("session_id = ?", owner.SessionID)
}

// FindByOwner loads the latest cart for owner with its items and their
// products and variants.
func (r *Repository) FindByOwner(ctx context.Context, owner Owner) (*models.Cart, error) {
	var cart models.Cart
	err := r.scoped(ctx, owner).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Preload("Items.Product").
		Preload("Items.Variant").
		Order("updated_at DESC").
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// Create inserts a new cart.
func (r *Repository) Create(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	if err := r.db.WithContext(ctx).Create(cart).Error; err != nil {
		return nil, err
	}
	return cart, nil
}

// UpsertItem sets the quantity of a line, inserting it when absent.
func (r *Repository) UpsertItem(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID, qty int) error {
	q := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("cart_id = ? AND product_id = ?", cartID, productID)
	if variantID != nil {
		q = q.Where("product_variant_id = ?", *variantID)
	} else {
		q = q.Where("product_variant_id IS NULL")
	}
	res := q.Updates(map[string]any{"quantity": qty, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&models.CartItem{
		CartID:           cartID,
		ProductID:        productID,
		ProductVariantID: variantID,
		Quantity:         qty,
	}).Error
}

// RemoveItem deletes one line.
func (r *Repository) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		Delete(&models.CartItem{}).Error
}

// SetCoupon attaches or, with nil, detaches a coupon code.
func (r *Repository) SetCoupon(ctx context.Context, cartID uuid.UUID, code *string) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", cartID).
		Updates(map[string]any{"coupon_code": code, "updated_at": time.Now().UTC()}).Error
}

// Clear empties the cart after it was converted into an order.
func (r *Repository) Clear(ctx context.Context, cartID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
		return err
	}
	return r.SetCoupon(ctx, cartID, nil)
}

// Restore puts back the lines and coupon of a cart loaded before Clear. Lines
// that still exist are kept as they are.
func (r *Repository) Restore(ctx context.Context, snapshot *models.Cart) error {
	if snapshot == nil {
		return nil
	}
	items := make([]models.CartItem, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, models.CartItem{
			ID:               item.ID,
			CartID:           snapshot.ID,
			ProductID:        item.ProductID,
			ProductVariantID: item.ProductVariantID,
			Quantity:         item.Quantity,
			CreatedAt:        item.CreatedAt,
		})
	}
	if len(items) > 0 {
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&items).Error; err != nil {
			return err
		}
	}
	if snapshot.CouponCode == nil {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND (coupon_code IS NULL OR coupon_code <> ?)", snapshot.ID, *snapshot.CouponCode).
		Updates(map[string]any{"coupon_code": *snapshot.CouponCode, "updated_at": time.Now().UTC()}).Error
}
