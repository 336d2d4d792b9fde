package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
)

// Guard restricts a conditional status transition to orders currently in
// one of the listed states. Empty lists match any state.
type Guard struct {
	OrderStatuses   []enums.OrderStatus
	PaymentStatuses []enums.OrderPaymentStatus
}

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	Transition(ctx context.Context, orderID uuid.UUID, guard Guard, updates map[string]any) (bool, error)
	UpdatePaymentSnapshot(ctx context.Context, orderID uuid.UUID, snapshot *models.PaymentSnapshot) error
	SetItemStatus(ctx context.Context, itemID uuid.UUID, from, to enums.OrderItemStatus) (bool, error)
	FailOpenPayments(ctx context.Context, orderID uuid.UUID, reason string) (int64, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order together with its items.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Where("id = ? AND is_deleted = ?", id, false).
		Take(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Transition applies updates only when the guard matches, reporting whether
// this call won the transition.
func (r *repository) Transition(ctx context.Context, orderID uuid.UUID, guard Guard, updates map[string]any) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID)
	if len(guard.OrderStatuses) > 0 {
		q = q.Where("order_status IN ?", guard.OrderStatuses)
	}
	if len(guard.PaymentStatuses) > 0 {
		q = q.Where("payment_status IN ?", guard.PaymentStatuses)
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdatePaymentSnapshot(ctx context.Context, orderID uuid.UUID, snapshot *models.PaymentSnapshot) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"payment_snapshot": snapshot,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *repository) SetItemStatus(ctx context.Context, itemID uuid.UUID, from, to enums.OrderItemStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ? AND status = ?", itemID, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailOpenPayments closes every open attempt of the order.
func (r *repository) FailOpenPayments(ctx context.Context, orderID uuid.UUID, reason string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusCreated).
		Updates(map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// ListPendingBefore returns unpaid, uncancelled orders created before cutoff.
func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_status = ? AND payment_status IN ? AND created_at < ? AND is_deleted = ?",
			enums.OrderStatusCreated,
			[]enums.OrderPaymentStatus{enums.OrderPaymentPending, enums.OrderPaymentFailed},
			cutoff,
			false,
		).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
