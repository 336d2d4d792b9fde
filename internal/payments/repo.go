package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
)

// Repository defines persistence operations for payment attempts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindOpen(ctx context.Context, orderID uuid.UUID, gateway enums.Gateway) (*models.Payment, error)
	FindByGatewayOrderID(ctx context.Context, gateway enums.Gateway, gatewayOrderID string) (*models.Payment, error)
	FindByTransactionID(ctx context.Context, gateway enums.Gateway, transactionID string) (*models.Payment, error)
	CountAttempts(ctx context.Context, orderID uuid.UUID, gateway enums.Gateway) (int64, error)
	ListStaleOpen(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
	FailOpen(ctx context.Context, orderID uuid.UUID, gateway enums.Gateway, reason string) (int64, error)
	Update(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, updates map[string]any) (bool, error)
	RecordRefund(ctx context.Context, id uuid.UUID, refundedCents int64, status enums.PaymentStatus) (bool, error)
	FindGatewaySetting(ctx context.Context, gateway enums.Gateway) (*models.GatewaySetting, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindOpen returns nil when the order has no open attempt on gateway.
func (r *repository) FindOpen(ctx context.Context, orderID uuid.UUID, gateway enums.Gateway) (*models.Payment, error) {
	return r.first(ctx, "order_id = ? AND gateway = ? AND status = ?", orderID, gateway, enums.PaymentStatusCreated)
}

func (r *repository) FindByGatewayOrderID(ctx context.Context, gateway enums.Gateway, gatewayOrderID string) (*models.Payment, error) {
	return r.first(ctx, "gateway = ? AND gateway_order_id = ?", gateway, gatewayOrderID)
}

func (r *repository) FindByTransactionID(ctx context.Context, gateway enums.Gateway, transactionID string) (*models.Payment, error) {
	return r.first(ctx, "gateway = ? AND transaction_id = ?", gateway, transactionID)
}

func (r *repository) first(ctx context.Context, query string, args ...any) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where(query, args...).Order("created_at DESC").Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) CountAttempts(ctx context.Context, orderID uuid.UUID, gateway enums.Gateway) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND gateway = ?", orderID, gateway).
		Count(&n).Error
	return n, err
}

// ListStaleOpen returns open attempts created before the cutoff, oldest first.
func (r *repository) ListStaleOpen(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusCreated, before).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FailOpen closes the order's open attempts on gateway. Attempts on other
// gateways stay open.
func (r *repository) FailOpen(ctx context.Context, orderID uuid.UUID, gateway enums.Gateway, reason string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND gateway = ? AND status = ?", orderID, gateway, enums.PaymentStatusCreated).
		Updates(map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// Update applies updates only while the payment is in one of from.
func (r *repository) Update(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, updates map[string]any) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
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

// RecordRefund raises the refunded amount; smaller or equal amounts are stale
// deliveries and change nothing.
func (r *repository) RecordRefund(ctx context.Context, id uuid.UUID, refundedCents int64, status enums.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND refunded_cents < ? AND status IN ?", id, refundedCents, []enums.PaymentStatus{
			enums.PaymentStatusSuccess,
			enums.PaymentStatusPartiallyRefunded,
			enums.PaymentStatusManualReview,
		}).
		Updates(map[string]any{
			"refunded_cents": refundedCents,
			"status":         status,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindGatewaySetting returns nil when no row exists for gateway.
func (r *repository) FindGatewaySetting(ctx context.Context, gateway enums.Gateway) (*models.GatewaySetting, error) {
	var setting models.GatewaySetting
	err := r.db.WithContext(ctx).Where("gateway = ?", gateway).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}
