package returns

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
)

// Repository persists return requests and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, req *models.ReturnRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ReturnRequest, error)
	Transition(ctx context.Context, id uuid.UUID, from enums.ReturnStatus, updates map[string]any) (bool, error)
	SetItemsStatus(ctx context.Context, requestID uuid.UUID, to enums.ReturnStatus) error
	RequestedQuantities(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]int, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, req *models.ReturnRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ReturnRequest, error) {
	var req models.ReturnRequest
	err := r.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Where("id = ?", id).
		Take(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Transition applies updates only when the request is still in from.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from enums.ReturnStatus, updates map[string]any) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.ReturnRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetItemsStatus(ctx context.Context, requestID uuid.UUID, to enums.ReturnStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.ReturnRequestItem{}).
		Where("return_request_id = ?", requestID).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()}).Error
}

// RequestedQuantities sums the quantity already claimed per order item by
// requests that were not rejected.
func (r *repository) RequestedQuantities(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]int, error) {
	var rows []struct {
		OrderItemID uuid.UUID
		Total       int
	}
	err := r.db.WithContext(ctx).
		Table("return_request_items AS i").
		Select("i.order_item_id AS order_item_id, SUM(i.quantity) AS total").
		Joins("JOIN return_requests AS r ON r.id = i.return_request_id").
		Where("r.order_id = ? AND r.status <> ?", orderID, enums.ReturnStatusRejected).
		Group("i.order_item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		out[row.OrderItemID] = row.Total
	}
	return out, nil
}
