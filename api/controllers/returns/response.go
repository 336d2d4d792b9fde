package returns

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
)

type returnResponse struct {
	ID          uuid.UUID            `json:"id"`
	OrderID     uuid.UUID            `json:"order_id"`
	Status      enums.ReturnStatus   `json:"status"`
	AdminNote   *string              `json:"admin_note,omitempty"`
	DecidedAt   *time.Time           `json:"decided_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Items       []returnItemResponse `json:"items"`
	CreatedAt   time.Time            `json:"created_at"`
}

type returnItemResponse struct {
	ID          uuid.UUID          `json:"id"`
	OrderItemID uuid.UUID          `json:"order_item_id"`
	Quantity    int                `json:"quantity"`
	Reason      *string            `json:"reason,omitempty"`
	Status      enums.ReturnStatus `json:"status"`
}

func newReturnResponse(r *models.ReturnRequest) returnResponse {
	items := make([]returnItemResponse, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, returnItemResponse{
			ID:          item.ID,
			OrderItemID: item.OrderItemID,
			Quantity:    item.Quantity,
			Reason:      item.Reason,
			Status:      item.Status,
		})
	}
	return returnResponse{
		ID:          r.ID,
		OrderID:     r.OrderID,
		Status:      r.Status,
		AdminNote:   r.AdminNote,
		DecidedAt:   r.DecidedAt,
		CompletedAt: r.CompletedAt,
		Items:       items,
		CreatedAt:   r.CreatedAt,
	}
}
