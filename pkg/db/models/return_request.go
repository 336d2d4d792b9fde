package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/enums"
)

// ReturnRequest groups the order items a buyer wants to send back.
type ReturnRequest struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	UserID      uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	Status      enums.ReturnStatus  `gorm:"column:status;type:text;not null;default:'pending'"`
	AdminNote   *string             `gorm:"column:admin_note"`
	DecidedAt   *time.Time          `gorm:"column:decided_at"`
	CompletedAt *time.Time          `gorm:"column:completed_at"`
	Items       []ReturnRequestItem `gorm:"foreignKey:ReturnRequestID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *ReturnRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

type ReturnRequestItem struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ReturnRequestID uuid.UUID          `gorm:"column:return_request_id;type:uuid;not null;index"`
	OrderItemID     uuid.UUID          `gorm:"column:order_item_id;type:uuid;not null"`
	Quantity        int                `gorm:"column:quantity;not null"`
	Reason          *string            `gorm:"column:reason"`
	Status          enums.ReturnStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *ReturnRequestItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
