package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/enums"
)

// Payment is one attempt to collect an order's grand total through a gateway.
type Payment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	Gateway         enums.Gateway       `gorm:"column:gateway;type:text;not null"`
	GatewayOrderID  string              `gorm:"column:gateway_order_id;not null;uniqueIndex"`
	TransactionID   *string             `gorm:"column:transaction_id;index"`
	AmountCents     int64               `gorm:"column:amount_cents;not null"`
	Currency        string              `gorm:"column:currency;not null"`
	Status          enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'created'"`
	FailureReason   *string             `gorm:"column:failure_reason"`
	RefundedCents   int64               `gorm:"column:refunded_cents;not null;default:0"`
	GatewayResponse json.RawMessage     `gorm:"column:gateway_response;type:jsonb"`
	Metadata        json.RawMessage     `gorm:"column:metadata;type:jsonb"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// PaymentSnapshot is the denormalized view of the latest payment stored on
// the order.
type PaymentSnapshot struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	Gateway        enums.Gateway       `json:"gateway"`
	GatewayOrderID string              `json:"gateway_order_id"`
	TransactionID  string              `json:"transaction_id,omitempty"`
	Status         enums.PaymentStatus `json:"status"`
	AmountCents    int64               `json:"amount_cents"`
	RefundedCents  int64               `json:"refunded_cents,omitempty"`
	Currency       string              `json:"currency"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Value serializes the snapshot to JSON.
func (s *PaymentSnapshot) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan decodes the JSONB column.
func (s *PaymentSnapshot) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = PaymentSnapshot{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported payment snapshot type %T", value)
	}
}

// SnapshotOf builds the order-level snapshot for p.
func SnapshotOf(p *Payment) *PaymentSnapshot {
	if p == nil {
		return nil
	}
	snap := &PaymentSnapshot{
		PaymentID:      p.ID,
		Gateway:        p.Gateway,
		GatewayOrderID: p.GatewayOrderID,
		Status:         p.Status,
		AmountCents:    p.AmountCents,
		RefundedCents:  p.RefundedCents,
		Currency:       p.Currency,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      time.Now().UTC(),
	}
	if p.TransactionID != nil {
		snap.TransactionID = *p.TransactionID
	}
	if p.FailureReason != nil {
		snap.FailureReason = *p.FailureReason
	}
	return snap
}

// GatewaySetting stores per-gateway credentials managed by admins.
type GatewaySetting struct {
	Gateway       enums.Gateway `gorm:"column:gateway;type:text;primaryKey"`
	SecretKey     string        `gorm:"column:secret_key;not null"`
	WebhookSecret string        `gorm:"column:webhook_secret;not null"`
	LocationID    *string       `gorm:"column:location_id"`
	Enabled       bool          `gorm:"column:enabled;not null;default:true"`
	UpdatedAt     time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

func (GatewaySetting) TableName() string {
	return "payment_gateway_settings"
}
