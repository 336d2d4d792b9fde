package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/pkg/enums"
)

// OrderCreatedEvent is emitted once an order and its items are persisted.
type OrderCreatedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	OrderNumber     string    `json:"order_number"`
	UserID          uuid.UUID `json:"user_id"`
	GrandTotalCents int64     `json:"grand_total_cents"`
	Currency        string    `json:"currency"`
	ItemCount       int       `json:"item_count"`
	CouponCode      *string   `json:"coupon_code,omitempty"`
}

// OrderPaidEvent triggers invoice generation.
type OrderPaidEvent struct {
	OrderID        uuid.UUID     `json:"order_id"`
	OrderNumber    string        `json:"order_number"`
	UserID         uuid.UUID     `json:"user_id"`
	PaymentID      uuid.UUID     `json:"payment_id"`
	Gateway        enums.Gateway `json:"gateway"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	AmountCents    int64         `json:"amount_cents"`
	Currency       string        `json:"currency"`
	PaidAt         time.Time     `json:"paid_at"`
	InvoiceRequest bool          `json:"invoice_request"`
}

// PaymentStatusEvent covers failed and refunded transitions.
type PaymentStatusEvent struct {
	OrderID       uuid.UUID                `json:"order_id"`
	PaymentID     uuid.UUID                `json:"payment_id"`
	Gateway       enums.Gateway            `json:"gateway"`
	PaymentStatus enums.PaymentStatus      `json:"payment_status"`
	OrderPayment  enums.OrderPaymentStatus `json:"order_payment_status"`
	RefundedCents int64                    `json:"refunded_cents,omitempty"`
	Reason        *string                  `json:"reason,omitempty"`
}

// PaymentInitiatedEvent records a new gateway-side payment order.
type PaymentInitiatedEvent struct {
	OrderID        uuid.UUID     `json:"order_id"`
	PaymentID      uuid.UUID     `json:"payment_id"`
	Gateway        enums.Gateway `json:"gateway"`
	GatewayOrderID string        `json:"gateway_order_id"`
	AmountCents    int64         `json:"amount_cents"`
}

// OrderCancelledEvent is emitted when an order is cancelled by a buyer,
// an admin, or the auto-cancel sweep.
type OrderCancelledEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserID        uuid.UUID       `json:"user_id"`
	Reason        string          `json:"reason"`
	CancelledBy   enums.ActorRole `json:"cancelled_by"`
	ReleasedItems int             `json:"released_items"`
}

// ReturnCompletedEvent is emitted after returned stock is restored.
type ReturnCompletedEvent struct {
	ReturnRequestID uuid.UUID   `json:"return_request_id"`
	OrderID         uuid.UUID   `json:"order_id"`
	UserID          uuid.UUID   `json:"user_id"`
	OrderItemIDs    []uuid.UUID `json:"order_item_ids"`
	Quantity        int         `json:"quantity"`
}

// NotificationRequestedEvent asks the notification service to send a message.
type NotificationRequestedEvent struct {
	Kind      string         `json:"kind"`
	Recipient string         `json:"recipient,omitempty"`
	Subject   string         `json:"subject"`
	Data      map[string]any `json:"data,omitempty"`
}
