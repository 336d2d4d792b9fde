package enums

import "slices"

// OrderItemStatus marks whether an order line is still held by the buyer.
type OrderItemStatus string

const (
	OrderItemStatusActive   OrderItemStatus = "active"
	OrderItemStatusReturned OrderItemStatus = "returned"
)

var validOrderItemStatuses = []OrderItemStatus{
	OrderItemStatusActive,
	OrderItemStatusReturned,
}

func (s OrderItemStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderItemStatus.
func (s OrderItemStatus) IsValid() bool {
	return slices.Contains(validOrderItemStatuses, s)
}

// ParseOrderItemStatus converts raw input into a OrderItemStatus.
func ParseOrderItemStatus(value string) (OrderItemStatus, error) {
	return parseEnum(validOrderItemStatuses, value, "order item status")
}
