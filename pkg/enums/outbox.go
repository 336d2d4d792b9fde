package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type column in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregatePayment       OutboxAggregateType = "payment"
	AggregateReturnRequest OutboxAggregateType = "return_request"
	AggregateProduct       OutboxAggregateType = "product"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateReturnRequest,
	AggregateProduct,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parseEnum(validAggregateTypes, value, "aggregate type")
}

// OutboxEventType maps to the event_type column in Postgres.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order_created"
	EventOrderPaid             OutboxEventType = "order_paid"
	EventOrderPaymentFailed    OutboxEventType = "order_payment_failed"
	EventOrderRefunded         OutboxEventType = "order_refunded"
	EventOrderCancelled        OutboxEventType = "order_cancelled"
	EventPaymentInitiated      OutboxEventType = "payment_initiated"
	EventReturnCompleted       OutboxEventType = "return_completed"
	EventNotificationRequested OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderPaymentFailed,
	EventOrderRefunded,
	EventOrderCancelled,
	EventPaymentInitiated,
	EventReturnCompleted,
	EventNotificationRequested,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseEnum(validOutboxEventTypes, value, "event type")
}
