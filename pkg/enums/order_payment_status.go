package enums

import "slices"

// OrderPaymentStatus is the payment state mirrored onto an order.
type OrderPaymentStatus string

const (
	OrderPaymentPending           OrderPaymentStatus = "pending"
	OrderPaymentPaid              OrderPaymentStatus = "paid"
	OrderPaymentFailed            OrderPaymentStatus = "failed"
	OrderPaymentRefunded          OrderPaymentStatus = "refunded"
	OrderPaymentPartiallyRefunded OrderPaymentStatus = "partially_refunded"
)

var validOrderPaymentStatuses = []OrderPaymentStatus{
	OrderPaymentPending,
	OrderPaymentPaid,
	OrderPaymentFailed,
	OrderPaymentRefunded,
	OrderPaymentPartiallyRefunded,
}

func (s OrderPaymentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderPaymentStatus.
func (s OrderPaymentStatus) IsValid() bool {
	return slices.Contains(validOrderPaymentStatuses, s)
}

// ParseOrderPaymentStatus converts raw input into a OrderPaymentStatus.
func ParseOrderPaymentStatus(value string) (OrderPaymentStatus, error) {
	return parseEnum(validOrderPaymentStatuses, value, "order payment status")
}

// IsCancellable reports whether an order in this payment state may be cancelled.
func (s OrderPaymentStatus) IsCancellable() bool {
	return s == OrderPaymentPending || s == OrderPaymentFailed
}
