package enums

import "slices"

// PaymentStatus tracks the lifecycle of a single payment attempt.
type PaymentStatus string

const (
	PaymentStatusCreated           PaymentStatus = "created"
	PaymentStatusSuccess           PaymentStatus = "success"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusManualReview      PaymentStatus = "manual_review"
)

var paymentStatuses = []PaymentStatus{
	PaymentStatusCreated,
	PaymentStatusSuccess,
	PaymentStatusFailed,
	PaymentStatusRefunded,
	PaymentStatusPartiallyRefunded,
	PaymentStatusManualReview,
}

func (s PaymentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PaymentStatus.
func (s PaymentStatus) IsValid() bool {
	return slices.Contains(paymentStatuses, s)
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return parseEnum(paymentStatuses, value, "payment status")
}

// IsOpen reports whether the attempt can still be paid against.
func (s PaymentStatus) IsOpen() bool {
	return s == PaymentStatusCreated
}
