package square

import sq "github.com/square/square-go-sdk"

// OrderSummary is the payment-relevant view of a Square order.
type OrderSummary struct {
	State         string
	PaymentID     string
	TotalCents    int64
	RefundedCents int64
}

// Summarize reads the state, first tender, and refunded total of order.
func Summarize(order *sq.Order) OrderSummary {
	if order == nil {
		return OrderSummary{}
	}
	summary := OrderSummary{}
	if state := order.GetState(); state != nil {
		summary.State = string(*state)
	}
	for _, tender := range order.GetTenders() {
		if tender == nil {
			continue
		}
		if id := stringValue(tender.GetPaymentID()); id != "" {
			summary.PaymentID = id
		} else {
			summary.PaymentID = stringValue(tender.GetID())
		}
		break
	}
	summary.TotalCents = moneyAmount(order.GetTotalMoney())
	for _, refund := range order.GetRefunds() {
		if refund == nil {
			continue
		}
		summary.RefundedCents += moneyAmount(refund.GetAmountMoney())
	}
	return summary
}

func moneyAmount(m *sq.Money) int64 {
	if m == nil || m.GetAmount() == nil {
		return 0
	}
	return *m.GetAmount()
}
