package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopcore/pkg/auth"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

func stripeEvent(id, gatewayOrderID string, status Status) WebhookEvent {
	return WebhookEvent{Gateway: enums.GatewayStripe, EventID: id, GatewayOrderID: gatewayOrderID, TransactionID: "ch_" + id, Status: status}
}

func TestApplySuccessConfirmsOrderOnce(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, uuid.New())
	payment := f.seedPayment(t, order, enums.GatewayStripe, "pi_1", enums.PaymentStatusCreated)
	ctx := context.Background()

	outcome, err := f.reconciler.ApplyEvent(ctx, stripeEvent("evt_1", "pi_1", StatusSuccess))
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.Equal(t, enums.PaymentStatusSuccess, outcome.PaymentStatus)
	assert.Equal(t, enums.OrderPaymentPaid, outcome.OrderPaymentStatus)
	assert.Equal(t, enums.OrderStatusConfirmed, outcome.OrderStatus)

	replay, err := f.reconciler.ApplyEvent(ctx, stripeEvent("evt_2", "pi_1", StatusSuccess))
	require.NoError(t, err)
	assert.False(t, replay.Changed)

	stored := f.order(t, order.ID)
	assert.NotNil(t, stored.ConfirmedAt)
	require.NotNil(t, stored.PaymentSnapshot)
	assert.Equal(t, payment.ID, stored.PaymentSnapshot.PaymentID)
	assert.Equal(t, "ch_evt_2", stored.PaymentSnapshot.TransactionID)
	assert.Equal(t, enums.PaymentStatusSuccess, stored.PaymentSnapshot.Status)
	assert.Equal(t, int64(1), f.events(t, enums.EventOrderPaid))
}

func TestApplyIsSafeOutOfOrder(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, uuid.New())
	f.seedPayment(t, order, enums.GatewayStripe, "pi_2", enums.PaymentStatusCreated)
	ctx := context.Background()

	_, err := f.reconciler.ApplyEvent(ctx, stripeEvent("evt_ok", "pi_2", StatusSuccess))
	require.NoError(t, err)
	late, err := f.reconciler.ApplyEvent(ctx, stripeEvent("evt_fail", "pi_2", StatusFailed))
	require.NoError(t, err)

	assert.False(t, late.Changed)
	assert.Equal(t, enums.PaymentStatusSuccess, late.PaymentStatus)
	assert.Equal(t, enums.OrderPaymentPaid, late.OrderPaymentStatus)
	assert.Zero(t, f.events(t, enums.EventOrderPaymentFailed))
}

func TestApplySuccessAfterFailureStillPays(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, uuid.New())
	f.seedPayment(t, order, enums.GatewayStripe, "pi_3", enums.PaymentStatusCreated)
	ctx := context.Background()

	failed, err := f.reconciler.ApplyEvent(ctx, stripeEvent("evt_a", "pi_3", StatusFailed))
	require.NoError(t, err)
	assert.Equal(t, enums.OrderPaymentFailed, failed.OrderPaymentStatus)
	assert.Equal(t, int64(1), f.events(t, enums.EventOrderPaymentFailed))

	paid, err := f.reconciler.ApplyEvent(ctx, stripeEvent("evt_b", "pi_3", StatusSuccess))
	require.NoError(t, err)
	assert.Equal(t, enums.OrderPaymentPaid, paid.OrderPaymentStatus)
}

func TestApplyRefundsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, uuid.New())
	f.seedPayment(t, order, enums.GatewayStripe, "pi_4", enums.PaymentStatusCreated)
	ctx := context.Background()
	_, err := f.reconciler.ApplyEvent(ctx, stripeEvent("evt_paid", "pi_4", StatusSuccess))
	require.NoError(t, err)

	partial := stripeEvent("evt_r1", "pi_4", StatusRefunded)
	partial.RefundedCents = 1000
	outcome, err := f.reconciler.ApplyEvent(ctx, partial)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, outcome.PaymentStatus)
	assert.Equal(t, enums.OrderPaymentPartiallyRefunded, outcome.OrderPaymentStatus)

	stale := stripeEvent("evt_r0", "pi_4", StatusRefunded)
	stale.RefundedCents = 500
	outcome, err = f.reconciler.ApplyEvent(ctx, stale)
	require.NoError(t, err)
	assert.False(t, outcome.Changed)

	full := stripeEvent("evt_r2", "pi_4", StatusRefunded)
	full.RefundedCents = order.GrandTotalCents
	full.FullRefund = true
	outcome, err = f.reconciler.ApplyEvent(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, outcome.PaymentStatus)
	assert.Equal(t, enums.OrderPaymentRefunded, outcome.OrderPaymentStatus)
	assert.Equal(t, int64(2), f.events(t, enums.EventOrderRefunded))

	stored := f.order(t, order.ID)
	assert.Equal(t, order.GrandTotalCents, stored.PaymentSnapshot.RefundedCents)
}

func TestApplySuccessOnCancelledOrderNeedsReview(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, uuid.New())
	f.seedPayment(t, order, enums.GatewayStripe, "pi_5", enums.PaymentStatusCreated)
	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("order_status", enums.OrderStatusCancelled).Error)

	outcome, err := f.reconciler.ApplyEvent(context.Background(), stripeEvent("evt_late", "pi_5", StatusSuccess))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusManualReview, outcome.PaymentStatus)
	assert.Equal(t, enums.OrderStatusCancelled, outcome.OrderStatus)
	assert.Equal(t, enums.OrderPaymentPending, outcome.OrderPaymentStatus)
	assert.Zero(t, f.events(t, enums.EventOrderPaid))
}

func TestApplyEventLookupFallsBackToTransactionID(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, uuid.New())
	payment := f.seedPayment(t, order, enums.GatewaySquare, "sq_order", enums.PaymentStatusCreated)
	txID := "sq_payment"
	require.NoError(t, f.conn.Model(&models.Payment{}).Where("id = ?", payment.ID).Update("transaction_id", txID).Error)
	ctx := context.Background()

	outcome, err := f.reconciler.ApplyEvent(ctx, WebhookEvent{
		Gateway: enums.GatewaySquare, EventID: "e1", TransactionID: txID, Status: StatusSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, payment.ID, outcome.PaymentID)

	_, err = f.reconciler.ApplyEvent(ctx, WebhookEvent{Gateway: enums.GatewaySquare, EventID: "e2", GatewayOrderID: "missing", Status: StatusSuccess})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	ignored, err := f.reconciler.ApplyEvent(ctx, WebhookEvent{Gateway: enums.GatewaySquare, EventID: "e3", Ignored: true})
	require.NoError(t, err)
	assert.False(t, ignored.Changed)
}

func TestConfirmPaymentPollsGateway(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	order := f.seedOrder(t, userID)
	payment := f.seedPayment(t, order, enums.GatewayStripe, "pi_poll", enums.PaymentStatusCreated)
	f.stripe.status = &StatusResult{Status: StatusSuccess, TransactionID: "ch_poll"}
	ctx := context.Background()

	_, err := f.svc.ConfirmPayment(ctx, customer(uuid.New()), payment.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.Zero(t, f.stripe.fetches)

	outcome, err := f.svc.ConfirmPayment(ctx, customer(userID), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderPaymentPaid, outcome.OrderPaymentStatus)

	again, err := f.svc.ConfirmPayment(ctx, auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}, payment.ID)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, int64(1), f.events(t, enums.EventOrderPaid))

	_, err = f.svc.ConfirmPayment(ctx, customer(userID), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestPollStaleConfirmsAttemptsMissingWebhooks(t *testing.T) {
	f := newFixture(t)
	paidOrder := f.seedOrder(t, uuid.New())
	stuck := f.seedPayment(t, paidOrder, enums.GatewayStripe, "pi_stale", enums.PaymentStatusCreated)
	waitingOrder := f.seedOrder(t, uuid.New())
	waiting := f.seedPayment(t, waitingOrder, enums.GatewaySquare, "sq_stale", enums.PaymentStatusCreated)
	freshOrder := f.seedOrder(t, uuid.New())
	f.seedPayment(t, freshOrder, enums.GatewayStripe, "pi_fresh", enums.PaymentStatusCreated)

	old := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, f.conn.Model(&models.Payment{}).
		Where("id IN ?", []uuid.UUID{stuck.ID, waiting.ID}).
		Update("created_at", old).Error)
	f.stripe.status = &StatusResult{Status: StatusSuccess, TransactionID: "ch_stale"}
	f.square.status = &StatusResult{Status: StatusPending}

	changed, err := f.svc.PollStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, 1, f.stripe.fetches)
	assert.Equal(t, 1, f.square.fetches)
	assert.Equal(t, enums.PaymentStatusSuccess, f.payment(t, stuck.ID).Status)
	assert.Equal(t, enums.OrderPaymentPaid, f.order(t, paidOrder.ID).PaymentStatus)
	assert.Equal(t, enums.PaymentStatusCreated, f.payment(t, waiting.ID).Status)
}
