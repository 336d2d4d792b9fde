package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/internal/orders"
	"github.com/angelmondragon/shopcore/pkg/auth"
	dbpkg "github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/outbox"
	"github.com/angelmondragon/shopcore/pkg/outbox/payloads"
)

const (
	reasonGatewayFailure   = "gateway_reported_failure"
	reasonPaidAfterCancel  = "paid_after_cancel"
	reasonDuplicatePayment = "duplicate_payment"
)

// ApplyOutcome reports the state after a status was applied.
type ApplyOutcome struct {
	PaymentID          uuid.UUID                `json:"payment_id"`
	OrderID            uuid.UUID                `json:"order_id"`
	PaymentStatus      enums.PaymentStatus      `json:"payment_status"`
	OrderPaymentStatus enums.OrderPaymentStatus `json:"order_payment_status"`
	OrderStatus        enums.OrderStatus        `json:"order_status"`
	Changed            bool                     `json:"changed"`
}

// Reconciler applies normalized gateway states to payments and orders.
// Every transition is conditional on the current state, so replays and
// out-of-order deliveries leave the records unchanged.
type Reconciler struct {
	sessions dbpkg.SessionProvider
	payments Repository
	orders   orders.Repository
	outbox   eventEmitter
	logg     *logger.Logger
	now      func() time.Time
}

func NewReconciler(sessions dbpkg.SessionProvider, payments Repository, orderRepo orders.Repository, emitter eventEmitter, logg *logger.Logger) *Reconciler {
	return &Reconciler{
		sessions: sessions,
		payments: payments,
		orders:   orderRepo,
		outbox:   emitter,
		logg:     logg,
		now:      time.Now,
	}
}

// ApplyEvent applies a verified webhook event. The payment is looked up by
// gateway order id, then by transaction id.
func (r *Reconciler) ApplyEvent(ctx context.Context, event WebhookEvent) (*ApplyOutcome, error) {
	if event.Ignored {
		return &ApplyOutcome{}, nil
	}
	var outcome *ApplyOutcome
	err := dbpkg.RunSession(ctx, r.sessions, func(sess dbpkg.Session) error {
		payment, err := r.lookup(ctx, sess.DB(), event)
		if err != nil {
			return err
		}
		outcome, err = r.apply(ctx, sess, auth.SystemActor(), payment, event.Result())
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// ApplyStatus applies a polled gateway status to paymentID.
func (r *Reconciler) ApplyStatus(ctx context.Context, actor auth.Actor, paymentID uuid.UUID, result StatusResult) (*ApplyOutcome, error) {
	var outcome *ApplyOutcome
	err := dbpkg.RunSession(ctx, r.sessions, func(sess dbpkg.Session) error {
		payment, err := r.payments.WithTx(sess.DB()).FindByID(ctx, paymentID)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		outcome, err = r.apply(ctx, sess, actor, payment, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (r *Reconciler) lookup(ctx context.Context, tx *gorm.DB, event WebhookEvent) (*models.Payment, error) {
	repo := r.payments.WithTx(tx)
	if event.GatewayOrderID != "" {
		payment, err := repo.FindByGatewayOrderID(ctx, event.Gateway, event.GatewayOrderID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment != nil {
			return payment, nil
		}
	}
	if event.TransactionID != "" {
		payment, err := repo.FindByTransactionID(ctx, event.Gateway, event.TransactionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment != nil {
			return payment, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
		WithDetails(map[string]any{
			"gateway":          event.Gateway,
			"gateway_order_id": event.GatewayOrderID,
			"transaction_id":   event.TransactionID,
		})
}

func (r *Reconciler) apply(ctx context.Context, sess dbpkg.Session, actor auth.Actor, payment *models.Payment, result StatusResult) (*ApplyOutcome, error) {
	tx := sess.DB()
	payments := r.payments.WithTx(tx)
	orderRepo := r.orders.WithTx(tx)

	order, err := orderRepo.FindByID(ctx, payment.OrderID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	t := transition{r: r, tx: tx, actor: actor, payments: payments, orders: orderRepo, payment: payment, order: order, result: result}
	var changed bool
	switch result.Status {
	case StatusSuccess:
		changed, err = t.success(ctx)
	case StatusFailed:
		changed, err = t.failed(ctx)
	case StatusRefunded:
		changed, err = t.refunded(ctx)
	}
	if err != nil {
		return nil, err
	}

	fresh, err := payments.FindByID(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
	}
	current, err := orderRepo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	if snapshotTracks(current, fresh) {
		if err := orderRepo.UpdatePaymentSnapshot(ctx, order.ID, models.SnapshotOf(fresh)); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment snapshot")
		}
	}

	outcome := &ApplyOutcome{
		PaymentID:          fresh.ID,
		OrderID:            current.ID,
		PaymentStatus:      fresh.Status,
		OrderPaymentStatus: current.PaymentStatus,
		OrderStatus:        current.OrderStatus,
		Changed:            changed,
	}
	if r.logg != nil {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"payment_id":           fresh.ID.String(),
			"order_id":             current.ID.String(),
			"gateway_status":       string(result.Status),
			"payment_status":       string(fresh.Status),
			"order_payment_status": string(current.PaymentStatus),
			"changed":              changed,
		})
		r.logg.Info(logCtx, "payment status applied")
	}
	return outcome, nil
}

// snapshotTracks keeps a paid order's snapshot on the payment that paid it.
func snapshotTracks(order *models.Order, payment *models.Payment) bool {
	snap := order.PaymentSnapshot
	if snap == nil || snap.PaymentID == payment.ID {
		return true
	}
	return order.PaymentStatus != enums.OrderPaymentPaid &&
		order.PaymentStatus != enums.OrderPaymentRefunded &&
		order.PaymentStatus != enums.OrderPaymentPartiallyRefunded
}

type transition struct {
	r        *Reconciler
	tx       *gorm.DB
	actor    auth.Actor
	payments Repository
	orders   orders.Repository
	payment  *models.Payment
	order    *models.Order
	result   StatusResult
}

func (t transition) paymentUpdates(status enums.PaymentStatus) map[string]any {
	updates := map[string]any{"status": status}
	if t.result.TransactionID != "" {
		updates["transaction_id"] = t.result.TransactionID
	}
	return updates
}

func (t transition) success(ctx context.Context) (bool, error) {
	from := []enums.PaymentStatus{enums.PaymentStatusCreated, enums.PaymentStatusFailed}

	if t.order.OrderStatus == enums.OrderStatusCancelled {
		updates := t.paymentUpdates(enums.PaymentStatusManualReview)
		updates["failure_reason"] = reasonPaidAfterCancel
		won, err := t.payments.Update(ctx, t.payment.ID, from, updates)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag payment for review")
		}
		if won {
			t.r.warn(ctx, t.payment, "payment captured for a cancelled order, flagged for manual review")
		}
		return won, nil
	}

	won, err := t.payments.Update(ctx, t.payment.ID, from, t.paymentUpdates(enums.PaymentStatusSuccess))
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment succeeded")
	}

	now := t.r.now().UTC()
	confirmed, err := t.orders.Transition(ctx, t.order.ID, orders.Guard{
		OrderStatuses:   []enums.OrderStatus{enums.OrderStatusCreated, enums.OrderStatusOnHold},
		PaymentStatuses: []enums.OrderPaymentStatus{enums.OrderPaymentPending, enums.OrderPaymentFailed},
	}, map[string]any{
		"order_status":   enums.OrderStatusConfirmed,
		"payment_status": enums.OrderPaymentPaid,
		"confirmed_at":   now,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm order")
	}

	if confirmed {
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   t.order.ID,
			Actor:         t.actorRef(),
			Data: payloads.OrderPaidEvent{
				OrderID:        t.order.ID,
				OrderNumber:    t.order.OrderNumber,
				UserID:         t.order.UserID,
				PaymentID:      t.payment.ID,
				Gateway:        t.payment.Gateway,
				TransactionID:  t.result.TransactionID,
				AmountCents:    t.payment.AmountCents,
				Currency:       t.payment.Currency,
				PaidAt:         now,
				InvoiceRequest: true,
			},
		}
		if err := t.r.outbox.EmitIfNotExists(ctx, t.tx, event); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order paid event")
		}
		return true, nil
	}

	if won && t.order.PaymentSnapshot != nil && t.order.PaymentSnapshot.PaymentID != t.payment.ID &&
		t.order.PaymentStatus == enums.OrderPaymentPaid {
		updates := map[string]any{"status": enums.PaymentStatusManualReview, "failure_reason": reasonDuplicatePayment}
		if _, err := t.payments.Update(ctx, t.payment.ID, []enums.PaymentStatus{enums.PaymentStatusSuccess}, updates); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag duplicate payment")
		}
		t.r.warn(ctx, t.payment, "second successful payment for a paid order, flagged for manual review")
	}
	return won, nil
}

func (t transition) failed(ctx context.Context) (bool, error) {
	updates := t.paymentUpdates(enums.PaymentStatusFailed)
	updates["failure_reason"] = reasonGatewayFailure
	won, err := t.payments.Update(ctx, t.payment.ID, []enums.PaymentStatus{enums.PaymentStatusCreated}, updates)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
	}
	if !won {
		return false, nil
	}

	moved, err := t.orders.Transition(ctx, t.order.ID, orders.Guard{
		OrderStatuses:   []enums.OrderStatus{enums.OrderStatusCreated},
		PaymentStatuses: []enums.OrderPaymentStatus{enums.OrderPaymentPending},
	}, map[string]any{"payment_status": enums.OrderPaymentFailed})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail order payment")
	}
	if moved {
		reason := reasonGatewayFailure
		if err := t.r.outbox.Emit(ctx, t.tx, t.statusEvent(enums.EventOrderPaymentFailed, enums.PaymentStatusFailed, enums.OrderPaymentFailed, 0, &reason)); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment failed event")
		}
	}
	return true, nil
}

func (t transition) refunded(ctx context.Context) (bool, error) {
	amount := t.payment.AmountCents
	refunded := t.result.RefundedCents
	if refunded <= 0 && t.result.FullRefund {
		refunded = amount
	}
	if refunded <= 0 {
		return false, nil
	}
	if refunded > amount {
		refunded = amount
	}

	status, orderStatus := enums.PaymentStatusPartiallyRefunded, enums.OrderPaymentPartiallyRefunded
	if t.result.FullRefund || refunded >= amount {
		status, orderStatus = enums.PaymentStatusRefunded, enums.OrderPaymentRefunded
	}

	won, err := t.payments.RecordRefund(ctx, t.payment.ID, refunded, status)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}
	if !won {
		return false, nil
	}

	if _, err := t.orders.Transition(ctx, t.order.ID, orders.Guard{
		PaymentStatuses: []enums.OrderPaymentStatus{enums.OrderPaymentPaid, enums.OrderPaymentPartiallyRefunded},
	}, map[string]any{"payment_status": orderStatus}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
	}
	if err := t.r.outbox.Emit(ctx, t.tx, t.statusEvent(enums.EventOrderRefunded, status, orderStatus, refunded, nil)); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit refund event")
	}
	return true, nil
}

func (t transition) statusEvent(eventType enums.OutboxEventType, status enums.PaymentStatus, orderStatus enums.OrderPaymentStatus, refunded int64, reason *string) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   t.order.ID,
		Actor:         t.actorRef(),
		Data: payloads.PaymentStatusEvent{
			OrderID:       t.order.ID,
			PaymentID:     t.payment.ID,
			Gateway:       t.payment.Gateway,
			PaymentStatus: status,
			OrderPayment:  orderStatus,
			RefundedCents: refunded,
			Reason:        reason,
		},
	}
}

func (t transition) actorRef() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: t.actor.UserIDPtr(), Role: string(t.actor.Role)}
}

func (r *Reconciler) warn(ctx context.Context, payment *models.Payment, msg string) {
	if r.logg == nil {
		return
	}
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"payment_id": payment.ID.String(),
		"order_id":   payment.OrderID.String(),
		"gateway":    string(payment.Gateway),
	})
	r.logg.Warn(logCtx, msg)
}
