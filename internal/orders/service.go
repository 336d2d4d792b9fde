package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/internal/inventory"
	"github.com/angelmondragon/shopcore/pkg/auth"
	dbpkg "github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/outbox"
	"github.com/angelmondragon/shopcore/pkg/outbox/payloads"
)

// Cancellation reasons recorded on orders and their open payments.
const (
	ReasonPaymentTimeout = "payment_timeout"
	ReasonOrderCancelled = "order_cancelled"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StockReleaser returns reserved stock.
type StockReleaser interface {
	Release(ctx context.Context, sess dbpkg.Session, ref inventory.Ref, qty int, meta inventory.Meta) error
}

// CouponReverter gives back a redemption recorded for an order.
type CouponReverter interface {
	RemoveUsageByOrder(ctx context.Context, sess dbpkg.Session, orderID uuid.UUID) error
}

// Service defines order-level operations beyond placement.
type Service interface {
	Get(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error)
	AutoCancel(ctx context.Context, orderID uuid.UUID) error
	SweepExpired(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	HandleAutoCancelJob(ctx context.Context, raw []byte) error
}

type service struct {
	repo      Repository
	sessions  dbpkg.SessionProvider
	inventory StockReleaser
	coupons   CouponReverter
	outbox    outboxPublisher
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the orders service. coupons may be nil.
func NewService(repo Repository, sessions dbpkg.SessionProvider, inventory StockReleaser, coupons CouponReverter, publisher outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session provider required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory releaser required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:      repo,
		sessions:  sessions,
		inventory: inventory,
		coupons:   coupons,
		outbox:    publisher,
		logg:      logg,
		now:       time.Now,
	}, nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapLoadErr(err)
	}
	if !actor.CanAccess(order.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

// Cancel cancels an unpaid order and returns its stock. Repeated calls on an
// already cancelled order return it unchanged.
func (s *service) Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if reason == "" {
		reason = ReasonOrderCancelled
	}

	var result *models.Order
	err := dbpkg.RunSession(ctx, s.sessions, func(sess dbpkg.Session) error {
		order, err := s.cancelInSession(ctx, sess, actor, orderID, reason)
		result = order
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AutoCancel cancels an order whose payment window elapsed. Orders that were
// paid or already cancelled in the meantime are left alone.
func (s *service) AutoCancel(ctx context.Context, orderID uuid.UUID) error {
	err := dbpkg.RunSession(ctx, s.sessions, func(sess dbpkg.Session) error {
		_, err := s.cancelInSession(ctx, sess, auth.SystemActor(), orderID, ReasonPaymentTimeout)
		return err
	})
	if err == nil {
		return nil
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) || pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		if s.logg != nil {
			logCtx := s.logg.WithOrderID(ctx, orderID.String())
			s.logg.Info(logCtx, fmt.Sprintf("auto-cancel skipped: %v", err))
		}
		return nil
	}
	return err
}

func (s *service) cancelInSession(ctx context.Context, sess dbpkg.Session, actor auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error) {
	repo := s.repo.WithTx(sess.DB())

	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapLoadErr(err)
	}
	if !actor.CanAccess(order.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	if order.OrderStatus == enums.OrderStatusCancelled {
		return order, nil
	}
	if order.OrderStatus != enums.OrderStatusCreated || !order.PaymentStatus.IsCancellable() {
		return nil, conflictFor(order)
	}

	now := s.now().UTC()
	won, err := repo.Transition(ctx, orderID, Guard{
		OrderStatuses:   []enums.OrderStatus{enums.OrderStatusCreated},
		PaymentStatuses: []enums.OrderPaymentStatus{enums.OrderPaymentPending, enums.OrderPaymentFailed},
	}, map[string]any{
		"order_status":  enums.OrderStatusCancelled,
		"cancelled_at":  now,
		"cancel_reason": reason,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	if !won {
		current, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return nil, mapLoadErr(err)
		}
		if current.OrderStatus == enums.OrderStatusCancelled {
			return current, nil
		}
		return nil, conflictFor(current)
	}

	released := 0
	meta := inventory.Meta{OrderID: &order.ID, Reason: reason}
	for _, item := range order.Items {
		if item.Status != enums.OrderItemStatusActive {
			continue
		}
		ref := inventory.Ref{ProductID: item.ProductID, VariantID: item.ProductVariantID}
		if err := s.inventory.Release(ctx, sess, ref, item.Quantity, meta); err != nil {
			return nil, err
		}
		released++
	}

	if _, err := repo.FailOpenPayments(ctx, orderID, ReasonOrderCancelled); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail open payments")
	}
	if s.coupons != nil && order.CouponID != nil {
		if err := s.coupons.RemoveUsageByOrder(ctx, sess, orderID); err != nil {
			return nil, err
		}
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         &outbox.ActorRef{UserID: actor.UserIDPtr(), Role: string(actor.Role)},
		Data: payloads.OrderCancelledEvent{
			OrderID:       orderID,
			OrderNumber:   order.OrderNumber,
			UserID:        order.UserID,
			Reason:        reason,
			CancelledBy:   actor.Role,
			ReleasedItems: released,
		},
	}
	if err := s.outbox.Emit(ctx, sess.DB(), event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order cancelled event")
	}

	order.OrderStatus = enums.OrderStatusCancelled
	order.CancelledAt = &now
	order.CancelReason = &reason
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":       orderID.String(),
			"reason":         reason,
			"released_items": released,
			"actor_role":     actor.Role,
		})
		s.logg.Info(logCtx, "order cancelled")
	}
	return order, nil
}

// SweepExpired cancels orders the delayed auto-cancel job missed.
func (s *service) SweepExpired(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	ids, err := s.repo.ListPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired orders")
	}
	var errs error
	processed := 0
	for _, id := range ids {
		if err := s.AutoCancel(ctx, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", id, err))
			continue
		}
		processed++
	}
	return processed, errs
}

func mapLoadErr(err error) error {
	if dbpkg.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}

func conflictFor(order *models.Order) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "order can no longer be cancelled").
		WithDetails(map[string]any{
			"order_status":   order.OrderStatus,
			"payment_status": order.PaymentStatus,
		})
}
