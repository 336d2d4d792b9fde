package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
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
	"github.com/angelmondragon/shopcore/pkg/redis"
)

const (
	initLockScope       = "payment-init"
	reasonNewInitiation = "new_initiation"
)

var errDuplicatePayment = errors.New("open payment already recorded")

type credentialSource interface {
	Resolve(ctx context.Context, gateway enums.Gateway) (Credentials, error)
}

type lockStore interface {
	redis.LockStore
	LockKey(scope string, parts ...string) string
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// InitiateResult describes the open payment for an order and gateway.
// Reused is set when an existing attempt was returned.
type InitiateResult struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	OrderID        uuid.UUID           `json:"order_id"`
	Gateway        enums.Gateway       `json:"gateway"`
	GatewayOrderID string              `json:"gateway_order_id"`
	AmountCents    int64               `json:"amount_cents"`
	Currency       string              `json:"currency"`
	Status         enums.PaymentStatus `json:"status"`
	GatewayPayload json.RawMessage     `json:"gateway_payload,omitempty"`
	Reused         bool                `json:"reused"`
}

func resultFor(p *models.Payment, reused bool) *InitiateResult {
	return &InitiateResult{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		Gateway:        p.Gateway,
		GatewayOrderID: p.GatewayOrderID,
		AmountCents:    p.AmountCents,
		Currency:       p.Currency,
		Status:         p.Status,
		GatewayPayload: p.GatewayResponse,
		Reused:         reused,
	}
}

// InitiatorDeps groups the collaborators of the payment initiator.
type InitiatorDeps struct {
	Sessions    dbpkg.SessionProvider
	Orders      orders.Repository
	Payments    Repository
	Gateways    Registry
	Credentials credentialSource
	Locks       lockStore
	LockTTL     time.Duration
	Outbox      eventEmitter
	Logger      *logger.Logger
}

// Initiator opens gateway-side payments for orders. No database transaction
// is held while the gateway is called.
type Initiator struct {
	sessions dbpkg.SessionProvider
	orders   orders.Repository
	payments Repository
	gateways Registry
	creds    credentialSource
	locks    lockStore
	lockTTL  time.Duration
	outbox   eventEmitter
	logg     *logger.Logger
}

func NewInitiator(deps InitiatorDeps) (*Initiator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session provider required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case len(deps.Gateways) == 0:
		return nil, fmt.Errorf("at least one gateway required")
	case deps.Credentials == nil:
		return nil, fmt.Errorf("credential resolver required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Initiator{
		sessions: deps.Sessions,
		orders:   deps.Orders,
		payments: deps.Payments,
		gateways: deps.Gateways,
		creds:    deps.Credentials,
		locks:    deps.Locks,
		lockTTL:  deps.LockTTL,
		outbox:   deps.Outbox,
		logg:     deps.Logger,
	}, nil
}

// IdempotencyKey is the key sent to the gateway for one attempt.
func IdempotencyKey(orderID uuid.UUID, gateway enums.Gateway, attempt int64) string {
	return fmt.Sprintf("order-%s-%s-%d", orderID, gateway, attempt)
}

type initiationPlan struct {
	order   *models.Order
	open    *models.Payment
	attempt int64
}

// InitiatePayment returns the open payment for (orderID, gateway), creating
// one through the gateway when none exists.
func (i *Initiator) InitiatePayment(ctx context.Context, actor auth.Actor, orderID uuid.UUID, gatewayName enums.Gateway) (*InitiateResult, error) {
	gateway, err := i.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}
	name := gateway.Name()

	mutex, held := i.acquire(ctx, orderID, name)
	if mutex != nil {
		defer i.release(ctx, mutex)
	}

	plan, err := i.prepare(ctx, actor, orderID, name)
	if err != nil {
		return nil, err
	}
	if plan.open != nil {
		return resultFor(plan.open, true), nil
	}
	if !held {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment initiation already in progress").
			WithDetails(map[string]any{"order_id": orderID, "gateway": name})
	}

	creds, err := i.creds.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	key := IdempotencyKey(orderID, name, plan.attempt)
	gwOrder, err := gateway.CreateOrder(ctx, CreateOrderParams{
		OrderID:        orderID,
		Receipt:        plan.order.OrderNumber,
		AmountCents:    plan.order.GrandTotalCents,
		Currency:       plan.order.Currency,
		IdempotencyKey: key,
		Credentials:    creds,
	})
	if err != nil {
		return nil, gatewayFailure(err, "create gateway order")
	}
	if gwOrder == nil || strings.TrimSpace(gwOrder.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway did not return an order id").
			WithDetails(map[string]any{"gateway": name})
	}

	payment, reused, err := i.record(ctx, actor, orderID, name, gwOrder, plan.attempt, key)
	if errors.Is(err, errDuplicatePayment) {
		open, readErr := i.readOpen(ctx, orderID, name)
		if readErr != nil {
			return nil, readErr
		}
		if open == nil {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment initiation raced with another attempt")
		}
		return resultFor(open, true), nil
	}
	if err != nil {
		return nil, err
	}
	if reused {
		return resultFor(payment, true), nil
	}

	if i.logg != nil {
		logCtx := i.logg.WithFields(ctx, map[string]any{
			"order_id":         orderID.String(),
			"payment_id":       payment.ID.String(),
			"gateway":          string(name),
			"gateway_order_id": payment.GatewayOrderID,
			"attempt":          plan.attempt,
		})
		i.logg.Info(logCtx, "payment initiated")
	}
	return resultFor(payment, false), nil
}

// acquire reports held=false only on contention. A store outage proceeds
// unlocked; the open-payment index still admits a single winner.
func (i *Initiator) acquire(ctx context.Context, orderID uuid.UUID, gateway enums.Gateway) (*redis.Lock, bool) {
	if i.locks == nil {
		return nil, true
	}
	mutex, err := redis.NewLock(i.locks, i.locks.LockKey(initLockScope, orderID.String(), string(gateway)), i.lockTTL)
	if err != nil {
		return nil, true
	}
	ok, err := mutex.Acquire(ctx)
	if err != nil {
		if i.logg != nil {
			i.logg.Warn(i.logg.WithField(ctx, "lock_key", mutex.Key()), fmt.Sprintf("payment init lock unavailable, continuing: %v", err))
		}
		return nil, true
	}
	if !ok {
		return nil, false
	}
	return mutex, true
}

func (i *Initiator) release(ctx context.Context, mutex *redis.Lock) {
	if err := mutex.Release(ctx); err != nil && i.logg != nil {
		i.logg.Warn(i.logg.WithField(ctx, "lock_key", mutex.Key()), fmt.Sprintf("payment init lock release failed: %v", err))
	}
}

func (i *Initiator) prepare(ctx context.Context, actor auth.Actor, orderID uuid.UUID, gateway enums.Gateway) (*initiationPlan, error) {
	plan := &initiationPlan{}
	err := dbpkg.RunSession(ctx, i.sessions, func(sess dbpkg.Session) error {
		tx := sess.DB()
		order, err := loadOwnedOrder(ctx, i.orders.WithTx(tx), actor, orderID)
		if err != nil {
			return err
		}
		if err := checkPayable(order); err != nil {
			return err
		}
		plan.order = order

		payments := i.payments.WithTx(tx)
		open, err := payments.FindOpen(ctx, orderID, gateway)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open payment")
		}
		if open != nil {
			plan.open = open
			return nil
		}
		n, err := payments.CountAttempts(ctx, orderID, gateway)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count payment attempts")
		}
		plan.attempt = n + 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (i *Initiator) record(ctx context.Context, actor auth.Actor, orderID uuid.UUID, gateway enums.Gateway, gwOrder *GatewayOrder, attempt int64, key string) (*models.Payment, bool, error) {
	var (
		payment *models.Payment
		reused  bool
	)
	err := dbpkg.RunSession(ctx, i.sessions, func(sess dbpkg.Session) error {
		tx := sess.DB()
		orderRepo := i.orders.WithTx(tx)
		payments := i.payments.WithTx(tx)

		order, err := loadOwnedOrder(ctx, orderRepo, actor, orderID)
		if err != nil {
			return err
		}
		if err := checkPayable(order); err != nil {
			return err
		}
		open, err := payments.FindOpen(ctx, orderID, gateway)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open payment")
		}
		if open != nil {
			payment, reused = open, true
			return nil
		}
		if _, err := payments.FailOpen(ctx, orderID, gateway, reasonNewInitiation); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close abandoned payments")
		}

		metadata, err := json.Marshal(map[string]any{"attempt": attempt, "idempotency_key": key})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payment metadata")
		}
		created := &models.Payment{
			OrderID:         orderID,
			Gateway:         gateway,
			GatewayOrderID:  gwOrder.ID,
			AmountCents:     order.GrandTotalCents,
			Currency:        order.Currency,
			Status:          enums.PaymentStatusCreated,
			GatewayResponse: gwOrder.Raw,
			Metadata:        metadata,
		}
		if err := payments.Create(ctx, created); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return errDuplicatePayment
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		if sess.IsStandalone() {
			paymentID := created.ID
			sess.OnAbort(func(ctx context.Context) error {
				return tx.WithContext(ctx).Where("id = ?", paymentID).Delete(&models.Payment{}).Error
			})
		}

		if err := orderRepo.UpdatePaymentSnapshot(ctx, orderID, models.SnapshotOf(created)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment snapshot")
		}
		if err := i.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentInitiated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   created.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserIDPtr(), Role: string(actor.Role)},
			Data: payloads.PaymentInitiatedEvent{
				OrderID:        orderID,
				PaymentID:      created.ID,
				Gateway:        gateway,
				GatewayOrderID: created.GatewayOrderID,
				AmountCents:    created.AmountCents,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment initiated event")
		}
		payment = created
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return payment, reused, nil
}

func (i *Initiator) readOpen(ctx context.Context, orderID uuid.UUID, gateway enums.Gateway) (*models.Payment, error) {
	var open *models.Payment
	err := dbpkg.RunSession(ctx, i.sessions, func(sess dbpkg.Session) error {
		p, err := i.payments.WithTx(sess.DB()).FindOpen(ctx, orderID, gateway)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open payment")
		}
		open = p
		return nil
	})
	return open, err
}

func loadOwnedOrder(ctx context.Context, repo orders.Repository, actor auth.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !actor.CanAccess(order.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

// checkPayable admits created orders whose payment is pending or failed.
func checkPayable(order *models.Order) error {
	if order.OrderStatus == enums.OrderStatusCreated &&
		(order.PaymentStatus == enums.OrderPaymentPending || order.PaymentStatus == enums.OrderPaymentFailed) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "order already processed").
		WithDetails(map[string]any{
			"order_status":   order.OrderStatus,
			"payment_status": order.PaymentStatus,
		})
}

func gatewayFailure(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, msg)
}
