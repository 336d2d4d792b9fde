package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/internal/cart"
	"github.com/angelmondragon/shopcore/internal/coupons"
	"github.com/angelmondragon/shopcore/internal/inventory"
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
	defaultPaymentMethod = "online"
	reasonOrderPlaced    = "order_placed"
)

// Inventory is the slice of the stock ledger used at placement.
type Inventory interface {
	Available(ctx context.Context, tx *gorm.DB, ref inventory.Ref) (int, error)
	Reserve(ctx context.Context, sess dbpkg.Session, ref inventory.Ref, qty int, meta inventory.Meta) error
	Commit(ctx context.Context, sess dbpkg.Session, ref inventory.Ref, qty int, meta inventory.Meta) error
}

// CouponLocker locks and redeems the cart's coupon.
type CouponLocker interface {
	LockCoupon(ctx context.Context, sess dbpkg.Session, code string, userID uuid.UUID, orderAmountCents int64) (*coupons.Lock, error)
	RecordUsage(ctx context.Context, sess dbpkg.Session, lock *coupons.Lock, orderID uuid.UUID) error
	UnlockCoupon(ctx context.Context, lock *coupons.Lock)
}

// AddressResolver loads an address after checking its owner.
type AddressResolver interface {
	ResolveOwned(ctx context.Context, tx *gorm.DB, userID, addressID uuid.UUID) (*models.Address, error)
}

// AutoCancelScheduler arms the payment timeout of a new order.
type AutoCancelScheduler interface {
	ScheduleAutoCancel(ctx context.Context, orderID uuid.UUID, delay time.Duration) error
}

type cartStore interface {
	FindByOwner(ctx context.Context, owner cart.Owner) (*models.Cart, error)
	Clear(ctx context.Context, cartID uuid.UUID) error
	Restore(ctx context.Context, snapshot *models.Cart) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	Retract(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) error
}

// Service places orders from carts.
type Service interface {
	PlaceOrder(ctx context.Context, actor auth.Actor, input PlaceOrderInput) (*PlaceOrderResult, error)
}

// PlaceOrderInput is the checkout payload.
type PlaceOrderInput struct {
	SessionID         string     `json:"session_id,omitempty"`
	ShippingAddressID uuid.UUID  `json:"shipping_address_id" validate:"required"`
	BillingAddressID  *uuid.UUID `json:"billing_address_id,omitempty"`
	PaymentMethod     string     `json:"payment_method,omitempty" validate:"omitempty,max=32"`
	Notes             *string    `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// PlaceOrderResult summarizes the created order.
type PlaceOrderResult struct {
	OrderID         uuid.UUID                `json:"order_id"`
	OrderNumber     string                   `json:"order_number"`
	SubtotalCents   int64                    `json:"subtotal_cents"`
	TaxCents        int64                    `json:"tax_cents"`
	ShippingCents   int64                    `json:"shipping_cents"`
	DiscountCents   int64                    `json:"discount_cents"`
	GrandTotalCents int64                    `json:"grand_total_cents"`
	Currency        string                   `json:"currency"`
	OrderStatus     enums.OrderStatus        `json:"order_status"`
	PaymentStatus   enums.OrderPaymentStatus `json:"payment_status"`
}

// Deps groups the collaborators of the checkout service.
type Deps struct {
	Sessions        dbpkg.SessionProvider
	Carts           *cart.Repository
	Orders          orders.Repository
	Addresses       AddressResolver
	Inventory       Inventory
	Coupons         CouponLocker
	Scheduler       AutoCancelScheduler
	Outbox          outboxPublisher
	Pricing         PricingPolicy
	AutoCancelAfter time.Duration
	Logger          *logger.Logger
}

type service struct {
	sessions        dbpkg.SessionProvider
	carts           func(tx *gorm.DB) cartStore
	orders          orders.Repository
	addresses       AddressResolver
	inventory       Inventory
	coupons         CouponLocker
	scheduler       AutoCancelScheduler
	outbox          outboxPublisher
	pricing         PricingPolicy
	autoCancelAfter time.Duration
	logg            *logger.Logger
	now             func() time.Time
}

// NewService builds the checkout service. Scheduler may be nil when
// auto-cancel is handled by the sweep alone.
func NewService(deps Deps) (Service, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session provider required")
	}
	if deps.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Addresses == nil {
		return nil, fmt.Errorf("address resolver required")
	}
	if deps.Inventory == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if deps.Coupons == nil {
		return nil, fmt.Errorf("coupon manager required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if deps.Pricing.Currency == "" {
		deps.Pricing.Currency = "USD"
	}
	carts := deps.Carts
	return &service{
		sessions:        deps.Sessions,
		carts:           func(tx *gorm.DB) cartStore { return carts.WithTx(tx) },
		orders:          deps.Orders,
		addresses:       deps.Addresses,
		inventory:       deps.Inventory,
		coupons:         deps.Coupons,
		scheduler:       deps.Scheduler,
		outbox:          deps.Outbox,
		pricing:         deps.Pricing,
		autoCancelAfter: deps.AutoCancelAfter,
		logg:            deps.Logger,
		now:             time.Now,
	}, nil
}

// PlaceOrder turns the actor's cart into an order in a single session. Stock
// is checked before anything is written; any failure after that aborts the
// session, which returns reserved stock and coupon redemptions.
func (s *service) PlaceOrder(ctx context.Context, actor auth.Actor, input PlaceOrderInput) (*PlaceOrderResult, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	if input.ShippingAddressID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping_address_id is required")
	}
	owner := cart.Owner{UserID: &actor.UserID, SessionID: input.SessionID}

	var lock *coupons.Lock
	defer func() {
		if lock != nil {
			s.coupons.UnlockCoupon(ctx, lock)
		}
	}()

	var result *PlaceOrderResult
	err := dbpkg.RunSession(ctx, s.sessions, func(sess dbpkg.Session) error {
		tx := sess.DB()
		carts := s.carts(tx)

		record, err := carts.FindByOwner(ctx, owner)
		if dbpkg.IsNotFound(err) && input.SessionID != "" {
			record, err = carts.FindByOwner(ctx, cart.Owner{SessionID: input.SessionID})
		}
		if err != nil && !dbpkg.IsNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		if record == nil || len(record.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart is empty")
		}
		lines, err := buildLines(record.Items)
		if err != nil {
			return err
		}

		if err := s.checkStock(ctx, tx, lines); err != nil {
			return err
		}

		shipping, err := s.addresses.ResolveOwned(ctx, tx, actor.UserID, input.ShippingAddressID)
		if err != nil {
			return err
		}
		billingID := shipping.ID
		if input.BillingAddressID != nil && *input.BillingAddressID != shipping.ID {
			billing, err := s.addresses.ResolveOwned(ctx, tx, actor.UserID, *input.BillingAddressID)
			if err != nil {
				return err
			}
			billingID = billing.ID
		}

		var subtotal int64
		for _, line := range lines {
			subtotal += line.TotalCents
		}
		var discount int64
		if record.CouponCode != nil && strings.TrimSpace(*record.CouponCode) != "" {
			lock, err = s.coupons.LockCoupon(ctx, sess, *record.CouponCode, actor.UserID, subtotal)
			if err != nil {
				return err
			}
			discount = lock.DiscountCents
		}
		totals := s.pricing.Price(lines, discount)

		orderID := uuid.New()
		meta := inventory.Meta{OrderID: &orderID, Reason: reasonOrderPlaced}
		for _, line := range lines {
			if err := s.inventory.Reserve(ctx, sess, line.Ref, line.Quantity, meta); err != nil {
				return err
			}
		}

		order := s.newOrder(orderID, actor.UserID, input, shipping.ID, billingID, lines, totals, lock)
		if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order number collision, retry")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if sess.IsStandalone() {
			sess.OnAbort(func(ctx context.Context) error {
				return deleteOrder(ctx, tx, orderID)
			})
		}

		if lock != nil {
			if err := s.coupons.RecordUsage(ctx, sess, lock, orderID); err != nil {
				return err
			}
		}
		for _, line := range lines {
			if err := s.inventory.Commit(ctx, sess, line.Ref, line.Quantity, meta); err != nil {
				return err
			}
		}

		created := orderCreatedEvent(actor, order)
		if err := s.outbox.Emit(ctx, tx, created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created event")
		}
		if sess.IsStandalone() {
			sess.OnAbort(func(ctx context.Context) error {
				return s.outbox.Retract(ctx, tx, created.EventType, created.AggregateType, created.AggregateID)
			})
			sess.OnAbort(func(ctx context.Context) error {
				return s.carts(tx).Restore(ctx, record)
			})
		}
		if err := carts.Clear(ctx, record.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}

		s.scheduleAutoCancel(ctx, orderID)

		result = &PlaceOrderResult{
			OrderID:         order.ID,
			OrderNumber:     order.OrderNumber,
			SubtotalCents:   order.SubtotalCents,
			TaxCents:        order.TaxCents,
			ShippingCents:   order.ShippingCents,
			DiscountCents:   order.DiscountCents,
			GrandTotalCents: order.GrandTotalCents,
			Currency:        order.Currency,
			OrderStatus:     order.OrderStatus,
			PaymentStatus:   order.PaymentStatus,
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "place order")
		}
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":          result.OrderID.String(),
			"order_number":      result.OrderNumber,
			"grand_total_cents": result.GrandTotalCents,
			"user_id":           actor.UserID.String(),
		})
		s.logg.Info(logCtx, "order placed")
	}
	return result, nil
}

// checkStock fails fast with a validation error before anything is reserved.
func (s *service) checkStock(ctx context.Context, tx *gorm.DB, lines []Line) error {
	for _, line := range lines {
		available, err := s.inventory.Available(ctx, tx, line.Ref)
		if err != nil {
			return err
		}
		if line.Quantity > available {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, inventory.ErrInsufficientStock, "Requested quantity exceeds available stock").
				WithDetails(map[string]any{
					"product_id": line.Ref.ProductID,
					"variant_id": line.Ref.VariantID,
					"requested":  line.Quantity,
					"available":  available,
				})
		}
	}
	return nil
}

func (s *service) newOrder(orderID, userID uuid.UUID, input PlaceOrderInput, shippingID, billingID uuid.UUID, lines []Line, totals Totals, lock *coupons.Lock) *models.Order {
	method := strings.TrimSpace(input.PaymentMethod)
	if method == "" {
		method = defaultPaymentMethod
	}
	order := &models.Order{
		ID:                orderID,
		OrderNumber:       newOrderNumber(s.now()),
		UserID:            userID,
		ShippingAddressID: shippingID,
		BillingAddressID:  billingID,
		SubtotalCents:     totals.SubtotalCents,
		TaxCents:          totals.TaxCents,
		ShippingCents:     totals.ShippingCents,
		DiscountCents:     totals.DiscountCents,
		GrandTotalCents:   totals.GrandTotalCents,
		Currency:          s.pricing.Currency,
		PaymentMethod:     method,
		PaymentStatus:     enums.OrderPaymentPending,
		OrderStatus:       enums.OrderStatusCreated,
		Notes:             input.Notes,
	}
	if lock != nil {
		couponID := lock.Coupon.ID
		code := lock.Code()
		order.CouponID = &couponID
		order.CouponCode = &code
	}
	for _, line := range lines {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:        line.Ref.ProductID,
			ProductVariantID: line.Ref.VariantID,
			VendorID:         line.VendorID,
			SKU:              line.SKU,
			Title:            line.Title,
			Quantity:         line.Quantity,
			UnitPriceCents:   line.UnitPriceCents,
			TaxCents:         line.TaxCents,
			TotalCents:       line.TotalCents,
			Status:           enums.OrderItemStatusActive,
		})
	}
	return order
}

func (s *service) scheduleAutoCancel(ctx context.Context, orderID uuid.UUID) {
	if s.scheduler == nil || s.autoCancelAfter <= 0 {
		return
	}
	if err := s.scheduler.ScheduleAutoCancel(ctx, orderID, s.autoCancelAfter); err != nil && s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		s.logg.Warn(logCtx, fmt.Sprintf("auto-cancel scheduling failed, sweep will pick the order up: %v", err))
	}
}

func orderCreatedEvent(actor auth.Actor, order *models.Order) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: actor.UserIDPtr(), Role: string(actor.Role)},
		Data: payloads.OrderCreatedEvent{
			OrderID:         order.ID,
			OrderNumber:     order.OrderNumber,
			UserID:          order.UserID,
			GrandTotalCents: order.GrandTotalCents,
			Currency:        order.Currency,
			ItemCount:       len(order.Items),
			CouponCode:      order.CouponCode,
		},
	}
}

// newOrderNumber formats ORD-YYYYMMDD-XXXXXXXX.
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

func deleteOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if err := tx.WithContext(ctx).Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).Where("id = ?", orderID).Delete(&models.Order{}).Error
}
