package returns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

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

const releaseReason = "return_completed"

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type stockReleaser interface {
	Release(ctx context.Context, sess dbpkg.Session, ref inventory.Ref, qty int, meta inventory.Meta) error
}

// ItemInput is one order item a buyer wants to send back.
type ItemInput struct {
	OrderItemID uuid.UUID `json:"orderItemId" validate:"required"`
	Quantity    int       `json:"quantity" validate:"required,min=1"`
	Reason      string    `json:"reason" validate:"max=500"`
}

// Service drives return requests from request through completion.
type Service interface {
	RequestReturn(ctx context.Context, actor auth.Actor, orderID uuid.UUID, items []ItemInput) (*models.ReturnRequest, error)
	AdminDecision(ctx context.Context, actor auth.Actor, returnID uuid.UUID, decision enums.ReturnStatus, note string) (*models.ReturnRequest, error)
	Complete(ctx context.Context, actor auth.Actor, returnID uuid.UUID) (*models.ReturnRequest, error)
}

type ServiceParams struct {
	Repo      Repository
	Orders    orders.Repository
	Sessions  dbpkg.SessionProvider
	Inventory stockReleaser
	Outbox    outboxPublisher
	Logger    *logger.Logger
	// Backoff paces completion retries; nil uses three exponential retries from 100ms.
	Backoff func() retry.Backoff
}

type service struct {
	repo      Repository
	orders    orders.Repository
	sessions  dbpkg.SessionProvider
	inventory stockReleaser
	outbox    outboxPublisher
	logg      *logger.Logger
	backoff   func() retry.Backoff
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("returns repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session provider required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory releaser required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	backoff := params.Backoff
	if backoff == nil {
		backoff = func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
		}
	}
	return &service{
		repo:      params.Repo,
		orders:    params.Orders,
		sessions:  params.Sessions,
		inventory: params.Inventory,
		outbox:    params.Outbox,
		logg:      params.Logger,
		backoff:   backoff,
		now:       time.Now,
	}, nil
}

func (s *service) RequestReturn(ctx context.Context, actor auth.Actor, orderID uuid.UUID, items []ItemInput) (*models.ReturnRequest, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if item.OrderItemID == uuid.Nil || item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "each item needs an order item id and a positive quantity")
		}
		if _, dup := seen[item.OrderItemID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item listed more than once").
				WithDetails(map[string]any{"order_item_id": item.OrderItemID})
		}
		seen[item.OrderItemID] = struct{}{}
	}

	var created *models.ReturnRequest
	err := dbpkg.RunSession(ctx, s.sessions, func(sess dbpkg.Session) error {
		order, err := s.orders.WithTx(sess.DB()).FindByID(ctx, orderID)
		if err != nil {
			return mapOrderErr(err)
		}
		if !actor.CanAccess(order.UserID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
		}
		if order.OrderStatus == enums.OrderStatusCancelled ||
			(order.PaymentStatus != enums.OrderPaymentPaid && order.PaymentStatus != enums.OrderPaymentPartiallyRefunded) {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is not eligible for return").
				WithDetails(map[string]any{"order_status": order.OrderStatus, "payment_status": order.PaymentStatus})
		}

		repo := s.repo.WithTx(sess.DB())
		claimed, err := repo.RequestedQuantities(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load requested quantities")
		}
		byID := make(map[uuid.UUID]models.OrderItem, len(order.Items))
		for _, item := range order.Items {
			byID[item.ID] = item
		}

		req := &models.ReturnRequest{
			OrderID: order.ID,
			UserID:  order.UserID,
			Status:  enums.ReturnStatusPending,
		}
		for _, in := range items {
			item, ok := byID[in.OrderItemID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found").
					WithDetails(map[string]any{"order_item_id": in.OrderItemID})
			}
			if item.Status != enums.OrderItemStatusActive {
				return pkgerrors.New(pkgerrors.CodeConflict, "order item already returned").
					WithDetails(map[string]any{"order_item_id": item.ID})
			}
			if claimed[item.ID]+in.Quantity > item.Quantity {
				return pkgerrors.New(pkgerrors.CodeValidation, "return quantity exceeds ordered quantity").
					WithDetails(map[string]any{
						"order_item_id": item.ID,
						"ordered":       item.Quantity,
						"requested":     claimed[item.ID] + in.Quantity,
					})
			}
			req.Items = append(req.Items, models.ReturnRequestItem{
				OrderItemID: item.ID,
				Quantity:    in.Quantity,
				Reason:      optionalString(in.Reason),
				Status:      enums.ReturnStatusPending,
			})
		}
		if err := repo.Create(ctx, req); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create return request")
		}
		if sess.IsStandalone() {
			conn := sess.DB()
			id := req.ID
			sess.OnAbort(func(ctx context.Context) error {
				return conn.WithContext(ctx).Select("Items").Delete(&models.ReturnRequest{ID: id}).Error
			})
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx, created, "return requested")
	return created, nil
}

func (s *service) AdminDecision(ctx context.Context, actor auth.Actor, returnID uuid.UUID, decision enums.ReturnStatus, note string) (*models.ReturnRequest, error) {
	if actor.Role != enums.ActorRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if decision != enums.ReturnStatusApproved && decision != enums.ReturnStatusRejected {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "decision must be approved or rejected")
	}

	var result *models.ReturnRequest
	err := dbpkg.RunSession(ctx, s.sessions, func(sess dbpkg.Session) error {
		repo := s.repo.WithTx(sess.DB())
		now := s.now().UTC()
		won, err := repo.Transition(ctx, returnID, enums.ReturnStatusPending, map[string]any{
			"status":     decision,
			"admin_note": optionalString(note),
			"decided_at": now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record return decision")
		}
		req, err := repo.FindByID(ctx, returnID)
		if err != nil {
			return mapReturnErr(err)
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeConflict, "return request already decided").
				WithDetails(map[string]any{"status": req.Status})
		}
		if err := repo.SetItemsStatus(ctx, returnID, decision); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update return items")
		}
		for i := range req.Items {
			req.Items[i].Status = decision
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx, result, "return decided")
	return result, nil
}

// Complete restocks the returned quantities and marks the order items
// returned in one session. Transient failures retry the whole attempt.
func (s *service) Complete(ctx context.Context, actor auth.Actor, returnID uuid.UUID) (*models.ReturnRequest, error) {
	if actor.Role != enums.ActorRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}

	var result *models.ReturnRequest
	attempts := 0
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempts++
		err := dbpkg.RunSession(ctx, s.sessions, func(sess dbpkg.Session) error {
			req, err := s.completeInSession(ctx, sess, actor, returnID)
			result = req
			return err
		})
		if err != nil && pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		s.log(ctx, result, "return completed")
		return result, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"return_id": returnID.String(),
			"attempts":  attempts,
		})
		s.logg.Error(logCtx, "return completion failed", err)
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "return completion failed").
		WithDetails(map[string]any{"return_id": returnID, "attempts": attempts})
}

func (s *service) completeInSession(ctx context.Context, sess dbpkg.Session, actor auth.Actor, returnID uuid.UUID) (*models.ReturnRequest, error) {
	repo := s.repo.WithTx(sess.DB())
	orderRepo := s.orders.WithTx(sess.DB())

	req, err := repo.FindByID(ctx, returnID)
	if err != nil {
		return nil, mapReturnErr(err)
	}
	if req.Status == enums.ReturnStatusCompleted {
		return req, nil
	}
	now := s.now().UTC()
	won, err := repo.Transition(ctx, returnID, enums.ReturnStatusApproved, map[string]any{
		"status":       enums.ReturnStatusCompleted,
		"completed_at": now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete return request")
	}
	if !won {
		current, err := repo.FindByID(ctx, returnID)
		if err != nil {
			return nil, mapReturnErr(err)
		}
		if current.Status == enums.ReturnStatusCompleted {
			return current, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "return request is not approved").
			WithDetails(map[string]any{"status": current.Status})
	}
	if sess.IsStandalone() {
		sess.OnAbort(func(ctx context.Context) error {
			_, err := repo.Transition(ctx, returnID, enums.ReturnStatusCompleted, map[string]any{
				"status":       enums.ReturnStatusApproved,
				"completed_at": nil,
			})
			return err
		})
	}

	orderItems, err := orderRepo.FindItems(ctx, req.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	byID := make(map[uuid.UUID]models.OrderItem, len(orderItems))
	for _, item := range orderItems {
		byID[item.ID] = item
	}

	meta := inventory.Meta{OrderID: &req.OrderID, Reason: releaseReason}
	itemIDs := make([]uuid.UUID, 0, len(req.Items))
	total := 0
	for _, line := range req.Items {
		item, ok := byID[line.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found").
				WithDetails(map[string]any{"order_item_id": line.OrderItemID})
		}
		ref := inventory.Ref{ProductID: item.ProductID, VariantID: item.ProductVariantID}
		if err := s.inventory.Release(ctx, sess, ref, line.Quantity, meta); err != nil {
			return nil, err
		}
		marked, err := orderRepo.SetItemStatus(ctx, item.ID, enums.OrderItemStatusActive, enums.OrderItemStatusReturned)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order item returned")
		}
		if marked && sess.IsStandalone() {
			id := item.ID
			sess.OnAbort(func(ctx context.Context) error {
				_, err := orderRepo.SetItemStatus(ctx, id, enums.OrderItemStatusReturned, enums.OrderItemStatusActive)
				return err
			})
		}
		itemIDs = append(itemIDs, item.ID)
		total += line.Quantity
	}
	if err := repo.SetItemsStatus(ctx, returnID, enums.ReturnStatusCompleted); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete return items")
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventReturnCompleted,
		AggregateType: enums.AggregateReturnRequest,
		AggregateID:   returnID,
		Actor:         &outbox.ActorRef{UserID: actor.UserIDPtr(), Role: string(actor.Role)},
		Data: payloads.ReturnCompletedEvent{
			ReturnRequestID: returnID,
			OrderID:         req.OrderID,
			UserID:          req.UserID,
			OrderItemIDs:    itemIDs,
			Quantity:        total,
		},
	}
	if err := s.outbox.Emit(ctx, sess.DB(), event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit return completed event")
	}

	req.Status = enums.ReturnStatusCompleted
	req.CompletedAt = &now
	for i := range req.Items {
		req.Items[i].Status = enums.ReturnStatusCompleted
	}
	return req, nil
}

func (s *service) log(ctx context.Context, req *models.ReturnRequest, msg string) {
	if s.logg == nil || req == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"return_id": req.ID.String(),
		"order_id":  req.OrderID.String(),
		"status":    req.Status,
		"items":     len(req.Items),
	})
	s.logg.Info(logCtx, msg)
}

func mapOrderErr(err error) error {
	if dbpkg.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}

func mapReturnErr(err error) error {
	if dbpkg.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "return request not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load return request")
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
