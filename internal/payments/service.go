package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/shopcore/internal/orders"
	"github.com/angelmondragon/shopcore/pkg/auth"
	dbpkg "github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

// Service is the payment surface used by the HTTP layer.
type Service interface {
	InitiatePayment(ctx context.Context, actor auth.Actor, orderID uuid.UUID, gateway enums.Gateway) (*InitiateResult, error)
	ConfirmPayment(ctx context.Context, actor auth.Actor, paymentID uuid.UUID) (*ApplyOutcome, error)
	PollStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type service struct {
	initiator  *Initiator
	reconciler *Reconciler
	payments   Repository
	orders     orders.Repository
	gateways   Registry
	creds      credentialSource
}

func NewService(initiator *Initiator, reconciler *Reconciler, payments Repository, orderRepo orders.Repository, gateways Registry, creds credentialSource) (Service, error) {
	if initiator == nil || reconciler == nil {
		return nil, fmt.Errorf("initiator and reconciler required")
	}
	if payments == nil || orderRepo == nil {
		return nil, fmt.Errorf("payments and orders repositories required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credential resolver required")
	}
	return &service{
		initiator:  initiator,
		reconciler: reconciler,
		payments:   payments,
		orders:     orderRepo,
		gateways:   gateways,
		creds:      creds,
	}, nil
}

func (s *service) InitiatePayment(ctx context.Context, actor auth.Actor, orderID uuid.UUID, gateway enums.Gateway) (*InitiateResult, error) {
	return s.initiator.InitiatePayment(ctx, actor, orderID, gateway)
}

// ConfirmPayment polls the gateway for paymentID and applies the result with
// the same transitions a webhook would.
func (s *service) ConfirmPayment(ctx context.Context, actor auth.Actor, paymentID uuid.UUID) (*ApplyOutcome, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if _, err := loadOwnedOrder(ctx, s.orders, actor, payment.OrderID); err != nil {
		return nil, err
	}

	result, err := s.fetch(ctx, payment)
	if err != nil {
		return nil, err
	}
	return s.reconciler.ApplyStatus(ctx, actor, payment.ID, *result)
}

// PollStale confirms open attempts whose webhook never arrived. It returns
// how many attempts changed state.
func (s *service) PollStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.payments.ListStaleOpen(ctx, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale payments")
	}
	var errs error
	changed := 0
	for i := range stale {
		payment := &stale[i]
		result, err := s.fetch(ctx, payment)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}
		if result.Status == StatusPending {
			continue
		}
		outcome, err := s.reconciler.ApplyStatus(ctx, auth.SystemActor(), payment.ID, *result)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}
		if outcome.Changed {
			changed++
		}
	}
	return changed, errs
}

func (s *service) fetch(ctx context.Context, payment *models.Payment) (*StatusResult, error) {
	gateway, err := s.gateways.Get(payment.Gateway)
	if err != nil {
		return nil, err
	}
	creds, err := s.creds.Resolve(ctx, payment.Gateway)
	if err != nil {
		return nil, err
	}
	result, err := gateway.FetchStatus(ctx, payment, creds)
	if err != nil {
		return nil, gatewayFailure(err, "fetch gateway status")
	}
	if result == nil {
		return &StatusResult{Status: StatusPending}, nil
	}
	return result, nil
}
