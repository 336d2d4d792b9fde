package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/shopcore/internal/address"
	"github.com/angelmondragon/shopcore/internal/cart"
	"github.com/angelmondragon/shopcore/internal/checkout"
	"github.com/angelmondragon/shopcore/internal/coupons"
	"github.com/angelmondragon/shopcore/internal/inventory"
	"github.com/angelmondragon/shopcore/internal/orders"
	"github.com/angelmondragon/shopcore/internal/payments"
	"github.com/angelmondragon/shopcore/internal/returns"
	"github.com/angelmondragon/shopcore/internal/webhooks"
	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/metrics"
	"github.com/angelmondragon/shopcore/pkg/outbox"
	"github.com/angelmondragon/shopcore/pkg/outbox/idempotency"
	"github.com/angelmondragon/shopcore/pkg/queue"
	"github.com/angelmondragon/shopcore/pkg/redis"
)

const lowStockDedupeTTL = 24 * time.Hour

type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Jobs     queue.Enqueuer
	Registry prometheus.Registerer
}

// Services is the domain graph shared by the api, worker and cron binaries.
type Services struct {
	Outbox          *outbox.Service
	OutboxRepo      *outbox.Repository
	Ledger          *inventory.Ledger
	LowStock        *inventory.LowStockNotifier
	Coupons         *coupons.Manager
	Addresses       address.Service
	Carts           cart.Service
	OrdersRepo      orders.Repository
	Orders          orders.Service
	Checkout        checkout.Service
	PaymentsRepo    payments.Repository
	Reconciler      *payments.Reconciler
	Payments        payments.Service
	Returns         returns.Service
	WebhookReceiver *webhooks.Receiver
	WebhookJobs     *webhooks.ApplyJobHandler
}

func New(params Params) (*Services, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Redis == nil:
		return nil, errors.New("redis client is required")
	case params.Jobs == nil:
		return nil, errors.New("job queue is required")
	}
	cfg, logg, gdb := params.Config, params.Logger, params.DB.DB()
	reg := params.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &Services{}
	s.OutboxRepo = outbox.NewRepository(gdb)
	s.Outbox = outbox.NewService(s.OutboxRepo, logg)
	s.Ledger = inventory.NewLedger(params.Redis, params.Jobs, cfg.Checkout.LowStockThreshold, logg)
	s.Coupons = coupons.NewManager(params.Redis, cfg.Checkout.CouponLockTTL, logg)

	processed, err := idempotency.NewManager(params.Redis, lowStockDedupeTTL)
	if err != nil {
		return nil, fmt.Errorf("low stock dedupe: %w", err)
	}
	if s.LowStock, err = inventory.NewLowStockNotifier(params.DB, s.Outbox, processed, logg); err != nil {
		return nil, fmt.Errorf("low stock notifier: %w", err)
	}

	if s.Addresses, err = address.NewService(address.NewRepository(gdb)); err != nil {
		return nil, fmt.Errorf("address service: %w", err)
	}
	cartRepo := cart.NewRepository(gdb)
	if s.Carts, err = cart.NewService(cartRepo, params.DB); err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}

	s.OrdersRepo = orders.NewRepository(gdb)
	if s.Orders, err = orders.NewService(s.OrdersRepo, params.DB, s.Ledger, s.Coupons, s.Outbox, logg); err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}
	scheduler, err := orders.NewAutoCancelScheduler(params.Jobs, logg)
	if err != nil {
		return nil, fmt.Errorf("auto-cancel scheduler: %w", err)
	}

	pricing, err := checkout.PricingFromConfig(cfg.Checkout)
	if err != nil {
		return nil, fmt.Errorf("pricing policy: %w", err)
	}
	s.Checkout, err = checkout.NewService(checkout.Deps{
		Sessions:        params.DB,
		Carts:           cartRepo,
		Orders:          s.OrdersRepo,
		Addresses:       s.Addresses,
		Inventory:       s.Ledger,
		Coupons:         s.Coupons,
		Scheduler:       scheduler,
		Outbox:          s.Outbox,
		Pricing:         pricing,
		AutoCancelAfter: cfg.Checkout.AutoCancelAfter,
		Logger:          logg,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	s.PaymentsRepo = payments.NewRepository(gdb)
	gateways := payments.NewRegistry(payments.NewStripeGateway(logg), payments.NewSquareGateway(logg))
	creds := payments.NewCredentialResolver(s.PaymentsRepo, cfg.Stripe, cfg.Square)
	initiator, err := payments.NewInitiator(payments.InitiatorDeps{
		Sessions:    params.DB,
		Orders:      s.OrdersRepo,
		Payments:    s.PaymentsRepo,
		Gateways:    gateways,
		Credentials: creds,
		Locks:       params.Redis,
		LockTTL:     cfg.Payments.InitiationLockTTL,
		Outbox:      s.Outbox,
		Logger:      logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payment initiator: %w", err)
	}
	s.Reconciler = payments.NewReconciler(params.DB, s.PaymentsRepo, s.OrdersRepo, s.Outbox, logg)
	if s.Payments, err = payments.NewService(initiator, s.Reconciler, s.PaymentsRepo, s.OrdersRepo, gateways, creds); err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	s.Returns, err = returns.NewService(returns.ServiceParams{
		Repo:      returns.NewRepository(gdb),
		Orders:    s.OrdersRepo,
		Sessions:  params.DB,
		Inventory: s.Ledger,
		Outbox:    s.Outbox,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("returns service: %w", err)
	}

	guard, err := webhooks.NewGuard(params.Redis, cfg.Webhooks.DedupeTTL, logg)
	if err != nil {
		return nil, fmt.Errorf("webhook guard: %w", err)
	}
	var dispatcher webhooks.Dispatcher = webhooks.NewInlineDispatcher(s.Reconciler)
	if cfg.Webhooks.QueueEnabled {
		queued, err := webhooks.NewQueueDispatcher(params.Jobs, dispatcher, cfg.Webhooks.Attempts, cfg.Webhooks.Backoff, logg)
		if err != nil {
			return nil, fmt.Errorf("webhook dispatcher: %w", err)
		}
		dispatcher = queued
	}
	s.WebhookReceiver, err = webhooks.NewReceiver(webhooks.ReceiverParams{
		Gateways:    gateways,
		Credentials: creds,
		Guard:       guard,
		Dispatcher:  dispatcher,
		Metrics:     metrics.NewWebhookMetrics(reg),
		Logger:      logg,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook receiver: %w", err)
	}
	s.WebhookJobs = webhooks.NewApplyJobHandler(s.Reconciler)

	return s, nil
}
