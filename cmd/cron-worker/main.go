package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/shopcore/internal/bootstrap"
	"github.com/angelmondragon/shopcore/internal/cron"
	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, bootstrap.RuntimeOptions{
		Service:    "cron-worker",
		Redis:      true,
		Jobs:       true,
		DevMigrate: true,
	})
	if err != nil {
		os.Exit(1)
	}

	if err := multierr.Append(schedule(ctx, rt), rt.Close()); err != nil {
		rt.Logger.Error(context.Background(), "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func schedule(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger

	services, err := rt.Services(bootstrap.Params{Registry: prometheus.DefaultRegisterer})
	if err != nil {
		return err
	}
	registry, err := buildRegistry(cfg, logg, rt.DB, services)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(rt.Redis, cfg.App.Env, cfg.Cron.LockTTL)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *bootstrap.Services) (*cron.Registry, error) {
	autoCancel, err := cron.NewOrderAutoCancelJob(cron.OrderAutoCancelJobParams{
		Logger: logg,
		Orders: services.Orders,
		After:  cfg.Checkout.AutoCancelAfter,
	})
	if err != nil {
		return nil, err
	}
	paymentPoll, err := cron.NewPaymentPollJob(cron.PaymentPollJobParams{
		Logger:   logg,
		Payments: services.Payments,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  services.OutboxRepo,
		Retention:   cfg.Outbox.Retention,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(autoCancel, paymentPoll, retention)
}
