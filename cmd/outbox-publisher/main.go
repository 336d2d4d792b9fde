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
	"github.com/angelmondragon/shopcore/pkg/metrics"
	"github.com/angelmondragon/shopcore/pkg/outbox"
	"github.com/angelmondragon/shopcore/pkg/outbox/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, bootstrap.RuntimeOptions{
		Service:    "outbox-publisher",
		PubSub:     true,
		DevMigrate: true,
	})
	if err != nil {
		os.Exit(1)
	}

	if err := multierr.Append(relayLoop(ctx, rt), rt.Close()); err != nil {
		rt.Logger.Error(context.Background(), "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
}

func relayLoop(ctx context.Context, rt *bootstrap.Runtime) error {
	events, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		return err
	}
	gdb := rt.DB.DB()
	service, err := NewService(ServiceParams{
		Config:     rt.Config,
		Logger:     rt.Logger,
		DB:         rt.DB,
		Broker:     rt.PubSub,
		Events:     outbox.NewRepository(gdb),
		DLQ:        outbox.NewDLQRepository(gdb),
		Registry:   events,
		Publishers: lookupFromClient(rt.PubSub),
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	ctx = rt.Logger.WithFields(ctx, map[string]any{
		"env":         rt.Config.App.Env,
		"serviceKind": rt.Config.Service.Kind,
	})
	rt.Logger.Info(ctx, "starting outbox publisher")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	rt.Logger.Info(ctx, "outbox publisher shutting down gracefully")
	return nil
}
