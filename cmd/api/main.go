package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/shopcore/api/routes"
	"github.com/angelmondragon/shopcore/internal/bootstrap"
)

const shutdownGrace = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, bootstrap.RuntimeOptions{
		Service:    "api",
		Redis:      true,
		Jobs:       true,
		DevMigrate: true,
	})
	if err != nil {
		os.Exit(1)
	}

	err = multierr.Append(serve(ctx, rt), rt.Close())
	if err != nil {
		rt.Logger.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger

	registry := prometheus.NewRegistry()
	services, err := rt.Services(bootstrap.Params{Registry: registry})
	if err != nil {
		return err
	}

	addr := ":" + firstNonEmpty(os.Getenv("PORT"), cfg.App.Port)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": firstNonEmpty(os.Getenv("DYNO"), "local"),
	})

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			DB:          rt.DB,
			Redis:       rt.Redis,
			Idempotency: rt.Redis,
			Gatherer:    registry,
			Addresses:   services.Addresses,
			Carts:       services.Carts,
			Checkout:    services.Checkout,
			Orders:      services.Orders,
			Payments:    services.Payments,
			Returns:     services.Returns,
			Webhooks:    services.WebhookReceiver,
		}),
	}

	listenErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		listenErr <- server.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server draining")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
