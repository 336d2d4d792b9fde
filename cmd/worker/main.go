package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"

	"github.com/angelmondragon/shopcore/internal/bootstrap"
	"github.com/angelmondragon/shopcore/pkg/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, bootstrap.RuntimeOptions{Service: "worker", Redis: true, Jobs: true})
	if err != nil {
		os.Exit(1)
	}

	if err := multierr.Append(work(ctx, rt), rt.Close()); err != nil {
		rt.Logger.Error(context.Background(), "worker exited with error", err)
		os.Exit(1)
	}
}

func work(ctx context.Context, rt *bootstrap.Runtime) error {
	services, err := rt.Services(bootstrap.Params{})
	if err != nil {
		return err
	}
	server, err := queue.NewServer(rt.Config.Redis.URL, queue.ServerConfig{Concurrency: rt.Config.Queue.Concurrency}, rt.Logger)
	if err != nil {
		return err
	}
	svc, err := NewService(ServiceParams{
		Logger:   rt.Logger,
		DB:       rt.DB,
		Redis:    rt.Redis,
		Server:   server,
		Services: services,
	})
	if err != nil {
		return err
	}

	ctx = rt.Logger.WithFields(ctx, map[string]any{
		"env":      rt.Config.App.Env,
		"instance": instanceID(),
	})
	rt.Logger.Info(ctx, "starting worker")
	if err := svc.Run(ctx); err != nil {
		return err
	}
	rt.Logger.Info(ctx, "worker shutting down gracefully")
	return nil
}

func instanceID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	return "worker-0"
}
