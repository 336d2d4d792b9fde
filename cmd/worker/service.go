package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/shopcore/internal/bootstrap"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/queue"
)

const (
	defaultReadyAttempts = 5
	defaultReadyBackoff  = 500 * time.Millisecond
)

type pinger interface {
	Ping(ctx context.Context) error
}

type jobServer interface {
	Handle(name string, fn queue.HandlerFunc)
	Run(ctx context.Context) error
}

// ServiceParams wire the job worker. ReadyAttempts and ReadyBackoff bound
// how long startup waits for the database and Redis.
type ServiceParams struct {
	Logger        *logger.Logger
	DB            pinger
	Redis         pinger
	Server        jobServer
	Services      *bootstrap.Services
	ReadyAttempts uint64
	ReadyBackoff  time.Duration
}

type dependency struct {
	name string
	ping func(context.Context) error
}

type Service struct {
	logg     *logger.Logger
	deps     []dependency
	server   jobServer
	handlers map[string]queue.HandlerFunc
	attempts uint64
	backoff  time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Redis == nil:
		return nil, errors.New("redis client is required")
	case params.Server == nil:
		return nil, errors.New("job server is required")
	case params.Services == nil:
		return nil, errors.New("services are required")
	}
	svc := params.Services
	if svc.WebhookJobs == nil || svc.Orders == nil || svc.LowStock == nil {
		return nil, errors.New("job handlers are required")
	}

	s := &Service{
		logg: params.Logger,
		deps: []dependency{
			{name: "database", ping: params.DB.Ping},
			{name: "redis", ping: params.Redis.Ping},
		},
		server: params.Server,
		handlers: map[string]queue.HandlerFunc{
			queue.JobWebhookApply:      svc.WebhookJobs.Handle,
			queue.JobOrderAutoCancel:   svc.Orders.HandleAutoCancelJob,
			queue.JobInventoryLowStock: svc.LowStock.HandleJob,
		},
		attempts: params.ReadyAttempts,
		backoff:  params.ReadyBackoff,
	}
	if s.attempts == 0 {
		s.attempts = defaultReadyAttempts
	}
	if s.backoff <= 0 {
		s.backoff = defaultReadyBackoff
	}
	return s, nil
}

// awaitDependencies pings each dependency until it answers or the attempt
// budget runs out.
func (s *Service) awaitDependencies(ctx context.Context) error {
	for _, dep := range s.deps {
		backoff := retry.WithMaxRetries(s.attempts-1, retry.NewExponential(s.backoff))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := dep.ping(ctx); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "dependency", dep.name), "dependency not ready")
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			s.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.awaitDependencies(ctx); err != nil {
		return err
	}
	for name, fn := range s.handlers {
		s.server.Handle(name, fn)
	}

	err := s.server.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "job server stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return nil
}
