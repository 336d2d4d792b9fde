package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
)

const maxBackoff = 30 * time.Minute

// HandlerFunc processes one job payload. Errors whose code is not retryable
// are not retried.
type HandlerFunc func(ctx context.Context, payload []byte) error

// ServerConfig tunes the worker.
type ServerConfig struct {
	Concurrency int
	Queues      map[string]int
}

// Server consumes jobs enqueued by Client.
type Server struct {
	srv  *asynq.Server
	mux  *asynq.ServeMux
	logg *logger.Logger
}

func NewServer(redisURL string, cfg ServerConfig, logg *logger.Logger) (*Server, error) {
	opt, err := asynq.ParseRedisURI(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse queue redis url: %w", err)
	}
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{QueueWebhooks: 6, QueueOrders: 3, QueueDefault: 1}
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:    cfg.Concurrency,
		Queues:         queues,
		RetryDelayFunc: RetryDelay,
	})
	return &Server{srv: srv, mux: asynq.NewServeMux(), logg: logg}, nil
}

// Handle registers fn for the named job.
func (s *Server) Handle(name string, fn HandlerFunc) {
	s.mux.HandleFunc(name, wrap(name, fn, s.logg))
}

// Run processes jobs until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.srv.Start(s.mux); err != nil {
		return fmt.Errorf("start queue server: %w", err)
	}
	<-ctx.Done()
	s.srv.Shutdown()
	return nil
}

func wrap(name string, fn HandlerFunc, logg *logger.Logger) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		if logg != nil {
			ctx = logg.WithField(ctx, "job", name)
		}
		err := fn(ctx, task.Payload())
		if err == nil {
			return nil
		}
		if logg != nil {
			logg.Error(ctx, "job failed", err)
		}
		return classify(err)
	}
}

func classify(err error) error {
	if typed := pkgerrors.As(err); typed != nil && !pkgerrors.MetadataFor(typed.Code()).Retryable {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return err
}

// RetryDelay doubles the backoff carried by the job on each retry.
func RetryDelay(n int, err error, task *asynq.Task) time.Duration {
	base := time.Duration(0)
	if task != nil {
		base = backoffOf(task.Payload())
	}
	if base <= 0 {
		return asynq.DefaultRetryDelayFunc(n, err, task)
	}
	return exponential(base, n)
}

func exponential(base time.Duration, n int) time.Duration {
	delay := base
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// IsSkipRetry reports whether the worker gave up on err without retrying.
func IsSkipRetry(err error) bool {
	return errors.Is(err, asynq.SkipRetry)
}
