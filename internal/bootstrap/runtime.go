package bootstrap

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/migrate"
	"github.com/angelmondragon/shopcore/pkg/pubsub"
	"github.com/angelmondragon/shopcore/pkg/queue"
	"github.com/angelmondragon/shopcore/pkg/redis"
)

// RuntimeOptions selects which clients a binary needs.
type RuntimeOptions struct {
	Service    string
	Redis      bool
	Jobs       bool
	PubSub     bool
	DevMigrate bool
}

// Runtime is the set of process-wide clients opened at startup.
// Clients not requested in RuntimeOptions stay nil.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client
	Jobs   *queue.Client
	PubSub *pubsub.Client

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Open loads configuration and dials every requested dependency. On failure
// it logs, closes whatever was already opened and returns the error.
func Open(ctx context.Context, opts RuntimeOptions) (rt *Runtime, err error) {
	logg := logger.New(logger.Options{ServiceName: opts.Service})
	if loadErr := godotenv.Load(); loadErr != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		return nil, err
	}
	cfg.Service.Kind = opts.Service

	rt = &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: opts.Service,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Format:      cfg.App.LogFormat,
		}),
	}
	defer func() {
		if err != nil {
			rt.Logger.Error(ctx, "startup failed", err)
			if closeErr := rt.Close(); closeErr != nil {
				rt.Logger.Error(ctx, "cleanup after failed startup", closeErr)
			}
			rt = nil
		}
	}()

	if rt.DB, err = db.New(ctx, cfg.DB, rt.Logger); err != nil {
		return rt, fmt.Errorf("bootstrap database: %w", err)
	}
	rt.track("database", rt.DB.Close)

	if opts.DevMigrate {
		if err = migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB); err != nil {
			return rt, fmt.Errorf("dev migrations: %w", err)
		}
	}
	if opts.Redis {
		if rt.Redis, err = redis.New(ctx, cfg.Redis, rt.Logger); err != nil {
			return rt, fmt.Errorf("bootstrap redis: %w", err)
		}
		rt.track("redis", rt.Redis.Close)
	}
	if opts.Jobs {
		if rt.Jobs, err = queue.NewClient(cfg.Redis.URL, cfg.Queue.Retention, rt.Logger); err != nil {
			return rt, fmt.Errorf("bootstrap job queue: %w", err)
		}
		rt.track("job queue", rt.Jobs.Close)
	}
	if opts.PubSub {
		if rt.PubSub, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, rt.Logger); err != nil {
			return rt, fmt.Errorf("bootstrap pubsub: %w", err)
		}
		rt.track("pubsub", rt.PubSub.Close)
	}
	return rt, nil
}

func (r *Runtime) track(name string, fn func() error) {
	r.closers = append(r.closers, namedCloser{name: name, close: fn})
}

// Close releases clients in reverse open order.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errs
}

// Services wires the domain graph on top of the opened clients.
func (r *Runtime) Services(params Params) (*Services, error) {
	params.Config = r.Config
	params.Logger = r.Logger
	params.DB = r.DB
	params.Redis = r.Redis
	if params.Jobs == nil && r.Jobs != nil {
		params.Jobs = r.Jobs
	}
	return New(params)
}
