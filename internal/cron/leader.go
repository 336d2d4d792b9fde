package cron

import (
	"context"
	"time"

	"github.com/angelmondragon/shopcore/pkg/redis"
)

const (
	leaderScope    = "cron-worker"
	defaultLockTTL = 30 * time.Minute
)

// Lock elects the instance that runs a cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type leaderStore interface {
	redis.LockStore
	LockKey(scope string, parts ...string) string
}

// NewRedisLock returns the per-environment leader lock. An empty env maps to
// "local" so developer machines never contend with a deployed worker.
func NewRedisLock(store leaderStore, env string, ttl time.Duration) (Lock, error) {
	if env == "" {
		env = "local"
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	lock, err := redis.NewLock(store, store.LockKey(leaderScope, env), ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}
