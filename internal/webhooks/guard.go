package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/pkg/enums"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/redis"
)

const dedupeScope = "webhook"

// Guard suppresses repeated deliveries of the same gateway event.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	logg  *logger.Logger
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl, logg: logg}, nil
}

func (g *Guard) key(gateway enums.Gateway, eventID string) string {
	return g.store.IdempotencyKey(dedupeScope, string(gateway)+":"+eventID)
}

// Reserve marks the event as seen by requestID and reports whether it already
// was. A store outage lets the delivery through; reconciliation is idempotent.
func (g *Guard) Reserve(ctx context.Context, gateway enums.Gateway, eventID, requestID string) bool {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	set, err := g.store.SetNX(ctx, g.key(gateway, eventID), requestID, g.ttl)
	if err != nil {
		if g.logg != nil {
			logCtx := g.logg.WithFields(ctx, map[string]any{"gateway": gateway, "event_id": eventID})
			g.logg.Error(logCtx, "webhook dedupe unavailable", err)
		}
		return false
	}
	return !set
}

// Release forgets the event so a gateway retry is processed again.
func (g *Guard) Release(ctx context.Context, gateway enums.Gateway, eventID string) error {
	return g.store.Del(ctx, g.key(gateway, eventID))
}
