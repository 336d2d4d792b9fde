package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/dbtest"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/queue"
	"github.com/angelmondragon/shopcore/pkg/redis"
)

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(context.Context, string, any, queue.EnqueueOptions) error {
	return nil
}

func testConfig(queueWebhooks bool) *config.Config {
	return &config.Config{
		Checkout: config.CheckoutConfig{
			AutoCancelAfter:   30 * time.Minute,
			LowStockThreshold: 5,
			TaxRate:           "0.08",
			Currency:          "USD",
			CouponLockTTL:     30 * time.Second,
		},
		Payments: config.PaymentsConfig{InitiationLockTTL: 30 * time.Second},
		Webhooks: config.WebhooksConfig{DedupeTTL: time.Hour, QueueEnabled: queueWebhooks, Attempts: 5, Backoff: time.Second},
	}
}

func TestNewWiresEveryService(t *testing.T) {
	for _, queued := range []bool{true, false} {
		raw := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
		t.Cleanup(func() { _ = raw.Close() })

		services, err := New(Params{
			Config:   testConfig(queued),
			Logger:   logger.New(logger.Options{ServiceName: "test"}),
			DB:       db.NewFromConn(dbtest.Open(t), false),
			Redis:    redis.NewFromCmdable(raw),
			Jobs:     nopEnqueuer{},
			Registry: prometheus.NewRegistry(),
		})
		require.NoError(t, err)
		require.NotNil(t, services.Checkout)
		require.NotNil(t, services.Orders)
		require.NotNil(t, services.Payments)
		require.NotNil(t, services.Returns)
		require.NotNil(t, services.WebhookReceiver)
		require.NotNil(t, services.WebhookJobs)
		require.NotNil(t, services.LowStock)
	}
}

func TestNewRequiresInfrastructure(t *testing.T) {
	_, err := New(Params{Config: testConfig(true), Logger: logger.New(logger.Options{ServiceName: "test"})})
	require.Error(t, err)
}
