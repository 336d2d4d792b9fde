package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/redis/redistest"
)

type fakeSweeper struct {
	olderThan time.Duration
	limit     int
	err       error
}

func (f *fakeSweeper) SweepExpired(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.olderThan = olderThan
	f.limit = limit
	return 2, f.err
}

type fakePoller struct {
	olderThan time.Duration
	limit     int
	err       error
}

func (f *fakePoller) PollStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.olderThan = olderThan
	f.limit = limit
	return 1, f.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test"})
}

func TestOrderAutoCancelJobSweepsWithWindow(t *testing.T) {
	sweeper := &fakeSweeper{}
	job, err := NewOrderAutoCancelJob(OrderAutoCancelJobParams{Logger: testLogger(), Orders: sweeper, After: 30 * time.Minute})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if job.Name() != "order-auto-cancel" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.olderThan != 30*time.Minute || sweeper.limit != defaultSweepBatch {
		t.Fatalf("unexpected sweep args %+v", sweeper)
	}

	sweeper.err = errors.New("db down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected sweep error")
	}

	if _, err := NewOrderAutoCancelJob(OrderAutoCancelJobParams{Logger: testLogger(), Orders: sweeper}); err == nil {
		t.Fatal("expected missing window to be rejected")
	}
}

func TestPaymentPollJobDefaults(t *testing.T) {
	poller := &fakePoller{}
	job, err := NewPaymentPollJob(PaymentPollJobParams{Logger: testLogger(), Payments: poller})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if poller.olderThan != defaultPollAge || poller.limit != defaultPollBatch {
		t.Fatalf("unexpected poll args %+v", poller)
	}
	poller.err = errors.New("gateway down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected poll error")
	}
}

func TestRedisLockIsExclusive(t *testing.T) {
	store := redistest.New()
	ctx := context.Background()
	first, err := NewRedisLock(store, "test", 0)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	second, _ := NewRedisLock(store, "test", 0)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire, ok=%v err=%v", ok, err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("expected second acquire to fail")
	}
	if got := store.TTL(store.LockKey(leaderScope, "test")); got != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", got)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("expected lock to be free after release")
	}
}
