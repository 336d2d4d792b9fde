package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/dbtest"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/queue"
)

type stubCache struct {
	mu      sync.Mutex
	deleted []string
}

func (c *stubCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, keys...)
	return nil
}

func (c *stubCache) CacheKey(scope, id string) string {
	return fmt.Sprintf("sc:cache:%s:%s", scope, id)
}

type stubEnqueuer struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (e *stubEnqueuer) Enqueue(ctx context.Context, name string, payload any, opts queue.EnqueueOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, name)
	return e.err
}

func TestReserveDecrementsAndInvalidatesCache(t *testing.T) {
	conn := dbtest.Open(t)
	client := dbpkg.NewFromConn(conn, false)
	product := dbtest.SeedProduct(t, conn, 10, 1000)
	cache := &stubCache{}
	ledger := NewLedger(cache, nil, 5, nil)

	err := client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		return ledger.Reserve(context.Background(), sess, Ref{ProductID: product.ID}, 3, Meta{})
	})
	require.NoError(t, err)
	assert.Equal(t, 7, dbtest.StockOf(t, conn, &models.Product{}, product.ID))

	key := "sc:cache:stock:" + product.ID.String()
	assert.Equal(t, []string{key, key}, cache.deleted)
}

func TestReserveFailsWithoutChangingStock(t *testing.T) {
	conn := dbtest.Open(t)
	client := dbpkg.NewFromConn(conn, false)
	product := dbtest.SeedProduct(t, conn, 2, 1000)
	ledger := NewLedger(nil, nil, 5, nil)

	err := client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		return ledger.Reserve(context.Background(), sess, Ref{ProductID: product.ID}, 5, Meta{})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 2, dbtest.StockOf(t, conn, &models.Product{}, product.ID))
}

func TestReserveMissingProductIsNotFound(t *testing.T) {
	conn := dbtest.Open(t)
	client := dbpkg.NewFromConn(conn, false)
	ledger := NewLedger(nil, nil, 5, nil)

	err := client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		return ledger.Reserve(context.Background(), sess, Ref{ProductID: uuid.New()}, 1, Meta{})
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReserveThenReleaseRestoresStock(t *testing.T) {
	conn := dbtest.Open(t)
	client := dbpkg.NewFromConn(conn, false)
	product := dbtest.SeedProduct(t, conn, 3, 1000)
	variant := dbtest.SeedVariant(t, conn, product, 6, 1200)
	ledger := NewLedger(nil, nil, 0, nil)
	ref := Ref{ProductID: product.ID, VariantID: &variant.ID}

	require.NoError(t, client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		return ledger.Reserve(context.Background(), sess, ref, 4, Meta{})
	}))
	assert.Equal(t, 2, dbtest.StockOf(t, conn, &models.ProductVariant{}, variant.ID))
	assert.Equal(t, 3, dbtest.StockOf(t, conn, &models.Product{}, product.ID))

	require.NoError(t, client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		return ledger.Release(context.Background(), sess, ref, 4, Meta{Reason: "test"})
	}))
	assert.Equal(t, 6, dbtest.StockOf(t, conn, &models.ProductVariant{}, variant.ID))
}

func TestReleaseIncrementsStock(t *testing.T) {
	conn := dbtest.Open(t)
	client := dbpkg.NewFromConn(conn, false)
	product := dbtest.SeedProduct(t, conn, 5, 1000)
	cache := &stubCache{}
	ledger := NewLedger(cache, nil, 0, nil)

	require.NoError(t, client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		return ledger.Release(context.Background(), sess, Ref{ProductID: product.ID}, 2, Meta{})
	}))
	assert.Equal(t, 7, dbtest.StockOf(t, conn, &models.Product{}, product.ID))
	assert.Len(t, cache.deleted, 2)
}

func TestCommitEnqueuesLowStockAfterCommit(t *testing.T) {
	conn := dbtest.Open(t)
	client := dbpkg.NewFromConn(conn, false)
	product := dbtest.SeedProduct(t, conn, 4, 1000)
	jobs := &stubEnqueuer{}
	ledger := NewLedger(nil, jobs, 5, nil)

	sess, err := client.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(context.Background(), sess, Ref{ProductID: product.ID}, 1, Meta{}))
	assert.Empty(t, jobs.jobs, "notification must wait for commit")
	require.NoError(t, sess.Commit())
	sess.End()

	assert.Equal(t, 4, dbtest.StockOf(t, conn, &models.Product{}, product.ID))
	assert.Equal(t, []string{queue.JobInventoryLowStock}, jobs.jobs)
}

func TestCommitUsesRowThresholdAndIgnoresEnqueueFailure(t *testing.T) {
	conn := dbtest.Open(t)
	client := dbpkg.NewFromConn(conn, false)
	product := dbtest.SeedProduct(t, conn, 4, 1000)
	threshold := 2
	require.NoError(t, conn.Model(&models.Product{}).Where("id = ?", product.ID).Update("low_stock_threshold", threshold).Error)

	jobs := &stubEnqueuer{}
	ledger := NewLedger(nil, jobs, 10, nil)
	require.NoError(t, client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		return ledger.Commit(context.Background(), sess, Ref{ProductID: product.ID}, 1, Meta{})
	}))
	assert.Empty(t, jobs.jobs)

	failing := &stubEnqueuer{err: errors.New("redis down")}
	ledger = NewLedger(nil, failing, 10, nil)
	require.NoError(t, conn.Model(&models.Product{}).Where("id = ?", product.ID).Update("low_stock_threshold", nil).Error)
	require.NoError(t, client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		return ledger.Commit(context.Background(), sess, Ref{ProductID: product.ID}, 1, Meta{})
	}))
	assert.Len(t, failing.jobs, 1)
}

func TestStandaloneAbortCompensatesReservation(t *testing.T) {
	conn := dbtest.Open(t)
	client := dbpkg.NewFromConn(conn, true)
	product := dbtest.SeedProduct(t, conn, 5, 1000)
	ledger := NewLedger(nil, nil, 0, nil)

	boom := errors.New("order insert failed")
	err := client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		require.True(t, sess.IsStandalone())
		if err := ledger.Reserve(context.Background(), sess, Ref{ProductID: product.ID}, 2, Meta{}); err != nil {
			return err
		}
		assert.Equal(t, 3, dbtest.StockOf(t, conn, &models.Product{}, product.ID))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 5, dbtest.StockOf(t, conn, &models.Product{}, product.ID))
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	conn := dbtest.Open(t)
	client := dbpkg.NewFromConn(conn, true)
	product := dbtest.SeedProduct(t, conn, 5, 1000)
	ledger := NewLedger(nil, nil, 0, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := client.WithSession(context.Background(), func(sess dbpkg.Session) error {
				return ledger.Reserve(context.Background(), sess, Ref{ProductID: product.ID}, 1, Meta{})
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	remaining := dbtest.StockOf(t, conn, &models.Product{}, product.ID)
	assert.GreaterOrEqual(t, remaining, 0)
	assert.Equal(t, 5-succeeded, remaining)
}
