package coupons

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/dbtest"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/redis/redistest"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func seedCoupon(t *testing.T, conn *gorm.DB, mutate func(*models.Coupon)) *models.Coupon {
	t.Helper()
	coupon := &models.Coupon{
		Code:          "SAVE10",
		DiscountType:  enums.DiscountTypePercent,
		DiscountValue: decimal.NewFromInt(10),
		IsActive:      true,
	}
	if mutate != nil {
		mutate(coupon)
	}
	require.NoError(t, conn.Create(coupon).Error)
	return coupon
}

func lockAndRecord(t *testing.T, client *dbpkg.Client, mgr *Manager, code string, userID uuid.UUID, amount int64) (*Lock, uuid.UUID, error) {
	t.Helper()
	orderID := uuid.New()
	var lock *Lock
	err := client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		var err error
		lock, err = mgr.LockCoupon(context.Background(), sess, code, userID, amount)
		if err != nil {
			return err
		}
		return mgr.RecordUsage(context.Background(), sess, lock, orderID)
	})
	if lock != nil {
		mgr.UnlockCoupon(context.Background(), lock)
	}
	return lock, orderID, err
}

func TestLockCouponComputesCappedPercentDiscount(t *testing.T) {
	conn := dbtest.Open(t)
	seedCoupon(t, conn, func(c *models.Coupon) {
		c.DiscountValue = decimal.NewFromInt(20)
		c.MaxDiscountCents = int64Ptr(1500)
	})
	client := dbpkg.NewFromConn(conn, false)
	mgr := NewManager(redistest.New(), time.Minute, nil)

	lock, _, err := lockAndRecord(t, client, mgr, " save10 ", uuid.New(), 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), lock.DiscountCents)
	assert.Equal(t, "SAVE10", lock.Code())

	var coupon models.Coupon
	require.NoError(t, conn.Where("code = ?", "SAVE10").Take(&coupon).Error)
	assert.Equal(t, 1, coupon.RedemptionCount)
}

func TestDiscountClampsToOrderAmount(t *testing.T) {
	fixed := models.Coupon{DiscountType: enums.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(5000)}
	assert.Equal(t, int64(1200), Discount(fixed, 1200))

	percent := models.Coupon{DiscountType: enums.DiscountTypePercent, DiscountValue: decimal.RequireFromString("12.5")}
	assert.Equal(t, int64(125), Discount(percent, 1000))
	assert.Equal(t, int64(0), Discount(percent, 0))
}

func TestLockCouponValidation(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	future := time.Now().Add(48 * time.Hour)

	cases := []struct {
		name   string
		mutate func(*models.Coupon)
		amount int64
		code   pkgerrors.Code
	}{
		{name: "inactive", amount: 1000, code: pkgerrors.CodeCouponInvalid},
		{name: "ended", mutate: func(c *models.Coupon) { c.EndsAt = &past }, amount: 1000, code: pkgerrors.CodeCouponExpired},
		{name: "not started", mutate: func(c *models.Coupon) { c.StartsAt = &future }, amount: 1000, code: pkgerrors.CodeCouponExpired},
		{name: "below minimum", mutate: func(c *models.Coupon) { c.MinOrderCents = 5000 }, amount: 1000, code: pkgerrors.CodeCouponInvalid},
		{name: "exhausted", mutate: func(c *models.Coupon) { c.MaxRedemptions = intPtr(3); c.RedemptionCount = 3 }, amount: 1000, code: pkgerrors.CodeCouponExhausted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dbtest.Open(t)
			seedCoupon(t, conn, tc.mutate)
			if tc.mutate == nil {
				require.NoError(t, conn.Model(&models.Coupon{}).Where("code = ?", "SAVE10").Update("is_active", false).Error)
			}
			store := redistest.New()
			mgr := NewManager(store, time.Minute, nil)
			client := dbpkg.NewFromConn(conn, false)

			_, _, err := lockAndRecord(t, client, mgr, "SAVE10", uuid.New(), tc.amount)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
			assert.False(t, store.Has(store.LockKey("coupon", "SAVE10")), "mutex must be released after a failed validation")
		})
	}
}

func TestLockCouponUnknownCode(t *testing.T) {
	conn := dbtest.Open(t)
	client := dbpkg.NewFromConn(conn, false)
	mgr := NewManager(redistest.New(), time.Minute, nil)

	_, _, err := lockAndRecord(t, client, mgr, "NOPE", uuid.New(), 1000)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCouponInvalid))
}

func TestLockCouponEnforcesPerUserLimit(t *testing.T) {
	conn := dbtest.Open(t)
	seedCoupon(t, conn, func(c *models.Coupon) { c.PerUserLimit = intPtr(1) })
	client := dbpkg.NewFromConn(conn, false)
	mgr := NewManager(redistest.New(), time.Minute, nil)
	userID := uuid.New()

	_, _, err := lockAndRecord(t, client, mgr, "SAVE10", userID, 1000)
	require.NoError(t, err)

	_, _, err = lockAndRecord(t, client, mgr, "SAVE10", userID, 1000)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCouponExhausted))

	_, _, err = lockAndRecord(t, client, mgr, "SAVE10", uuid.New(), 1000)
	assert.NoError(t, err)
}

func TestLockCouponRejectsConcurrentHolder(t *testing.T) {
	conn := dbtest.Open(t)
	seedCoupon(t, conn, nil)
	store := redistest.New()
	client := dbpkg.NewFromConn(conn, false)
	mgr := NewManager(store, time.Minute, nil)

	sess, err := client.Begin(context.Background())
	require.NoError(t, err)
	defer sess.End()

	first, err := mgr.LockCoupon(context.Background(), sess, "SAVE10", uuid.New(), 1000)
	require.NoError(t, err)

	_, err = mgr.LockCoupon(context.Background(), sess, "SAVE10", uuid.New(), 1000)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	mgr.UnlockCoupon(context.Background(), first)
	second, err := mgr.LockCoupon(context.Background(), sess, "SAVE10", uuid.New(), 1000)
	require.NoError(t, err)
	mgr.UnlockCoupon(context.Background(), second)
}

func TestLockCouponSurfacesStoreOutage(t *testing.T) {
	conn := dbtest.Open(t)
	seedCoupon(t, conn, nil)
	store := redistest.New()
	store.Err = redistest.ErrUnavailable
	client := dbpkg.NewFromConn(conn, false)
	mgr := NewManager(store, time.Minute, nil)

	_, _, err := lockAndRecord(t, client, mgr, "SAVE10", uuid.New(), 1000)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestAbortedTransactionDropsUsage(t *testing.T) {
	conn := dbtest.Open(t)
	seedCoupon(t, conn, nil)
	client := dbpkg.NewFromConn(conn, false)
	mgr := NewManager(redistest.New(), time.Minute, nil)
	boom := errors.New("order insert failed")

	err := client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		lock, err := mgr.LockCoupon(context.Background(), sess, "SAVE10", uuid.New(), 1000)
		if err != nil {
			return err
		}
		defer mgr.UnlockCoupon(context.Background(), lock)
		if err := mgr.RecordUsage(context.Background(), sess, lock, uuid.New()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var usages int64
	require.NoError(t, conn.Model(&models.CouponUsage{}).Count(&usages).Error)
	assert.Zero(t, usages)
}

func TestStandaloneAbortCompensatesUsage(t *testing.T) {
	conn := dbtest.Open(t)
	seedCoupon(t, conn, func(c *models.Coupon) { c.MaxRedemptions = intPtr(5) })
	client := dbpkg.NewFromConn(conn, true)
	mgr := NewManager(redistest.New(), time.Minute, nil)
	boom := errors.New("reserve failed")

	err := client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		lock, err := mgr.LockCoupon(context.Background(), sess, "SAVE10", uuid.New(), 1000)
		if err != nil {
			return err
		}
		defer mgr.UnlockCoupon(context.Background(), lock)
		if err := mgr.RecordUsage(context.Background(), sess, lock, uuid.New()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var coupon models.Coupon
	require.NoError(t, conn.Where("code = ?", "SAVE10").Take(&coupon).Error)
	assert.Equal(t, 0, coupon.RedemptionCount)
	var usages int64
	require.NoError(t, conn.Model(&models.CouponUsage{}).Count(&usages).Error)
	assert.Zero(t, usages)
}

func TestRemoveUsageByOrderRestoresRedemption(t *testing.T) {
	conn := dbtest.Open(t)
	seedCoupon(t, conn, func(c *models.Coupon) { c.MaxRedemptions = intPtr(1) })
	client := dbpkg.NewFromConn(conn, false)
	mgr := NewManager(redistest.New(), time.Minute, nil)

	_, orderID, err := lockAndRecord(t, client, mgr, "SAVE10", uuid.New(), 1000)
	require.NoError(t, err)

	require.NoError(t, client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		return mgr.RemoveUsageByOrder(context.Background(), sess, orderID)
	}))
	require.NoError(t, client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		return mgr.RemoveUsageByOrder(context.Background(), sess, orderID)
	}))

	var coupon models.Coupon
	require.NoError(t, conn.Where("code = ?", "SAVE10").Take(&coupon).Error)
	assert.Equal(t, 0, coupon.RedemptionCount)

	_, _, err = lockAndRecord(t, client, mgr, "SAVE10", uuid.New(), 1000)
	assert.NoError(t, err)
}

func TestRecordUsageReportsFailedUsageCleanup(t *testing.T) {
	conn := dbtest.Open(t)
	seedCoupon(t, conn, func(c *models.Coupon) { c.MaxRedemptions = intPtr(1) })
	client := dbpkg.NewFromConn(conn, true)
	mgr := NewManager(redistest.New(), time.Minute, nil)

	err := client.WithSession(context.Background(), func(sess dbpkg.Session) error {
		lock, err := mgr.LockCoupon(context.Background(), sess, "SAVE10", uuid.New(), 1000)
		if err != nil {
			return err
		}
		defer mgr.UnlockCoupon(context.Background(), lock)
		require.NoError(t, conn.Model(&models.Coupon{}).Where("code = ?", "SAVE10").Update("redemption_count", 1).Error)
		require.NoError(t, conn.Exec("CREATE TRIGGER keep_usages BEFORE DELETE ON coupon_usages BEGIN SELECT RAISE(ABORT, 'usage delete refused'); END").Error)
		return mgr.RecordUsage(context.Background(), sess, lock, uuid.New())
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCouponExhausted))
	assert.Contains(t, err.Error(), "remove coupon usage")
	assert.Contains(t, err.Error(), "usage delete refused")
}
