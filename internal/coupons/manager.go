package coupons

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/redis"
)

const lockScope = "coupon"

var hundred = decimal.NewFromInt(100)

type lockStore interface {
	redis.LockStore
	LockKey(scope string, parts ...string) string
}

// Lock is a validated coupon held exclusively by one order attempt.
type Lock struct {
	Coupon        models.Coupon
	UserID        uuid.UUID
	DiscountCents int64

	mutex *redis.Lock
}

// Code returns the normalized coupon code.
func (l *Lock) Code() string {
	return l.Coupon.Code
}

// Manager validates coupons and records redemptions.
type Manager struct {
	locks lockStore
	ttl   time.Duration
	logg  *logger.Logger
	now   func() time.Time
}

// NewManager builds a manager. A nil store disables the code mutex, which is
// only acceptable for single-process tools.
func NewManager(locks lockStore, ttl time.Duration, logg *logger.Logger) *Manager {
	return &Manager{locks: locks, ttl: ttl, logg: logg, now: time.Now}
}

// NormalizeCode canonicalizes user input into the stored form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// LockCoupon takes the code mutex, then checks that the coupon applies to an
// order of orderAmountCents for userID. The mutex is released again when
// validation fails; on success the caller must call UnlockCoupon.
func (m *Manager) LockCoupon(ctx context.Context, sess dbpkg.Session, code string, userID uuid.UUID, orderAmountCents int64) (*Lock, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeCouponInvalid, "coupon code is required")
	}

	mutex, err := m.acquire(ctx, code)
	if err != nil {
		return nil, err
	}

	lock, err := m.validate(ctx, sess.DB(), code, userID, orderAmountCents)
	if err != nil {
		m.release(ctx, mutex)
		return nil, err
	}
	lock.mutex = mutex
	return lock, nil
}

func (m *Manager) acquire(ctx context.Context, code string) (*redis.Lock, error) {
	if m.locks == nil {
		return nil, nil
	}
	mutex, err := redis.NewLock(m.locks, m.locks.LockKey(lockScope, code), m.ttl)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build coupon lock")
	}
	ok, err := mutex.Acquire(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire coupon lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "coupon is being redeemed by another order, try again").
			WithDetails(map[string]any{"code": code})
	}
	return mutex, nil
}

func (m *Manager) validate(ctx context.Context, tx *gorm.DB, code string, userID uuid.UUID, orderAmountCents int64) (*Lock, error) {
	var coupon models.Coupon
	if err := tx.WithContext(ctx).Where("code = ?", code).Take(&coupon).Error; err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeCouponInvalid, "coupon not found").
				WithDetails(map[string]any{"code": code})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	if !coupon.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeCouponInvalid, "coupon is not active")
	}

	now := m.now().UTC()
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return nil, pkgerrors.New(pkgerrors.CodeCouponExpired, "coupon is not yet valid")
	}
	if coupon.EndsAt != nil && now.After(*coupon.EndsAt) {
		return nil, pkgerrors.New(pkgerrors.CodeCouponExpired, "coupon has expired")
	}
	if orderAmountCents < coupon.MinOrderCents {
		return nil, pkgerrors.New(pkgerrors.CodeCouponInvalid, "order amount is below the coupon minimum").
			WithDetails(map[string]any{"min_order_cents": coupon.MinOrderCents})
	}
	if coupon.MaxRedemptions != nil && coupon.RedemptionCount >= *coupon.MaxRedemptions {
		return nil, pkgerrors.New(pkgerrors.CodeCouponExhausted, "coupon has no redemptions left")
	}
	if coupon.PerUserLimit != nil {
		var used int64
		if err := tx.WithContext(ctx).
			Model(&models.CouponUsage{}).
			Where("coupon_id = ? AND user_id = ?", coupon.ID, userID).
			Count(&used).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count coupon usage")
		}
		if used >= int64(*coupon.PerUserLimit) {
			return nil, pkgerrors.New(pkgerrors.CodeCouponExhausted, "coupon usage limit reached for this user")
		}
	}

	return &Lock{
		Coupon:        coupon,
		UserID:        userID,
		DiscountCents: Discount(coupon, orderAmountCents),
	}, nil
}

// Discount computes the discount coupon grants on amountCents, never more
// than amountCents itself.
func Discount(coupon models.Coupon, amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	var discount int64
	switch coupon.DiscountType {
	case enums.DiscountTypePercent:
		discount = decimal.NewFromInt(amountCents).
			Mul(coupon.DiscountValue).
			Div(hundred).
			Round(0).
			IntPart()
		if coupon.MaxDiscountCents != nil && discount > *coupon.MaxDiscountCents {
			discount = *coupon.MaxDiscountCents
		}
	case enums.DiscountTypeFixed:
		discount = coupon.DiscountValue.Round(0).IntPart()
	}
	if discount < 0 {
		return 0
	}
	if discount > amountCents {
		return amountCents
	}
	return discount
}

// RecordUsage redeems the locked coupon for orderID. The redemption counter
// only moves while it is below max_redemptions.
func (m *Manager) RecordUsage(ctx context.Context, sess dbpkg.Session, lock *Lock, orderID uuid.UUID) error {
	if lock == nil {
		return nil
	}
	tx := sess.DB().WithContext(ctx)
	usage := &models.CouponUsage{
		CouponID: lock.Coupon.ID,
		UserID:   lock.UserID,
		OrderID:  orderID,
	}
	if err := tx.Create(usage).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already redeemed a coupon")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record coupon usage")
	}

	res := tx.Model(&models.Coupon{}).
		Where("id = ? AND (max_redemptions IS NULL OR redemption_count < max_redemptions)", lock.Coupon.ID).
		Updates(map[string]any{
			"redemption_count": gorm.Expr("redemption_count + 1"),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error == nil && res.RowsAffected == 0 {
		res.Error = pkgerrors.New(pkgerrors.CodeCouponExhausted, "coupon has no redemptions left")
	}
	if res.Error != nil {
		failure := res.Error
		if pkgerrors.As(failure) == nil {
			failure = pkgerrors.Wrap(pkgerrors.CodeDependency, failure, "increment coupon redemptions")
		}
		if sess.IsStandalone() {
			if err := tx.Where("id = ?", usage.ID).Delete(&models.CouponUsage{}).Error; err != nil {
				return multierr.Append(failure, fmt.Errorf("remove coupon usage %s: %w", usage.ID, err))
			}
		}
		return failure
	}

	if sess.IsStandalone() {
		conn := sess.DB()
		sess.OnAbort(func(ctx context.Context) error {
			_, err := removeUsage(ctx, conn, orderID)
			return err
		})
	}
	if m.logg != nil {
		logCtx := m.logg.WithFields(ctx, map[string]any{
			"coupon_code": lock.Coupon.Code,
			"order_id":    orderID.String(),
		})
		m.logg.Info(logCtx, "coupon redeemed")
	}
	return nil
}

// RemoveUsageByOrder reverses the redemption recorded for orderID, if any.
func (m *Manager) RemoveUsageByOrder(ctx context.Context, sess dbpkg.Session, orderID uuid.UUID) error {
	removed, err := removeUsage(ctx, sess.DB(), orderID)
	if err != nil {
		return err
	}
	if removed != nil && sess.IsStandalone() {
		conn := sess.DB()
		restored := *removed
		restored.ID = uuid.Nil
		sess.OnAbort(func(ctx context.Context) error {
			return restoreUsage(ctx, conn, restored)
		})
	}
	return nil
}

// UnlockCoupon releases the code mutex if this lock still owns it.
func (m *Manager) UnlockCoupon(ctx context.Context, lock *Lock) {
	if lock == nil {
		return
	}
	m.release(ctx, lock.mutex)
}

func (m *Manager) release(ctx context.Context, mutex *redis.Lock) {
	if mutex == nil {
		return
	}
	if err := mutex.Release(ctx); err != nil && m.logg != nil {
		m.logg.Warn(m.logg.WithField(ctx, "lock_key", mutex.Key()), fmt.Sprintf("coupon unlock failed: %v", err))
	}
}

func removeUsage(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.CouponUsage, error) {
	var usage models.CouponUsage
	err := tx.WithContext(ctx).Where("order_id = ?", orderID).Take(&usage).Error
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon usage")
	}
	res := tx.WithContext(ctx).Where("id = ?", usage.ID).Delete(&models.CouponUsage{})
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "delete coupon usage")
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	if err := tx.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND redemption_count > 0", usage.CouponID).
		Updates(map[string]any{
			"redemption_count": gorm.Expr("redemption_count - 1"),
			"updated_at":       time.Now().UTC(),
		}).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement coupon redemptions")
	}
	return &usage, nil
}

func restoreUsage(ctx context.Context, tx *gorm.DB, usage models.CouponUsage) error {
	if err := tx.WithContext(ctx).Create(&usage).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ?", usage.CouponID).
		Update("redemption_count", gorm.Expr("redemption_count + 1")).Error
}
