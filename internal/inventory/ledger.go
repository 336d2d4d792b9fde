package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/queue"
)

// ErrInsufficientStock is wrapped by Reserve when the conditional decrement matches no row.
var ErrInsufficientStock = errors.New("insufficient stock")

const stockCacheScope = "stock"

// Ref addresses stock held on a product or on one of its variants.
type Ref struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
}

// StockID is the id of the row that carries stock_qty.
func (r Ref) StockID() uuid.UUID {
	if r.VariantID != nil && *r.VariantID != uuid.Nil {
		return *r.VariantID
	}
	return r.ProductID
}

func (r Ref) model() any {
	if r.VariantID != nil && *r.VariantID != uuid.Nil {
		return &models.ProductVariant{}
	}
	return &models.Product{}
}

// Meta describes why stock moved. It is carried into logs and notifications.
type Meta struct {
	OrderID *uuid.UUID
	Reason  string
}

type cacheStore interface {
	Del(ctx context.Context, keys ...string) error
	CacheKey(scope, id string) string
}

// LowStockJob is the payload of the low-stock notification job.
type LowStockJob struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	StockQty  int        `json:"stock_qty"`
	Threshold int        `json:"threshold"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
}

// Ledger owns every mutation of stock_qty. Reserve and Release are single
// conditional statements so concurrent callers never read-then-write.
type Ledger struct {
	cache     cacheStore
	jobs      queue.Enqueuer
	threshold int
	logg      *logger.Logger
}

// NewLedger builds a ledger. cache and jobs may be nil in tools that do not
// serve reads or send notifications.
func NewLedger(cache cacheStore, jobs queue.Enqueuer, defaultThreshold int, logg *logger.Logger) *Ledger {
	return &Ledger{cache: cache, jobs: jobs, threshold: defaultThreshold, logg: logg}
}

// Reserve takes qty units out of stock, failing with ErrInsufficientStock
// when fewer than qty remain.
func (l *Ledger) Reserve(ctx context.Context, sess dbpkg.Session, ref Ref, qty int, meta Meta) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if err := decrement(ctx, sess.DB(), ref, qty); err != nil {
		return err
	}

	l.invalidate(ctx, ref)
	sess.AfterCommit(func(ctx context.Context) { l.invalidate(ctx, ref) })
	if sess.IsStandalone() {
		conn := sess.DB()
		sess.OnAbort(func(ctx context.Context) error {
			return increment(ctx, conn, ref, qty)
		})
	}
	l.logMovement(ctx, "stock reserved", ref, qty, meta)
	return nil
}

// Commit finalizes a reservation. Stock is unchanged; when the remaining
// quantity is at or below the low-stock threshold a notification job is
// enqueued once the session commits.
func (l *Ledger) Commit(ctx context.Context, sess dbpkg.Session, ref Ref, qty int, meta Meta) error {
	row, err := loadStock(ctx, sess.DB(), ref)
	if err != nil {
		return err
	}
	threshold := l.threshold
	if row.LowStockThreshold != nil {
		threshold = *row.LowStockThreshold
	}
	if row.StockQty > threshold {
		return nil
	}

	job := LowStockJob{
		ProductID: ref.ProductID,
		VariantID: ref.VariantID,
		StockQty:  row.StockQty,
		Threshold: threshold,
		OrderID:   meta.OrderID,
	}
	sess.AfterCommit(func(ctx context.Context) { l.notifyLowStock(ctx, job) })
	return nil
}

// Release returns qty units to stock.
func (l *Ledger) Release(ctx context.Context, sess dbpkg.Session, ref Ref, qty int, meta Meta) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if err := increment(ctx, sess.DB(), ref, qty); err != nil {
		return err
	}

	l.invalidate(ctx, ref)
	sess.AfterCommit(func(ctx context.Context) { l.invalidate(ctx, ref) })
	if sess.IsStandalone() {
		conn := sess.DB()
		sess.OnAbort(func(ctx context.Context) error {
			return decrement(ctx, conn, ref, qty)
		})
	}
	l.logMovement(ctx, "stock released", ref, qty, meta)
	return nil
}

// Available reads the current stock for ref.
func (l *Ledger) Available(ctx context.Context, tx *gorm.DB, ref Ref) (int, error) {
	row, err := loadStock(ctx, tx, ref)
	if err != nil {
		return 0, err
	}
	return row.StockQty, nil
}

type stockRow struct {
	StockQty          int
	LowStockThreshold *int
}

func loadStock(ctx context.Context, tx *gorm.DB, ref Ref) (*stockRow, error) {
	var row stockRow
	err := tx.WithContext(ctx).
		Model(ref.model()).
		Select("stock_qty", "low_stock_threshold").
		Where("id = ?", ref.StockID()).
		Take(&row).Error
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": ref.ProductID, "variant_id": ref.VariantID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock")
	}
	return &row, nil
}

func decrement(ctx context.Context, tx *gorm.DB, ref Ref, qty int) error {
	res := tx.WithContext(ctx).
		Model(ref.model()).
		Where("id = ? AND stock_qty >= ?", ref.StockID(), qty).
		Updates(map[string]any{
			"stock_qty":  gorm.Expr("stock_qty - ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := loadStock(ctx, tx, ref); err != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInsufficientStock, "Requested quantity exceeds available stock").
		WithDetails(map[string]any{
			"product_id": ref.ProductID,
			"variant_id": ref.VariantID,
			"requested":  qty,
		})
}

func increment(ctx context.Context, tx *gorm.DB, ref Ref, qty int) error {
	res := tx.WithContext(ctx).
		Model(ref.model()).
		Where("id = ?", ref.StockID()).
		Updates(map[string]any{
			"stock_qty":  gorm.Expr("stock_qty + ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": ref.ProductID, "variant_id": ref.VariantID})
	}
	return nil
}

func (l *Ledger) invalidate(ctx context.Context, ref Ref) {
	if l.cache == nil {
		return
	}
	key := l.cache.CacheKey(stockCacheScope, ref.StockID().String())
	if err := l.cache.Del(ctx, key); err != nil && l.logg != nil {
		l.logg.Warn(l.logg.WithField(ctx, "cache_key", key), fmt.Sprintf("stock cache invalidation failed: %v", err))
	}
}

func (l *Ledger) notifyLowStock(ctx context.Context, job LowStockJob) {
	if l.jobs == nil {
		return
	}
	err := l.jobs.Enqueue(ctx, queue.JobInventoryLowStock, job, queue.EnqueueOptions{
		Attempts: 3,
		Backoff:  30 * time.Second,
		Queue:    queue.QueueDefault,
	})
	if err != nil && l.logg != nil {
		l.logg.Error(l.logg.WithField(ctx, "product_id", job.ProductID.String()), "enqueue low stock notification", err)
	}
}

func (l *Ledger) logMovement(ctx context.Context, msg string, ref Ref, qty int, meta Meta) {
	if l.logg == nil {
		return
	}
	fields := map[string]any{
		"product_id": ref.ProductID.String(),
		"quantity":   qty,
	}
	if ref.VariantID != nil {
		fields["variant_id"] = ref.VariantID.String()
	}
	if meta.OrderID != nil {
		fields["order_id"] = meta.OrderID.String()
	}
	if meta.Reason != "" {
		fields["reason"] = meta.Reason
	}
	l.logg.Info(l.logg.WithFields(ctx, fields), msg)
}
