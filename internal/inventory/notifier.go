package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/enums"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/outbox"
	"github.com/angelmondragon/shopcore/pkg/outbox/idempotency"
	"github.com/angelmondragon/shopcore/pkg/outbox/payloads"
	"github.com/angelmondragon/shopcore/pkg/queue"
)

const lowStockConsumer = "low-stock-notifier"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type processedTracker interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// LowStockNotifier turns low-stock jobs into notification requests, at most
// one per product per day.
type LowStockNotifier struct {
	tx        txRunner
	outbox    outboxEmitter
	processed processedTracker
	logg      *logger.Logger
	now       func() time.Time
}

func NewLowStockNotifier(tx txRunner, emitter outboxEmitter, processed processedTracker, logg *logger.Logger) (*LowStockNotifier, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if processed == nil {
		return nil, fmt.Errorf("idempotency tracker required")
	}
	return &LowStockNotifier{
		tx:        tx,
		outbox:    emitter,
		processed: processed,
		logg:      logg,
		now:       time.Now,
	}, nil
}

// HandleJob is registered on the worker for queue.JobInventoryLowStock.
func (n *LowStockNotifier) HandleJob(ctx context.Context, raw []byte) error {
	var job LowStockJob
	if err := queue.Decode(raw, &job); err != nil {
		return err
	}
	return n.Notify(ctx, job)
}

func (n *LowStockNotifier) Notify(ctx context.Context, job LowStockJob) error {
	ref := Ref{ProductID: job.ProductID, VariantID: job.VariantID}
	day := n.now().UTC().Format("2006-01-02")
	eventID := idempotency.EventIDFor("low_stock", ref.StockID().String(), day)

	won, err := n.processed.Claim(ctx, lowStockConsumer, eventID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateProduct,
		AggregateID:   job.ProductID,
		Actor:         &outbox.ActorRef{Role: string(enums.ActorRoleSystem)},
		Data: payloads.NotificationRequestedEvent{
			Kind:    "low_stock",
			Subject: "Low stock alert",
			Data: map[string]any{
				"product_id": job.ProductID,
				"variant_id": job.VariantID,
				"stock_qty":  job.StockQty,
				"threshold":  job.Threshold,
			},
		},
	}
	if err := n.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return n.outbox.Emit(ctx, tx, event)
	}); err != nil {
		_ = n.processed.Release(ctx, lowStockConsumer, eventID)
		return err
	}
	if n.logg != nil {
		n.logg.Info(n.logg.WithField(ctx, "product_id", job.ProductID.String()), "low stock notification requested")
	}
	return nil
}
