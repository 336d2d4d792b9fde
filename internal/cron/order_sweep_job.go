package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/shopcore/pkg/logger"
)

const defaultSweepBatch = 200

type expiredOrderSweeper interface {
	SweepExpired(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type OrderAutoCancelJobParams struct {
	Logger *logger.Logger
	Orders expiredOrderSweeper
	After  time.Duration
	Batch  int
}

// NewOrderAutoCancelJob cancels unpaid orders whose delayed auto-cancel job
// never ran.
func NewOrderAutoCancelJob(params OrderAutoCancelJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order sweeper required")
	}
	if params.After <= 0 {
		return nil, fmt.Errorf("auto-cancel window required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &orderAutoCancelJob{
		logg:   params.Logger,
		orders: params.Orders,
		after:  params.After,
		batch:  batch,
	}, nil
}

type orderAutoCancelJob struct {
	logg   *logger.Logger
	orders expiredOrderSweeper
	after  time.Duration
	batch  int
}

func (j *orderAutoCancelJob) Name() string { return "order-auto-cancel" }

func (j *orderAutoCancelJob) Run(ctx context.Context) error {
	cancelled, err := j.orders.SweepExpired(ctx, j.after, j.batch)
	if err != nil {
		return fmt.Errorf("order auto-cancel sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cancelled": cancelled,
		"window":    j.after.String(),
	})
	j.logg.Info(logCtx, "order auto-cancel sweep complete")
	return nil
}
