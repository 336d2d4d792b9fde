package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/shopcore/pkg/logger"
)

const (
	defaultPollAge   = 15 * time.Minute
	defaultPollBatch = 100
)

type stalePaymentPoller interface {
	PollStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type PaymentPollJobParams struct {
	Logger    *logger.Logger
	Payments  stalePaymentPoller
	OlderThan time.Duration
	Batch     int
}

// NewPaymentPollJob asks the gateways about open attempts that never
// received a webhook.
func NewPaymentPollJob(params PaymentPollJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment poller required")
	}
	olderThan := params.OlderThan
	if olderThan <= 0 {
		olderThan = defaultPollAge
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultPollBatch
	}
	return &paymentPollJob{
		logg:      params.Logger,
		payments:  params.Payments,
		olderThan: olderThan,
		batch:     batch,
	}, nil
}

type paymentPollJob struct {
	logg      *logger.Logger
	payments  stalePaymentPoller
	olderThan time.Duration
	batch     int
}

func (j *paymentPollJob) Name() string { return "payment-status-poll" }

func (j *paymentPollJob) Run(ctx context.Context) error {
	changed, err := j.payments.PollStale(ctx, j.olderThan, j.batch)
	if err != nil {
		return fmt.Errorf("poll stale payments: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"changed":    changed,
		"older_than": j.olderThan.String(),
	})
	j.logg.Info(logCtx, "stale payment poll complete")
	return nil
}
