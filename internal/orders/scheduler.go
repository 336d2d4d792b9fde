package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/queue"
)

// AutoCancelJob is the payload of queue.JobOrderAutoCancel.
type AutoCancelJob struct {
	OrderID uuid.UUID `json:"order_id"`
}

// AutoCancelScheduler delays an auto-cancel job per order.
type AutoCancelScheduler struct {
	jobs queue.Enqueuer
	logg *logger.Logger
}

func NewAutoCancelScheduler(jobs queue.Enqueuer, logg *logger.Logger) (*AutoCancelScheduler, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job enqueuer required")
	}
	return &AutoCancelScheduler{jobs: jobs, logg: logg}, nil
}

// AutoCancelJobID is unique per order so rescheduling is a no-op.
func AutoCancelJobID(orderID uuid.UUID) string {
	return "auto-cancel:" + orderID.String()
}

func (s *AutoCancelScheduler) ScheduleAutoCancel(ctx context.Context, orderID uuid.UUID, delay time.Duration) error {
	err := s.jobs.Enqueue(ctx, queue.JobOrderAutoCancel, AutoCancelJob{OrderID: orderID}, queue.EnqueueOptions{
		JobID:    AutoCancelJobID(orderID),
		Attempts: 5,
		Backoff:  time.Minute,
		Delay:    delay,
		Queue:    queue.QueueOrders,
	})
	if errors.Is(err, queue.ErrDuplicateJob) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": orderID.String(),
			"delay":    delay.String(),
		})
		s.logg.Info(logCtx, "auto-cancel scheduled")
	}
	return nil
}

// HandleAutoCancelJob is registered on the worker for queue.JobOrderAutoCancel.
func (s *service) HandleAutoCancelJob(ctx context.Context, raw []byte) error {
	var job AutoCancelJob
	if err := queue.Decode(raw, &job); err != nil {
		return err
	}
	if job.OrderID == uuid.Nil {
		return fmt.Errorf("auto-cancel job missing order id")
	}
	return s.AutoCancel(ctx, job.OrderID)
}
