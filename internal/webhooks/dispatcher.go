package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/shopcore/internal/payments"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/queue"
)

// Mode records how a verified event was handed off.
type Mode string

const (
	ModeQueued Mode = "queued"
	ModeInline Mode = "inline"
)

// Dispatcher hands a verified, deduplicated event to reconciliation.
type Dispatcher interface {
	Dispatch(ctx context.Context, event payments.WebhookEvent) (Mode, error)
}

type eventApplier interface {
	ApplyEvent(ctx context.Context, event payments.WebhookEvent) (*payments.ApplyOutcome, error)
}

// InlineDispatcher reconciles within the request.
type InlineDispatcher struct {
	applier eventApplier
}

func NewInlineDispatcher(applier eventApplier) *InlineDispatcher {
	return &InlineDispatcher{applier: applier}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, event payments.WebhookEvent) (Mode, error) {
	_, err := d.applier.ApplyEvent(ctx, event)
	return ModeInline, err
}

// QueueDispatcher enqueues a webhook:apply job keyed by gateway and event id.
// When the queue rejects the job the event is applied inline instead.
type QueueDispatcher struct {
	jobs     queue.Enqueuer
	fallback Dispatcher
	attempts int
	backoff  time.Duration
	logg     *logger.Logger
}

func NewQueueDispatcher(jobs queue.Enqueuer, fallback Dispatcher, attempts int, backoff time.Duration, logg *logger.Logger) (*QueueDispatcher, error) {
	if jobs == nil {
		return nil, errors.New("job enqueuer required")
	}
	if fallback == nil {
		return nil, errors.New("fallback dispatcher required")
	}
	return &QueueDispatcher{jobs: jobs, fallback: fallback, attempts: attempts, backoff: backoff, logg: logg}, nil
}

// JobID is stable per delivery so a replayed enqueue is rejected by the queue.
func JobID(event payments.WebhookEvent) string {
	return string(event.Gateway) + ":" + event.EventID
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, event payments.WebhookEvent) (Mode, error) {
	err := d.jobs.Enqueue(ctx, queue.JobWebhookApply, event, queue.EnqueueOptions{
		JobID:    JobID(event),
		Attempts: d.attempts,
		Backoff:  d.backoff,
		Queue:    queue.QueueWebhooks,
	})
	if err == nil || errors.Is(err, queue.ErrDuplicateJob) {
		return ModeQueued, nil
	}
	if d.logg != nil {
		logCtx := d.logg.WithFields(ctx, map[string]any{"gateway": event.Gateway, "event_id": event.EventID})
		d.logg.Error(logCtx, "webhook enqueue failed, applying inline", err)
	}
	return d.fallback.Dispatch(ctx, event)
}
