package webhooks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/shopcore/internal/payments"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/queue"
)

func sampleEvent() payments.WebhookEvent {
	return payments.WebhookEvent{
		Gateway:        enums.GatewaySquare,
		EventID:        "sq_evt_9",
		Type:           "payment.updated",
		GatewayOrderID: "ord_9",
		Status:         payments.StatusSuccess,
	}
}

func TestQueueDispatcherEnqueuesKeyedJob(t *testing.T) {
	jobs := &stubEnqueuer{}
	applier := &stubApplier{}
	d, err := NewQueueDispatcher(jobs, NewInlineDispatcher(applier), 5, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}

	mode, err := d.Dispatch(context.Background(), sampleEvent())
	if err != nil || mode != ModeQueued {
		t.Fatalf("expected queued, got %s %v", mode, err)
	}
	if jobs.name != queue.JobWebhookApply || len(jobs.jobs) != 1 {
		t.Fatalf("unexpected enqueue %s %+v", jobs.name, jobs.jobs)
	}
	opts := jobs.jobs[0]
	if opts.JobID != "square:sq_evt_9" || opts.Attempts != 5 || opts.Backoff != 5*time.Second || opts.Queue != queue.QueueWebhooks {
		t.Fatalf("unexpected options %+v", opts)
	}
	if applier.calls != 0 {
		t.Fatalf("queued events are not applied inline")
	}
}

func TestQueueDispatcherTreatsDuplicateJobAsQueued(t *testing.T) {
	jobs := &stubEnqueuer{err: fmt.Errorf("%w: square:sq_evt_9", queue.ErrDuplicateJob)}
	applier := &stubApplier{}
	d, _ := NewQueueDispatcher(jobs, NewInlineDispatcher(applier), 5, time.Second, nil)

	mode, err := d.Dispatch(context.Background(), sampleEvent())
	if err != nil || mode != ModeQueued || applier.calls != 0 {
		t.Fatalf("expected queued without inline apply, got %s %v calls=%d", mode, err, applier.calls)
	}
}

func TestQueueDispatcherFallsBackInline(t *testing.T) {
	jobs := &stubEnqueuer{err: errors.New("redis unreachable")}
	applier := &stubApplier{}
	d, _ := NewQueueDispatcher(jobs, NewInlineDispatcher(applier), 5, time.Second, nil)

	mode, err := d.Dispatch(context.Background(), sampleEvent())
	if err != nil || mode != ModeInline {
		t.Fatalf("expected inline fallback, got %s %v", mode, err)
	}
	if applier.calls != 1 || applier.events[0].EventID != "sq_evt_9" {
		t.Fatalf("expected event applied inline, got %+v", applier.events)
	}
}

func TestApplyJobHandlerRetriesUnknownPayments(t *testing.T) {
	applier := &stubApplier{err: pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")}
	h := NewApplyJobHandler(applier)
	raw, err := queue.Encode(sampleEvent(), time.Second)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	err = h.Handle(context.Background(), raw)
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if applier.events[0].GatewayOrderID != "ord_9" || applier.events[0].Status != payments.StatusSuccess {
		t.Fatalf("payload not decoded: %+v", applier.events[0])
	}

	applier.err = pkgerrors.New(pkgerrors.CodeConflict, "stale")
	if err := h.Handle(context.Background(), raw); !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict to pass through, got %v", err)
	}
	if err := h.Handle(context.Background(), []byte("nope")); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected malformed payload to be a validation error, got %v", err)
	}
}
