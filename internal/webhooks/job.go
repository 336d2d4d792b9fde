package webhooks

import (
	"context"

	"github.com/angelmondragon/shopcore/internal/payments"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/queue"
)

// ApplyJobHandler runs queued webhook:apply jobs.
type ApplyJobHandler struct {
	applier eventApplier
}

func NewApplyJobHandler(applier eventApplier) *ApplyJobHandler {
	return &ApplyJobHandler{applier: applier}
}

// Handle applies the event. A payment that is not recorded yet is retried,
// since the gateway may notify before initiation commits.
func (h *ApplyJobHandler) Handle(ctx context.Context, raw []byte) error {
	var event payments.WebhookEvent
	if err := queue.Decode(raw, &event); err != nil {
		return err
	}
	_, err := h.applier.ApplyEvent(ctx, event)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment not recorded yet")
	}
	return err
}
