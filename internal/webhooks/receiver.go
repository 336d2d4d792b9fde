package webhooks

import (
	"context"
	"errors"

	"github.com/angelmondragon/shopcore/internal/payments"
	"github.com/angelmondragon/shopcore/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/metrics"
)

type credentialSource interface {
	Resolve(ctx context.Context, gateway enums.Gateway) (payments.Credentials, error)
}

// Outcome is what the HTTP layer acknowledges to the gateway.
type Outcome struct {
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored,omitempty"`
	Mode      Mode   `json:"mode,omitempty"`
}

type ReceiverParams struct {
	Gateways    payments.Registry
	Credentials credentialSource
	Guard       *Guard
	Dispatcher  Dispatcher
	Metrics     *metrics.WebhookMetrics
	Logger      *logger.Logger
}

// Receiver verifies, deduplicates and dispatches gateway notifications.
type Receiver struct {
	gateways   payments.Registry
	creds      credentialSource
	guard      *Guard
	dispatcher Dispatcher
	metrics    *metrics.WebhookMetrics
	logg       *logger.Logger
}

func NewReceiver(params ReceiverParams) (*Receiver, error) {
	if params.Gateways == nil {
		return nil, errors.New("gateway registry required")
	}
	if params.Credentials == nil {
		return nil, errors.New("credential source required")
	}
	if params.Guard == nil {
		return nil, errors.New("dedupe guard required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	return &Receiver{
		gateways:   params.Gateways,
		creds:      params.Credentials,
		guard:      params.Guard,
		dispatcher: params.Dispatcher,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}, nil
}

// Receive returns a validation error for deliveries that fail verification
// and an internal error only when the event could be neither queued nor
// applied. Every other failure is logged and acknowledged. requestID is
// stored as the owner of the event's dedupe key.
func (r *Receiver) Receive(ctx context.Context, gateway enums.Gateway, signature string, body []byte, requestID string) (*Outcome, error) {
	adapter, err := r.gateways.Get(gateway)
	if err != nil {
		return nil, err
	}
	gateway = adapter.Name()
	creds, err := r.creds.Resolve(ctx, gateway)
	if err != nil {
		r.observe(gateway, "unconfigured")
		return nil, err
	}
	event, err := adapter.VerifyWebhook(creds, signature, body)
	if err != nil {
		r.observe(gateway, "invalid")
		return nil, err
	}
	if r.logg != nil {
		ctx = r.logg.WithFields(ctx, map[string]any{
			"gateway":    gateway,
			"event_id":   event.EventID,
			"event_type": event.Type,
		})
	}
	if event.Ignored {
		r.observe(gateway, "ignored")
		return &Outcome{EventID: event.EventID, Ignored: true}, nil
	}

	if r.guard.Reserve(ctx, gateway, event.EventID, requestID) {
		r.observe(gateway, "duplicate")
		return &Outcome{EventID: event.EventID, Duplicate: true}, nil
	}

	mode, err := r.dispatcher.Dispatch(ctx, *event)
	if err != nil {
		if retryable(err) {
			if relErr := r.guard.Release(ctx, gateway, event.EventID); relErr != nil && r.logg != nil {
				r.logg.Error(ctx, "release webhook dedupe key", relErr)
			}
			r.observe(gateway, "failed")
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "webhook could not be processed")
		}
		if r.logg != nil {
			r.logg.Error(ctx, "webhook reconciliation rejected", err)
		}
		r.observe(gateway, "rejected")
		return &Outcome{EventID: event.EventID, Mode: mode}, nil
	}
	r.observe(gateway, string(mode))
	if r.logg != nil {
		r.logg.Info(r.logg.WithField(ctx, "mode", mode), "webhook accepted")
	}
	return &Outcome{EventID: event.EventID, Mode: mode}, nil
}

func (r *Receiver) observe(gateway enums.Gateway, outcome string) {
	r.metrics.Observe(string(gateway), outcome)
}

func retryable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	return pkgerrors.MetadataFor(typed.Code()).Retryable
}
