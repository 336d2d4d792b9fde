// Package registry maps outbox event types to their topic and payload schema
// so the publisher can validate a row before sending it.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	"github.com/angelmondragon/shopcore/pkg/outbox"
	"github.com/angelmondragon/shopcore/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks rows that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable publish error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func permanent(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func schema[T any]() func() any {
	return func() any { return new(T) }
}

// NewEventRegistry routes order, payment and return events to the orders
// topic and notification requests to the notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" || cfg.NotificationTopic == "" {
		return nil, errors.New("orders and notification topics are required")
	}

	descriptors := []EventDescriptor{
		{enums.EventOrderCreated, enums.AggregateOrder, cfg.OrdersTopic, schema[payloads.OrderCreatedEvent]()},
		{enums.EventOrderPaid, enums.AggregateOrder, cfg.OrdersTopic, schema[payloads.OrderPaidEvent]()},
		{enums.EventOrderPaymentFailed, enums.AggregateOrder, cfg.OrdersTopic, schema[payloads.PaymentStatusEvent]()},
		{enums.EventOrderRefunded, enums.AggregateOrder, cfg.OrdersTopic, schema[payloads.PaymentStatusEvent]()},
		{enums.EventOrderCancelled, enums.AggregateOrder, cfg.OrdersTopic, schema[payloads.OrderCancelledEvent]()},
		{enums.EventPaymentInitiated, enums.AggregatePayment, cfg.OrdersTopic, schema[payloads.PaymentInitiatedEvent]()},
		{enums.EventReturnCompleted, enums.AggregateReturnRequest, cfg.OrdersTopic, schema[payloads.ReturnCompletedEvent]()},
		{enums.EventNotificationRequested, enums.AggregateProduct, cfg.NotificationTopic, schema[payloads.NotificationRequestedEvent]()},
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if _, dup := reg.entries[d.EventType]; dup {
			return nil, fmt.Errorf("event type %s registered twice", d.EventType)
		}
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the typed payload.
// Every failure is non-retryable since the row will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, permanent("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, permanent("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanent("missing aggregate_id")
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, permanent("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanent("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
