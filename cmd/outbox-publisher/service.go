package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/enums"
	"github.com/angelmondragon/shopcore/pkg/logger"
	"github.com/angelmondragon/shopcore/pkg/metrics"
	"github.com/angelmondragon/shopcore/pkg/outbox/registry"
)

const (
	fallbackBatchSize   = 50
	fallbackPoll        = 500 * time.Millisecond
	fallbackMaxAttempts = 10
	sendTimeout         = 15 * time.Second
	idleCap             = 10 * time.Second
	idleJitter          = 250 * time.Millisecond
)

type txDB interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pinger interface {
	Ping(context.Context) error
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         txDB
	Broker     pinger
	Events     eventStore
	DLQ        deadLetters
	Registry   resolver
	Publishers publisherLookup
	Metrics    *metrics.OutboxMetrics
}

// Service relays committed outbox rows to Pub/Sub. Each batch runs in one
// transaction so the row lock from FetchUnpublishedForPublish holds until the
// row is marked.
type Service struct {
	logg        *logger.Logger
	db          txDB
	broker      pinger
	events      eventStore
	dlq         deadLetters
	registry    resolver
	publishers  publisherLookup
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Broker == nil:
		return nil, errors.New("pubsub client is required")
	case p.Events == nil:
		return nil, errors.New("outbox repository is required")
	case p.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.Publishers == nil:
		return nil, errors.New("publisher lookup is required")
	}

	s := &Service{
		logg:        p.Logger,
		db:          p.DB,
		broker:      p.Broker,
		events:      p.Events,
		dlq:         p.DLQ,
		registry:    p.Registry,
		publishers:  p.Publishers,
		metrics:     p.Metrics,
		batchSize:   p.Config.Outbox.BatchSize,
		maxAttempts: p.Config.Outbox.MaxAttempts,
		poll:        time.Duration(p.Config.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if s.batchSize <= 0 {
		s.batchSize = fallbackBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = fallbackMaxAttempts
	}
	if s.poll <= 0 {
		s.poll = fallbackPoll
	}
	return s, nil
}

// Run polls until ctx is cancelled. Full batches are followed immediately by
// the next poll; empty polls and database errors back off exponentially.
func (s *Service) Run(ctx context.Context) error {
	deps := []struct {
		name string
		dep  pinger
	}{{"database", s.db}, {"pubsub", s.broker}}
	for _, d := range deps {
		if err := d.dep.Ping(ctx); err != nil {
			s.logg.Error(ctx, d.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", d.name, err)
		}
	}

	idle := s.idleBackoff()
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		n, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox publisher batch error", err)
		}
		if err == nil && n > 0 {
			idle = s.idleBackoff()
			continue
		}

		wait, _ := idle.Next()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Service) idleBackoff() retry.Backoff {
	return retry.WithJitter(idleJitter, retry.WithCappedDuration(idleCap, retry.NewExponential(s.poll)))
}

// processBatch relays one batch and reports how many rows it touched. Only
// database failures abort the batch; publish failures are recorded per row.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	var touched int
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.events.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		touched = len(rows)
		s.metrics.ObserveBatch(len(rows))
		for _, row := range rows {
			if err := s.relay(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return touched, err
}

func (s *Service) relay(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    string(row.EventType),
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
	})

	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return s.park(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	ctx = s.logg.WithField(ctx, "topic", resolved.Descriptor.Topic)

	pub := s.publishers(resolved.Descriptor.Topic)
	if pub == nil {
		return s.park(ctx, tx, row, enums.OutboxDLQReasonUnroutable,
			fmt.Errorf("no publisher for topic %s", resolved.Descriptor.Topic))
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	sendErr := pub.Send(sendCtx, buildMessage(row, resolved))
	cancel()

	var nonRetryable registry.NonRetryableError
	switch {
	case sendErr == nil:
		if err := s.events.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		s.metrics.Observe(string(row.EventType), metrics.OutboxPublished)
		s.logg.Info(ctx, "outbox event published")
		return nil
	case errors.As(sendErr, &nonRetryable):
		return s.park(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, sendErr)
	case row.AttemptCount+1 >= s.maxAttempts:
		return s.park(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", sendErr))
	}

	if err := s.events.MarkFailedTx(tx, row.ID, sendErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	s.metrics.Observe(string(row.EventType), metrics.OutboxRetry)
	s.logg.Warn(s.logg.WithField(ctx, "error", sendErr.Error()), "outbox publish failed, will retry")
	return nil
}

// park moves a row to the dead letter table and stops it being fetched again.
func (s *Service) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := s.events.MarkTerminalTx(tx, row.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	s.metrics.Observe(string(row.EventType), metrics.OutboxDeadLettered)
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": reason.String(),
		"error":        msg,
	}), "outbox event dead-lettered")
	return nil
}

// buildMessage keys ordering on the aggregate so events for one order arrive
// in commit order.
func buildMessage(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: row.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"schema_version": strconv.Itoa(resolved.Envelope.Version),
			"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}
