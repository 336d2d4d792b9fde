package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
)

// Job names handled by the worker.
const (
	JobWebhookApply      = "webhook:apply"
	JobOrderAutoCancel   = "order:auto_cancel"
	JobInventoryLowStock = "inventory:low_stock"
)

// Queue names.
const (
	QueueDefault  = "default"
	QueueWebhooks = "webhooks"
	QueueOrders   = "orders"
)

// ErrDuplicateJob reports that a job with the same id is already queued or retained.
var ErrDuplicateJob = errors.New("job already enqueued")

// EnqueueOptions controls delivery of a single job.
type EnqueueOptions struct {
	JobID    string
	Attempts int
	Backoff  time.Duration
	Delay    time.Duration
	Queue    string
}

// Enqueuer hands jobs to the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) error
}

type envelope struct {
	BackoffMS int64           `json:"backoff_ms,omitempty"`
	Data      json.RawMessage `json:"data"`
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client enqueues jobs on Redis through asynq.
type Client struct {
	tasks     taskEnqueuer
	retention time.Duration
	logg      *logger.Logger
}

// NewClient connects to the Redis instance behind redisURL.
func NewClient(redisURL string, retention time.Duration, logg *logger.Logger) (*Client, error) {
	opt, err := asynq.ParseRedisURI(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse queue redis url: %w", err)
	}
	return &Client{
		tasks:     asynq.NewClient(opt),
		retention: retention,
		logg:      logg,
	}, nil
}

func (c *Client) Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) error {
	if c == nil || c.tasks == nil {
		return errors.New("queue client not configured")
	}
	task, err := newTask(name, payload, opts.Backoff)
	if err != nil {
		return err
	}

	asynqOpts := []asynq.Option{}
	if opts.JobID != "" {
		asynqOpts = append(asynqOpts, asynq.TaskID(opts.JobID))
	}
	if opts.Attempts > 0 {
		asynqOpts = append(asynqOpts, asynq.MaxRetry(opts.Attempts-1))
	}
	if opts.Delay > 0 {
		asynqOpts = append(asynqOpts, asynq.ProcessIn(opts.Delay))
	}
	queueName := opts.Queue
	if queueName == "" {
		queueName = QueueDefault
	}
	asynqOpts = append(asynqOpts, asynq.Queue(queueName))
	if c.retention > 0 {
		asynqOpts = append(asynqOpts, asynq.Retention(c.retention))
	}

	info, err := c.tasks.EnqueueContext(ctx, task, asynqOpts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, opts.JobID)
		}
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	if c.logg != nil {
		ctx = c.logg.WithFields(ctx, map[string]any{
			"job":    name,
			"job_id": info.ID,
			"queue":  info.Queue,
		})
		c.logg.Info(ctx, "job enqueued")
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.tasks == nil {
		return nil
	}
	return c.tasks.Close()
}

func newTask(name string, payload any, backoff time.Duration) (*asynq.Task, error) {
	body, err := Encode(payload, backoff)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return asynq.NewTask(name, body), nil
}

// Encode wraps payload in the job envelope read by Decode and RetryDelay.
func Encode(payload any, backoff time.Duration) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(envelope{BackoffMS: backoff.Milliseconds(), Data: data})
}

// Decode unmarshals the job payload into v. Malformed payloads are
// validation errors so the worker does not retry them.
func Decode(raw []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode job envelope")
	}
	if len(env.Data) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "job payload empty")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode job payload")
	}
	return nil
}

func backoffOf(raw []byte) time.Duration {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0
	}
	return time.Duration(env.BackoffMS) * time.Millisecond
}
