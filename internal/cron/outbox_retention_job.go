package cron

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultParkedAttempts  = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

// OutboxRetentionJobParams: MinAttempts should match the publisher's attempt
// ceiling so only dead-lettered rows count as parked.
type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxPruner
	Retention   time.Duration
	MinAttempts int
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	rows        outboxPruner
	keep        time.Duration
	minAttempts int
	clock       func() time.Time
}

// NewOutboxRetentionJob deletes outbox rows older than Retention that were
// published or parked.
func NewOutboxRetentionJob(p OutboxRetentionJobParams) (Job, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger required")
	case p.DB == nil:
		return nil, errors.New("db runner required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        p.Logger,
		db:          p.DB,
		rows:        p.Repository,
		keep:        p.Retention,
		minAttempts: p.MinAttempts,
		clock:       time.Now,
	}
	if job.keep <= 0 {
		job.keep = defaultOutboxRetention
	}
	if job.minAttempts <= 0 {
		job.minAttempts = defaultParkedAttempts
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.clock().UTC().Add(-j.keep)
	var removed int64
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		removed, err = j.rows.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts)
		return err
	}); err != nil {
		return err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff.Format(time.RFC3339),
		"removed": removed,
	}), "outbox rows pruned")
	return nil
}
