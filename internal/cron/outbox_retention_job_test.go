package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/logger"
)

type recordingPruner struct {
	cutoffs  []time.Time
	attempts []int
	err      error
}

func (r *recordingPruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttempts int) (int64, error) {
	r.cutoffs = append(r.cutoffs, cutoff)
	r.attempts = append(r.attempts, minAttempts)
	return 3, r.err
}

type directTx struct{}

func (directTx) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

func retentionJob(t *testing.T, p OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	p.Logger = logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
	p.DB = directTx{}
	job, err := NewOutboxRetentionJob(p)
	require.NoError(t, err)
	return job.(*outboxRetentionJob)
}

func TestOutboxRetentionUsesConfiguredWindow(t *testing.T) {
	pruner := &recordingPruner{}
	job := retentionJob(t, OutboxRetentionJobParams{Repository: pruner, Retention: 72 * time.Hour, MinAttempts: 8})
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, now.Add(-72*time.Hour), pruner.cutoffs[0])
	assert.Equal(t, 8, pruner.attempts[0])
}

func TestOutboxRetentionDefaults(t *testing.T) {
	pruner := &recordingPruner{}
	job := retentionJob(t, OutboxRetentionJobParams{Repository: pruner})
	assert.Equal(t, defaultOutboxRetention, job.keep)
	assert.Equal(t, defaultParkedAttempts, job.minAttempts)
	assert.Equal(t, "outbox-retention", job.Name())
}

func TestOutboxRetentionSurfacesDeleteError(t *testing.T) {
	pruner := &recordingPruner{err: errors.New("statement timeout")}
	job := retentionJob(t, OutboxRetentionJobParams{Repository: pruner})
	assert.ErrorContains(t, job.Run(context.Background()), "statement timeout")
}
