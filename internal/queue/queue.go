// Package queue schedules per-product notification jobs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/metrics"
)

const (
	// settleDelay gives other stock-update side effects time to land before
	// the first batch runs.
	settleDelay = 30 * time.Second

	// defaultFollowUpDelay spaces successive batches for the same key when no
	// explicit delay (throttle) applies.
	defaultFollowUpDelay = 60 * time.Second
)

// Job identifies one notification workstream: a parent product plus an
// optional pinned variation.
type Job struct {
	ProductID   int64 `json:"product_id"`
	VariationID int64 `json:"variation_id"`
}

// Key returns the job's scheduling key. Jobs are deduplicated on it: at most
// one pending job per (product, variation) at any time.
func Key(productID, variationID int64) string {
	return fmt.Sprintf("notify:%d:%d", productID, variationID)
}

// ParseJob decodes a job payload produced by Enqueue.
func ParseJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, fmt.Errorf("decode notification job: %w", err)
	}
	if job.ProductID <= 0 {
		return Job{}, fmt.Errorf("notification job missing product id")
	}
	return job, nil
}

// Scheduler is the slice of the job scheduler the queue needs.
type Scheduler interface {
	Schedule(ctx context.Context, key string, runAt time.Time, payload []byte) (bool, error)
	HasPending(ctx context.Context, key string) (bool, error)
}

// Queue enqueues notification jobs with content-based dedup. There is no
// shared pending-list structure to lock; the scheduler's own existence check
// is the concurrency guard.
type Queue struct {
	scheduler Scheduler
	logger    *zap.Logger
}

// New creates a notification queue on the given scheduler.
func New(scheduler Scheduler, logger *zap.Logger) *Queue {
	return &Queue{scheduler: scheduler, logger: logger}
}

func (q *Queue) schedule(ctx context.Context, productID, variationID int64, delay time.Duration) error {
	job := Job{ProductID: productID, VariationID: variationID}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode notification job: %w", err)
	}

	key := Key(productID, variationID)
	scheduled, err := q.scheduler.Schedule(ctx, key, time.Now().Add(delay), payload)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", key, err)
	}

	if !scheduled {
		metrics.RecordJobEnqueued("deduped")
		q.logger.Debug("notification job already pending",
			zap.String("job_key", key),
		)
		return nil
	}

	metrics.RecordJobEnqueued("enqueued")
	q.logger.Info("notification job enqueued",
		zap.String("job_key", key),
		zap.Duration("delay", delay),
	)
	return nil
}

// Enqueue schedules the first batch for a key after a short settle delay.
// A no-op when an equivalent job is already pending.
func (q *Queue) Enqueue(ctx context.Context, productID, variationID int64) error {
	return q.schedule(ctx, productID, variationID, settleDelay)
}

// EnqueueFollowUp schedules a continuation batch for a key. delay <= 0 falls
// back to the default follow-up spacing.
func (q *Queue) EnqueueFollowUp(ctx context.Context, productID, variationID int64, delay time.Duration) error {
	if delay <= 0 {
		delay = defaultFollowUpDelay
	}
	return q.schedule(ctx, productID, variationID, delay)
}
