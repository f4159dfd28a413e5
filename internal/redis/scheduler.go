package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pendingKey  = "sched:pending"
	payloadsKey = "sched:payloads"
)

// Handler processes one claimed job. A returned error requeues the job after
// a retry delay, so a transient outage mid-handler never strands the key.
type Handler func(ctx context.Context, key string, payload []byte) error

// Scheduler is a delayed job scheduler keyed by content. A job's identity is
// its key: scheduling an already-pending key is a no-op, which is the
// system's dedup guard. Backed by a sorted set scored by due time.
type Scheduler struct {
	client *Client
	logger *zap.Logger
}

// NewScheduler creates a scheduler on the given client.
func NewScheduler(client *Client, logger *zap.Logger) *Scheduler {
	return &Scheduler{client: client, logger: logger}
}

// Schedule registers a job due at runAt. Returns false without touching
// anything when an equivalent job is already pending.
func (s *Scheduler) Schedule(ctx context.Context, key string, runAt time.Time, payload []byte) (bool, error) {
	added, err := s.client.rdb.ZAddNX(ctx, pendingKey, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: key,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("schedule job: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	if err := s.client.rdb.HSet(ctx, payloadsKey, key, payload).Err(); err != nil {
		return false, fmt.Errorf("store job payload: %w", err)
	}

	s.logger.Debug("job scheduled",
		zap.String("job_key", key),
		zap.Time("run_at", runAt),
	)
	return true, nil
}

// HasPending reports whether a job with this key is scheduled and unclaimed.
func (s *Scheduler) HasPending(ctx context.Context, key string) (bool, error) {
	_, err := s.client.rdb.ZScore(ctx, pendingKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check pending job: %w", err)
	}
	return true, nil
}

// due returns up to limit job keys whose run time has passed.
func (s *Scheduler) due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	keys, err := s.client.rdb.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	return keys, nil
}

// claim atomically takes ownership of a due job. The ZRem result is the
// serialization point: whichever caller removes the member runs the job.
func (s *Scheduler) claim(ctx context.Context, key string) ([]byte, bool, error) {
	removed, err := s.client.rdb.ZRem(ctx, pendingKey, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	if removed == 0 {
		return nil, false, nil
	}

	payload, err := s.client.rdb.HGet(ctx, payloadsKey, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("fetch job payload: %w", err)
	}
	_ = s.client.rdb.HDel(ctx, payloadsKey, key).Err()

	return []byte(payload), true, nil
}

// Dispatcher polls for due jobs and runs them through a handler, one at a
// time. Sequential execution is what guarantees at most one in-flight job
// per key within this process.
type Dispatcher struct {
	scheduler  *Scheduler
	handler    Handler
	interval   time.Duration
	batch      int64
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher with the given poll interval.
func NewDispatcher(scheduler *Scheduler, handler Handler, interval time.Duration, logger *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{
		scheduler:  scheduler,
		handler:    handler,
		interval:   interval,
		batch:      20,
		retryDelay: 30 * time.Second,
		logger:     logger,
	}
}

// Start blocks until ctx is cancelled, polling for due jobs on a ticker.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle. Exposed for tests and for manual draining.
func (d *Dispatcher) Tick(ctx context.Context) {
	keys, err := d.scheduler.due(ctx, time.Now(), d.batch)
	if err != nil {
		d.logger.Error("failed to poll due jobs", zap.Error(err))
		return
	}

	for _, key := range keys {
		payload, claimed, err := d.scheduler.claim(ctx, key)
		if err != nil {
			d.logger.Error("failed to claim job", zap.Error(err), zap.String("job_key", key))
			continue
		}
		if !claimed {
			continue
		}

		if err := d.handler(ctx, key, payload); err != nil {
			d.logger.Error("job handler failed, rescheduling",
				zap.Error(err),
				zap.String("job_key", key),
				zap.Duration("retry_delay", d.retryDelay),
			)
			// The claim already removed the key, so the job would otherwise
			// be lost until an unrelated stock event recreates it.
			if _, rerr := d.scheduler.Schedule(ctx, key, time.Now().Add(d.retryDelay), payload); rerr != nil {
				d.logger.Error("failed to reschedule job",
					zap.Error(rerr),
					zap.String("job_key", key),
				)
			}
		}
	}
}
