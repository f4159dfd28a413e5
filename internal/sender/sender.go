// Package sender drains notification jobs: it rechecks stock, fetches a
// batch of active subscribers, delivers their emails and reschedules any
// remainder as a follow-up job.
package sender

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/catalog"
	"github.com/beltoft/restock/internal/email"
	"github.com/beltoft/restock/internal/metrics"
	"github.com/beltoft/restock/internal/queue"
	"github.com/beltoft/restock/internal/settings"
	"github.com/beltoft/restock/internal/store"
)

// Store is the subscription persistence the sender needs.
type Store interface {
	GetActiveForProduct(ctx context.Context, productID, variationID int64, limit, offset int) ([]*store.Subscription, error)
	MarkNotified(ctx context.Context, id int64) error
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
}

// Stock resolves the current state of a product or variation.
type Stock interface {
	Get(ctx context.Context, id int64) (*catalog.Product, error)
}

// FollowUp schedules a continuation batch for a key.
type FollowUp interface {
	EnqueueFollowUp(ctx context.Context, productID, variationID int64, delay time.Duration) error
}

// Links builds unsubscribe URLs from stored tokens.
type Links interface {
	URL(token string) string
}

// Sender processes one notification job per call.
type Sender struct {
	store     Store
	stock     Stock
	followUp  FollowUp
	renderer  *email.Renderer
	transport email.Transport
	links     Links
	settings  settings.Provider
	storeName string
	logger    *zap.Logger

	// Per-key locks for the case where two invocations of the same key
	// overlap anyway. The scheduler's claim step normally prevents this.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Sender.
func New(
	st Store,
	stock Stock,
	followUp FollowUp,
	renderer *email.Renderer,
	transport email.Transport,
	links Links,
	provider settings.Provider,
	storeName string,
	logger *zap.Logger,
) *Sender {
	return &Sender{
		store:     st,
		stock:     stock,
		followUp:  followUp,
		renderer:  renderer,
		transport: transport,
		links:     links,
		settings:  provider,
		storeName: storeName,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Sender) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Handle adapts ProcessBatch to the job dispatcher's handler signature.
func (s *Sender) Handle(ctx context.Context, key string, payload []byte) error {
	job, err := queue.ParseJob(payload)
	if err != nil {
		// A malformed payload can never succeed later; drop it.
		s.logger.Error("dropping malformed notification job",
			zap.String("job_key", key),
			zap.Error(err),
		)
		return nil
	}
	return s.ProcessBatch(ctx, job.ProductID, job.VariationID)
}

// ProcessBatch runs one invocation for (productID, variationID):
// recheck stock, send up to BatchSize emails oldest-first, and schedule a
// follow-up if active subscribers remain.
func (s *Sender) ProcessBatch(ctx context.Context, productID, variationID int64) error {
	cfg := s.settings()
	if !cfg.Enabled {
		s.logger.Debug("notifications disabled, skipping job",
			zap.Int64("product_id", productID),
		)
		return nil
	}

	lock := s.keyLock(queue.Key(productID, variationID))
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		metrics.RecordBatchDuration(time.Since(start))
	}()

	entityID := productID
	if variationID != 0 {
		entityID = variationID
	}

	product, err := s.stock.Get(ctx, entityID)
	if errors.Is(err, catalog.ErrNotFound) {
		metrics.RecordStaleJob()
		s.logger.Info("stale notification job, product gone",
			zap.Int64("entity_id", entityID),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if !cfg.IsTrigger(product.StockStatus) {
		// Stock flipped back out between enqueue and execution.
		metrics.RecordStaleJob()
		s.logger.Info("stale notification job, stock no longer qualifies",
			zap.Int64("entity_id", entityID),
			zap.String("stock_status", product.StockStatus),
		)
		return nil
	}

	subs, fetchVariation, err := s.fetchBatch(ctx, productID, variationID, cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		s.logger.Debug("no active subscribers for job",
			zap.Int64("product_id", productID),
			zap.Int64("variation_id", variationID),
		)
		return nil
	}

	sent := s.sendLoop(ctx, subs, product, cfg, start)

	remaining, err := s.hasRemaining(ctx, productID, fetchVariation)
	if err != nil {
		return err
	}
	if remaining {
		if err := s.followUp.EnqueueFollowUp(ctx, productID, variationID, cfg.Throttle); err != nil {
			return err
		}
	}

	s.logger.Info("notification batch processed",
		zap.Int64("product_id", productID),
		zap.Int64("variation_id", variationID),
		zap.Int("batch", len(subs)),
		zap.Int("sent", sent),
		zap.Bool("follow_up", remaining),
	)
	return nil
}

// fetchBatch loads up to limit active subscribers for the key, falling back
// to the "any variation" key (variation 0) when the specific key is empty.
// The variation actually used is returned so the remainder check matches.
func (s *Sender) fetchBatch(ctx context.Context, productID, variationID int64, limit int) ([]*store.Subscription, int64, error) {
	subs, err := s.store.GetActiveForProduct(ctx, productID, variationID, limit, 0)
	if err != nil {
		return nil, 0, err
	}
	if len(subs) == 0 && variationID != 0 {
		subs, err = s.store.GetActiveForProduct(ctx, productID, 0, limit, 0)
		if err != nil {
			return nil, 0, err
		}
		return subs, 0, nil
	}
	return subs, variationID, nil
}

// sendLoop delivers emails oldest-first and returns how many succeeded.
// A failed send leaves the row active for the next run.
func (s *Sender) sendLoop(ctx context.Context, subs []*store.Subscription, product *catalog.Product, cfg settings.Settings, start time.Time) int {
	budget := cfg.ExecBudget * 8 / 10
	sent := 0

	for _, sub := range subs {
		if budget > 0 && time.Since(start) >= budget {
			s.logger.Warn("execution budget nearly exhausted, deferring remainder",
				zap.Int64("product_id", product.ID),
				zap.Int("sent", sent),
			)
			break
		}

		msg, err := s.renderer.Render(sub.Email, email.TemplateData{
			ProductName:    product.Name,
			ProductURL:     product.URL,
			UnsubscribeURL: s.links.URL(sub.UnsubscribeToken),
			StoreName:      s.storeName,
			Quantity:       sub.QuantityRequested,
		})
		if err != nil {
			metrics.RecordEmail("failed")
			s.logger.Error("failed to render notification",
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.transport.Send(ctx, msg); err != nil {
			metrics.RecordEmail("failed")
			s.logger.Warn("notification send failed, subscriber stays active",
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err),
			)
		} else {
			if err := s.markNotified(ctx, sub.ID); err != nil {
				s.logger.Error("sent but failed to mark notified",
					zap.Int64("subscription_id", sub.ID),
					zap.Error(err),
				)
			}
			metrics.RecordEmail("sent")
			sent++

			s.logger.Debug("notification sent",
				zap.Int64("subscription_id", sub.ID),
				zap.Int64("product_id", product.ID),
			)
		}

		if cfg.Throttle > 0 {
			// Non-blocking backoff: one send attempt per invocation,
			// whatever its outcome. The rest ride the follow-up job.
			break
		}
	}
	return sent
}

// markNotified flips the row, tolerating a subscriber who opted out between
// the batch fetch and the send. The status guard lives in the store; a row
// that is no longer active stays untouched.
func (s *Sender) markNotified(ctx context.Context, id int64) error {
	err := s.store.MarkNotified(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("subscriber no longer active, leaving row as is",
			zap.Int64("subscription_id", id),
		)
		return nil
	}
	return err
}

func (s *Sender) hasRemaining(ctx context.Context, productID, variationID int64) (bool, error) {
	subs, err := s.store.GetActiveForProduct(ctx, productID, variationID, 1, 0)
	if err != nil {
		return false, err
	}
	if len(subs) == 0 && variationID != 0 {
		subs, err = s.store.GetActiveForProduct(ctx, productID, 0, 1, 0)
		if err != nil {
			return false, err
		}
	}
	return len(subs) > 0, nil
}

// Cleanup deletes notified rows older than the configured retention.
func (s *Sender) Cleanup(ctx context.Context) error {
	cfg := s.settings()
	if cfg.CleanupDays <= 0 {
		return nil
	}

	deleted, err := s.store.CleanupOlderThan(ctx, cfg.CleanupDays)
	if err != nil {
		return err
	}

	metrics.RecordCleanup(deleted)
	if deleted > 0 {
		s.logger.Info("retention sweep completed",
			zap.Int64("deleted", deleted),
			zap.Int("days", cfg.CleanupDays),
		)
	}
	return nil
}
