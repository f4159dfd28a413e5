// Package listener turns stock transitions into queued notification jobs.
package listener

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/catalog"
	"github.com/beltoft/restock/internal/settings"
)

// Store is the slice of the subscription store the listener needs.
type Store interface {
	HasActive(ctx context.Context, productID int64) (bool, error)
}

// Enqueuer schedules notification jobs. Satisfied by queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, productID, variationID int64) error
}

// Invalidator busts cached product state. Satisfied by catalog.Cached.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...int64) error
}

// Listener decides whether a stock event warrants scheduling notifications.
type Listener struct {
	settings settings.Provider
	store    Store
	queue    Enqueuer
	catalog  catalog.Getter
	cache    Invalidator
	logger   *zap.Logger
}

// New creates a stock event listener.
func New(provider settings.Provider, store Store, queue Enqueuer, cat catalog.Getter, cache Invalidator, logger *zap.Logger) *Listener {
	return &Listener{
		settings: provider,
		store:    store,
		queue:    queue,
		catalog:  cat,
		cache:    cache,
		logger:   logger,
	}
}

// Pass is one event-processing invocation. Its dedupe set collapses multiple
// firings for the same product within a single stock update (several hooks
// can fire for one save); it must not outlive the invocation.
type Pass struct {
	listener *Listener
	queued   map[int64]struct{}
}

// NewPass starts a fresh invocation scope.
func (l *Listener) NewPass() *Pass {
	return &Pass{
		listener: l,
		queued:   make(map[int64]struct{}),
	}
}

// OnStockTransition handles a stock status change for a product or
// variation. entityID is whichever entity the platform reported.
func (p *Pass) OnStockTransition(ctx context.Context, entityID int64, newStatus string) error {
	l := p.listener
	cfg := l.settings()

	if !cfg.Enabled || !cfg.IsTrigger(newStatus) {
		return nil
	}
	if entityID <= 0 {
		return nil
	}

	if _, ok := p.queued[entityID]; ok {
		return nil
	}

	product, err := l.catalog.Get(ctx, entityID)
	if errors.Is(err, catalog.ErrNotFound) {
		l.logger.Debug("stock event for unknown product", zap.Int64("product_id", entityID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve product %d: %w", entityID, err)
	}

	// Subscriptions are always recorded against the parent; checking the
	// variation id would always miss.
	parentID := product.ID
	variationID := int64(0)
	if product.IsVariation() {
		parentID = product.ParentID
		variationID = product.ID
	}

	hasSubs, err := l.store.HasActive(ctx, parentID)
	if err != nil {
		return fmt.Errorf("check subscriptions for product %d: %w", parentID, err)
	}
	if !hasSubs {
		return nil
	}

	p.queued[entityID] = struct{}{}

	if err := l.queue.Enqueue(ctx, parentID, variationID); err != nil {
		return err
	}

	if err := l.cache.Invalidate(ctx, entityID, parentID); err != nil {
		l.logger.Warn("cache invalidation failed",
			zap.Error(err),
			zap.Int64("product_id", entityID),
		)
	}

	l.logger.Info("stock transition queued notifications",
		zap.Int64("product_id", parentID),
		zap.Int64("variation_id", variationID),
		zap.String("status", newStatus),
	)
	return nil
}

// OnProductUpdated is the safety net for update paths that bypass the stock
// hook (bulk edits, API imports): it applies the same trigger logic whenever
// the changed-property list includes the stock status.
func (p *Pass) OnProductUpdated(ctx context.Context, entityID int64, stockStatus string, changedProps []string) error {
	for _, prop := range changedProps {
		if prop == "stock_status" {
			return p.OnStockTransition(ctx, entityID, stockStatus)
		}
	}
	return nil
}
