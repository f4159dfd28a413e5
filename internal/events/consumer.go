// Package events consumes product-update messages from Kafka and feeds them
// into the stock listener. It is the safety net for stock changes that do
// not arrive through the webhook.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/catalog"
	"github.com/beltoft/restock/internal/listener"
)

// ProductUpdate is the message published by the catalog service whenever a
// product or variation changes.
type ProductUpdate struct {
	ID           int64    `json:"id"`
	ParentID     int64    `json:"parent_id"`
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	StockStatus  string   `json:"stock_status"`
	ChangedProps []string `json:"changed_props"`
}

// Catalog persists product snapshots carried on the stream.
type Catalog interface {
	Upsert(ctx context.Context, p *catalog.Product) error
}

// Config for the consumer.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads product updates and dispatches stock transitions.
type Consumer struct {
	reader   *kafka.Reader
	catalog  Catalog
	listener *listener.Listener
	logger   *zap.Logger
}

// New creates a consumer. Offsets are committed per message after it has
// been handled, so a crash replays at most the in-flight message.
func New(cfg Config, cat Catalog, l *listener.Listener, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0, // synchronous commits
		MaxWait:        time.Second,
	})
	return &Consumer{
		reader:   reader,
		catalog:  cat,
		listener: l,
		logger:   logger,
	}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("product update consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch product update: %w", err)
		}

		if err := c.handle(ctx, msg.Value); err != nil {
			// Keep consuming; the row stays active and a later update or
			// the webhook can re-trigger the product.
			c.logger.Error("failed to handle product update",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("failed to commit offset", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var update ProductUpdate
	if err := json.Unmarshal(value, &update); err != nil {
		c.logger.Warn("skipping malformed product update", zap.Error(err))
		return nil
	}
	if update.ID == 0 {
		c.logger.Warn("skipping product update without id")
		return nil
	}

	if err := c.catalog.Upsert(ctx, &catalog.Product{
		ID:          update.ID,
		ParentID:    update.ParentID,
		Name:        update.Name,
		URL:         update.URL,
		StockStatus: update.StockStatus,
		UpdatedAt:   time.Now(),
	}); err != nil {
		return fmt.Errorf("upsert product %d: %w", update.ID, err)
	}

	// One pass per message keeps the queued-set scoped to this update.
	pass := c.listener.NewPass()
	return pass.OnProductUpdated(ctx, update.ID, update.StockStatus, update.ChangedProps)
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
