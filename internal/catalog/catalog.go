// Package catalog mirrors the commerce platform's product state needed by
// the notification pipeline: identity, parentage and stock status.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/db"
)

// Stock statuses as reported by the platform.
const (
	StockInStock     = "instock"
	StockOutOfStock  = "outofstock"
	StockOnBackorder = "onbackorder"
)

// ErrNotFound is returned when a product is unknown to the mirror.
var ErrNotFound = errors.New("product not found")

// Product is the slice of catalog state the pipeline cares about. A
// variation carries its parent's id in ParentID; standalone products have
// ParentID 0.
type Product struct {
	ID          int64     `json:"id"`
	ParentID    int64     `json:"parent_id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	StockStatus string    `json:"stock_status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsVariation reports whether the product is a variation of a parent.
func (p *Product) IsVariation() bool {
	return p.ParentID > 0 && p.ParentID != p.ID
}

// Getter is the read side of the catalog, satisfied by Repository and by
// Cached.
type Getter interface {
	Get(ctx context.Context, id int64) (*Product, error)
}

// Repository persists the product mirror in Postgres. Rows are upserted from
// incoming stock events, so the mirror is only as fresh as the event stream.
type Repository struct {
	db     *db.DB
	logger *zap.Logger
}

// NewRepository creates a catalog repository.
func NewRepository(database *db.DB, logger *zap.Logger) *Repository {
	return &Repository{db: database, logger: logger}
}

// Get fetches a product by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, parent_id, name, url, stock_status, updated_at
		FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.ParentID, &p.Name, &p.URL, &p.StockStatus, &p.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

// Upsert records the latest known state of a product.
func (r *Repository) Upsert(ctx context.Context, p *Product) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO products (id, parent_id, name, url, stock_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			stock_status = EXCLUDED.stock_status,
			updated_at = NOW()
	`, p.ID, p.ParentID, p.Name, p.URL, p.StockStatus)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
