package events

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/catalog"
	"github.com/beltoft/restock/internal/listener"
	"github.com/beltoft/restock/internal/settings"
)

type memCatalog struct {
	products map[int64]*catalog.Product
}

func (m *memCatalog) Upsert(_ context.Context, p *catalog.Product) error {
	m.products[p.ID] = p
	return nil
}

func (m *memCatalog) Get(_ context.Context, id int64) (*catalog.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

type stubStore struct{ active bool }

func (s stubStore) HasActive(context.Context, int64) (bool, error) { return s.active, nil }

type recordingQueue struct {
	jobs [][2]int64
}

func (q *recordingQueue) Enqueue(_ context.Context, productID, variationID int64) error {
	q.jobs = append(q.jobs, [2]int64{productID, variationID})
	return nil
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(context.Context, ...int64) error { return nil }

func newTestConsumer(active bool) (*Consumer, *memCatalog, *recordingQueue) {
	cat := &memCatalog{products: make(map[int64]*catalog.Product)}
	q := &recordingQueue{}
	l := listener.New(settings.Static(settings.Defaults()), stubStore{active: active}, q, cat, nopInvalidator{}, zap.NewNop())
	return &Consumer{catalog: cat, listener: l, logger: zap.NewNop()}, cat, q
}

func TestHandle_StockChangeEnqueuesJob(t *testing.T) {
	c, cat, q := newTestConsumer(true)

	payload, _ := json.Marshal(ProductUpdate{
		ID:           42,
		Name:         "Widget",
		URL:          "https://shop.example.com/widget",
		StockStatus:  "instock",
		ChangedProps: []string{"price", "stock_status"},
	})

	if err := c.handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if cat.products[42] == nil {
		t.Error("product snapshot not persisted")
	}
	if len(q.jobs) != 1 || q.jobs[0] != [2]int64{42, 0} {
		t.Errorf("expected job for (42,0), got %v", q.jobs)
	}
}

func TestHandle_NonStockChangeIsIgnored(t *testing.T) {
	c, _, q := newTestConsumer(true)

	payload, _ := json.Marshal(ProductUpdate{
		ID:           42,
		StockStatus:  "instock",
		ChangedProps: []string{"price"},
	})

	if err := c.handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(q.jobs) != 0 {
		t.Errorf("price-only update must not enqueue, got %v", q.jobs)
	}
}

func TestHandle_MalformedMessageIsSkipped(t *testing.T) {
	c, _, q := newTestConsumer(true)

	if err := c.handle(context.Background(), []byte("{broken")); err != nil {
		t.Fatalf("malformed message must not error: %v", err)
	}
	if err := c.handle(context.Background(), []byte(`{"name":"no id"}`)); err != nil {
		t.Fatalf("missing id must not error: %v", err)
	}
	if len(q.jobs) != 0 {
		t.Errorf("unexpected jobs: %v", q.jobs)
	}
}
