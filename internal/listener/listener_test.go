package listener

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/catalog"
	"github.com/beltoft/restock/internal/settings"
)

type fakeStore struct {
	active map[int64]bool
}

func (f *fakeStore) HasActive(ctx context.Context, productID int64) (bool, error) {
	return f.active[productID], nil
}

type enqueueCall struct {
	productID   int64
	variationID int64
}

type fakeQueue struct {
	calls []enqueueCall
}

func (f *fakeQueue) Enqueue(ctx context.Context, productID, variationID int64) error {
	f.calls = append(f.calls, enqueueCall{productID, variationID})
	return nil
}

type fakeCatalog struct {
	products map[int64]*catalog.Product
}

func (f *fakeCatalog) Get(ctx context.Context, id int64) (*catalog.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

type fakeInvalidator struct {
	invalidated []int64
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, ids ...int64) error {
	f.invalidated = append(f.invalidated, ids...)
	return nil
}

type fixture struct {
	listener *Listener
	store    *fakeStore
	queue    *fakeQueue
	cache    *fakeInvalidator
}

func newFixture(cfg settings.Settings) *fixture {
	store := &fakeStore{active: map[int64]bool{42: true}}
	q := &fakeQueue{}
	cache := &fakeInvalidator{}
	cat := &fakeCatalog{products: map[int64]*catalog.Product{
		42:  {ID: 42, Name: "Walnut Desk", StockStatus: catalog.StockInStock},
		101: {ID: 101, ParentID: 42, Name: "Walnut Desk - Oiled", StockStatus: catalog.StockInStock},
		7:   {ID: 7, Name: "Brass Lamp", StockStatus: catalog.StockInStock},
	}}

	return &fixture{
		listener: New(settings.Static(cfg), store, q, cat, cache, zap.NewNop()),
		store:    store,
		queue:    q,
		cache:    cache,
	}
}

func TestOnStockTransition_EnqueuesSimpleProduct(t *testing.T) {
	f := newFixture(settings.Defaults())
	pass := f.listener.NewPass()

	if err := pass.OnStockTransition(context.Background(), 42, "instock"); err != nil {
		t.Fatal(err)
	}

	if len(f.queue.calls) != 1 {
		t.Fatalf("expected 1 enqueue, got %d", len(f.queue.calls))
	}
	if f.queue.calls[0] != (enqueueCall{42, 0}) {
		t.Errorf("expected key (42,0), got %+v", f.queue.calls[0])
	}
}

func TestOnStockTransition_VariationResolvesParent(t *testing.T) {
	f := newFixture(settings.Defaults())
	pass := f.listener.NewPass()

	if err := pass.OnStockTransition(context.Background(), 101, "instock"); err != nil {
		t.Fatal(err)
	}

	if len(f.queue.calls) != 1 {
		t.Fatalf("expected 1 enqueue, got %d", len(f.queue.calls))
	}
	if f.queue.calls[0] != (enqueueCall{42, 101}) {
		t.Errorf("expected key (parent=42, variation=101), got %+v", f.queue.calls[0])
	}

	// Both the variation and its parent get busted from the cache.
	found := map[int64]bool{}
	for _, id := range f.cache.invalidated {
		found[id] = true
	}
	if !found[101] || !found[42] {
		t.Errorf("expected cache invalidation for 101 and 42, got %v", f.cache.invalidated)
	}
}

func TestOnStockTransition_NoSubscribersNoJob(t *testing.T) {
	f := newFixture(settings.Defaults())
	pass := f.listener.NewPass()

	if err := pass.OnStockTransition(context.Background(), 7, "instock"); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.calls) != 0 {
		t.Errorf("expected no enqueue without subscribers, got %d", len(f.queue.calls))
	}
}

func TestOnStockTransition_NonTriggerStatusIgnored(t *testing.T) {
	f := newFixture(settings.Defaults())
	pass := f.listener.NewPass()

	if err := pass.OnStockTransition(context.Background(), 42, "outofstock"); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.calls) != 0 {
		t.Errorf("outofstock must not enqueue, got %d calls", len(f.queue.calls))
	}
}

func TestOnStockTransition_DisabledIgnored(t *testing.T) {
	cfg := settings.Defaults()
	cfg.Enabled = false
	f := newFixture(cfg)
	pass := f.listener.NewPass()

	if err := pass.OnStockTransition(context.Background(), 42, "instock"); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.calls) != 0 {
		t.Error("disabled pipeline must not enqueue")
	}
}

func TestOnStockTransition_DedupesWithinPass(t *testing.T) {
	f := newFixture(settings.Defaults())
	pass := f.listener.NewPass()
	ctx := context.Background()

	// Several hooks firing for the same save.
	for i := 0; i < 3; i++ {
		if err := pass.OnStockTransition(ctx, 42, "instock"); err != nil {
			t.Fatal(err)
		}
	}
	if len(f.queue.calls) != 1 {
		t.Errorf("expected single enqueue within one pass, got %d", len(f.queue.calls))
	}

	// A fresh pass (next invocation) may queue again.
	if err := f.listener.NewPass().OnStockTransition(ctx, 42, "instock"); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.calls) != 2 {
		t.Errorf("expected new pass to enqueue again, got %d", len(f.queue.calls))
	}
}

func TestOnProductUpdated_RequiresStockStatusProp(t *testing.T) {
	f := newFixture(settings.Defaults())
	pass := f.listener.NewPass()
	ctx := context.Background()

	if err := pass.OnProductUpdated(ctx, 42, "instock", []string{"price", "name"}); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.calls) != 0 {
		t.Error("update without stock_status change must not enqueue")
	}

	if err := pass.OnProductUpdated(ctx, 42, "instock", []string{"price", "stock_status"}); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.calls) != 1 {
		t.Errorf("expected enqueue when stock_status changed, got %d", len(f.queue.calls))
	}
}

func TestOnStockTransition_UnknownProductIgnored(t *testing.T) {
	f := newFixture(settings.Defaults())
	pass := f.listener.NewPass()

	if err := pass.OnStockTransition(context.Background(), 9999, "instock"); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.calls) != 0 {
		t.Error("unknown product must not enqueue")
	}
}
