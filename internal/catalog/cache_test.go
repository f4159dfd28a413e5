package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/redis"
)

type fakeGetter struct {
	products map[int64]*Product
	calls    int
}

func (f *fakeGetter) Get(ctx context.Context, id int64) (*Product, error) {
	f.calls++
	p, ok := f.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func setupCached(t *testing.T) (*Cached, *fakeGetter, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := redis.NewFromRDB(rdb, zap.NewNop())
	cache := redis.NewCache(client, 5*time.Minute, zap.NewNop())

	inner := &fakeGetter{products: map[int64]*Product{
		42: {ID: 42, Name: "Walnut Desk", StockStatus: StockInStock},
	}}

	return NewCached(inner, cache, zap.NewNop()), inner, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestCached_ReadThrough(t *testing.T) {
	cached, inner, cleanup := setupCached(t)
	defer cleanup()

	ctx := context.Background()

	p, err := cached.Get(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Walnut Desk" {
		t.Errorf("unexpected product %+v", p)
	}

	// Second read is served from cache.
	if _, err := cached.Get(ctx, 42); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 backing call, got %d", inner.calls)
	}
}

func TestCached_InvalidateForcesRefetch(t *testing.T) {
	cached, inner, cleanup := setupCached(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := cached.Get(ctx, 42); err != nil {
		t.Fatal(err)
	}

	inner.products[42].StockStatus = StockOutOfStock
	if err := cached.Invalidate(ctx, 42); err != nil {
		t.Fatal(err)
	}

	p, err := cached.Get(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if p.StockStatus != StockOutOfStock {
		t.Errorf("expected fresh stock status after invalidation, got %q", p.StockStatus)
	}
	if inner.calls != 2 {
		t.Errorf("expected refetch after invalidation, got %d calls", inner.calls)
	}
}

func TestCached_UnknownProduct(t *testing.T) {
	cached, _, cleanup := setupCached(t)
	defer cleanup()

	if _, err := cached.Get(context.Background(), 999); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIsVariation(t *testing.T) {
	if (&Product{ID: 7, ParentID: 0}).IsVariation() {
		t.Error("standalone product is not a variation")
	}
	if !(&Product{ID: 7, ParentID: 3}).IsVariation() {
		t.Error("product with a parent is a variation")
	}
}
