package inventory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

func TestCatalogReserveRelease(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(
		domain.Product{ID: "p1", StoreID: "s1", PriceMinor: 100, AvailableQty: 5},
		domain.Product{ID: "p2", StoreID: "s1", PriceMinor: 200, AvailableQty: 1},
	)
	items := []domain.OrderItem{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 1}}

	if err := catalog.Reserve(ctx, "o-1", items); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// Повторный резерв не списывает остаток второй раз.
	if err := catalog.Reserve(ctx, "o-1", items); err != nil {
		t.Fatalf("repeat reserve: %v", err)
	}
	p1, _ := catalog.Product(ctx, "p1")
	if p1.AvailableQty != 2 {
		t.Fatalf("p1 available = %d, want 2", p1.AvailableQty)
	}

	if err := catalog.Reserve(ctx, "o-2", []domain.OrderItem{{ProductID: "p2", Quantity: 1}}); !errors.Is(err, domain.ErrInventoryUnavailable) {
		t.Fatalf("err = %v, want ErrInventoryUnavailable", err)
	}

	if err := catalog.Release(ctx, "o-1", items); err != nil {
		t.Fatalf("release: %v", err)
	}
	p1, _ = catalog.Product(ctx, "p1")
	p2, _ := catalog.Product(ctx, "p2")
	if p1.AvailableQty != 5 || p2.AvailableQty != 1 {
		t.Fatalf("stock not restored: p1=%d p2=%d", p1.AvailableQty, p2.AvailableQty)
	}
	if err := catalog.Release(ctx, "unknown", nil); err != nil {
		t.Fatalf("release without reservation: %v", err)
	}
}

func TestCatalogUnknownProduct(t *testing.T) {
	catalog := NewCatalog()

	if _, err := catalog.Product(context.Background(), "missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("err = %v, want ErrProductNotFound", err)
	}
	if err := catalog.Upsert(domain.Product{ID: "p1"}); !errors.Is(err, domain.ErrStoreIDRequired) {
		t.Fatalf("err = %v, want ErrStoreIDRequired", err)
	}
}

func TestCatalogReserveErr(t *testing.T) {
	catalog := NewCatalog(domain.Product{ID: "p1", StoreID: "s1", AvailableQty: 5})
	catalog.ReserveErr = domain.ErrInventoryTemporary

	err := catalog.Reserve(context.Background(), "o-1", []domain.OrderItem{{ProductID: "p1", Quantity: 1}})
	if !errors.Is(err, domain.ErrInventoryTemporary) {
		t.Fatalf("err = %v, want ErrInventoryTemporary", err)
	}
}

func TestCatalogLoad(t *testing.T) {
	c := NewCatalog()

	n, err := c.Load(strings.NewReader(`[
		{"id": "book", "store_id": "store-1", "store_name": "Campus Books", "name": "Calculus", "price_minor": 10000, "available_qty": 3},
		{"id": "pen", "store_id": "store-1", "name": "Pen", "price_minor": 250, "available_qty": 40}
	]`))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	product, err := c.Product(context.Background(), "book")
	require.NoError(t, err)
	require.Equal(t, "Campus Books", product.StoreName)
	require.Equal(t, int64(10000), product.PriceMinor)
	require.Equal(t, int32(3), product.AvailableQty)

	n, err = c.Load(strings.NewReader(`[{"id": "mug", "price_minor": 100}]`))
	require.ErrorIs(t, err, domain.ErrStoreIDRequired)
	require.Equal(t, 0, n)

	_, err = c.Load(strings.NewReader(`{`))
	require.Error(t, err)
}
