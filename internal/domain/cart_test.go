package domain_test

import (
	"errors"
	"math"
	"testing"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

func product(id, store string, price int64, available int32) domain.Product {
	return domain.Product{
		ID:           id,
		StoreID:      store,
		StoreName:    "Store " + store,
		Name:         "Product " + id,
		PriceMinor:   price,
		AvailableQty: available,
	}
}

func TestCartAddItem_AdoptsStoreAndMerges(t *testing.T) {
	cart := domain.NewCart("user-1")

	if err := cart.AddItem(product("p1", "s1", 10000, 10), 2); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if cart.StoreID != "s1" || cart.StoreName != "Store s1" {
		t.Fatalf("store not adopted: %q %q", cart.StoreID, cart.StoreName)
	}
	if err := cart.AddItem(product("p1", "s1", 10000, 10), 3); err != nil {
		t.Fatalf("add same item: %v", err)
	}

	item, ok := cart.Item("p1")
	if !ok {
		t.Fatal("item p1 not found")
	}
	if item.Quantity != 5 {
		t.Fatalf("quantity = %d, want 5", item.Quantity)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(cart.Items))
	}
}

func TestCartAddItem_ClampsToAvailable(t *testing.T) {
	cart := domain.NewCart("user-1")

	if err := cart.AddItem(product("p1", "s1", 10000, 10), 15); err != nil {
		t.Fatalf("add item: %v", err)
	}
	item, _ := cart.Item("p1")
	if item.Quantity != 10 {
		t.Fatalf("quantity = %d, want 10", item.Quantity)
	}

	if err := cart.AddItem(product("p1", "s1", 10000, 10), 4); err != nil {
		t.Fatalf("add again: %v", err)
	}
	item, _ = cart.Item("p1")
	if item.Quantity != 10 {
		t.Fatalf("quantity after merge = %d, want 10", item.Quantity)
	}
}

func TestCartAddItem_HugeQuantityStillClamps(t *testing.T) {
	cart := domain.NewCart("user-1")

	if err := cart.AddItem(product("p1", "s1", 500, 10), 5); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := cart.AddItem(product("p1", "s1", 500, 10), math.MaxInt32); err != nil {
		t.Fatalf("add max quantity: %v", err)
	}
	item, _ := cart.Item("p1")
	if item.Quantity != 10 {
		t.Fatalf("quantity = %d, want 10", item.Quantity)
	}

	if err := cart.UpdateQuantity("p1", math.MaxInt32); err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	item, _ = cart.Item("p1")
	if item.Quantity != 10 {
		t.Fatalf("quantity after update = %d, want 10", item.Quantity)
	}
}

func TestCartAddItem_NonPositiveQtyTreatedAsOne(t *testing.T) {
	cart := domain.NewCart("user-1")

	if err := cart.AddItem(product("p1", "s1", 500, 3), 0); err != nil {
		t.Fatalf("add item: %v", err)
	}
	item, _ := cart.Item("p1")
	if item.Quantity != 1 {
		t.Fatalf("quantity = %d, want 1", item.Quantity)
	}
}

func TestCartAddItem_Errors(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(c *domain.Cart)
		product domain.Product
		wantErr error
	}{
		{
			name:    "out of stock",
			product: product("p1", "s1", 100, 0),
			wantErr: domain.ErrOutOfStock,
		},
		{
			name:    "missing product id",
			product: product("", "s1", 100, 1),
			wantErr: domain.ErrProductIDRequired,
		},
		{
			name:    "missing store",
			product: product("p1", "", 100, 1),
			wantErr: domain.ErrStoreIDRequired,
		},
		{
			name: "different store",
			prepare: func(c *domain.Cart) {
				_ = c.AddItem(product("p1", "s1", 100, 5), 1)
			},
			product: product("p2", "s2", 100, 5),
			wantErr: domain.ErrCartStoreMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cart := domain.NewCart("user-1")
			if tc.prepare != nil {
				tc.prepare(cart)
			}
			before := cart.Clone()

			err := cart.AddItem(tc.product, 1)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if len(cart.Items) != len(before.Items) || cart.StoreID != before.StoreID {
				t.Fatalf("cart changed on error: %+v", cart)
			}
		})
	}
}

func TestCartUpdateQuantity(t *testing.T) {
	cart := domain.NewCart("user-1")
	_ = cart.AddItem(product("p1", "s1", 100, 4), 1)
	_ = cart.AddItem(product("p2", "s1", 200, 4), 1)

	if err := cart.UpdateQuantity("p1", 9); err != nil {
		t.Fatalf("update: %v", err)
	}
	if item, _ := cart.Item("p1"); item.Quantity != 4 {
		t.Fatalf("quantity = %d, want 4", item.Quantity)
	}

	if err := cart.UpdateQuantity("p1", 0); err != nil {
		t.Fatalf("update to zero: %v", err)
	}
	if _, ok := cart.Item("p1"); ok {
		t.Fatal("item p1 should be removed")
	}

	if err := cart.UpdateQuantity("missing", 2); !errors.Is(err, domain.ErrCartItemNotFound) {
		t.Fatalf("err = %v, want ErrCartItemNotFound", err)
	}
}

func TestCartRemoveLastItemResetsStore(t *testing.T) {
	cart := domain.NewCart("user-1")
	_ = cart.AddItem(product("p1", "s1", 100, 4), 1)

	if !cart.RemoveItem("p1") {
		t.Fatal("expected item to be removed")
	}
	if cart.RemoveItem("p1") {
		t.Fatal("second removal should report false")
	}
	if !cart.IsEmpty() || cart.StoreID != "" || cart.StoreName != "" {
		t.Fatalf("cart not reset: %+v", cart)
	}

	if err := cart.AddItem(product("p9", "s2", 100, 1), 1); err != nil {
		t.Fatalf("empty cart must accept another store: %v", err)
	}
}

func TestCartClear(t *testing.T) {
	cart := domain.NewCart("user-1")
	_ = cart.AddItem(product("p1", "s1", 100, 4), 2)

	cart.Clear()

	if !cart.IsEmpty() || cart.StoreID != "" || cart.Subtotal() != 0 {
		t.Fatalf("cart not cleared: %+v", cart)
	}
}

func TestCartRefreshProduct(t *testing.T) {
	cart := domain.NewCart("user-1")
	_ = cart.AddItem(product("p1", "s1", 100, 10), 8)
	_ = cart.AddItem(product("p2", "s1", 100, 10), 1)

	cart.RefreshProduct(product("p1", "s1", 150, 3))
	item, _ := cart.Item("p1")
	if item.Quantity != 3 || item.Product.PriceMinor != 150 {
		t.Fatalf("item not refreshed: %+v", item)
	}

	cart.RefreshProduct(product("p2", "s1", 100, 0))
	if _, ok := cart.Item("p2"); ok {
		t.Fatal("sold out item should be dropped")
	}
}

func TestCartSubtotal(t *testing.T) {
	cart := domain.NewCart("user-1")
	_ = cart.AddItem(product("p1", "s1", 10000, 10), 2)
	_ = cart.AddItem(product("p2", "s1", 250, 10), 3)

	if got := cart.Subtotal(); got != 20750 {
		t.Fatalf("subtotal = %d, want 20750", got)
	}
}
