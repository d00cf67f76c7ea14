package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	"github.com/vladislavdragonenkov/campusmart/internal/storage/memory"
)

func newOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:              "order-1",
		Number:          "CM-20260101-AAAAAAAA",
		BuyerID:         "user-1",
		StoreID:         "store-1",
		Status:          domain.OrderStatusPending,
		Currency:        "GHS",
		SubtotalMinor:   500,
		ServiceFeeMinor: 25,
		TotalMinor:      525,
		DeliveryMethod:  domain.DeliveryMethodPickup,
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "p1", Name: "Notebook", UnitPriceMinor: 100, Quantity: 5},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder()

	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected duplicate create to fail, got %v", err)
	}

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Number != order.Number || len(stored.Items) != 1 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	// Изменение полученной копии не должно менять хранилище.
	stored.Items[0].Quantity = 99
	again, _ := repo.Get(order.ID)
	if again.Items[0].Quantity != 5 {
		t.Fatal("repository leaked internal slice")
	}

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListByBuyerAndStore(t *testing.T) {
	repo := memory.NewOrderRepository()

	first := newOrder()
	second := newOrder()
	second.ID = "order-2"
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	other := newOrder()
	other.ID = "order-3"
	other.BuyerID = "user-2"
	other.StoreID = "store-2"

	for _, o := range []domain.Order{first, second, other} {
		if err := repo.Create(o); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	orders, err := repo.ListByBuyer("user-1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "order-2" {
		t.Fatalf("unexpected buyer orders: %+v", orders)
	}

	limited, _ := repo.ListByBuyer("user-1", 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	storeOrders, _ := repo.ListByStore("store-2", 0)
	if len(storeOrders) != 1 || storeOrders[0].ID != "order-3" {
		t.Fatalf("unexpected store orders: %+v", storeOrders)
	}
}

func TestOrderRepository_Save(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder()
	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, _ := repo.Get(order.ID)
	stored.Status = domain.OrderStatusPaid
	if err := repo.Save(stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, _ := repo.Get(order.ID)
	if updated.Status != domain.OrderStatusPaid {
		t.Fatalf("expected status paid, got %s", updated.Status)
	}
	if updated.Version != stored.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}

	// Сохранение устаревшей копии отклоняется.
	if err := repo.Save(stored); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestOrderRepository_SaveWithEscrow(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder()
	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	paidAt := time.Now().UTC()
	stored, _ := repo.Get(order.ID)
	if err := stored.TransitionTo(domain.OrderStatusPaid, paidAt); err != nil {
		t.Fatalf("transition: %v", err)
	}
	escrow := domain.NewEscrow("escrow-1", stored, domain.DefaultPricingConfig(), paidAt)

	if err := repo.SaveWithEscrow(stored, escrow); err != nil {
		t.Fatalf("save with escrow: %v", err)
	}
	got, err := repo.GetEscrow(order.ID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if got.Status != domain.EscrowStatusHolding || got.AmountMinor != 525 {
		t.Fatalf("unexpected escrow: %+v", got)
	}

	// Конфликт версии не должен записать удержание.
	_ = escrow.Release(paidAt)
	if err := repo.SaveWithEscrow(stored, escrow); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	got, _ = repo.GetEscrow(order.ID)
	if got.Status != domain.EscrowStatusHolding {
		t.Fatalf("escrow written despite conflict: %s", got.Status)
	}

	if _, err := repo.GetEscrow("missing"); !errors.Is(err, domain.ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
}

func TestOrderRepository_ListDueEscrows(t *testing.T) {
	repo := memory.NewOrderRepository()
	cfg := domain.DefaultPricingConfig()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"order-a", "order-b", "order-c"} {
		order := newOrder()
		order.ID = id
		if err := repo.Create(order); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		stored, _ := repo.Get(id)
		paidAt := base.Add(time.Duration(i) * 24 * time.Hour)
		_ = stored.TransitionTo(domain.OrderStatusPaid, paidAt)
		if err := repo.SaveWithEscrow(stored, domain.NewEscrow("escrow-"+id, stored, cfg, paidAt)); err != nil {
			t.Fatalf("save with escrow: %v", err)
		}
	}

	due, err := repo.ListDueEscrows(base.Add(cfg.EscrowHold+24*time.Hour), 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 2 || due[0].OrderID != "order-a" || due[1].OrderID != "order-b" {
		t.Fatalf("unexpected due escrows: %+v", due)
	}

	limited, _ := repo.ListDueEscrows(base.Add(30*24*time.Hour), 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}
