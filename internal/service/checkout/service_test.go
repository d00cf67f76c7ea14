package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	"github.com/vladislavdragonenkov/campusmart/internal/service/inventory"
	"github.com/vladislavdragonenkov/campusmart/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/campusmart/internal/storage/memory"
)

type queueStub struct {
	mu     sync.Mutex
	orders []string
	method []domain.PaymentMethod
}

func (q *queueStub) Enqueue(orderID string, selection domain.PaymentSelection) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.orders = append(q.orders, orderID)
	q.method = append(q.method, selection.Method)
}

type fixture struct {
	svc     *Service
	carts   domain.CartRepository
	catalog *inventory.Catalog
	orders  domain.OrderRepository
	queue   *queueStub
}

func newFixture(t *testing.T, placer domain.OrderPlacer) *fixture {
	t.Helper()

	f := &fixture{
		carts:  memory.NewCartRepository(),
		orders: memory.NewOrderRepository(),
		queue:  &queueStub{},
		catalog: inventory.NewCatalog(
			domain.Product{ID: "book", StoreID: "store-1", StoreName: "Campus Books", Name: "Calculus", PriceMinor: 10000, AvailableQty: 10},
			domain.Product{ID: "pen", StoreID: "store-1", StoreName: "Campus Books", Name: "Pen", PriceMinor: 250, AvailableQty: 2},
			domain.Product{ID: "chips", StoreID: "store-2", StoreName: "Hall Snacks", Name: "Chips", PriceMinor: 300, AvailableQty: 5},
			domain.Product{ID: "sold-out", StoreID: "store-1", StoreName: "Campus Books", Name: "Atlas", PriceMinor: 9000, AvailableQty: 0},
		),
	}

	if placer == nil {
		lc, err := lifecycle.NewService(lifecycle.Dependencies{
			Orders:    f.orders,
			Catalog:   f.catalog,
			Inventory: f.catalog,
			Timeline:  memory.NewTimelineRepository(),
		}, lifecycle.Config{})
		require.NoError(t, err)
		placer = lc
	}

	svc, err := NewService(Dependencies{
		Carts:    f.carts,
		Catalog:  f.catalog,
		Placer:   placer,
		Payments: f.queue,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

var student = domain.Session{
	Authenticated: true,
	User:          domain.Buyer{ID: "user-1", PhoneNumber: "0241234567", InstitutionID: "ug", HallID: "legon"},
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Dependencies{})
	require.Error(t, err)
}

func TestCart_RequiresAuthentication(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	anon := domain.Session{}

	_, _, err := f.svc.Cart(ctx, anon, domain.DeliveryMethodPickup)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.AddItem(ctx, anon, "book", 1, false)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.StartCheckout(ctx, anon)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, _, err = f.svc.Submit(ctx, anon)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestCart_AddUpdateRemove(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cart, err := f.svc.AddItem(ctx, student, "book", 2, false)
	require.NoError(t, err)
	require.Equal(t, "store-1", cart.StoreID)

	cart, pricing, err := f.svc.Cart(ctx, student, domain.DeliveryMethodPickup)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	require.Equal(t, int64(20000), pricing.SubtotalMinor)
	require.Equal(t, int64(1000), pricing.ServiceFeeMinor)
	require.Equal(t, int64(0), pricing.DeliveryFeeMinor)
	require.Equal(t, int64(21000), pricing.TotalMinor)

	_, pricing, err = f.svc.Cart(ctx, student, domain.DeliveryMethodDelivery)
	require.NoError(t, err)
	require.Equal(t, int64(1500), pricing.DeliveryFeeMinor)
	require.Equal(t, int64(22500), pricing.TotalMinor)

	cart, err = f.svc.UpdateQuantity(ctx, student, "book", 15)
	require.NoError(t, err)
	require.Equal(t, int32(10), cart.Items[0].Quantity)

	_, err = f.svc.UpdateQuantity(ctx, student, "pen", 1)
	require.ErrorIs(t, err, domain.ErrCartItemNotFound)

	cart, err = f.svc.RemoveItem(ctx, student, "book")
	require.NoError(t, err)
	require.True(t, cart.IsEmpty())
	require.Empty(t, cart.StoreID)

	_, err = f.carts.Get(student.User.ID)
	require.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestCart_StoreMismatchAndReplace(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, student, "book", 1, false)
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, student, "chips", 1, false)
	require.ErrorIs(t, err, domain.ErrCartStoreMismatch)

	stored, err := f.carts.Get(student.User.ID)
	require.NoError(t, err)
	require.Equal(t, "store-1", stored.StoreID)

	cart, err := f.svc.AddItem(ctx, student, "chips", 1, true)
	require.NoError(t, err)
	require.Equal(t, "store-2", cart.StoreID)
	require.Len(t, cart.Items, 1)
}

func TestCart_AddItemErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, student, "sold-out", 1, false)
	require.ErrorIs(t, err, domain.ErrOutOfStock)
	_, err = f.svc.AddItem(ctx, student, "missing", 1, false)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	cart, err := f.svc.ClearCart(ctx, student)
	require.NoError(t, err)
	require.True(t, cart.IsEmpty())
}

func TestRefreshCart_AppliesCatalogChanges(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, student, "book", 5, false)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, student, "pen", 2, false)
	require.NoError(t, err)

	require.NoError(t, f.catalog.Upsert(domain.Product{ID: "book", StoreID: "store-1", StoreName: "Campus Books", Name: "Calculus", PriceMinor: 12000, AvailableQty: 3}))
	require.NoError(t, f.catalog.Upsert(domain.Product{ID: "pen", StoreID: "store-1", StoreName: "Campus Books", Name: "Pen", PriceMinor: 250, AvailableQty: 0}))

	cart, err := f.svc.RefreshCart(ctx, student)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	require.Equal(t, int32(3), cart.Items[0].Quantity)
	require.Equal(t, int64(12000), cart.Items[0].Product.PriceMinor)
}

func TestUpdateQuantity_ClampsToLiveStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, student, "book", 2, false)
	require.NoError(t, err)

	require.NoError(t, f.catalog.Upsert(domain.Product{ID: "book", StoreID: "store-1", StoreName: "Campus Books", Name: "Calculus", PriceMinor: 10000, AvailableQty: 3}))
	cart, err := f.svc.UpdateQuantity(ctx, student, "book", 8)
	require.NoError(t, err)
	require.Equal(t, int32(3), cart.Items[0].Quantity)
	require.Equal(t, int32(3), cart.Items[0].Product.AvailableQty)

	require.NoError(t, f.catalog.Upsert(domain.Product{ID: "book", StoreID: "store-1", StoreName: "Campus Books", Name: "Calculus", PriceMinor: 11000, AvailableQty: 20}))
	cart, err = f.svc.UpdateQuantity(ctx, student, "book", 15)
	require.NoError(t, err)
	require.Equal(t, int32(15), cart.Items[0].Quantity)
	require.Equal(t, int64(11000), cart.Items[0].Product.PriceMinor)

	require.NoError(t, f.catalog.Upsert(domain.Product{ID: "book", StoreID: "store-1", StoreName: "Campus Books", Name: "Calculus", PriceMinor: 11000, AvailableQty: 0}))
	_, err = f.svc.UpdateQuantity(ctx, student, "book", 1)
	require.ErrorIs(t, err, domain.ErrOutOfStock)

	// Удаление позиции каталог не проверяет.
	cart, err = f.svc.UpdateQuantity(ctx, student, "book", 0)
	require.NoError(t, err)
	require.True(t, cart.IsEmpty())
}

func TestSessions_DroppedWithoutActiveCheckout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sessions := func() int {
		f.svc.mu.Lock()
		defer f.svc.mu.Unlock()
		return len(f.svc.sessions)
	}

	_, err := f.svc.AddItem(ctx, student, "book", 1, false)
	require.NoError(t, err)
	require.Zero(t, sessions())

	_, err = f.svc.Checkout(ctx, student)
	require.ErrorIs(t, err, domain.ErrCheckoutNotFound)
	require.Zero(t, sessions())

	_, err = f.svc.StartCheckout(ctx, student)
	require.NoError(t, err)
	require.Equal(t, 1, sessions())

	require.NoError(t, f.svc.Cancel(ctx, student))
	require.Zero(t, sessions())

	_, err = f.svc.StartCheckout(ctx, student)
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, student)
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, student)
	require.NoError(t, err)
	_, view, err := f.svc.Submit(ctx, student)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutStepSubmitted, view.Step)
	require.Zero(t, sessions())
}

func TestCheckout_HappyPath(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, student, "book", 2, false)
	require.NoError(t, err)

	view, err := f.svc.StartCheckout(ctx, student)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutStepDelivery, view.Step)
	require.Equal(t, "0241234567", view.Payment.PhoneNumber())

	view, err = f.svc.SetDelivery(ctx, student, domain.DeliveryDetails{Method: domain.DeliveryMethodDelivery})
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, student)
	require.ErrorIs(t, err, domain.ErrValidation)

	view, err = f.svc.Checkout(ctx, student)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutStepDelivery, view.Step)
	verr, ok := domain.AsValidationError(view.LastError)
	require.True(t, ok)
	require.Equal(t, "delivery_address", verr.Field)

	_, err = f.svc.SetDelivery(ctx, student, domain.DeliveryDetails{Method: domain.DeliveryMethodDelivery, Address: "Hall 3, Room 12"})
	require.NoError(t, err)
	view, err = f.svc.Next(ctx, student)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutStepPayment, view.Step)
	require.Equal(t, int64(22500), view.Pricing.TotalMinor)

	_, err = f.svc.SetPayment(ctx, student, domain.MobileMoney(domain.MobileMoneyMTN, "0551112222"))
	require.NoError(t, err)
	_, err = f.svc.SetBuyerNote(ctx, student, "call on arrival")
	require.NoError(t, err)
	view, err = f.svc.Next(ctx, student)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutStepReview, view.Step)

	view, err = f.svc.Back(ctx, student)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutStepPayment, view.Step)
	require.Equal(t, "0551112222", view.Payment.PhoneNumber())
	_, err = f.svc.Next(ctx, student)
	require.NoError(t, err)

	order, view, err := f.svc.Submit(ctx, student)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutStepSubmitted, view.Step)
	require.NotNil(t, view.Order)
	require.Equal(t, order.ID, view.Order.ID)
	require.True(t, view.Cart.IsEmpty())

	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Equal(t, int64(22500), order.TotalMinor)
	require.Equal(t, "Hall 3, Room 12", order.DeliveryAddress)
	require.Equal(t, "call on arrival", order.BuyerNote)
	require.Equal(t, "legon", order.HallID)

	_, err = f.carts.Get(student.User.ID)
	require.ErrorIs(t, err, domain.ErrCartNotFound)
	require.Equal(t, []string{order.ID}, f.queue.orders)
	require.Equal(t, []domain.PaymentMethod{domain.PaymentMethodMobileMoney}, f.queue.method)

	// Отправленное оформление не хранится: повторная отправка его не найдёт.
	_, _, err = f.svc.Submit(ctx, student)
	require.ErrorIs(t, err, domain.ErrCheckoutNotFound)
	require.Len(t, f.queue.orders, 1)
}

func TestCheckout_EmptyCartAndMissingSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.StartCheckout(ctx, student)
	require.ErrorIs(t, err, domain.ErrCartEmpty)

	_, err = f.svc.Checkout(ctx, student)
	require.ErrorIs(t, err, domain.ErrCheckoutNotFound)
	_, err = f.svc.Next(ctx, student)
	require.ErrorIs(t, err, domain.ErrCheckoutNotFound)
}

func TestCheckout_CartChangeResetsCheckout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, student, "book", 1, false)
	require.NoError(t, err)
	_, err = f.svc.StartCheckout(ctx, student)
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, student, "pen", 1, false)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, student)
	require.ErrorIs(t, err, domain.ErrCheckoutNotFound)

	view, err := f.svc.StartCheckout(ctx, student)
	require.NoError(t, err)
	require.Len(t, view.Cart.Items, 2)

	require.NoError(t, f.svc.Cancel(ctx, student))
	_, err = f.svc.Checkout(ctx, student)
	require.ErrorIs(t, err, domain.ErrCheckoutNotFound)
}

func TestCheckout_SubmissionFailureKeepsReview(t *testing.T) {
	calls := 0
	placer := domain.OrderPlacerFunc(func(ctx context.Context, buyer domain.Buyer, draft domain.OrderDraft) (domain.Order, error) {
		calls++
		if calls == 1 {
			return domain.Order{}, errors.New("order service unavailable")
		}
		return domain.Order{ID: "order-1", BuyerID: buyer.ID, Status: domain.OrderStatusPending}, nil
	})
	f := newFixture(t, placer)
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, student, "book", 1, false)
	require.NoError(t, err)
	_, err = f.svc.StartCheckout(ctx, student)
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, student)
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, student)
	require.NoError(t, err)

	_, view, err := f.svc.Submit(ctx, student)
	var serr *domain.SubmissionError
	require.ErrorAs(t, err, &serr)
	require.True(t, serr.Retryable())
	require.Equal(t, domain.CheckoutStepReview, view.Step)
	require.Len(t, view.Cart.Items, 1)
	require.Empty(t, f.queue.orders)

	stored, err := f.carts.Get(student.User.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)

	order, view, err := f.svc.Submit(ctx, student)
	require.NoError(t, err)
	require.Equal(t, "order-1", order.ID)
	require.Equal(t, domain.CheckoutStepSubmitted, view.Step)
	require.Nil(t, view.LastError)
}

func TestCheckout_IsolatedPerUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	other := domain.Session{Authenticated: true, User: domain.Buyer{ID: "user-2", PhoneNumber: "0200000000"}}

	_, err := f.svc.AddItem(ctx, student, "book", 1, false)
	require.NoError(t, err)
	_, err = f.svc.StartCheckout(ctx, student)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, other)
	require.ErrorIs(t, err, domain.ErrCheckoutNotFound)

	cart, _, err := f.svc.Cart(ctx, other, domain.DeliveryMethodPickup)
	require.NoError(t, err)
	require.True(t, cart.IsEmpty())
}
