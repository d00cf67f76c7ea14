package domain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

func buyer() domain.Buyer {
	return domain.Buyer{ID: "user-1", PhoneNumber: "0241234567", InstitutionID: "ug", HallID: "legon"}
}

func newCheckout(t *testing.T) (*domain.Checkout, *domain.Cart) {
	t.Helper()
	cart := domain.NewCart("user-1")
	if err := cart.AddItem(product("p1", "s1", 10000, 10), 2); err != nil {
		t.Fatalf("add item: %v", err)
	}
	co, err := domain.NewCheckout(cart, buyer(), domain.DefaultPricingConfig())
	if err != nil {
		t.Fatalf("new checkout: %v", err)
	}
	return co, cart
}

func toReview(t *testing.T, co *domain.Checkout) {
	t.Helper()
	if err := co.Next(); err != nil {
		t.Fatalf("next from delivery: %v", err)
	}
	if err := co.Next(); err != nil {
		t.Fatalf("next from payment: %v", err)
	}
	if co.Step() != domain.CheckoutStepReview {
		t.Fatalf("step = %s, want review", co.Step())
	}
}

func TestNewCheckout_Prefill(t *testing.T) {
	co, _ := newCheckout(t)

	if co.Step() != domain.CheckoutStepDelivery {
		t.Fatalf("step = %s, want delivery", co.Step())
	}
	if co.Delivery().Method != domain.DeliveryMethodPickup {
		t.Fatalf("default delivery = %s, want pickup", co.Delivery().Method)
	}
	if co.Payment().Method != domain.PaymentMethodMobileMoney || co.Payment().PhoneNumber() != "0241234567" {
		t.Fatalf("payment not prefilled: %+v", co.Payment())
	}
	draft := co.Draft()
	if draft.InstitutionID != "ug" || draft.HallID != "legon" {
		t.Fatalf("draft location not prefilled: %+v", draft)
	}
}

func TestNewCheckout_Errors(t *testing.T) {
	if _, err := domain.NewCheckout(domain.NewCart("user-1"), buyer(), domain.DefaultPricingConfig()); !errors.Is(err, domain.ErrCartEmpty) {
		t.Fatalf("err = %v, want ErrCartEmpty", err)
	}

	cart := domain.NewCart("user-1")
	_ = cart.AddItem(product("p1", "s1", 100, 1), 1)
	if _, err := domain.NewCheckout(cart, domain.Buyer{}, domain.DefaultPricingConfig()); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestCheckout_DeliveryRequiresAddress(t *testing.T) {
	co, _ := newCheckout(t)

	if err := co.SetDelivery(domain.DeliveryDetails{Method: domain.DeliveryMethodDelivery, Address: "  "}); err != nil {
		t.Fatalf("set delivery: %v", err)
	}
	err := co.Next()
	verr, ok := domain.AsValidationError(err)
	if !ok {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if verr.Field != "delivery_address" || verr.Step != domain.CheckoutStepDelivery {
		t.Fatalf("unexpected validation error: %+v", verr)
	}
	if co.Step() != domain.CheckoutStepDelivery {
		t.Fatalf("step changed to %s", co.Step())
	}
	if co.LastError() == nil {
		t.Fatal("last error not recorded")
	}

	_ = co.SetDelivery(domain.DeliveryDetails{Method: domain.DeliveryMethodDelivery, Address: "Room 12, Legon Hall"})
	if err := co.Next(); err != nil {
		t.Fatalf("next with address: %v", err)
	}
	if co.Step() != domain.CheckoutStepPayment || co.LastError() != nil {
		t.Fatalf("step = %s, last error = %v", co.Step(), co.LastError())
	}
}

func TestCheckout_PaymentGuards(t *testing.T) {
	cases := []struct {
		name      string
		selection domain.PaymentSelection
		wantField string
	}{
		{name: "mobile money without phone", selection: domain.MobileMoney(domain.MobileMoneyMTN, ""), wantField: "phone_number"},
		{name: "mobile money without details", selection: domain.PaymentSelection{Method: domain.PaymentMethodMobileMoney}, wantField: "phone_number"},
		{name: "unknown provider", selection: domain.MobileMoney("glo", "0241234567"), wantField: "provider"},
		{name: "card", selection: domain.CardPayment()},
		{name: "vodafone", selection: domain.MobileMoney(domain.MobileMoneyVodafone, "0201234567")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			co, _ := newCheckout(t)
			if err := co.Next(); err != nil {
				t.Fatalf("next from delivery: %v", err)
			}
			if err := co.SetPayment(tc.selection); err != nil {
				t.Fatalf("set payment: %v", err)
			}

			err := co.Next()
			if tc.wantField == "" {
				if err != nil || co.Step() != domain.CheckoutStepReview {
					t.Fatalf("err = %v, step = %s", err, co.Step())
				}
				return
			}
			verr, ok := domain.AsValidationError(err)
			if !ok || verr.Field != tc.wantField {
				t.Fatalf("err = %v, want field %s", err, tc.wantField)
			}
			if co.Step() != domain.CheckoutStepPayment {
				t.Fatalf("step changed to %s", co.Step())
			}
		})
	}
}

func TestCheckout_BackKeepsData(t *testing.T) {
	co, _ := newCheckout(t)
	_ = co.SetDelivery(domain.DeliveryDetails{Method: domain.DeliveryMethodDelivery, Address: "Hall 3"})
	toReview(t, co)

	if err := co.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if co.Step() != domain.CheckoutStepPayment {
		t.Fatalf("step = %s, want payment", co.Step())
	}
	if err := co.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if co.Delivery().Address != "Hall 3" {
		t.Fatalf("delivery data lost: %+v", co.Delivery())
	}
	if err := co.Back(); !errors.Is(err, domain.ErrNoPreviousStep) {
		t.Fatalf("err = %v, want ErrNoPreviousStep", err)
	}
}

func TestCheckout_BackClearsStepError(t *testing.T) {
	co, _ := newCheckout(t)
	_ = co.Next()
	_ = co.SetPayment(domain.MobileMoney(domain.MobileMoneyMTN, ""))
	if err := co.Next(); err == nil {
		t.Fatal("expected validation error")
	}

	if err := co.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if co.LastError() != nil {
		t.Fatalf("last error = %v, want nil", co.LastError())
	}
}

func TestCheckout_Quote(t *testing.T) {
	co, _ := newCheckout(t)

	if got := co.Quote().TotalMinor; got != 21000 {
		t.Fatalf("pickup total = %d, want 21000", got)
	}
	_ = co.SetDelivery(domain.DeliveryDetails{Method: domain.DeliveryMethodDelivery, Address: "Hall 3"})
	if got := co.Quote().TotalMinor; got != 22500 {
		t.Fatalf("delivery total = %d, want 22500", got)
	}
}

func TestCheckout_SubmitOnlyFromReview(t *testing.T) {
	co, _ := newCheckout(t)
	placer := domain.OrderPlacerFunc(func(context.Context, domain.Buyer, domain.OrderDraft) (domain.Order, error) {
		t.Fatal("placer must not be called")
		return domain.Order{}, nil
	})

	if _, err := co.Submit(context.Background(), placer); !errors.Is(err, domain.ErrCheckoutNotReady) {
		t.Fatalf("err = %v, want ErrCheckoutNotReady", err)
	}
}

func TestCheckout_SubmitSuccess(t *testing.T) {
	co, cart := newCheckout(t)
	_ = co.SetDelivery(domain.DeliveryDetails{Method: domain.DeliveryMethodDelivery, Address: "Hall 3", Notes: "call on arrival"})
	_ = co.SetBuyerNote("  no onions ")
	toReview(t, co)

	var got domain.OrderDraft
	placer := domain.OrderPlacerFunc(func(_ context.Context, b domain.Buyer, d domain.OrderDraft) (domain.Order, error) {
		if b.ID != "user-1" {
			t.Fatalf("buyer = %+v", b)
		}
		got = d
		return domain.Order{ID: "order-1", Status: domain.OrderStatusPending}, nil
	})

	order, err := co.Submit(context.Background(), placer)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.ID != "order-1" || co.Step() != domain.CheckoutStepSubmitted {
		t.Fatalf("order = %+v, step = %s", order, co.Step())
	}
	if !cart.IsEmpty() {
		t.Fatal("cart must be cleared after submit")
	}
	if placed, ok := co.PlacedOrder(); !ok || placed.ID != "order-1" {
		t.Fatalf("placed order = %+v, %v", placed, ok)
	}

	if got.StoreID != "s1" || len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Fatalf("unexpected draft items: %+v", got)
	}
	if got.DeliveryFeeMinor != 1500 || got.DeliveryAddress != "Hall 3" || got.DeliveryNotes != "call on arrival" {
		t.Fatalf("unexpected draft delivery: %+v", got)
	}
	if got.BuyerNote != "no onions" {
		t.Fatalf("buyer note = %q", got.BuyerNote)
	}

	if err := co.Back(); !errors.Is(err, domain.ErrCheckoutSubmitted) {
		t.Fatalf("back after submit err = %v", err)
	}
	if err := co.SetBuyerNote("late"); !errors.Is(err, domain.ErrCheckoutSubmitted) {
		t.Fatalf("edit after submit err = %v", err)
	}
}

func TestCheckout_SubmitFailureKeepsReview(t *testing.T) {
	co, cart := newCheckout(t)
	toReview(t, co)

	calls := 0
	placer := domain.OrderPlacerFunc(func(context.Context, domain.Buyer, domain.OrderDraft) (domain.Order, error) {
		calls++
		if calls == 1 {
			return domain.Order{}, errors.New("order service unavailable")
		}
		return domain.Order{ID: "order-2"}, nil
	})

	_, err := co.Submit(context.Background(), placer)
	var serr *domain.SubmissionError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want SubmissionError", err)
	}
	if !serr.Retryable() {
		t.Fatal("transport failure must be retryable")
	}
	if co.Step() != domain.CheckoutStepReview {
		t.Fatalf("step = %s, want review", co.Step())
	}
	if co.LastError() == nil {
		t.Fatal("last error not recorded")
	}
	if cart.IsEmpty() {
		t.Fatal("cart must be kept after failed submit")
	}

	order, err := co.Submit(context.Background(), placer)
	if err != nil || order.ID != "order-2" {
		t.Fatalf("retry: order = %+v, err = %v", order, err)
	}
	if co.LastError() != nil {
		t.Fatalf("last error = %v after success", co.LastError())
	}
}

func TestCheckout_SubmitRevalidates(t *testing.T) {
	co, _ := newCheckout(t)
	toReview(t, co)
	_ = co.SetDelivery(domain.DeliveryDetails{Method: domain.DeliveryMethodDelivery})

	placer := domain.OrderPlacerFunc(func(context.Context, domain.Buyer, domain.OrderDraft) (domain.Order, error) {
		t.Fatal("placer must not be called")
		return domain.Order{}, nil
	})

	_, err := co.Submit(context.Background(), placer)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if co.Step() != domain.CheckoutStepReview {
		t.Fatalf("step = %s, want review", co.Step())
	}
}

func TestCheckout_CardDropsMobileMoneyDetails(t *testing.T) {
	co, _ := newCheckout(t)

	_ = co.SetPayment(domain.PaymentSelection{
		Method:      domain.PaymentMethodCard,
		MobileMoney: &domain.MobileMoneyDetails{Provider: domain.MobileMoneyMTN, PhoneNumber: "024"},
	})
	if co.Payment().MobileMoney != nil {
		t.Fatalf("card payment kept mobile money details: %+v", co.Payment())
	}
}
