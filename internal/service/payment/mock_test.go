package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

func TestMockGateway(t *testing.T) {
	ctx := context.Background()
	mock := NewMockGateway()
	order := domain.Order{ID: "o-1", TotalMinor: 100, Currency: "GHS", PaymentRef: "pay_1"}

	res, err := mock.Charge(ctx, order, domain.MobileMoney(domain.MobileMoneyMTN, "024"))
	if err != nil {
		t.Fatalf("unexpected charge error: %v", err)
	}
	if res.Status != domain.PaymentStatusCaptured || res.Reference == "" {
		t.Fatalf("unexpected charge result: %+v", res)
	}
	if mock.LastCharge.PhoneNumber() != "024" {
		t.Fatalf("selection not recorded: %+v", mock.LastCharge)
	}

	refund, err := mock.Refund(ctx, order)
	if err != nil {
		t.Fatalf("unexpected refund error: %v", err)
	}
	if refund.Status != domain.PaymentStatusRefunded || refund.Reference != "pay_1" {
		t.Fatalf("unexpected refund result: %+v", refund)
	}

	mock.ChargeErr = domain.ErrPaymentDeclined
	mock.RefundErr = errors.New("refund failed")

	if _, err := mock.Charge(ctx, order, domain.CardPayment()); !errors.Is(err, domain.ErrPaymentDeclined) {
		t.Fatalf("expected decline, got %v", err)
	}
	if _, err := mock.Refund(ctx, order); err == nil {
		t.Fatal("expected refund error")
	}

	if charge, refund := mock.Calls(); charge != 2 || refund != 2 {
		t.Fatalf("unexpected call counters: charge=%d refund=%d", charge, refund)
	}
}
