package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для разработки и тестов.
type MockGateway struct {
	mu sync.Mutex

	ChargeStatus domain.PaymentStatus
	ChargeErr    error
	RefundStatus domain.PaymentStatus
	RefundErr    error

	ChargeCalls int
	RefundCalls int
	LastCharge  domain.PaymentSelection
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		ChargeStatus: domain.PaymentStatusCaptured,
		RefundStatus: domain.PaymentStatusRefunded,
	}
}

// Charge возвращает заранее настроенный результат и считает вызовы.
func (m *MockGateway) Charge(_ context.Context, order domain.Order, selection domain.PaymentSelection) (domain.PaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ChargeCalls++
	m.LastCharge = selection
	if m.ChargeErr != nil {
		return domain.PaymentResult{Status: domain.PaymentStatusFailed}, m.ChargeErr
	}
	return domain.PaymentResult{Status: m.ChargeStatus, Reference: "pay_" + uuid.NewString()}, nil
}

// Refund возвращает настроенный результат и считает вызовы.
func (m *MockGateway) Refund(_ context.Context, order domain.Order) (domain.PaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefundCalls++
	if m.RefundErr != nil {
		return domain.PaymentResult{Status: domain.PaymentStatusFailed}, m.RefundErr
	}
	return domain.PaymentResult{Status: m.RefundStatus, Reference: order.PaymentRef}, nil
}

// Calls возвращает счётчики вызовов.
func (m *MockGateway) Calls() (charge, refund int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ChargeCalls, m.RefundCalls
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
