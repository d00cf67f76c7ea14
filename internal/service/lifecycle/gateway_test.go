package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

type flakyGateway struct {
	failures int
	err      error
	charges  int
	refunds  int
}

func (g *flakyGateway) Charge(context.Context, domain.Order, domain.PaymentSelection) (domain.PaymentResult, error) {
	g.charges++
	if g.charges <= g.failures {
		return domain.PaymentResult{Status: domain.PaymentStatusFailed}, g.err
	}
	return domain.PaymentResult{Status: domain.PaymentStatusCaptured, Reference: "pay_ok"}, nil
}

func (g *flakyGateway) Refund(context.Context, domain.Order) (domain.PaymentResult, error) {
	g.refunds++
	if g.refunds <= g.failures {
		return domain.PaymentResult{Status: domain.PaymentStatusFailed}, g.err
	}
	return domain.PaymentResult{Status: domain.PaymentStatusRefunded}, nil
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Positive(t, cfg.InitialDelay)
	require.Greater(t, cfg.MaxDelay, cfg.InitialDelay)
	require.Greater(t, cfg.BackoffFactor, 1.0)
}

func TestResilientGateway_RetriesTemporaryErrors(t *testing.T) {
	next := &flakyGateway{failures: 2, err: domain.ErrPaymentTemporary}
	gw := NewResilientGateway(next, fastRetry(3), nil, log.New().WithField("test", "gateway"))

	result, err := gw.Charge(context.Background(), domain.Order{ID: "o-1"}, domain.CardPayment())
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusCaptured, result.Status)
	require.Equal(t, 3, next.charges)

	next = &flakyGateway{failures: 5, err: domain.ErrPaymentTemporary}
	gw = NewResilientGateway(next, fastRetry(3), nil, nil)
	_, err = gw.Refund(context.Background(), domain.Order{ID: "o-2"})
	require.ErrorIs(t, err, domain.ErrPaymentTemporary)
	require.Equal(t, 3, next.refunds)
}

func TestResilientGateway_DoesNotRetryDeclines(t *testing.T) {
	next := &flakyGateway{failures: 1, err: domain.ErrPaymentDeclined}
	gw := NewResilientGateway(next, fastRetry(3), nil, nil)

	_, err := gw.Charge(context.Background(), domain.Order{ID: "o-1"}, domain.CardPayment())
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)
	require.Equal(t, 1, next.charges)
}

func TestResilientGateway_StopsOnContextCancel(t *testing.T) {
	next := &flakyGateway{failures: 5, err: domain.ErrPaymentTemporary}
	gw := NewResilientGateway(next, RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, BackoffFactor: 2}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Charge(ctx, domain.Order{ID: "o-1"}, domain.CardPayment())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, next.charges)
}

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	boom := errors.New("gateway unreachable")
	fail := func() error { return boom }
	ok := func() error { return nil }

	require.ErrorIs(t, cb.Execute("charge", fail, nil), boom)
	require.Equal(t, CircuitClosed, cb.State())
	require.ErrorIs(t, cb.Execute("charge", fail, nil), boom)
	require.Equal(t, CircuitOpen, cb.State())

	calls := 0
	err := cb.Execute("charge", func() error { calls++; return nil }, nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Zero(t, calls)

	// После таймаута пробный вызов проходит и замыкает цепь.
	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute("charge", ok, nil))
	require.Equal(t, CircuitClosed, cb.State())

	// Ошибка в half-open снова размыкает цепь.
	require.ErrorIs(t, cb.Execute("charge", fail, nil), boom)
	require.ErrorIs(t, cb.Execute("charge", fail, nil), boom)
	now = now.Add(2 * time.Minute)
	require.ErrorIs(t, cb.Execute("charge", fail, nil), boom)
	require.Equal(t, CircuitOpen, cb.State())
	require.Equal(t, "open", cb.State().String())
}

func TestCircuitBreaker_IgnoresDeclines(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, nil)
	declined := func() error { return domain.ErrPaymentDeclined }

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute("charge", declined, countsAsGatewayFailure), domain.ErrPaymentDeclined)
	}
	require.Equal(t, CircuitClosed, cb.State())
}

func TestResilientGateway_WithBreaker(t *testing.T) {
	next := &flakyGateway{failures: 10, err: domain.ErrPaymentTemporary}
	breaker := NewCircuitBreaker(2, time.Hour, nil)
	gw := NewResilientGateway(next, fastRetry(5), breaker, nil)

	_, err := gw.Charge(context.Background(), domain.Order{ID: "o-1"}, domain.CardPayment())
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, 2, next.charges)
	require.Equal(t, CircuitOpen, breaker.State())
}
