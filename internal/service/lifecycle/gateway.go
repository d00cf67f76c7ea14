package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// ErrCircuitOpen возвращается, пока шлюз считается недоступным.
var ErrCircuitOpen = errors.New("payment gateway circuit breaker is open")

// RetryConfig конфигурация повторов вызовов шлюза.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкает цепь после maxFailures ошибок подряд и
// пропускает пробный вызов через resetTimeout.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *log.Entry

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       logger,
		state:        CircuitClosed,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker. Ошибки, для которых
// countable возвращает false, не считаются сбоем шлюза.
func (cb *CircuitBreaker) Execute(operation string, fn func() error, countable func(error) bool) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && (countable == nil || countable(err)) {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}
		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.failures = 0
	return err
}

// ResilientGateway оборачивает платёжный шлюз повторами временных ошибок
// и circuit breaker.
type ResilientGateway struct {
	next    domain.PaymentGateway
	retry   RetryConfig
	breaker *CircuitBreaker
	logger  *log.Entry
}

// NewResilientGateway создаёт обёртку. breaker может быть nil.
func NewResilientGateway(next domain.PaymentGateway, retry RetryConfig, breaker *CircuitBreaker, logger *log.Entry) *ResilientGateway {
	if logger == nil {
		logger = log.New().WithField("component", "payment-gateway")
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.BackoffFactor < 1 {
		retry.BackoffFactor = 1
	}
	return &ResilientGateway{next: next, retry: retry, breaker: breaker, logger: logger}
}

// Charge списывает оплату с повторами.
func (g *ResilientGateway) Charge(ctx context.Context, order domain.Order, selection domain.PaymentSelection) (domain.PaymentResult, error) {
	var result domain.PaymentResult
	err := g.executeWithRetry(ctx, "charge", order.ID, func() error {
		var err error
		result, err = g.next.Charge(ctx, order, selection)
		return err
	})
	return result, err
}

// Refund возвращает оплату с повторами.
func (g *ResilientGateway) Refund(ctx context.Context, order domain.Order) (domain.PaymentResult, error) {
	var result domain.PaymentResult
	err := g.executeWithRetry(ctx, "refund", order.ID, func() error {
		var err error
		result, err = g.next.Refund(ctx, order)
		return err
	})
	return result, err
}

func (g *ResilientGateway) executeWithRetry(ctx context.Context, operation, orderID string, fn func() error) error {
	var lastErr error
	delay := g.retry.InitialDelay

	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		err := g.call(operation, fn)
		if err == nil {
			if attempt > 1 {
				g.logger.WithFields(log.Fields{
					"operation": operation,
					"order_id":  orderID,
					"attempt":   attempt,
				}).Info("payment call succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if !shouldRetry(err) {
			return err
		}
		if attempt == g.retry.MaxAttempts {
			break
		}

		g.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"order_id":  orderID,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("payment call failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * g.retry.BackoffFactor)
		if g.retry.MaxDelay > 0 && delay > g.retry.MaxDelay {
			delay = g.retry.MaxDelay
		}
	}

	g.logger.WithError(lastErr).WithFields(log.Fields{
		"operation":    operation,
		"order_id":     orderID,
		"max_attempts": g.retry.MaxAttempts,
	}).Error("payment call failed after all retry attempts")
	return lastErr
}

func (g *ResilientGateway) call(operation string, fn func() error) error {
	if g.breaker == nil {
		return fn()
	}
	return g.breaker.Execute(operation, fn, countsAsGatewayFailure)
}

// shouldRetry повторяет только временные ошибки провайдера.
func shouldRetry(err error) bool {
	return errors.Is(err, domain.ErrPaymentTemporary)
}

// countsAsGatewayFailure — отказ в платеже говорит о покупателе, а не о шлюзе.
func countsAsGatewayFailure(err error) bool {
	return !errors.Is(err, domain.ErrPaymentDeclined)
}

var _ domain.PaymentGateway = (*ResilientGateway)(nil)
