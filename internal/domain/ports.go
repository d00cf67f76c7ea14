package domain

import (
	"context"
	"time"
)

// ProductCatalog — каталог товаров витрины.
type ProductCatalog interface {
	// Product возвращает актуальный снимок товара или ErrProductNotFound.
	Product(ctx context.Context, productID string) (Product, error)
}

// InventoryService описывает взаимодействие со складскими остатками магазинов.
type InventoryService interface {
	// Reserve списывает остаток под заказ.
	Reserve(ctx context.Context, orderID string, items []OrderItem) error
	// Release возвращает остаток (компенсация при отмене).
	Release(ctx context.Context, orderID string, items []OrderItem) error
}

// PaymentGateway описывает взаимодействие с платёжным провайдером.
type PaymentGateway interface {
	// Charge инициирует списание средств по заказу.
	Charge(ctx context.Context, order Order, selection PaymentSelection) (PaymentResult, error)
	// Refund возвращает средства по заказу.
	Refund(ctx context.Context, order Order) (PaymentResult, error)
}

// SessionProvider отдаёт сессию текущего пользователя.
type SessionProvider interface {
	Session(ctx context.Context) Session
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// LifecycleOp задаёт константы операций жизненного цикла для метрик/логов.
type LifecycleOp string

const (
	LifecycleOpPlace         LifecycleOp = "place"
	LifecycleOpPay           LifecycleOp = "pay"
	LifecycleOpProcess       LifecycleOp = "process"
	LifecycleOpShip          LifecycleOp = "ship"
	LifecycleOpDeliver       LifecycleOp = "deliver"
	LifecycleOpConfirm       LifecycleOp = "confirm"
	LifecycleOpCancel        LifecycleOp = "cancel"
	LifecycleOpRefundRequest LifecycleOp = "refund_request"
	LifecycleOpRefund        LifecycleOp = "refund"
	LifecycleOpDispute       LifecycleOp = "dispute"
	LifecycleOpRelease       LifecycleOp = "release"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
