package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// EventType определяет тип события жизненного цикла заказа.
type EventType string

const (
	EventTypeOrderPlaced          EventType = "order.placed"
	EventTypeOrderPaid            EventType = "order.paid"
	EventTypeOrderStatusChanged   EventType = "order.status_changed"
	EventTypeOrderCanceled        EventType = "order.canceled"
	EventTypeOrderRefundRequested EventType = "order.refund_requested"
	EventTypeOrderRefundRejected  EventType = "order.refund_rejected"
	EventTypeOrderRefunded        EventType = "order.refunded"
	EventTypeOrderDisputed        EventType = "order.disputed"
	EventTypeEscrowReleased       EventType = "escrow.released"
	EventTypePaymentReversed      EventType = "payment.reversed"
)

// Topics для Kafka. В order.events ретранслируется outbox (гарантированная доставка),
// в order.lifecycle сервис публикует события напрямую по мере изменений.
const (
	TopicOrderEvents      = "campusmart.order.events"
	TopicLifecycleEvents  = "campusmart.order.lifecycle"
	TopicPaymentCallbacks = "campusmart.payment.callbacks"
	TopicDeadLetterQueue  = "campusmart.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие заказа.
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	Number    string                 `json:"number,omitempty"`
	BuyerID   string                 `json:"buyer_id"`
	StoreID   string                 `json:"store_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, buyerID, storeID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		BuyerID:   buyerID,
		StoreID:   storeID,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// Статусы, которые присылает платёжный шлюз.
const (
	PaymentCallbackSucceeded = "succeeded"
	PaymentCallbackFailed    = "failed"
)

// PaymentCallback — уведомление платёжного шлюза об исходе списания.
type PaymentCallback struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
}

// Succeeded сообщает, подтверждено ли списание.
func (c PaymentCallback) Succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(c.Status), PaymentCallbackSucceeded)
}

// ParseOrderEvent парсит OrderEvent из сообщения
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return &event, nil
}

// ParsePaymentCallback парсит уведомление шлюза и проверяет обязательные поля.
func ParsePaymentCallback(message *sarama.ConsumerMessage) (PaymentCallback, error) {
	var callback PaymentCallback
	if err := json.Unmarshal(message.Value, &callback); err != nil {
		return PaymentCallback{}, fmt.Errorf("failed to unmarshal payment callback: %w", err)
	}
	callback.OrderID = strings.TrimSpace(callback.OrderID)
	if callback.OrderID == "" {
		return PaymentCallback{}, fmt.Errorf("payment callback without order_id")
	}
	return callback, nil
}
