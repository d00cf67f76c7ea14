package lifecycle

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	"github.com/vladislavdragonenkov/campusmart/internal/messaging/kafka"
)

// AggregateTypeOrder — тип агрегата событий заказа в outbox.
const AggregateTypeOrder = "order"

// emit фиксирует событие в outbox и timeline и публикует его в Kafka.
// Сбои здесь только логируются: изменение заказа уже сохранено.
func (s *Service) emit(order *domain.Order, eventType kafka.EventType, reason string, metadata map[string]interface{}) {
	occurred := order.UpdatedAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	payload := make(map[string]interface{}, len(metadata)+6)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["order_id"] = order.ID
	payload["number"] = order.Number
	payload["status"] = string(order.Status)
	payload["version"] = order.Version
	payload["ts"] = occurred.Format(time.RFC3339Nano)
	if reason != "" {
		payload["reason"] = reason
	}

	fields := log.Fields{"order_id": order.ID, "event": eventType}

	if s.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		} else if _, err := s.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: AggregateTypeOrder,
			AggregateID:   order.ID,
			EventType:     string(eventType),
			Payload:       data,
		}); err != nil {
			s.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
		} else {
			s.metrics.RecordOutboxEvent()
		}
	}

	if s.timeline != nil {
		event := domain.NewTimelineEvent(order.ID, string(eventType), reason, occurred, s.now())
		if err := s.timeline.Append(event); err != nil {
			s.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		} else {
			s.metrics.RecordTimelineEvent()
		}
	}

	if s.events != nil {
		event := kafka.NewOrderEvent(eventType, order.ID, order.BuyerID, order.StoreID, string(order.Status), metadata)
		event.Number = order.Number
		event.Timestamp = occurred
		if err := s.events.PublishOrderEvent(event); err != nil {
			s.logger.WithError(err).WithFields(fields).Warn("failed to publish lifecycle event to kafka")
		}
	}
}
