package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// ErrNotDLQRecord — значение не похоже ни на одну из известных форм DLQ-записи.
var ErrNotDLQRecord = errors.New("message is not a dlq record")

// ReplayMessage — исходное сообщение, восстановленное из DLQ.
type ReplayMessage struct {
	Topic       string
	Key         string
	Value       []byte
	EventType   string
	AggregateID string
	FailReason  string
	Headers     []sarama.RecordHeader
}

// consumerDLQRecord пишет Consumer.sendToDLQ.
type consumerDLQRecord struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
	ErrorMessage  string `json:"error_message"`
	RetryCount    int    `json:"retry_count"`
}

// outboxDLQRecord — полезная нагрузка, которую outbox worker кладёт в конверт.
type outboxDLQRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// DecodeDLQMessage разбирает DLQ-запись в сообщение для повторной публикации.
// Записи consumer возвращаются в исходный topic, записи outbox в outboxTopic.
func DecodeDLQMessage(value []byte, outboxTopic string) (ReplayMessage, error) {
	var consumed consumerDLQRecord
	if err := json.Unmarshal(value, &consumed); err == nil && consumed.OriginalValue != "" {
		return decodeConsumerRecord(consumed, outboxTopic), nil
	}

	var envelope outboxEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return ReplayMessage{}, ErrNotDLQRecord
	}

	var record outboxDLQRecord
	if err := json.Unmarshal(envelope.Payload, &record); err != nil {
		return ReplayMessage{}, fmt.Errorf("decode outbox dlq record: %w", err)
	}
	if len(record.Payload) == 0 {
		return ReplayMessage{}, fmt.Errorf("outbox dlq record %s has no original payload", envelope.ID)
	}

	restored := outboxEnvelope{
		ID:            firstNonEmpty(record.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(record.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(record.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(record.EventType, envelope.EventType),
		Payload:       record.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(restored)
	if err != nil {
		return ReplayMessage{}, fmt.Errorf("encode outbox envelope: %w", err)
	}

	if outboxTopic == "" {
		outboxTopic = TopicOrderEvents
	}
	return ReplayMessage{
		Topic:       outboxTopic,
		Key:         firstNonEmpty(restored.AggregateID, restored.ID),
		Value:       data,
		EventType:   restored.EventType,
		AggregateID: restored.AggregateID,
		FailReason:  record.PublishError,
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(restored.EventType)},
			{Key: []byte(HeaderOutboxID), Value: []byte(restored.ID)},
		},
	}, nil
}

func decodeConsumerRecord(record consumerDLQRecord, fallbackTopic string) ReplayMessage {
	topic := strings.TrimSpace(record.OriginalTopic)
	if topic == "" {
		topic = fallbackTopic
	}

	// Тип события и заказ берём из тела, если это событие заказа.
	var probe struct {
		EventType string `json:"event_type"`
		OrderID   string `json:"order_id"`
	}
	_ = json.Unmarshal([]byte(record.OriginalValue), &probe)

	return ReplayMessage{
		Topic:       topic,
		Key:         record.OriginalKey,
		Value:       []byte(record.OriginalValue),
		EventType:   probe.EventType,
		AggregateID: firstNonEmpty(probe.OrderID, record.OriginalKey),
		FailReason:  record.ErrorMessage,
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(record.RetryCount))},
			{Key: []byte(HeaderOriginalTopic), Value: []byte(topic)},
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
