package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func headerValue(headers []sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestDecodeDLQMessage_ConsumerRecord(t *testing.T) {
	original := NewOrderEvent(EventTypeOrderPaid, "order-1", "buyer-1", "store-1", "paid", nil)
	originalValue, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(map[string]any{
		"original_topic": TopicPaymentCallbacks,
		"original_key":   "order-1",
		"original_value": string(originalValue),
		"error_message":  "order not found",
		"retry_count":    2,
	})
	if err != nil {
		t.Fatal(err)
	}

	msg, err := DecodeDLQMessage(raw, TopicOrderEvents)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Topic != TopicPaymentCallbacks || msg.Key != "order-1" {
		t.Fatalf("unexpected routing: %+v", msg)
	}
	if string(msg.Value) != string(originalValue) {
		t.Fatalf("original value must be restored verbatim, got %s", msg.Value)
	}
	if msg.EventType != string(EventTypeOrderPaid) || msg.AggregateID != "order-1" {
		t.Fatalf("unexpected event metadata: %+v", msg)
	}
	if msg.FailReason != "order not found" {
		t.Fatalf("unexpected fail reason: %q", msg.FailReason)
	}
	if got := headerValue(msg.Headers, HeaderRetryCount); got != "2" {
		t.Fatalf("retry count header = %q", got)
	}
}

func TestDecodeDLQMessage_ConsumerRecordWithoutTopic(t *testing.T) {
	raw := []byte(`{"original_key":"k","original_value":"{}"}`)

	msg, err := DecodeDLQMessage(raw, "fallback")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Topic != "fallback" || msg.AggregateID != "k" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestDecodeDLQMessage_OutboxRecord(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-7",
		"event_type":     "order.shipped",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "order",
			"aggregate_id":   "order-7",
			"event_type":     "order.shipped",
			"payload":        map[string]any{"status": "shipped"},
			"publish_error":  "broker unavailable",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	msg, err := DecodeDLQMessage(raw, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Topic != TopicOrderEvents || msg.Key != "order-7" {
		t.Fatalf("unexpected routing: %+v", msg)
	}
	if msg.FailReason != "broker unavailable" || msg.EventType != "order.shipped" {
		t.Fatalf("unexpected metadata: %+v", msg)
	}
	if got := headerValue(msg.Headers, HeaderOutboxID); got != "outbox-1" {
		t.Fatalf("outbox id header = %q", got)
	}

	var restored outboxEnvelope
	if err := json.Unmarshal(msg.Value, &restored); err != nil {
		t.Fatal(err)
	}
	if string(restored.Payload) != `{"status":"shipped"}` {
		t.Fatalf("original payload must be unwrapped, got %s", restored.Payload)
	}
	if time.Since(restored.PublishedAt) > time.Minute {
		t.Fatalf("published_at must be refreshed: %v", restored.PublishedAt)
	}
}

func TestDecodeDLQMessage_Rejects(t *testing.T) {
	if _, err := DecodeDLQMessage([]byte(`not json`), ""); !errors.Is(err, ErrNotDLQRecord) {
		t.Fatalf("expected ErrNotDLQRecord, got %v", err)
	}
	if _, err := DecodeDLQMessage([]byte(`{"id":"x"}`), ""); !errors.Is(err, ErrNotDLQRecord) {
		t.Fatalf("expected ErrNotDLQRecord for envelope without payload, got %v", err)
	}

	_, err := DecodeDLQMessage([]byte(`{"id":"x","payload":"not-an-object"}`), "")
	if err == nil || errors.Is(err, ErrNotDLQRecord) {
		t.Fatalf("expected decode error, got %v", err)
	}

	_, err = DecodeDLQMessage([]byte(`{"id":"x","payload":{"outbox_id":"x"}}`), "")
	if err == nil {
		t.Fatal("expected error for record without original payload")
	}
}

func TestProducer_Replay(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicPaymentCallbacks {
			t.Errorf("unexpected topic %s", msg.Topic)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderRetryCount {
			t.Errorf("headers must be forwarded: %+v", msg.Headers)
		}
		return nil
	})

	producer := NewProducerFromSync(mockProducer, "")
	err := producer.Replay(ReplayMessage{
		Topic:   TopicPaymentCallbacks,
		Key:     "order-1",
		Value:   []byte(`{}`),
		Headers: []sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("1")}},
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if err := producer.Replay(ReplayMessage{}); err == nil {
		t.Fatal("expected error for empty topic")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
