package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const producerClientID = "campusmart-storefront"

// Producer представляет Kafka producer для публикации событий
type Producer struct {
	producer    sarama.SyncProducer
	logger      *log.Entry
	eventsTopic string
}

// NewProducer создает Kafka producer. eventsTopic используется PublishOrderEvent.
func NewProducer(brokers []string, eventsTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = producerClientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1 // требование идемпотентного producer

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFromSync(producer, eventsTopic), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer (в том числе mocks).
func NewProducerFromSync(producer sarama.SyncProducer, eventsTopic string) *Producer {
	if eventsTopic == "" {
		eventsTopic = TopicLifecycleEvents
	}
	return &Producer{
		producer:    producer,
		logger:      log.WithField("component", "kafka-producer"),
		eventsTopic: eventsTopic,
	}
}

// PublishOrderEvent публикует событие заказа; ключ сообщения — id заказа,
// поэтому события одного заказа попадают в одну партицию.
func (p *Producer) PublishOrderEvent(event *OrderEvent) error {
	if event == nil {
		return fmt.Errorf("order event is nil")
	}
	topic := p.eventsTopic
	if topic == "" {
		topic = TopicLifecycleEvents
	}
	return p.PublishEvent(topic, event.OrderID, event)
}

// PublishEvent публикует событие в Kafka
func (p *Producer) PublishEvent(topic string, key string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.send(topic, key, eventData, nil)
}

func (p *Producer) send(topic, key string, value []byte, headers []sarama.RecordHeader) error {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

// Replay публикует сообщение, восстановленное из DLQ, вместе с его заголовками.
func (p *Producer) Replay(msg ReplayMessage) error {
	if msg.Topic == "" {
		return fmt.Errorf("replay topic is empty")
	}
	return p.send(msg.Topic, msg.Key, msg.Value, msg.Headers)
}
