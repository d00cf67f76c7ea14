package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы.
// Без брокеров возвращает nil, nil: сервис работает без Kafka.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, cfg.KafkaLifecycleTopic)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// startPaymentCallbacks подписывается на уведомления платёжного шлюза.
// Возвращает функцию остановки; без Kafka это пустая функция.
func startPaymentCallbacks(ctx context.Context, cfg Config, confirmer kafka.PaymentConfirmer, dlq *kafka.Producer, logger *log.Entry) (func(), error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return func() {}, nil
	}

	topic := cfg.KafkaPaymentsTopic
	if topic == "" {
		topic = kafka.TopicPaymentCallbacks
	}
	group := cfg.KafkaConsumerGroup
	if group == "" {
		group = "campusmart-storefront"
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  brokers,
		GroupID:  group,
		Topics:   []string{topic},
		DLQTopic: cfg.KafkaDLQTopic,
	}, kafka.NewPaymentCallbackHandler(confirmer, logger.WithField("layer", "payment-callbacks")), dlq)
	if err != nil {
		return nil, err
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	if err := consumer.Start(consumerCtx); err != nil {
		cancel()
		return nil, err
	}
	logger.WithFields(log.Fields{"topic": topic, "group": group}).Info("payment callback consumer started")

	return func() {
		cancel()
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop payment callback consumer")
		}
	}, nil
}

// closeKafkaProducer закрывает producer, если он создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
