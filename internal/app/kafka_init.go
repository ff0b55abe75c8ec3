package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если заданы брокеры.
// Возвращает nil, nil при пустом списке брокеров.
func initKafkaProducer(brokers []string, clientID string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, clientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initRegistrationConsumer подписывается на события о созданных сущностях.
// Без producer сообщения с ошибкой не уходят в DLQ, а только логируются.
func initRegistrationConsumer(cfg Config, linker kafka.Linker, producer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	consumerLogger := logger.WithField("layer", "registration-consumer")
	options := []kafka.ConsumerOption{kafka.WithConsumerLogger(consumerLogger)}
	if producer != nil {
		options = append(options, kafka.WithDLQ(producer))
	}

	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaConsumerGroup,
		[]string{cfg.KafkaRegistrationTopic},
		kafka.NewRegistrationHandler(linker, consumerLogger),
		options...,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, registration events are disabled")
		return nil, err
	}
	return consumer, nil
}

// closeKafkaProducer закрывает producer, если он не nil.
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

// stopKafkaConsumer останавливает consumer, если он не nil.
func stopKafkaConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}

	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
