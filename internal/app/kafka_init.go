package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если заданы брокеры.
// Пустой список брокеров возвращает nil, nil: сервис работает без Kafka.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initGatewayConsumer подписывается на события провайдера, пересланные в Kafka.
func initGatewayConsumer(cfg Config, handler kafka.WebhookHandler, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 || cfg.KafkaGatewayTopic == "" {
		return nil, nil
	}

	consumerLogger := logger.WithField("component", "gateway-consumer")
	opts := []kafka.ConsumerOption{kafka.WithConsumerLogger(consumerLogger)}
	if dlq != nil {
		opts = append(opts, kafka.WithDLQ(dlq), kafka.WithDLQTopic(cfg.KafkaDLQTopic))
	}

	return kafka.NewConsumer(
		brokers,
		cfg.KafkaConsumerGroup,
		[]string{cfg.KafkaGatewayTopic},
		kafka.GatewayEventHandler(handler, consumerLogger),
		opts...,
	)
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
