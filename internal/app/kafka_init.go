package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/health"
	"github.com/vladislavdragonenkov/stockflow/internal/messaging/kafka"
)

var errKafkaUnavailable = errors.New("kafka producer is not initialized")

// kafkaRuntime — producer, издатели outbox и consumer корректировок склада.
type kafkaRuntime struct {
	producer  *kafka.Producer
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	consumer  *kafka.Consumer
}

// initKafka подключается к брокерам из cfg. Без брокеров возвращает nil, nil.
// Ошибка подключения не фатальна: сервис продолжает работу без Kafka.
func initKafka(cfg Config, deps *Dependencies, logger *log.Entry) (*kafkaRuntime, error) {
	if !cfg.KafkaEnabled() {
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		deps.Health.RegisterChecker("kafka", health.NewOptionalChecker("kafka", func(context.Context) error {
			return errKafkaUnavailable
		}))
		return nil, err
	}
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

	rt := &kafkaRuntime{
		producer:  producer,
		publisher: kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		dlq:       kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}

	handler := kafka.NewStockAdjustmentHandler(deps.Inventory, logger.WithField("component", "stock-adjustments"))
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, []string{cfg.KafkaAdjustmentsTopic}, handler,
		kafka.WithDLQ(producer),
		kafka.WithMaxAttempts(cfg.KafkaMaxAttempts),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, stock adjustments are disabled")
	} else {
		rt.consumer = consumer
	}

	deps.Health.RegisterChecker("kafka", health.NewOptionalChecker("kafka", func(context.Context) error {
		if rt.producer == nil {
			return errKafkaUnavailable
		}
		return nil
	}))
	return rt, nil
}

// close останавливает consumer и закрывает producer.
func (rt *kafkaRuntime) close(logger *log.Entry) {
	if rt == nil {
		return
	}
	if rt.consumer != nil {
		if err := rt.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	if rt.producer == nil {
		return
	}
	if err := rt.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
