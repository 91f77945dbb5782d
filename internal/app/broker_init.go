package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/rabbitmq"
)

// outboxPublishers — куда outbox worker отправляет события.
type outboxPublishers struct {
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	closeFn   func() error
}

// initOutboxPublishers подключается к брокеру из конфигурации.
// Если брокер недоступен, сервис продолжает работу: события копятся в outbox
// и будут отправлены после перезапуска с рабочим брокером.
func initOutboxPublishers(cfg Config, logger *log.Entry) outboxPublishers {
	var (
		publishers outboxPublishers
		err        error
	)

	switch cfg.OutboxBroker {
	case OutboxBrokerKafka:
		publishers, err = initKafkaPublishers(cfg)
	case OutboxBrokerRabbitMQ:
		publishers, err = initRabbitMQPublisher(cfg)
	default:
		logger.Info("outbox broker is not configured, events stay in outbox")
		return outboxPublishers{}
	}
	if err != nil {
		logger.WithError(err).WithField("broker", cfg.OutboxBroker).Warn("failed to connect outbox broker, continuing without publisher")
		return outboxPublishers{}
	}

	logger.WithField("broker", cfg.OutboxBroker).Info("outbox publisher initialized")
	return publishers
}

func initKafkaPublishers(cfg Config) (outboxPublishers, error) {
	producer, err := kafka.NewProducer(splitList(cfg.KafkaBrokers), kafka.WithClientID("orderflow-order-service"))
	if err != nil {
		return outboxPublishers{}, err
	}
	publishers := outboxPublishers{
		publisher: kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		closeFn:   producer.Close,
	}
	if cfg.KafkaDLQTopic != "" {
		publishers.dlq = kafka.NewDLQPublisher(producer, cfg.KafkaDLQTopic, cfg.KafkaTopic)
	}
	return publishers, nil
}

func initRabbitMQPublisher(cfg Config) (outboxPublishers, error) {
	publisher, err := rabbitmq.Dial(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	if err != nil {
		return outboxPublishers{}, fmt.Errorf("rabbitmq: %w", err)
	}
	return outboxPublishers{
		publisher: publisher,
		closeFn:   publisher.Close,
	}, nil
}

// close закрывает соединение с брокером, если оно было открыто.
func (p outboxPublishers) close(logger *log.Entry) {
	if p.closeFn == nil {
		return
	}
	if err := p.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close outbox publisher")
	} else {
		logger.Info("outbox publisher closed")
	}
}
