package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// DefaultQueue — очередь событий заказа по умолчанию.
const DefaultQueue = "orderflow.order.events"

// channel — часть *amqp.Channel, которой пользуется publisher.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// OutboxPublisher публикует outbox-сообщения в durable очередь RabbitMQ
// через default exchange.
type OutboxPublisher struct {
	conn    *amqp.Connection
	channel channel
	queue   string
	logger  *log.Entry
	now     func() time.Time
}

// Dial подключается к брокеру, открывает канал и объявляет очередь.
func Dial(url, queue string) (*OutboxPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	publisher, err := newPublisher(ch, queue, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

func newPublisher(ch channel, queue string, logger *log.Entry) (*OutboxPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	return &OutboxPublisher{
		channel: ch,
		queue:   queue,
		logger:  logger,
		now:     time.Now,
	}, nil
}

type envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Publish отправляет persistent-сообщение. MessageId совпадает с id outbox-записи,
// по нему потребитель отбрасывает повторы.
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.channel == nil {
		return fmt.Errorf("rabbitmq outbox publisher is not initialized")
	}

	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	now := p.now().UTC()
	body, err := json.Marshal(envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal outbox envelope: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Type:         event.EventType,
			Timestamp:    now,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"queue":     p.queue,
			"outbox_id": event.ID,
		}).Error("failed to publish message to rabbitmq")
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"queue":     p.queue,
		"outbox_id": event.ID,
	}).Debug("message published to rabbitmq")
	return nil
}

// Close закрывает канал и соединение.
func (p *OutboxPublisher) Close() error {
	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close rabbitmq channel: %w", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close rabbitmq connection: %w", err)
		}
	}
	return firstErr
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
