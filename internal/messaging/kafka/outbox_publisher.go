package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

// Publish отправляет сообщение в виде Envelope; ключ партиционирования — id агрегата.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
	}
	return p.producer.PublishEvent(ctx, p.topic, messageKey(event), NewEnvelope(event, p.now()), headers)
}

// DLQPublisher складывает недоставленные outbox-сообщения в dead letter topic.
// Payload уже содержит описание ошибки и публикуется как есть.
type DLQPublisher struct {
	producer      *Producer
	topic         string
	originalTopic string
	now           func() time.Time
}

// NewDLQPublisher создаёт publisher для DLQ. originalTopic попадает в заголовок.
func NewDLQPublisher(producer *Producer, topic, originalTopic string) *DLQPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	if originalTopic == "" {
		originalTopic = TopicOrderEvents
	}
	return &DLQPublisher{
		producer:      producer,
		topic:         topic,
		originalTopic: originalTopic,
		now:           time.Now,
	}
}

func (p *DLQPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOriginalTopic: p.originalTopic,
		HeaderFailedAt:      p.now().UTC().Format(time.RFC3339Nano),
	}
	return p.producer.Send(ctx, p.topic, messageKey(event), event.Payload, headers)
}

var (
	_ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
	_ domain.OutboxPublisher = (*DLQPublisher)(nil)
)
