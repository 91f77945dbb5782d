package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func headerMap(msg *sarama.ProducerMessage) map[string]string {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	return headers
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	publishedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			t.Errorf("unexpected topic %q", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "order-123" {
			t.Errorf("expected aggregate id as key, got %q", key)
		}
		headers := headerMap(msg)
		if headers[HeaderEventType] != domain.EventTypeOrderPlaced || headers[HeaderAggregateType] != domain.AggregateTypeOrder {
			t.Errorf("unexpected headers %v", headers)
		}

		value, _ := msg.Value.Encode()
		var envelope Envelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.ID != "outbox-1" || envelope.EventType != domain.EventTypeOrderPlaced {
			t.Errorf("unexpected envelope %+v", envelope)
		}
		if string(envelope.Payload) != `{"order_id":"order-123"}` {
			t.Errorf("unexpected payload %s", envelope.Payload)
		}
		if !envelope.PublishedAt.Equal(publishedAt) {
			t.Errorf("unexpected published_at %s", envelope.PublishedAt)
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, "")
	publisher.now = func() time.Time { return publishedAt }

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(`{"order_id":"order-123"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(producer, TopicOrderEvents)

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-234",
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestDLQPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	failedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			t.Errorf("unexpected topic %q", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "outbox-4" {
			t.Errorf("expected outbox id as key without aggregate id, got %q", key)
		}
		headers := headerMap(msg)
		if headers[HeaderOriginalTopic] != TopicOrderEvents {
			t.Errorf("unexpected original topic header %v", headers)
		}
		if headers[HeaderFailedAt] != failedAt.Format(time.RFC3339Nano) {
			t.Errorf("unexpected failed_at header %v", headers)
		}
		value, _ := msg.Value.Encode()
		if string(value) != `{"publish_error":"boom"}` {
			t.Errorf("payload must be forwarded as is, got %s", value)
		}
		return nil
	})

	publisher := NewDLQPublisher(producer, "", "")
	publisher.now = func() time.Time { return failedAt }

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:        "outbox-4",
		EventType: domain.EventTypeOrderPlaced,
		Payload:   []byte(`{"publish_error":"boom"}`),
	})
	if err != nil {
		t.Fatalf("dlq publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewEnvelope_EmptyPayload(t *testing.T) {
	t.Parallel()

	envelope := NewEnvelope(domain.OutboxMessage{ID: "outbox-5"}, time.Now())
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if decoded["payload"] != nil {
		t.Fatalf("expected null payload, got %v", decoded["payload"])
	}
}
