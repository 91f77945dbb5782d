package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type fakeChannel struct {
	declared   []string
	declareErr error
	publishErr error
	published  []amqp.Publishing
	keys       []string
	closed     bool
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.publishErr != nil {
		return c.publishErr
	}
	if exchange != "" {
		return errors.New("default exchange expected")
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestNewPublisher_DeclaresDefaultQueue(t *testing.T) {
	ch := &fakeChannel{}
	if _, err := newPublisher(ch, "", nil); err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != DefaultQueue {
		t.Fatalf("expected %s to be declared, got %v", DefaultQueue, ch.declared)
	}
}

func TestNewPublisher_DeclareError(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	if _, err := newPublisher(ch, "orders", nil); err == nil {
		t.Fatal("expected declare error")
	}
}

func TestPublish(t *testing.T) {
	ch := &fakeChannel{}
	publisher, err := newPublisher(ch, "orders", nil)
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	publishedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return publishedAt }

	err = publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(`{"order_id":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(ch.published) != 1 || ch.keys[0] != "orders" {
		t.Fatalf("expected one message routed to orders, got %v", ch.keys)
	}
	msg := ch.published[0]
	if msg.MessageId != "outbox-1" || msg.Type != domain.EventTypeOrderPlaced {
		t.Fatalf("unexpected message properties: id=%q type=%q", msg.MessageId, msg.Type)
	}
	if msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("expected persistent delivery, got %d", msg.DeliveryMode)
	}

	var body envelope
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.AggregateID != "order-1" || string(body.Payload) != `{"order_id":"order-1"}` {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	if !body.PublishedAt.Equal(publishedAt) {
		t.Fatalf("unexpected published_at: %s", body.PublishedAt)
	}
}

func TestPublish_Error(t *testing.T) {
	ch := &fakeChannel{publishErr: amqp.ErrClosed}
	publisher, err := newPublisher(ch, "orders", nil)
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}

	err = publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-2"})
	if !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPublish_CanceledContext(t *testing.T) {
	ch := &fakeChannel{}
	publisher, err := newPublisher(ch, "orders", nil)
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publisher.Publish(ctx, domain.OutboxMessage{ID: "outbox-3"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPublish_NotInitialized(t *testing.T) {
	var publisher *OutboxPublisher
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{}); err == nil {
		t.Fatal("expected error for nil publisher")
	}
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	publisher, err := newPublisher(ch, "orders", nil)
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ch.closed {
		t.Fatal("channel must be closed")
	}
}
