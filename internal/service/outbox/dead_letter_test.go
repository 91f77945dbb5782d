package outbox

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestDecodeDeadLetter(t *testing.T) {
	dl, err := DecodeDeadLetter([]byte(`{
		"outbox_id": "evt-1",
		"aggregate_type": "order",
		"aggregate_id": "order-1",
		"event_type": "OrderPlaced",
		"payload": {"order_id": "order-1"},
		"publish_error": "broker unavailable"
	}`))
	if err != nil {
		t.Fatalf("DecodeDeadLetter failed: %v", err)
	}

	msg := dl.Message()
	if msg.ID != "evt-1" || msg.AggregateID != "order-1" || msg.EventType != "OrderPlaced" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if string(msg.Payload) != `{"order_id": "order-1"}` {
		t.Fatalf("unexpected payload: %s", msg.Payload)
	}
}

func TestDecodeDeadLetter_Errors(t *testing.T) {
	if _, err := DecodeDeadLetter([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}

	_, err := DecodeDeadLetter([]byte(`{"outbox_id":"evt-1","payload":null}`))
	if !errors.Is(err, ErrDeadLetterPayloadMissing) {
		t.Fatalf("expected ErrDeadLetterPayloadMissing, got %v", err)
	}
}

func TestNewDeadLetter_NonJSONPayloadStaysDecodable(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	letter := newDeadLetter(domain.OutboxMessage{ID: "evt-2", Payload: []byte("not json")}, errors.New("boom"), at)

	body, err := json.Marshal(letter)
	if err != nil {
		t.Fatalf("marshal dead letter: %v", err)
	}
	decoded, err := DecodeDeadLetter(body)
	if err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if string(decoded.Payload) != `"not json"` {
		t.Fatalf("payload must be kept as JSON string, got %s", decoded.Payload)
	}
	if decoded.PublishError != "boom" || !decoded.DLQPublishedAt.Equal(at) || decoded.DLQPublishedAt.Location() != time.UTC {
		t.Fatalf("unexpected dead letter %+v", decoded)
	}
}
