package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// DeadLetter — содержимое сообщения в DLQ: исходное событие и причина, по которой
// его не удалось опубликовать.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// ErrDeadLetterPayloadMissing — в DLQ-сообщении нет исходного payload.
var ErrDeadLetterPayloadMissing = errors.New("dead letter does not contain original payload")

func newDeadLetter(msg domain.OutboxMessage, cause error, at time.Time) DeadLetter {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		// Не-JSON payload сохраняется строкой, чтобы DLQ-сообщение оставалось валидным.
		quoted, _ := json.Marshal(string(msg.Payload))
		payload = quoted
	}
	return DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        payload,
		PublishError:   cause.Error(),
		DLQPublishedAt: at.UTC(),
	}
}

// DecodeDeadLetter разбирает DLQ-сообщение.
func DecodeDeadLetter(data []byte) (DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return DeadLetter{}, err
	}
	if len(dl.Payload) == 0 || string(dl.Payload) == "null" {
		return DeadLetter{}, ErrDeadLetterPayloadMissing
	}
	return dl, nil
}

// Message восстанавливает исходное outbox-сообщение для повторной публикации.
func (d DeadLetter) Message() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       append([]byte(nil), d.Payload...),
	}
}
