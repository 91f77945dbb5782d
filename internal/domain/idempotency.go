package domain

import (
	"fmt"
	"net/http"
	"time"
)

// IdempotencyStatus — стадия обработки запроса с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed — обработка завершилась клиентской или серверной ошибкой;
	// ответ сохранён и отдаётся повторно так же, как успешный.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// ParseIdempotencyStatus разбирает статус, прочитанный из хранилища.
func ParseIdempotencyStatus(raw string) (IdempotencyStatus, error) {
	switch status := IdempotencyStatus(raw); status {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown idempotency status %q", raw)
	}
}

// StatusForResponse выбирает финальный статус записи по HTTP-коду ответа.
func StatusForResponse(httpStatus int) IdempotencyStatus {
	if httpStatus >= http.StatusOK && httpStatus < http.StatusMultipleChoices {
		return IdempotencyStatusDone
	}
	return IdempotencyStatusFailed
}

// IdempotencyRecord — сохранённое состояние POST /v1/orders по ключу.
type IdempotencyRecord struct {
	Key          string            `json:"key"`
	RequestHash  string            `json:"request_hash"`
	ResponseBody []byte            `json:"response_body,omitempty"`
	HTTPStatus   int               `json:"http_status"`
	Status       IdempotencyStatus `json:"status"`
	TTLAt        time.Time         `json:"ttl_at"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewProcessingRecord создаёт запись в статусе processing.
func NewProcessingRecord(key, requestHash string, ttlAt, now time.Time) IdempotencyRecord {
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Replayable сообщает, что ответ сохранён целиком и его можно отдать повторно.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status != IdempotencyStatusProcessing && r.HTTPStatus != 0
}

// Expired: запись с нулевым TTLAt не истекает никогда.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	if r.TTLAt.IsZero() {
		return false
	}
	return !now.Before(r.TTLAt)
}
