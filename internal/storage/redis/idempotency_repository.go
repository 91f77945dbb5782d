package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const (
	defaultKeyPrefix = "orderflow:idempotency:"
	minRecordTTL     = time.Second
)

// IdempotencyRepository хранит записи идемпотентности как JSON с TTL.
// Истёкшие ключи удаляет сам Redis, поэтому DeleteExpired ничего не делает.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	prefix string
}

// NewIdempotencyRepository создаёт репозиторий поверх клиента Redis.
func NewIdempotencyRepository(client goredis.UniversalClient) *IdempotencyRepository {
	return &IdempotencyRepository{client: client, prefix: defaultKeyPrefix}
}

func (r *IdempotencyRepository) key(k string) string {
	return r.prefix + k
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	return claimKey(record,
		func() (bool, error) {
			return r.client.SetNX(ctx, r.key(key), data, recordTTL(ttlAt, now)).Result()
		},
		func() (domain.IdempotencyRecord, error) { return r.Get(ctx, key) },
	)
}

// claimAttempts: ключ может истечь между SETNX и GET, тогда SETNX повторяется.
const claimAttempts = 2

// claimKey занимает ключ через setNX, а при неудаче читает существующую запись
// и решает, повтор это или конфликт.
func claimKey(
	record domain.IdempotencyRecord,
	setNX func() (bool, error),
	get func() (domain.IdempotencyRecord, error),
) (domain.IdempotencyRecord, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		created, err := setNX()
		if err != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
		}
		if created {
			return record, nil
		}

		existing, err := get()
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			continue
		}
		if err != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("load idempotency record %s: %w", record.Key, err)
		}
		if existing.RequestHash != record.RequestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}
	return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %s: key expired between SETNX and GET %d times", record.Key, claimAttempts)
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	var record domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	if _, err := domain.ParseIdempotencyStatus(string(record.Status)); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency record %s: %w", key, err)
	}
	return record, nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired ничего не удаляет: срок жизни ключей контролирует Redis.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping проверяет доступность Redis.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	record, err := r.Get(ctx, key)
	if err != nil {
		return err
	}

	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	// SET XX KEEPTTL: запись обновляется, только если ключ ещё не истёк.
	ok, err := r.client.SetXX(ctx, r.key(record.Key), data, goredis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func recordTTL(ttlAt, now time.Time) time.Duration {
	ttl := ttlAt.Sub(now)
	if ttl < minRecordTTL {
		return minRecordTTL
	}
	return ttl
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
