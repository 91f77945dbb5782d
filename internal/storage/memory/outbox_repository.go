package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg       domain.OutboxMessage
	status    string
	createdAt time.Time
	updatedAt time.Time
}

// OutboxRepository — in-memory хранилище transactional outbox.
type OutboxRepository struct {
	store *Store
	inTx  bool
}

// NewOutboxRepository создаёт outbox поверх отдельного Store.
func NewOutboxRepository() *OutboxRepository {
	return NewStore().Outbox()
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	err := r.store.write(r.inTx, func(st *state) error {
		now := time.Now().UTC()
		if _, exists := st.outbox[msg.ID]; !exists {
			st.outboxSeq = append(st.outboxSeq, msg.ID)
		}
		st.outbox[msg.ID] = outboxRecord{
			msg:       msg,
			status:    outboxStatusPending,
			createdAt: now,
			updatedAt: now,
		}
		return nil
	})
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

// PullPending возвращает до limit самых старых сообщений со статусом `pending`.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	var result []domain.OutboxMessage
	err := r.store.read(r.inTx, func(st *state) error {
		result = make([]domain.OutboxMessage, 0, limit)
		for _, id := range st.outboxSeq {
			rec := st.outbox[id]
			if rec.status != outboxStatusPending {
				continue
			}
			result = append(result, rec.msg)
			if len(result) >= limit {
				break
			}
		}
		return nil
	})
	return result, err
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	err := r.store.read(r.inTx, func(st *state) error {
		for _, id := range st.outboxSeq {
			rec := st.outbox[id]
			if rec.status != outboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.createdAt
			}
		}
		return nil
	})
	return stats, err
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r *OutboxRepository) mark(id, status string) error {
	return r.store.write(r.inTx, func(st *state) error {
		record, ok := st.outbox[id]
		if !ok {
			return domain.ErrOutboxMessageNotFound
		}
		record.status = status
		record.updatedAt = time.Now().UTC()
		st.outbox[id] = record
		return nil
	})
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	var result []domain.OutboxMessage
	_ = r.store.read(r.inTx, func(st *state) error {
		for _, id := range st.outboxSeq {
			if rec := st.outbox[id]; rec.status == outboxStatusPending {
				result = append(result, rec.msg)
			}
		}
		return nil
	})
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
