package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func placedEvent(orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(fmt.Sprintf(`{"order_id":%q}`, orderID)),
	}
}

func TestOutboxRepository_PostgresPendingInCreationOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	var ids []string
	for i := 1; i <= 3; i++ {
		msg, err := repo.Enqueue(ctx, placedEvent(fmt.Sprintf("order-%d", i)))
		require.NoError(t, err)
		require.NotEmpty(t, msg.ID)
		ids = append(ids, msg.ID)
		time.Sleep(2 * time.Millisecond)
	}

	firstTwo, err := repo.PullPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, firstTwo, 2)
	assert.Equal(t, ids[0], firstTwo[0].ID)
	assert.Equal(t, ids[1], firstTwo[1].ID)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(firstTwo[0].Payload))

	all, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PendingCount)
	assert.False(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_PostgresFinalize(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	sent, err := repo.Enqueue(ctx, placedEvent("order-sent"))
	require.NoError(t, err)
	failed, err := repo.Enqueue(ctx, placedEvent("order-failed"))
	require.NoError(t, err)

	require.NoError(t, repo.MarkSent(ctx, sent.ID))
	require.NoError(t, repo.MarkFailed(ctx, failed.ID))

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.IsZero())

	var (
		status      string
		attempts    int
		publishedAt sql.NullTime
	)
	row := store.DB().QueryRowContext(ctx,
		`SELECT status, attempt_count, published_at FROM outbox_messages WHERE id = $1`, sent.ID)
	require.NoError(t, row.Scan(&status, &attempts, &publishedAt))
	assert.Equal(t, "sent", status)
	assert.Equal(t, 1, attempts)
	assert.True(t, publishedAt.Valid)

	row = store.DB().QueryRowContext(ctx,
		`SELECT status, published_at FROM outbox_messages WHERE id = $1`, failed.ID)
	require.NoError(t, row.Scan(&status, &publishedAt))
	assert.Equal(t, "failed", status)
	assert.False(t, publishedAt.Valid)

	assert.ErrorIs(t, repo.MarkSent(ctx, "no-such-message"), domain.ErrOutboxMessageNotFound)
	assert.ErrorIs(t, repo.MarkFailed(ctx, "no-such-message"), domain.ErrOutboxMessageNotFound)
}

func TestOutboxRepository_PostgresEnqueueIsIdempotentByID(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	msg := placedEvent("order-1")
	msg.ID = "outbox-dup"
	_, err := repo.Enqueue(ctx, msg)
	require.NoError(t, err)

	msg.Payload = []byte(`{"order_id":"changed"}`)
	_, err = repo.Enqueue(ctx, msg)
	require.NoError(t, err)

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(pending[0].Payload))
}
