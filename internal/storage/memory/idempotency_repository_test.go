package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestIdempotencyRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock()
	repo := memory.NewIdempotencyRepository(memory.WithIdempotencyClock(clock.Now))

	created, err := repo.CreateProcessing(ctx, " order-key ", "hash-1", clock.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "order-key", created.Key)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	assert.Equal(t, clock.now, created.CreatedAt)

	clock.Advance(time.Second)
	require.NoError(t, repo.MarkDone(ctx, "order-key", []byte(`{"id":"o-1"}`), 201))

	got, err := repo.Get(ctx, "order-key")
	require.NoError(t, err)
	assert.True(t, got.Replayable())
	assert.Equal(t, domain.IdempotencyStatusDone, got.Status)
	assert.Equal(t, 201, got.HTTPStatus)
	assert.JSONEq(t, `{"id":"o-1"}`, string(got.ResponseBody))
	assert.Equal(t, clock.now, got.UpdatedAt)

	// Возвращённая копия не должна менять сохранённый ответ.
	got.ResponseBody[0] = 'X'
	again, err := repo.Get(ctx, "order-key")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"o-1"}`, string(again.ResponseBody))
}

func TestIdempotencyRepository_FailedResponseIsStored(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing(ctx, "k", "h", time.Time{})
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "k", []byte(`{"status":"error"}`), 400))

	got, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, got.Status)
	assert.Equal(t, 400, got.HTTPStatus)
	assert.False(t, got.TTLAt.IsZero(), "zero ttl gets the default")
}

func TestIdempotencyRepository_Conflicts(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock()
	repo := memory.NewIdempotencyRepository(memory.WithIdempotencyClock(clock.Now))
	ttl := clock.now.Add(time.Minute)

	_, err := repo.CreateProcessing(ctx, "k", "hash-a", ttl)
	require.NoError(t, err)

	existing, err := repo.CreateProcessing(ctx, "k", "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.Equal(t, "hash-a", existing.RequestHash)

	_, err = repo.CreateProcessing(ctx, "k", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	assert.True(t, domain.IsIdempotencyConflict(err))

	clock.Advance(time.Minute)
	reused, err := repo.CreateProcessing(ctx, "k", "hash-b", clock.now.Add(time.Minute))
	require.NoError(t, err, "expired key is reusable")
	assert.Equal(t, "hash-b", reused.RequestHash)
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock()
	repo := memory.NewIdempotencyRepository(memory.WithIdempotencyClock(clock.Now))

	for i, key := range []string{"k3", "k1", "k2", "live"} {
		ttl := clock.now.Add(time.Duration(i+1) * time.Minute)
		if key == "live" {
			ttl = clock.now.Add(time.Hour)
		}
		_, err := repo.CreateProcessing(ctx, key, "h", ttl)
		require.NoError(t, err)
	}

	clock.Advance(10 * time.Minute)

	removed, err := repo.DeleteExpired(ctx, time.Time{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = repo.Get(ctx, "k3")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "k1")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "k2")
	assert.NoError(t, err, "newest expired record survives the limited batch")

	removed, err = repo.DeleteExpired(ctx, clock.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, repo.Len())
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing(ctx, " ", "hash", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(ctx, "k", "  ", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
	_, err = repo.Get(ctx, "")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, 500), domain.ErrIdempotencyKeyNotFound)
}
