package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderflow/internal/health"
)

// outboxMaxLag — возраст самого старого pending-события, после которого сервис degraded.
const outboxMaxLag = 5 * time.Minute

// outboxLagProbe сообщает о застрявшей доставке событий. Отставание не мешает
// принимать заказы, поэтому проверка некритичная.
func outboxLagProbe(repo domain.OutboxRepository, maxLag time.Duration, now func() time.Time) healthcheck.Probe {
	return healthcheck.Optional(func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return fmt.Errorf("outbox stats: %w", err)
		}
		if stats.PendingCount == 0 {
			return nil
		}
		if lag := now().Sub(stats.OldestPendingAt); lag > maxLag {
			return fmt.Errorf("%d events pending, oldest for %s", stats.PendingCount, lag.Truncate(time.Second))
		}
		return nil
	})
}
