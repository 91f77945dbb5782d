package postgres

import (
	"context"
	"database/sql"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type unitOfWork struct {
	db *sql.DB
}

// NewUnitOfWork создаёт unit of work поверх транзакций PostgreSQL.
func NewUnitOfWork(store *Store) domain.UnitOfWork {
	return &unitOfWork{db: store.DB()}
}

// WithinTx отдаёт fn репозитории, пишущие в одну транзакцию.
// Ошибка или паника fn откатывает её целиком.
func (u *unitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.TxRepositories) error) error {
	return runTx(ctx, u.db, func(tx *sql.Tx) error {
		c := conn{db: u.db, tx: tx}
		return fn(ctx, domain.TxRepositories{
			Orders:   &orderRepository{conn: c},
			Products: &productRepository{conn: c},
			Outbox:   &outboxRepository{conn: c},
		})
	})
}

var _ domain.UnitOfWork = (*unitOfWork)(nil)
