package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type productRepository struct {
	conn conn
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{conn: conn{db: store.DB()}}
}

// FindAllByID возвращает найденные товары в порядке ids; отсутствующие пропускаются.
func (r *productRepository) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.conn.q().QueryContext(ctx, `
		SELECT p.id, p.name, p.price, p.quantity, p.created_at, p.updated_at
		FROM products p
		JOIN unnest($1::text[]) WITH ORDINALITY AS req(id, ord) ON req.id = p.id
		ORDER BY req.ord
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{}, len(ids))
	products := make([]domain.Product, 0, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, nil
}

// UpdateQuantity применяет корректировки в одной транзакции. Каждая запись
// обновляется только если текущий остаток равен Expected.
func (r *productRepository) UpdateQuantity(ctx context.Context, adjustments []domain.StockAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	return r.conn.inTx(ctx, func(q queryer) error {
		for _, adj := range adjustments {
			if adj.Quantity < 0 {
				return fmt.Errorf("%w: product %s", domain.ErrProductQtyNegative, adj.ProductID)
			}
			res, err := q.ExecContext(ctx, `
				UPDATE products
				SET quantity = $1,
				    updated_at = $2
				WHERE id = $3
				  AND quantity = $4
			`, adj.Quantity, now, adj.ProductID, adj.Expected)
			if err != nil {
				return fmt.Errorf("update product quantity: %w", err)
			}

			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 0 {
				return stockMismatch(ctx, q, adj)
			}
		}
		return nil
	})
}

// stockMismatch различает отсутствующий товар и изменившийся остаток.
func stockMismatch(ctx context.Context, q queryer, adj domain.StockAdjustment) error {
	var current int32
	err := q.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = $1`, adj.ProductID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, adj.ProductID)
	}
	if err != nil {
		return fmt.Errorf("check product quantity: %w", err)
	}
	return fmt.Errorf("%w: product %s expected %d, actual %d",
		domain.ErrStockConflict, adj.ProductID, adj.Expected, current)
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}

	_, err := r.conn.q().ExecContext(ctx, `
		INSERT INTO products (id, name, price, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    quantity = EXCLUDED.quantity,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.Price, product.Quantity, product.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
