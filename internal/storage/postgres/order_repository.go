package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type orderRepository struct {
	conn conn
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{conn: conn{db: store.DB()}}
}

// Create сохраняет заказ и его позиции в одной транзакции.
func (r *orderRepository) Create(ctx context.Context, customer domain.Customer, items []domain.OrderItem) (domain.Order, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	order := domain.Order{
		ID:         uuid.NewString(),
		CustomerID: customer.ID,
		Items:      make([]domain.OrderItem, len(items)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.CreatedAt = now
		order.Items[i] = item
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.conn.inTx(ctx, func(q queryer) error {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4)
		`, order.ID, order.CustomerID, order.CreatedAt, order.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderConflict
			}
			if isForeignKeyViolation(err) {
				return domain.ErrCustomerNotFound
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, position, product_id, qty, price, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7)
			`,
				item.ID, order.ID, i, item.ProductID, item.Qty, item.Price, item.CreatedAt,
			); err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: %s", domain.ErrProductNotFound, item.ProductID)
				}
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var order domain.Order
	err := r.conn.q().QueryRowContext(ctx, `
		SELECT id, customer_id, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.CustomerID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, customer_id, created_at, updated_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.conn.q().QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = r.conn.q().QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.CreatedAt, &order.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	// Позиции читаем после закрытия курсора: внутри транзакции нельзя держать два открытых запроса.
	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.conn.q().QueryContext(ctx, `
		SELECT id, product_id, qty, price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Qty, &item.Price, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
