package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	store *Store
	inTx  bool
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return NewStore().Orders()
}

// Create назначает заказу и позициям идентификаторы и сохраняет его.
func (r *orderRepositoryInMemory) Create(_ context.Context, customer domain.Customer, items []domain.OrderItem) (domain.Order, error) {
	now := time.Now().UTC()
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

	err := r.store.write(r.inTx, func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return domain.ErrOrderConflict
		}
		st.orders[order.ID] = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return cloneOrder(order), nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := r.store.read(r.inTx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = cloneOrder(o)
		return nil
	})
	return order, err
}

// ListByCustomer возвращает заказы клиента от новых к старым, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	var result []domain.Order
	err := r.store.read(r.inTx, func(st *state) error {
		result = make([]domain.Order, 0)
		for _, order := range st.orders {
			if order.CustomerID != customerID {
				continue
			}
			result = append(result, cloneOrder(order))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
