package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type productRepositoryInMemory struct {
	store *Store
	inTx  bool
}

// NewProductRepository возвращает каталог поверх отдельного Store.
func NewProductRepository() domain.ProductRepository {
	return NewStore().Products()
}

// FindAllByID возвращает найденные товары в порядке ids; отсутствующие пропускаются.
func (r *productRepositoryInMemory) FindAllByID(_ context.Context, ids []string) ([]domain.Product, error) {
	var result []domain.Product
	err := r.store.read(r.inTx, func(st *state) error {
		result = make([]domain.Product, 0, len(ids))
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if p, ok := st.products[id]; ok {
				result = append(result, p)
			}
		}
		return nil
	})
	return result, err
}

// UpdateQuantity применяет корректировки все или ни одной. Каждая корректировка
// сверяет Expected с остатком, накопленным к этому моменту.
func (r *productRepositoryInMemory) UpdateQuantity(_ context.Context, adjustments []domain.StockAdjustment) error {
	return r.store.write(r.inTx, func(st *state) error {
		pending := make(map[string]int32, len(adjustments))
		for _, adj := range adjustments {
			current, ok := pending[adj.ProductID]
			if !ok {
				p, exists := st.products[adj.ProductID]
				if !exists {
					return fmt.Errorf("%w: %s", domain.ErrProductNotFound, adj.ProductID)
				}
				current = p.Quantity
			}
			if current != adj.Expected {
				return fmt.Errorf("%w: product %s expected %d, actual %d",
					domain.ErrStockConflict, adj.ProductID, adj.Expected, current)
			}
			if adj.Quantity < 0 {
				return fmt.Errorf("%w: product %s", domain.ErrProductQtyNegative, adj.ProductID)
			}
			pending[adj.ProductID] = adj.Quantity
		}

		now := time.Now().UTC()
		for id, qty := range pending {
			p := st.products[id]
			p.Quantity = qty
			p.UpdatedAt = now
			st.products[id] = p
		}
		return nil
	})
}

// Upsert создаёт или перезаписывает товар.
func (r *productRepositoryInMemory) Upsert(_ context.Context, product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return errs[0]
	}
	return r.store.write(r.inTx, func(st *state) error {
		now := time.Now().UTC()
		if existing, ok := st.products[product.ID]; ok {
			product.CreatedAt = existing.CreatedAt
		} else if product.CreatedAt.IsZero() {
			product.CreatedAt = now
		}
		product.UpdatedAt = now
		st.products[product.ID] = product
		return nil
	})
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
