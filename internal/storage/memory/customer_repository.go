package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type customerRepositoryInMemory struct {
	store *Store
}

// NewCustomerRepository возвращает справочник клиентов поверх отдельного Store.
func NewCustomerRepository() domain.CustomerRepository {
	return NewStore().Customers()
}

// Get возвращает клиента или ErrCustomerNotFound.
func (r *customerRepositoryInMemory) Get(_ context.Context, id string) (domain.Customer, error) {
	var customer domain.Customer
	err := r.store.read(false, func(st *state) error {
		c, ok := st.customers[id]
		if !ok {
			return domain.ErrCustomerNotFound
		}
		customer = c
		return nil
	})
	return customer, err
}

// Create добавляет клиента, если ID ещё не занят.
func (r *customerRepositoryInMemory) Create(_ context.Context, customer domain.Customer) error {
	if errs := customer.Validate(); len(errs) > 0 {
		return errs[0]
	}
	return r.store.write(false, func(st *state) error {
		if _, exists := st.customers[customer.ID]; exists {
			return domain.ErrCustomerConflict
		}
		now := time.Now().UTC()
		if customer.CreatedAt.IsZero() {
			customer.CreatedAt = now
		}
		customer.UpdatedAt = now
		st.customers[customer.ID] = customer
		return nil
	})
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
