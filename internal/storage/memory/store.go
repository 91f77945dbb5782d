package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Store — общее in-memory состояние клиентов, каталога, заказов и outbox.
// Репозитории, полученные из одного Store, видят одни и те же данные, а
// UnitOfWork может атомарно откатить изменения всех трёх write-репозиториев.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	customers map[string]domain.Customer
	products  map[string]domain.Product
	orders    map[string]domain.Order
	outbox    map[string]outboxRecord
	// outboxSeq хранит порядок добавления сообщений outbox.
	outboxSeq []string
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{state: &state{
		customers: make(map[string]domain.Customer),
		products:  make(map[string]domain.Product),
		orders:    make(map[string]domain.Order),
		outbox:    make(map[string]outboxRecord),
	}}
}

// Customers возвращает справочник клиентов.
func (s *Store) Customers() domain.CustomerRepository {
	return &customerRepositoryInMemory{store: s}
}

// Products возвращает каталог товаров.
func (s *Store) Products() domain.ProductRepository {
	return &productRepositoryInMemory{store: s}
}

// Orders возвращает репозиторий заказов.
func (s *Store) Orders() domain.OrderRepository {
	return &orderRepositoryInMemory{store: s}
}

// Outbox возвращает репозиторий transactional outbox.
func (s *Store) Outbox() *OutboxRepository {
	return &OutboxRepository{store: s}
}

// UnitOfWork возвращает реализацию domain.UnitOfWork поверх этого хранилища.
func (s *Store) UnitOfWork() domain.UnitOfWork {
	return unitOfWork{store: s}
}

// read выполняет fn под read-lock, если вызов не внутри транзакции.
func (s *Store) read(inTx bool, fn func(st *state) error) error {
	if !inTx {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	return fn(s.state)
}

// write выполняет fn под exclusive lock, если вызов не внутри транзакции.
func (s *Store) write(inTx bool, fn func(st *state) error) error {
	if !inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.state)
}

func (st *state) clone() *state {
	cp := &state{
		customers: make(map[string]domain.Customer, len(st.customers)),
		products:  make(map[string]domain.Product, len(st.products)),
		orders:    make(map[string]domain.Order, len(st.orders)),
		outbox:    make(map[string]outboxRecord, len(st.outbox)),
		outboxSeq: append([]string(nil), st.outboxSeq...),
	}
	for k, v := range st.customers {
		cp.customers[k] = v
	}
	for k, v := range st.products {
		cp.products[k] = v
	}
	// Заказы после создания не изменяются, поэтому позиции можно не копировать.
	for k, v := range st.orders {
		cp.orders[k] = v
	}
	for k, v := range st.outbox {
		cp.outbox[k] = v
	}
	return cp
}

// unitOfWork держит exclusive lock всего хранилища на время fn и восстанавливает
// снимок состояния, если fn вернула ошибку.
type unitOfWork struct {
	store *Store
}

func (u unitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.TxRepositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	repos := domain.TxRepositories{
		Orders:   &orderRepositoryInMemory{store: s, inTx: true},
		Products: &productRepositoryInMemory{store: s, inTx: true},
		Outbox:   &OutboxRepository{store: s, inTx: true},
	}
	if err := fn(ctx, repos); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

var _ domain.UnitOfWork = unitOfWork{}
