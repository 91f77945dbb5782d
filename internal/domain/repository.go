package domain

import (
	"context"
	"time"
)

// CustomerRepository — справочник клиентов.
type CustomerRepository interface {
	// Get возвращает клиента или ErrCustomerNotFound.
	Get(ctx context.Context, id string) (Customer, error)
	// Create добавляет клиента (используется при загрузке справочников).
	Create(ctx context.Context, customer Customer) error
}

// ProductRepository — каталог товаров с ценами и остатками.
type ProductRepository interface {
	// FindAllByID возвращает только существующие товары; отсутствующие id просто пропускаются.
	FindAllByID(ctx context.Context, ids []string) ([]Product, error)
	// UpdateQuantity записывает новые остатки. Корректировки применяются по порядку,
	// каждая с проверкой Expected; при расхождении возвращается ErrStockConflict.
	UpdateQuantity(ctx context.Context, adjustments []StockAdjustment) error
	// Upsert создаёт или перезаписывает товар (используется при загрузке справочников).
	Upsert(ctx context.Context, product Product) error
}

// OrderRepository хранит оформленные заказы.
type OrderRepository interface {
	// Create сохраняет заказ, назначая ему идентификатор и время создания.
	Create(ctx context.Context, customer Customer, items []OrderItem) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
}

// TxRepositories — репозитории, привязанные к одной транзакции.
type TxRepositories struct {
	Orders   OrderRepository
	Products ProductRepository
	Outbox   OutboxRepository
}

// UnitOfWork выполняет fn атомарно: либо все записи применяются, либо ни одна.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
