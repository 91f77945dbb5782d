package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultClientErrorStatus — HTTP-статус клиентской ошибки, если он не задан явно.
const DefaultClientErrorStatus = 400

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product id is required")
	// Ошибка отрицательного остатка товара в каталоге.
	ErrProductQtyNegative = errors.New("product quantity must be non-negative")

	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrProductNotFound возвращается, если хотя бы один товар из запроса отсутствует в каталоге.
	ErrProductNotFound = errors.New("products not found")
	// ErrInsufficientStock — запрошенное количество превышает остаток на складе.
	ErrInsufficientStock = errors.New("quantity not available in stock")
	// ErrCatalogInconsistent — нарушен внутренний инвариант: позиция прошла проверку
	// существования, но её запись в выборке каталога не найдена.
	ErrCatalogInconsistent = errors.New("catalog entry missing for validated product")
	// ErrStockConflict — остаток изменился между чтением и записью (compare-and-set не прошёл).
	ErrStockConflict = errors.New("stock changed concurrently")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderConflict — заказ с таким идентификатором уже существует.
	ErrOrderConflict = errors.New("order already exists")
	// ErrCustomerConflict — клиент с таким идентификатором уже существует.
	ErrCustomerConflict = errors.New("customer already exists")

	// ErrOutboxMessageNotFound — сообщение outbox с таким id не найдено.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// ClientError помечает ошибку как ошибку входных данных клиента (а не сбой системы)
// и несёт HTTP-статус, с которым её нужно отдать наружу.
type ClientError struct {
	Err        error
	StatusCode int
}

// NewClientError оборачивает err в клиентскую ошибку. status <= 0 заменяется на 400.
func NewClientError(err error, status int) *ClientError {
	if status <= 0 {
		status = DefaultClientErrorStatus
	}
	return &ClientError{Err: err, StatusCode: status}
}

func (e *ClientError) Error() string {
	if e == nil || e.Err == nil {
		return "client error"
	}
	return e.Err.Error()
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// IsClientError проверяет, классифицирована ли ошибка как клиентская.
func IsClientError(err error) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr)
}

// ClientStatusCode возвращает HTTP-статус клиентской ошибки.
func ClientStatusCode(err error) (int, bool) {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return 0, false
	}
	if clientErr.StatusCode <= 0 {
		return DefaultClientErrorStatus, true
	}
	return clientErr.StatusCode, true
}

// MissingProductsError перечисляет товары запроса, которых нет в каталоге.
type MissingProductsError struct {
	ProductIDs []string
}

func (e *MissingProductsError) Error() string {
	if len(e.ProductIDs) == 0 {
		return ErrProductNotFound.Error()
	}
	return fmt.Sprintf("%s: %s", ErrProductNotFound, strings.Join(e.ProductIDs, ", "))
}

func (e *MissingProductsError) Unwrap() error {
	return ErrProductNotFound
}

// InsufficientStockError описывает первую позицию запроса, для которой не хватило остатка.
type InsufficientStockError struct {
	ProductID string
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: product %s requested %d, available %d",
		ErrInsufficientStock, e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
