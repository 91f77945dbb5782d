package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLineRequest — запрошенная клиентом позиция: товар и количество.
type OrderLineRequest struct {
	ProductID string
	Qty       int32
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID        string
	ProductID string
	Qty       int32
	// Price — цена за единицу, зафиксированная в момент оформления заказа.
	Price     decimal.Decimal
	CreatedAt time.Time
}

// Subtotal возвращает стоимость позиции: qty * price.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt32(i.Qty))
}

// Order агрегирует заказ клиента и его позиции.
type Order struct {
	ID         string
	CustomerID string
	Items      []OrderItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FormatMoney — денежная сумма в ответах API и событиях: всегда два знака после точки.
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// Total возвращает сумму заказа по всем позициям.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}

// DistinctProductIDs возвращает уникальные идентификаторы товаров в порядке первого появления.
func DistinctProductIDs(lines []OrderLineRequest) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}
