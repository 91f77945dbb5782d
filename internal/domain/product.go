package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — запись каталога: текущая цена и остаток на складе.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Quantity  int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет инварианты записи каталога.
func (p *Product) Validate() []error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if p.Quantity < 0 {
		errs = append(errs, ErrProductQtyNegative)
	}
	return errs
}

// StockAdjustment — абсолютный остаток товара после продажи (не дельта).
type StockAdjustment struct {
	ProductID string
	// Quantity — новый остаток.
	Quantity int32
	// Expected — остаток, из которого посчитан Quantity; хранилище использует его
	// как условие compare-and-set.
	Expected int32
}
