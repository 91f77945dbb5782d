package domain

import "time"

// Customer — покупатель. Для оформления заказа важен только факт его существования.
type Customer struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет обязательные поля клиента.
func (c *Customer) Validate() []error {
	var errs []error
	if c.ID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	return errs
}
