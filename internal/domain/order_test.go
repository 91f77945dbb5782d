package domain_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:         "order-1",
		CustomerID: "customer-1",
		Items: []domain.OrderItem{
			{
				ID:        "item-1",
				ProductID: "P1",
				Qty:       3,
				Price:     decimal.RequireFromString("10.00"),
				CreatedAt: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no customer",
			mut:  func(o *domain.Order) { o.CustomerID = "" },
			want: domain.ErrCustomerRequired,
		},
		{
			name: "no items",
			mut:  func(o *domain.Order) { o.Items = nil },
			want: domain.ErrItemsRequired,
		},
		{
			name: "empty product id",
			mut:  func(o *domain.Order) { o.Items[0].ProductID = "" },
			want: domain.ErrProductIDRequired,
		},
		{
			name: "zero qty",
			mut:  func(o *domain.Order) { o.Items[0].Qty = 0 },
			want: domain.ErrItemQtyInvalid,
		},
		{
			name: "negative price",
			mut:  func(o *domain.Order) { o.Items[0].Price = decimal.NewFromInt(-1) },
			want: domain.ErrItemPriceInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatalf("expected validation error")
			}
			found := false
			for _, err := range errs {
				if errors.Is(err, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestOrderTotal(t *testing.T) {
	order := makeOrder()
	order.Items = append(order.Items, domain.OrderItem{
		ID:        "item-2",
		ProductID: "P2",
		Qty:       2,
		Price:     decimal.RequireFromString("0.15"),
	})

	want := decimal.RequireFromString("30.30")
	if got := order.Total(); !got.Equal(want) {
		t.Fatalf("total = %s, want %s", got, want)
	}
	if got := order.Items[1].Subtotal(); !got.Equal(decimal.RequireFromString("0.30")) {
		t.Fatalf("subtotal = %s, want 0.30", got)
	}
}

func TestFormatMoney(t *testing.T) {
	tests := map[string]string{
		"10":    "10.00",
		"2.5":   "2.50",
		"30.30": "30.30",
		"0.125": "0.13",
		"0":     "0.00",
	}
	for in, want := range tests {
		if got := domain.FormatMoney(decimal.RequireFromString(in)); got != want {
			t.Errorf("FormatMoney(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestOrderTotal_Empty(t *testing.T) {
	var order domain.Order
	if !order.Total().IsZero() {
		t.Fatalf("expected zero total for empty order")
	}
}

func TestDistinctProductIDs(t *testing.T) {
	lines := []domain.OrderLineRequest{
		{ProductID: "P2", Qty: 1},
		{ProductID: "P1", Qty: 2},
		{ProductID: "P2", Qty: 3},
		{ProductID: "P3", Qty: 1},
	}

	got := domain.DistinctProductIDs(lines)
	want := []string{"P2", "P1", "P3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}

	if ids := domain.DistinctProductIDs(nil); len(ids) != 0 {
		t.Fatalf("expected no ids for empty request, got %v", ids)
	}
}
