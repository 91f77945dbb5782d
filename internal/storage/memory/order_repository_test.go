package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

func newItems() []domain.OrderItem {
	return []domain.OrderItem{
		{ProductID: "P1", Qty: 3, Price: decimal.RequireFromString("10.00")},
		{ProductID: "P2", Qty: 1, Price: decimal.RequireFromString("2.50")},
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	order, err := repo.Create(ctx, domain.Customer{ID: "C1"}, newItems())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if order.ID == "" || order.CreatedAt.IsZero() {
		t.Fatalf("store must assign id and timestamps, got %+v", order)
	}
	for _, item := range order.Items {
		if item.ID == "" {
			t.Fatalf("store must assign item ids")
		}
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.CustomerID != "C1" || len(stored.Items) != 2 {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	if stored.Items[0].ProductID != "P1" || stored.Items[1].ProductID != "P2" {
		t.Fatalf("items must keep request order")
	}

	// Изменение возвращённой копии не влияет на хранилище.
	stored.Items[0].Qty = 100
	again, _ := repo.Get(ctx, order.ID)
	if again.Items[0].Qty != 3 {
		t.Fatalf("repository leaked internal state")
	}
}

func TestOrderRepository_RejectsEmptyOrder(t *testing.T) {
	repo := memory.NewOrderRepository()

	if _, err := repo.Create(context.Background(), domain.Customer{ID: "C1"}, nil); !errors.Is(err, domain.ErrItemsRequired) {
		t.Fatalf("expected ErrItemsRequired, got %v", err)
	}
}

func TestOrderRepository_GetMissing(t *testing.T) {
	repo := memory.NewOrderRepository()

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListByCustomer(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	first, err := repo.Create(ctx, domain.Customer{ID: "C1"}, newItems())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	time.Sleep(time.Millisecond)
	second, err := repo.Create(ctx, domain.Customer{ID: "C1"}, newItems())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := repo.Create(ctx, domain.Customer{ID: "C2"}, newItems()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, err := repo.ListByCustomer(ctx, "C1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != second.ID || orders[1].ID != first.ID {
		t.Fatalf("expected newest first")
	}

	limited, _ := repo.ListByCustomer(ctx, "C1", 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}
