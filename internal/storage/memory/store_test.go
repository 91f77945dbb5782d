package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

func TestUnitOfWork_CommitIsVisible(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProducts(t, store.Products(), domain.Product{ID: "P1", Price: decimal.RequireFromString("10.00"), Quantity: 5})

	var orderID string
	err := store.UnitOfWork().WithinTx(ctx, func(ctx context.Context, repos domain.TxRepositories) error {
		order, err := repos.Orders.Create(ctx, domain.Customer{ID: "C1"}, newItems())
		if err != nil {
			return err
		}
		orderID = order.ID
		if err := repos.Products.UpdateQuantity(ctx, []domain.StockAdjustment{{ProductID: "P1", Quantity: 2, Expected: 5}}); err != nil {
			return err
		}
		_, err = repos.Outbox.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateTypeOrder, AggregateID: order.ID})
		return err
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	if _, err := store.Orders().Get(ctx, orderID); err != nil {
		t.Fatalf("committed order not visible: %v", err)
	}
	found, _ := store.Products().FindAllByID(ctx, []string{"P1"})
	if found[0].Quantity != 2 {
		t.Fatalf("quantity = %d, want 2", found[0].Quantity)
	}
	if pending := store.Outbox().AllPending(); len(pending) != 1 {
		t.Fatalf("expected 1 outbox message, got %d", len(pending))
	}
}

func TestUnitOfWork_RollbackRestoresState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProducts(t, store.Products(), domain.Product{ID: "P1", Price: decimal.RequireFromString("10.00"), Quantity: 5})

	err := store.UnitOfWork().WithinTx(ctx, func(ctx context.Context, repos domain.TxRepositories) error {
		if _, err := repos.Orders.Create(ctx, domain.Customer{ID: "C1"}, newItems()); err != nil {
			return err
		}
		if _, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateTypeOrder}); err != nil {
			return err
		}
		return repos.Products.UpdateQuantity(ctx, []domain.StockAdjustment{{ProductID: "P1", Quantity: 0, Expected: 4}})
	})
	if !errors.Is(err, domain.ErrStockConflict) {
		t.Fatalf("expected ErrStockConflict, got %v", err)
	}

	orders, _ := store.Orders().ListByCustomer(ctx, "C1", 0)
	if len(orders) != 0 {
		t.Fatalf("rolled back order is visible")
	}
	if pending := store.Outbox().AllPending(); len(pending) != 0 {
		t.Fatalf("rolled back outbox message is visible")
	}
	found, _ := store.Products().FindAllByID(ctx, []string{"P1"})
	if found[0].Quantity != 5 {
		t.Fatalf("quantity = %d, want 5", found[0].Quantity)
	}
}

func TestUnitOfWork_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := memory.NewStore().UnitOfWork().WithinTx(ctx, func(context.Context, domain.TxRepositories) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected context.Canceled without calling fn, got %v called=%v", err, called)
	}
}
