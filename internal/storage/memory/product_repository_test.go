package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

func seedProducts(t *testing.T, repo domain.ProductRepository, products ...domain.Product) {
	t.Helper()
	for _, p := range products {
		if err := repo.Upsert(context.Background(), p); err != nil {
			t.Fatalf("upsert %s: %v", p.ID, err)
		}
	}
}

func TestProductRepository_FindAllByIDSkipsMissing(t *testing.T) {
	repo := memory.NewProductRepository()
	seedProducts(t, repo,
		domain.Product{ID: "P1", Price: decimal.RequireFromString("10.00"), Quantity: 5},
		domain.Product{ID: "P2", Price: decimal.RequireFromString("1.00"), Quantity: 1},
	)

	found, err := repo.FindAllByID(context.Background(), []string{"P2", "P404", "P1"})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(found) != 2 || found[0].ID != "P2" || found[1].ID != "P1" {
		t.Fatalf("unexpected result %+v", found)
	}
}

func TestProductRepository_UpdateQuantity(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	seedProducts(t, repo, domain.Product{ID: "P1", Price: decimal.RequireFromString("10.00"), Quantity: 5})

	err := repo.UpdateQuantity(ctx, []domain.StockAdjustment{
		{ProductID: "P1", Quantity: 3, Expected: 5},
		{ProductID: "P1", Quantity: 1, Expected: 3},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	found, _ := repo.FindAllByID(ctx, []string{"P1"})
	if found[0].Quantity != 1 {
		t.Fatalf("quantity = %d, want 1", found[0].Quantity)
	}
}

func TestProductRepository_UpdateQuantityConflictIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	seedProducts(t, repo,
		domain.Product{ID: "P1", Price: decimal.RequireFromString("10.00"), Quantity: 5},
		domain.Product{ID: "P2", Price: decimal.RequireFromString("1.00"), Quantity: 4},
	)

	err := repo.UpdateQuantity(ctx, []domain.StockAdjustment{
		{ProductID: "P1", Quantity: 2, Expected: 5},
		{ProductID: "P2", Quantity: 0, Expected: 3},
	})
	if !errors.Is(err, domain.ErrStockConflict) {
		t.Fatalf("expected ErrStockConflict, got %v", err)
	}

	found, _ := repo.FindAllByID(ctx, []string{"P1", "P2"})
	if found[0].Quantity != 5 || found[1].Quantity != 4 {
		t.Fatalf("stock must stay untouched on conflict, got %+v", found)
	}

	if err := repo.UpdateQuantity(ctx, []domain.StockAdjustment{{ProductID: "P404", Quantity: 0, Expected: 0}}); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductRepository_UpsertValidates(t *testing.T) {
	repo := memory.NewProductRepository()

	err := repo.Upsert(context.Background(), domain.Product{ID: "P1", Price: decimal.NewFromInt(-1)})
	if !errors.Is(err, domain.ErrItemPriceInvalid) {
		t.Fatalf("expected ErrItemPriceInvalid, got %v", err)
	}
}

func TestCustomerRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCustomerRepository()

	if err := repo.Create(ctx, domain.Customer{ID: "C1", Name: "Alice"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, domain.Customer{ID: "C1"}); !errors.Is(err, domain.ErrCustomerConflict) {
		t.Fatalf("expected ErrCustomerConflict, got %v", err)
	}

	c, err := repo.Get(ctx, "C1")
	if err != nil || c.Name != "Alice" {
		t.Fatalf("unexpected customer %+v err=%v", c, err)
	}
	if _, err := repo.Get(ctx, "C2"); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}
