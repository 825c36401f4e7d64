package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/hanko-field/orders/internal/repositories"
)

func TestInventoryReserveIsAllOrNothing(t *testing.T) {
	repo := NewInventoryRepository(map[string]int{"p1": 5, "p2": 1})
	ctx := context.Background()

	err := repo.ReserveForOrder(ctx, "ord_1", []repositories.ReservationLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 3},
	})
	productID, ok := repositories.OutOfStockProduct(err)
	if !ok || productID != "p2" {
		t.Fatalf("expected out of stock for p2, got %v", err)
	}
	if available, _ := repo.Available("p1"); available != 5 {
		t.Fatalf("expected p1 untouched, available=%d", available)
	}
}

func TestInventoryLifecycle(t *testing.T) {
	repo := NewInventoryRepository(map[string]int{"p1": 5})
	ctx := context.Background()

	if err := repo.ReserveForOrder(ctx, "ord_1", []repositories.ReservationLine{{ProductID: "p1", Quantity: 2}, {ProductID: "custom", Quantity: 1}}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if available, _ := repo.Available("p1"); available != 3 {
		t.Fatalf("expected 3 available after reserve, got %d", available)
	}
	if _, tracked := repo.Available("custom"); tracked {
		t.Fatal("untracked product must not gain a stock row")
	}

	if err := repo.CommitOrder(ctx, "ord_1"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if repo.OnHand("p1") != 3 {
		t.Fatalf("expected on hand 3 after commit, got %d", repo.OnHand("p1"))
	}
	// Release after commit is a no-op.
	if err := repo.ReleaseOrder(ctx, "ord_1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if available, _ := repo.Available("p1"); available != 3 {
		t.Fatalf("release must not touch committed stock, available=%d", available)
	}

	if err := repo.RestockOrder(ctx, "ord_1"); err != nil {
		t.Fatalf("restock: %v", err)
	}
	if err := repo.RestockOrder(ctx, "ord_1"); err != nil {
		t.Fatalf("second restock: %v", err)
	}
	if repo.OnHand("p1") != 5 {
		t.Fatalf("expected restock to be applied once, on hand=%d", repo.OnHand("p1"))
	}
}

func TestInventoryConcurrentReservationsNeverOversell(t *testing.T) {
	repo := NewInventoryRepository(map[string]int{"p1": 10})
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.ReserveForOrder(ctx, "ord_"+string(rune('a'+i)), []repositories.ReservationLine{{ProductID: "p1", Quantity: 1}})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 reservations, got %d", succeeded)
	}
	if available, _ := repo.Available("p1"); available != 0 {
		t.Fatalf("expected stock exhausted, got %d", available)
	}
}
