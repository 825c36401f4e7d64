package memory

import (
	"context"
	"sync"

	"github.com/hanko-field/orders/internal/repositories"
)

type reservationState string

const (
	reservationReserved  reservationState = "reserved"
	reservationCommitted reservationState = "committed"
	reservationReleased  reservationState = "released"
	reservationRestocked reservationState = "restocked"
)

type stockLevel struct {
	onHand   int
	reserved int
}

type reservation struct {
	quantity int
	state    reservationState
}

// InventoryRepository tracks stock per product and reservations per order under one mutex, which gives
// the per-product mutual exclusion the reservation contract needs within a single process.
type InventoryRepository struct {
	mu           sync.Mutex
	stock        map[string]*stockLevel
	reservations map[string]map[string]*reservation
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs a repository seeded with on-hand quantities. Products absent from
// the seed are untracked and never reserved.
func NewInventoryRepository(onHand map[string]int) *InventoryRepository {
	repo := &InventoryRepository{
		stock:        make(map[string]*stockLevel, len(onHand)),
		reservations: make(map[string]map[string]*reservation),
	}
	for productID, qty := range onHand {
		repo.stock[productID] = &stockLevel{onHand: qty}
	}
	return repo
}

// Available returns on-hand minus reserved quantity, and whether the product is tracked.
func (r *InventoryRepository) Available(productID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.stock[productID]
	if !ok {
		return 0, false
	}
	return level.onHand - level.reserved, true
}

// OnHand returns the physical quantity of a product.
func (r *InventoryRepository) OnHand(productID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level, ok := r.stock[productID]; ok {
		return level.onHand
	}
	return 0
}

// ReserveForOrder implements repositories.InventoryRepository.
func (r *InventoryRepository) ReserveForOrder(_ context.Context, orderID string, lines []repositories.ReservationLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		if _, tracked := r.stock[line.ProductID]; !tracked {
			continue
		}
		requested[line.ProductID] += line.Quantity
	}
	for _, line := range lines {
		qty, ok := requested[line.ProductID]
		if !ok {
			continue
		}
		level := r.stock[line.ProductID]
		if available := level.onHand - level.reserved; available < qty {
			return repositories.NewOutOfStockError("reserve", line.ProductID, qty, available)
		}
	}

	held := r.reservations[orderID]
	if held == nil {
		held = make(map[string]*reservation, len(requested))
		r.reservations[orderID] = held
	}
	for productID, qty := range requested {
		r.stock[productID].reserved += qty
		if existing, ok := held[productID]; ok && existing.state == reservationReserved {
			existing.quantity += qty
			continue
		}
		held[productID] = &reservation{quantity: qty, state: reservationReserved}
	}
	return nil
}

// CommitOrder implements repositories.InventoryRepository.
func (r *InventoryRepository) CommitOrder(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for productID, res := range r.reservations[orderID] {
		if res.state != reservationReserved {
			continue
		}
		level := r.stock[productID]
		level.reserved -= res.quantity
		level.onHand -= res.quantity
		res.state = reservationCommitted
	}
	return nil
}

// ReleaseOrder implements repositories.InventoryRepository.
func (r *InventoryRepository) ReleaseOrder(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for productID, res := range r.reservations[orderID] {
		if res.state != reservationReserved {
			continue
		}
		r.stock[productID].reserved -= res.quantity
		res.state = reservationReleased
	}
	return nil
}

// RestockOrder implements repositories.InventoryRepository.
func (r *InventoryRepository) RestockOrder(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for productID, res := range r.reservations[orderID] {
		if res.state != reservationCommitted {
			continue
		}
		r.stock[productID].onHand += res.quantity
		res.state = reservationRestocked
	}
	return nil
}
