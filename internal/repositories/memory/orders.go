package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

// OrderRepository keeps orders in process memory. It backs tests and the degraded single-instance mode.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

// Insert implements repositories.OrderRepository.
func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return conflict("insert order", "order %s already exists", order.ID)
	}
	if order.PaymentRef != "" {
		for _, existing := range r.orders {
			if existing.PaymentProvider == order.PaymentProvider && existing.PaymentRef == order.PaymentRef {
				return conflict("insert order", "payment reference %s already bound to %s", order.PaymentRef, existing.ID)
			}
		}
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

// FindByID implements repositories.OrderRepository.
func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("find order", "order %s", orderID)
	}
	return cloneOrder(order), nil
}

// FindByPaymentRef implements repositories.OrderRepository.
func (r *OrderRepository) FindByPaymentRef(_ context.Context, provider domain.PaymentProvider, paymentRef string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, order := range r.orders {
		if order.PaymentProvider == provider && order.PaymentRef == paymentRef {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, notFound("find order by payment", "%s reference %s", provider, paymentRef)
}

// List implements repositories.OrderRepository.
func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.OrderPage, error) {
	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.OrderPage{}, err
	}

	r.mu.RLock()
	matches := make([]domain.Order, 0)
	for _, order := range r.orders {
		switch {
		case filter.UserID != "" && order.UserID == filter.UserID:
		case filter.UserID == "" && filter.GuestID != "" && order.GuestID == filter.GuestID:
		default:
			continue
		}
		if !cursor.After(order.CreatedAt, order.ID) {
			continue
		}
		matches = append(matches, cloneOrder(order))
	}
	r.mu.RUnlock()

	slices.SortFunc(matches, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	page := domain.OrderPage{Items: matches}
	if filter.PageSize > 0 && len(matches) > filter.PageSize {
		page.Items = matches[:filter.PageSize]
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.OrderPage{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// UpdateStatus implements repositories.OrderRepository. The update is conditional on the stored status.
func (r *OrderRepository) UpdateStatus(_ context.Context, update repositories.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[update.OrderID]
	if !ok {
		return notFound("update order status", "order %s", update.OrderID)
	}
	if order.Status != update.From {
		return conflict("update order status", "order %s is %s, expected %s", update.OrderID, order.Status, update.From)
	}
	order.Status = update.To
	order.UpdatedAt = update.UpdatedAt
	r.orders[update.OrderID] = order
	return nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	if order.ShippingAddress != nil {
		addr := *order.ShippingAddress
		order.ShippingAddress = &addr
	}
	if order.Affiliate != nil {
		snapshot := *order.Affiliate
		order.Affiliate = &snapshot
	}
	return order
}
