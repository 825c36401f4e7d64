package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/tasks"
	"github.com/hanko-field/orders/internal/repositories"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:    {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped: {domain.OrderStatusDelivered},
}

// Fulfilment moves are made by staff; payment providers only report payment outcomes.
var adminOnlyTargets = map[domain.OrderStatus]bool{
	domain.OrderStatusShipped:   true,
	domain.OrderStatusDelivered: true,
}

// OrderLifecycleDeps bundles collaborators required to construct the order lifecycle.
type OrderLifecycleDeps struct {
	Orders             repositories.OrderRepository
	Inventory          repositories.InventoryRepository
	UnitOfWork         repositories.UnitOfWork
	Notifier           Notifier
	Events             OrderEventPublisher
	Tasks              *tasks.Runner
	NotificationPolicy *tasks.Policy
	Clock              func() time.Time
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

type orderLifecycle struct {
	orders     repositories.OrderRepository
	inventory  repositories.InventoryRepository
	unitOfWork repositories.UnitOfWork
	effects    sideEffects
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ OrderLifecycle = (*orderLifecycle)(nil)

// NewOrderLifecycle constructs the order state machine.
func NewOrderLifecycle(deps OrderLifecycleDeps) (OrderLifecycle, error) {
	if deps.Orders == nil {
		return nil, errors.New("order lifecycle: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order lifecycle: inventory repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderLifecycle{
		orders:     deps.Orders,
		inventory:  deps.Inventory,
		unitOfWork: unit,
		effects:    newSideEffects(deps.Tasks, deps.Notifier, deps.Events, deps.NotificationPolicy, logger),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (l *orderLifecycle) Transition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error) {
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.Target)))
	if !target.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: unknown target status %q", ErrOrderInvalidInput, cmd.Target)
	}

	order, err := l.load(ctx, cmd)
	if err != nil {
		return TransitionResult{}, err
	}

	previous := order.Status
	if previous == target {
		return TransitionResult{Order: order, Previous: previous}, nil
	}
	if !canTransition(previous, target) {
		return TransitionResult{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, previous, target)
	}
	if adminOnlyTargets[target] && cmd.Trigger != TriggerAdmin {
		return TransitionResult{}, fmt.Errorf("%w: %s requires an administrator", ErrOrderInvalidState, target)
	}

	now := l.now()
	effect := l.inventoryEffect(previous, target)
	err = l.runInTx(ctx, func(txCtx context.Context) error {
		if err := l.orders.UpdateStatus(txCtx, repositories.StatusUpdate{
			OrderID:   order.ID,
			From:      previous,
			To:        target,
			UpdatedAt: now,
		}); err != nil {
			return mapOrderRepositoryError(err)
		}
		if effect == nil {
			return nil
		}
		if err := effect(txCtx, order.ID); err != nil {
			return fmt.Errorf("order: inventory %s -> %s: %w", previous, target, mapOrderRepositoryError(err))
		}
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}

	order.Status = target
	order.UpdatedAt = now

	l.effects.notify(ctx, order, notificationFor(previous, target, cmd.Notification), now)

	metadata := map[string]any{"trigger": string(cmd.Trigger)}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}
	if cmd.Notification != "" {
		metadata["notification"] = string(cmd.Notification)
	}
	l.effects.publish(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(target),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return TransitionResult{Order: order, Previous: previous, Changed: true}, nil
}

func (l *orderLifecycle) load(ctx context.Context, cmd TransitionCommand) (Order, error) {
	if orderID := strings.TrimSpace(cmd.OrderID); orderID != "" {
		order, err := l.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, mapOrderRepositoryError(err)
		}
		return order, nil
	}

	ref := strings.TrimSpace(cmd.PaymentRef)
	if ref == "" || cmd.PaymentProvider == "" {
		return Order{}, fmt.Errorf("%w: order id or payment reference is required", ErrOrderInvalidInput)
	}
	order, err := l.orders.FindByPaymentRef(ctx, cmd.PaymentProvider, ref)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

func (l *orderLifecycle) inventoryEffect(from, to domain.OrderStatus) func(context.Context, string) error {
	switch {
	case from == domain.OrderStatusPending && to == domain.OrderStatusPaid:
		return l.inventory.CommitOrder
	case from == domain.OrderStatusPending && to == domain.OrderStatusCancelled:
		return l.inventory.ReleaseOrder
	case from == domain.OrderStatusPaid && to == domain.OrderStatusCancelled:
		return l.inventory.RestockOrder
	default:
		return nil
	}
}

func notificationFor(from, to domain.OrderStatus, override domain.NotificationKind) domain.NotificationKind {
	switch to {
	case domain.OrderStatusPaid:
		return domain.NotificationPaid
	case domain.OrderStatusCancelled:
		if override == domain.NotificationRefunded && from == domain.OrderStatusPaid {
			return domain.NotificationRefunded
		}
		return domain.NotificationCancelled
	case domain.OrderStatusShipped:
		return domain.NotificationShipped
	default:
		return ""
	}
}

func (l *orderLifecycle) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if l.unitOfWork == nil {
		return fn(ctx)
	}
	return l.unitOfWork.RunInTx(ctx, fn)
}

func (l *orderLifecycle) now() time.Time {
	return l.clock()
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
