package services

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/repositories/memory"
)

type lifecycleFixture struct {
	lifecycle OrderLifecycle
	orders    *memory.OrderRepository
	inventory *memory.InventoryRepository
	notifier  *captureNotifier
	events    *captureOrderEvents
}

func newLifecycleFixture(t *testing.T, order domain.Order, reserved int) *lifecycleFixture {
	t.Helper()
	ctx := context.Background()

	f := &lifecycleFixture{
		orders:    memory.NewOrderRepository(),
		inventory: memory.NewInventoryRepository(map[string]int{"mug": 10}),
		notifier:  &captureNotifier{},
		events:    &captureOrderEvents{},
	}
	if err := f.orders.Insert(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if reserved > 0 {
		if err := f.inventory.ReserveForOrder(ctx, order.ID, []repositories.ReservationLine{{ProductID: "mug", Quantity: reserved}}); err != nil {
			t.Fatalf("seed reservation: %v", err)
		}
		if order.Status == domain.OrderStatusPaid {
			if err := f.inventory.CommitOrder(ctx, order.ID); err != nil {
				t.Fatalf("seed commit: %v", err)
			}
		}
	}

	lifecycle, err := NewOrderLifecycle(OrderLifecycleDeps{
		Orders:    f.orders,
		Inventory: f.inventory,
		Notifier:  f.notifier,
		Events:    f.events,
		Tasks:     immediateRunner(),
		Clock:     fixedClock,
	})
	if err != nil {
		t.Fatalf("new lifecycle: %v", err)
	}
	f.lifecycle = lifecycle
	return f
}

func seededOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:              "ord_1",
		UserID:          "user-1",
		Email:           "buyer@example.com",
		Status:          status,
		PaymentProvider: domain.PaymentProviderStripe,
		PaymentRef:      "pi_123",
		Currency:        "USD",
		TotalCents:      2500,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
}

func TestOrderLifecyclePendingToPaidCommitsInventory(t *testing.T) {
	f := newLifecycleFixture(t, seededOrder(domain.OrderStatusPending), 2)

	result, err := f.lifecycle.Transition(context.Background(), TransitionCommand{
		PaymentProvider: domain.PaymentProviderStripe,
		PaymentRef:      "pi_123",
		Target:          domain.OrderStatusPaid,
		Trigger:         TriggerWebhook,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !result.Changed || result.Previous != domain.OrderStatusPending || result.Order.Status != domain.OrderStatusPaid {
		t.Fatalf("unexpected result %+v", result)
	}
	if f.inventory.OnHand("mug") != 8 {
		t.Fatalf("expected committed stock, on hand=%d", f.inventory.OnHand("mug"))
	}
	if kinds := f.notifier.kinds(); !slices.Equal(kinds, []domain.NotificationKind{domain.NotificationPaid}) {
		t.Fatalf("expected paid notification, got %v", kinds)
	}
	n := f.notifier.notifications[0]
	if n.Email != "buyer@example.com" || n.TotalCents != 2500 {
		t.Fatalf("notification must use stored email and total, got %+v", n)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != orderEventStatusChanged {
		t.Fatalf("expected status change event, got %+v", f.events.events)
	}
}

func TestOrderLifecycleSameStatusIsNoop(t *testing.T) {
	f := newLifecycleFixture(t, seededOrder(domain.OrderStatusPaid), 2)

	result, err := f.lifecycle.Transition(context.Background(), TransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusPaid,
		Trigger: TriggerWebhook,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if result.Changed {
		t.Fatal("expected no change")
	}
	if len(f.notifier.kinds()) != 0 || len(f.events.events) != 0 {
		t.Fatalf("no-op must not have side effects, got %v / %v", f.notifier.kinds(), f.events.events)
	}
}

func TestOrderLifecycleRejectsBackwardTransitions(t *testing.T) {
	cases := []struct {
		from   domain.OrderStatus
		target domain.OrderStatus
	}{
		{domain.OrderStatusPaid, domain.OrderStatusPending},
		{domain.OrderStatusShipped, domain.OrderStatusPaid},
		{domain.OrderStatusDelivered, domain.OrderStatusShipped},
		{domain.OrderStatusCancelled, domain.OrderStatusPaid},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.target), func(t *testing.T) {
			f := newLifecycleFixture(t, seededOrder(tc.from), 0)
			_, err := f.lifecycle.Transition(context.Background(), TransitionCommand{
				OrderID: "ord_1",
				Target:  tc.target,
				Trigger: TriggerAdmin,
			})
			if !errors.Is(err, ErrOrderInvalidState) {
				t.Fatalf("expected ErrOrderInvalidState, got %v", err)
			}
			order, _ := f.orders.FindByID(context.Background(), "ord_1")
			if order.Status != tc.from {
				t.Fatalf("status must be unchanged, got %s", order.Status)
			}
		})
	}
}

func TestOrderLifecycleRefundRestocksAndNotifiesRefund(t *testing.T) {
	f := newLifecycleFixture(t, seededOrder(domain.OrderStatusPaid), 2)

	_, err := f.lifecycle.Transition(context.Background(), TransitionCommand{
		OrderID:      "ord_1",
		Target:       domain.OrderStatusCancelled,
		Notification: domain.NotificationRefunded,
		Trigger:      TriggerWebhook,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if f.inventory.OnHand("mug") != 10 {
		t.Fatalf("expected restock, on hand=%d", f.inventory.OnHand("mug"))
	}
	if kinds := f.notifier.kinds(); !slices.Equal(kinds, []domain.NotificationKind{domain.NotificationRefunded}) {
		t.Fatalf("expected refunded notification, got %v", kinds)
	}
}

func TestOrderLifecyclePendingCancelReleasesReservation(t *testing.T) {
	f := newLifecycleFixture(t, seededOrder(domain.OrderStatusPending), 3)

	_, err := f.lifecycle.Transition(context.Background(), TransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusCancelled,
		Trigger: TriggerAdmin,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if available, _ := f.inventory.Available("mug"); available != 10 {
		t.Fatalf("expected released reservation, available=%d", available)
	}
	if kinds := f.notifier.kinds(); !slices.Equal(kinds, []domain.NotificationKind{domain.NotificationCancelled}) {
		t.Fatalf("expected cancelled notification, got %v", kinds)
	}
}

func TestOrderLifecycleFulfilmentIsAdminOnly(t *testing.T) {
	f := newLifecycleFixture(t, seededOrder(domain.OrderStatusPaid), 0)
	ctx := context.Background()

	if _, err := f.lifecycle.Transition(ctx, TransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusShipped, Trigger: TriggerWebhook}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected webhook shipping to be rejected, got %v", err)
	}

	if _, err := f.lifecycle.Transition(ctx, TransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusShipped, Trigger: TriggerAdmin, ActorID: "admin-1"}); err != nil {
		t.Fatalf("admin ship: %v", err)
	}
	if _, err := f.lifecycle.Transition(ctx, TransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusDelivered, Trigger: TriggerAdmin}); err != nil {
		t.Fatalf("admin deliver: %v", err)
	}
	if kinds := f.notifier.kinds(); !slices.Equal(kinds, []domain.NotificationKind{domain.NotificationShipped}) {
		t.Fatalf("expected a single shipped notification, got %v", kinds)
	}
}

func TestOrderLifecycleRollsBackWhenInventoryEffectFails(t *testing.T) {
	orders := memory.NewOrderRepository()
	ctx := context.Background()
	if err := orders.Insert(ctx, seededOrder(domain.OrderStatusPending)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var rolledBack bool
	unit := unitOfWorkFunc(func(ctx context.Context, fn func(context.Context) error) error {
		err := fn(ctx)
		if err != nil {
			rolledBack = true
			// Emulate the transactional rollback of the status update.
			_ = orders.UpdateStatus(ctx, repositories.StatusUpdate{OrderID: "ord_1", From: domain.OrderStatusPaid, To: domain.OrderStatusPending})
		}
		return err
	})
	notifier := &captureNotifier{}
	lifecycle, err := NewOrderLifecycle(OrderLifecycleDeps{
		Orders: orders,
		Inventory: &stubInventoryRepo{
			InventoryRepository: memory.NewInventoryRepository(nil),
			commitFn: func(context.Context, string) error {
				return stubRepoError{unavailable: true}
			},
		},
		UnitOfWork: unit,
		Notifier:   notifier,
		Tasks:      immediateRunner(),
		Clock:      fixedClock,
	})
	if err != nil {
		t.Fatalf("new lifecycle: %v", err)
	}

	_, err = lifecycle.Transition(ctx, TransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusPaid, Trigger: TriggerWebhook})
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected ErrOrderUnavailable, got %v", err)
	}
	if !rolledBack {
		t.Fatal("expected the unit of work to observe the failure")
	}
	if len(notifier.kinds()) != 0 {
		t.Fatalf("failed transitions must not notify, got %v", notifier.kinds())
	}
}

func TestOrderLifecycleNotificationFailureDoesNotFailTransition(t *testing.T) {
	f := newLifecycleFixture(t, seededOrder(domain.OrderStatusPending), 1)
	f.notifier.notifyFn = func(context.Context, Notification) error {
		return errors.New("smtp unavailable")
	}

	result, err := f.lifecycle.Transition(context.Background(), TransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusPaid, Trigger: TriggerWebhook})
	if err != nil {
		t.Fatalf("transition must succeed despite notification failure: %v", err)
	}
	if result.Order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", result.Order.Status)
	}
	if attempts := len(f.notifier.kinds()); attempts != int(DefaultNotificationPolicy.MaxRetries)+1 {
		t.Fatalf("expected bounded retries, got %d attempts", attempts)
	}
}

func TestOrderLifecycleUnknownOrder(t *testing.T) {
	f := newLifecycleFixture(t, seededOrder(domain.OrderStatusPending), 0)
	_, err := f.lifecycle.Transition(context.Background(), TransitionCommand{
		PaymentProvider: domain.PaymentProviderPayPal,
		PaymentRef:      "missing",
		Target:          domain.OrderStatusPaid,
		Trigger:         TriggerWebhook,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

type unitOfWorkFunc func(context.Context, func(context.Context) error) error

func (f unitOfWorkFunc) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return f(ctx, fn)
}
