package di

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/repositories/memory"
	"github.com/hanko-field/orders/internal/services"
)

type notifierFn func(context.Context, services.Notification) error

func (f notifierFn) Notify(ctx context.Context, n services.Notification) error { return f(ctx, n) }

func createMugOrder(t *testing.T, c *Container) {
	t.Helper()
	_, err := c.Services.Orders.Create(context.Background(), services.CreateOrderCommand{
		GuestID: "g-1",
		Email:   "buyer@example.com",
		Items:   []services.OrderItemInput{{ProductID: "mug", Name: "Mug", PriceCents: 1200, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
}

func memoryInfra() Infrastructure {
	return Infrastructure{
		Orders:      memory.NewOrderRepository(),
		Inventory:   memory.NewInventoryRepository(map[string]int{"mug": 5}),
		Affiliates:  memory.NewAffiliateRepository(),
		Idempotency: idempotency.NewMemoryStore(),
	}
}

func TestNewContainerRequiresRepositories(t *testing.T) {
	infra := memoryInfra()
	infra.Idempotency = nil
	if _, err := NewContainer(context.Background(), config.Config{}, infra); err == nil {
		t.Fatalf("expected error without idempotency store")
	}
	if _, err := NewContainer(context.Background(), config.Config{}, Infrastructure{}); err == nil {
		t.Fatalf("expected error without repositories")
	}
}

func TestNewContainerEnablesConfiguredProviders(t *testing.T) {
	cfg := config.Config{}
	cfg.Payments.StripeWebhookSecret = "whsec_test"

	c, err := NewContainer(context.Background(), cfg, memoryInfra())
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	if c.Services.Orders == nil || c.Services.Lifecycle == nil || c.Services.Checkout == nil || c.Services.Affiliates == nil {
		t.Fatalf("expected services to be wired: %+v", c.Services)
	}
	if !c.Services.Reconciler.Supports("stripe") {
		t.Fatalf("expected stripe strategy")
	}
	if c.Services.Reconciler.Supports("paypal") {
		t.Fatalf("paypal should be disabled without credentials")
	}
}

func TestNewContainerRejectsIncompletePayPalConfig(t *testing.T) {
	cfg := config.Config{}
	cfg.Payments.PayPalClientID = "client"

	if _, err := NewContainer(context.Background(), cfg, memoryInfra()); err == nil {
		t.Fatalf("expected paypal configuration error")
	}
}

func TestContainerHealthUsesInfrastructureChecks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	infra := memoryInfra()
	infra.Checks = []repositories.DependencyCheck{{
		Name:  "redis",
		Check: func(context.Context) error { return errors.New("connection refused") },
	}}

	c, err := NewContainer(context.Background(), config.Config{}, infra, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	report := c.Services.Health.Collect(context.Background())
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded report, got %s", report.Status)
	}
	if got := report.Checks["redis"].Detail; got != "connection refused" {
		t.Fatalf("unexpected detail %q", got)
	}
}

func TestContainerCloseRunsClosersInReverse(t *testing.T) {
	var order []string
	infra := memoryInfra()
	infra.Closers = []func() error{
		func() error { order = append(order, "postgres"); return nil },
		func() error { order = append(order, "kafka"); return errors.New("flush failed") },
		nil,
	}

	c, err := NewContainer(context.Background(), config.Config{}, infra)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	err = c.Close(context.Background())
	if err == nil || err.Error() != "flush failed" {
		t.Fatalf("expected joined close error, got %v", err)
	}
	if !slices.Equal(order, []string{"kafka", "postgres"}) {
		t.Fatalf("unexpected close order %v", order)
	}
}

func TestContainerRunsSideEffectsInlineByDefault(t *testing.T) {
	var notified atomic.Bool
	infra := memoryInfra()
	infra.Notifier = notifierFn(func(context.Context, services.Notification) error {
		time.Sleep(50 * time.Millisecond)
		notified.Store(true)
		return nil
	})

	c, err := NewContainer(context.Background(), config.Config{}, infra)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	createMugOrder(t, c)
	if !notified.Load() {
		t.Fatal("expected the created notification to be sent before Create returned")
	}
}

func TestContainerCloseDrainsDetachedSideEffects(t *testing.T) {
	release := make(chan struct{})
	var notified atomic.Bool
	infra := memoryInfra()
	infra.Notifier = notifierFn(func(context.Context, services.Notification) error {
		<-release
		notified.Store(true)
		return nil
	})
	var closedAfterNotify atomic.Bool
	infra.Closers = []func() error{func() error {
		closedAfterNotify.Store(notified.Load())
		return nil
	}}

	cfg := config.Config{}
	cfg.Notifications.Detached = true
	c, err := NewContainer(context.Background(), cfg, infra)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	createMugOrder(t, c)
	if notified.Load() {
		t.Fatal("expected detached notification to still be pending")
	}

	close(release)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closedAfterNotify.Load() {
		t.Fatal("expected clients to close only after the notification finished")
	}
}

func TestContainerCloseGivesUpAfterDrainTimeout(t *testing.T) {
	infra := memoryInfra()
	block := make(chan struct{})
	defer close(block)
	infra.Notifier = notifierFn(func(context.Context, services.Notification) error {
		<-block
		return nil
	})
	var closed atomic.Bool
	infra.Closers = []func() error{func() error { closed.Store(true); return nil }}

	cfg := config.Config{}
	cfg.Notifications.Detached = true
	cfg.Notifications.DrainTimeout = 20 * time.Millisecond
	c, err := NewContainer(context.Background(), cfg, infra)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	createMugOrder(t, c)

	if err := c.Close(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
	if !closed.Load() {
		t.Fatal("expected clients to close even when the drain timed out")
	}
}
