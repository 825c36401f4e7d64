package di

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/tasks"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
)

// Infrastructure bundles the storage and messaging adapters built by the caller. Nil messaging
// adapters disable the corresponding side effect.
type Infrastructure struct {
	Orders      repositories.OrderRepository
	Inventory   repositories.InventoryRepository
	Catalog     repositories.CatalogRepository
	Affiliates  repositories.AffiliateRepository
	UnitOfWork  repositories.UnitOfWork
	Idempotency idempotency.Store
	Notifier    services.Notifier
	Events      services.OrderEventPublisher
	Checks      []repositories.DependencyCheck
	// Closers run in reverse registration order on Close.
	Closers []func() error
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders     services.OrderService
	Lifecycle  services.OrderLifecycle
	Checkout   services.CheckoutService
	Affiliates services.AffiliateService
	Guard      *idempotency.Guard
	Reconciler *payments.Reconciler
	Health     *repositories.HealthProbe
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Infra    Infrastructure
	Services Services

	tasks *tasks.Runner
}

// Option customises container construction.
type Option func(*options)

type options struct {
	clock  func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
	newID  func() string
	runner *tasks.Runner
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured event logger shared by every service.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIDGenerator overrides identifier generation, mostly for tests.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithTaskRunner replaces the runner executing notification and event side effects. By default they
// run inline on the request, or detached when Notifications.Detached is set.
func WithTaskRunner(runner *tasks.Runner) Option {
	return func(o *options) {
		if runner != nil {
			o.runner = runner
		}
	}
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory infrastructure.
func NewContainer(ctx context.Context, cfg config.Config, infra Infrastructure, opts ...Option) (*Container, error) {
	if infra.Orders == nil || infra.Inventory == nil || infra.Affiliates == nil {
		return nil, errors.New("di: order, inventory and affiliate repositories are required")
	}
	if infra.Idempotency == nil {
		return nil, errors.New("di: idempotency store is required")
	}

	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.runner == nil {
		o.runner = tasks.NewRunner(tasks.WithLogger(o.logger), tasks.WithDetached(cfg.Notifications.Detached))
	}

	svc, err := buildServices(ctx, cfg, infra, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:   cfg,
		Infra:    infra,
		Services: svc,
		tasks:    o.runner,
	}, nil
}

// Close waits for detached side effects, bounded by ctx and Notifications.DrainTimeout, then releases
// clients registered by the caller, newest first.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if timeout := c.Config.Notifications.DrainTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := c.tasks.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain side effects: %w", err))
	}
	for _, closer := range slices.Backward(c.Infra.Closers) {
		if closer == nil {
			continue
		}
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, cfg config.Config, infra Infrastructure, o options) (Services, error) {
	var svc Services

	guard, err := idempotency.NewGuard(infra.Idempotency,
		idempotency.WithClock(o.clock),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	if err != nil {
		return Services{}, fmt.Errorf("build idempotency guard: %w", err)
	}
	svc.Guard = guard

	totals := services.NewTotalsCalculator(
		services.FlatRateShipping{
			ThresholdCents: cfg.Pricing.FreeShippingThresholdCents,
			FlatFeeCents:   cfg.Pricing.FlatShippingCents,
		},
		services.RateTax{
			DefaultBasisPoints: cfg.Pricing.TaxBasisPoints,
			ByCountry:          cfg.Pricing.TaxByCountry,
		},
	)
	policy := notificationPolicy(cfg.Notifications)

	affiliateSvc, err := services.NewAffiliateService(services.AffiliateServiceDeps{
		Repository:        infra.Affiliates,
		CommissionPercent: cfg.Affiliate.CommissionPercent,
		Clock:             o.clock,
		IDGenerator:       o.newID,
		Logger:            o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build affiliate service: %w", err)
	}
	svc.Affiliates = affiliateSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:             infra.Orders,
		Inventory:          infra.Inventory,
		Catalog:            infra.Catalog,
		UnitOfWork:         infra.UnitOfWork,
		Idempotency:        guard,
		Validator:          services.NewOrderValidator(),
		Totals:             totals,
		Affiliates:         affiliateSvc,
		Notifier:           infra.Notifier,
		Events:             infra.Events,
		Tasks:              o.runner,
		NotificationPolicy: policy,
		Clock:              o.clock,
		IDGenerator:        o.newID,
		Logger:             o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	lifecycle, err := services.NewOrderLifecycle(services.OrderLifecycleDeps{
		Orders:             infra.Orders,
		Inventory:          infra.Inventory,
		UnitOfWork:         infra.UnitOfWork,
		Notifier:           infra.Notifier,
		Events:             infra.Events,
		Tasks:              o.runner,
		NotificationPolicy: policy,
		Clock:              o.clock,
		Logger:             o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order lifecycle: %w", err)
	}
	svc.Lifecycle = lifecycle

	svc.Checkout = services.NewCheckoutService(services.CheckoutServiceDeps{
		Catalog: infra.Catalog,
		Totals:  totals,
	})

	strategies, err := paymentStrategies(cfg.Payments)
	if err != nil {
		return Services{}, err
	}
	reconciler, err := payments.NewReconciler(payments.ReconcilerDeps{
		Strategies: strategies,
		Lifecycle:  lifecycle,
		Guard:      guard,
		Logger:     o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment reconciler: %w", err)
	}
	svc.Reconciler = reconciler

	probe, err := repositories.NewHealthProbe(infra.Checks, repositories.WithProbeClock(o.clock))
	if err != nil {
		return Services{}, fmt.Errorf("build health probe: %w", err)
	}
	svc.Health = probe

	return svc, nil
}

// paymentStrategies enables each provider whose credentials are configured. A provider without
// credentials answers 404 on its webhook route.
func paymentStrategies(cfg config.PaymentsConfig) ([]payments.Strategy, error) {
	var strategies []payments.Strategy
	if strings.TrimSpace(cfg.StripeWebhookSecret) != "" {
		stripe, err := payments.NewStripeStrategy(payments.StripeConfig{
			WebhookSecret: cfg.StripeWebhookSecret,
			Tolerance:     cfg.StripeTolerance,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe strategy: %w", err)
		}
		strategies = append(strategies, stripe)
	}
	if strings.TrimSpace(cfg.PayPalClientID) != "" {
		paypal, err := payments.NewPayPalStrategy(payments.PayPalConfig{
			ClientID:  cfg.PayPalClientID,
			Secret:    cfg.PayPalSecret,
			WebhookID: cfg.PayPalWebhookID,
			BaseURL:   cfg.PayPalBaseURL,
			Timeout:   cfg.ProviderTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build paypal strategy: %w", err)
		}
		strategies = append(strategies, paypal)
	}
	return strategies, nil
}

func notificationPolicy(cfg config.NotificationConfig) *tasks.Policy {
	return &tasks.Policy{
		MaxRetries:      uint64(max(cfg.MaxRetries, 0)),
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Timeout:         cfg.Timeout,
	}
}
