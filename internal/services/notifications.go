package services

import (
	"context"
	"maps"
	"time"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/tasks"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
)

// DefaultNotificationPolicy bounds retries of notification sends.
var DefaultNotificationPolicy = tasks.Policy{
	MaxRetries:      3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	Timeout:         5 * time.Second,
}

// sideEffects runs the secondary effects that follow a committed order change. Failures are logged by
// the runner and never reach the caller.
type sideEffects struct {
	runner       *tasks.Runner
	notifier     Notifier
	events       OrderEventPublisher
	notifyPolicy tasks.Policy
	logger       func(context.Context, string, map[string]any)
}

func newSideEffects(runner *tasks.Runner, notifier Notifier, events OrderEventPublisher, policy *tasks.Policy, logger func(context.Context, string, map[string]any)) sideEffects {
	if runner == nil {
		runner = tasks.NewRunner(tasks.WithLogger(tasks.Logger(logger)))
	}
	notifyPolicy := DefaultNotificationPolicy
	if policy != nil {
		notifyPolicy = *policy
	}
	return sideEffects{
		runner:       runner,
		notifier:     notifier,
		events:       events,
		notifyPolicy: notifyPolicy,
		logger:       logger,
	}
}

func (s sideEffects) notify(ctx context.Context, order Order, kind domain.NotificationKind, now time.Time) {
	if s.notifier == nil || kind == "" {
		return
	}
	if order.Email == "" {
		s.logger(ctx, "order.notification.skipped", map[string]any{
			"orderId": order.ID,
			"kind":    string(kind),
			"reason":  "no email on order",
		})
		return
	}
	notification := Notification{
		Kind:       kind,
		OrderID:    order.ID,
		Email:      order.Email,
		TotalCents: order.TotalCents,
		Currency:   order.Currency,
		OccurredAt: now,
	}
	s.runner.Run(ctx, "order.notify."+string(kind), s.notifyPolicy, func(taskCtx context.Context) error {
		return s.notifier.Notify(taskCtx, notification)
	})
}

func (s sideEffects) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	s.runner.Run(ctx, event.Type, tasks.NoRetry, func(taskCtx context.Context) error {
		return s.events.PublishOrderEvent(taskCtx, event)
	})
}

func (s sideEffects) run(ctx context.Context, name string, fn tasks.Func) {
	s.runner.Run(ctx, name, tasks.NoRetry, fn)
}
