package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/services"
)

// Outcome describes what a delivery did.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeNoop       Outcome = "noop"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeRejected   Outcome = "rejected"
)

// ErrDeliveryInProgress indicates a concurrent delivery of the same event has not finished. The
// provider is asked to retry so the effect is never lost if that attempt fails.
var ErrDeliveryInProgress = errors.New("payments: delivery already in progress")

// Result is the acknowledgement returned to the provider.
type Result struct {
	Provider domain.PaymentProvider `json:"provider"`
	EventID  string                 `json:"eventId"`
	Type     string                 `json:"type"`
	Outcome  Outcome                `json:"outcome"`
	OrderID  string                 `json:"orderId,omitempty"`
	Status   domain.OrderStatus     `json:"status,omitempty"`
}

// Guard is the subset of the idempotency guard the reconciler relies on.
type Guard interface {
	Begin(ctx context.Context, key, scope string, payload any) (idempotency.Outcome, error)
	Complete(ctx context.Context, claim *idempotency.Claim, status int, body []byte) error
	Abandon(ctx context.Context, claim *idempotency.Claim) error
}

// ReconcilerDeps bundles collaborators required to construct the Reconciler.
type ReconcilerDeps struct {
	Strategies []Strategy
	Lifecycle  services.OrderLifecycle
	Guard      Guard
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// Reconciler converges order state from PSP webhooks. Provider specifics live in strategies; dedupe,
// order resolution and the lifecycle call are shared.
type Reconciler struct {
	strategies map[domain.PaymentProvider]Strategy
	lifecycle  services.OrderLifecycle
	guard      Guard
	logger     func(context.Context, string, map[string]any)
}

// NewReconciler registers strategies by provider.
func NewReconciler(deps ReconcilerDeps) (*Reconciler, error) {
	if deps.Lifecycle == nil {
		return nil, errors.New("payments: order lifecycle is required")
	}
	if deps.Guard == nil {
		return nil, errors.New("payments: idempotency guard is required")
	}
	strategies := make(map[domain.PaymentProvider]Strategy, len(deps.Strategies))
	for _, strategy := range deps.Strategies {
		if strategy == nil {
			continue
		}
		provider := strategy.Provider()
		if _, dup := strategies[provider]; dup {
			return nil, fmt.Errorf("payments: duplicate strategy for provider %q", provider)
		}
		strategies[provider] = strategy
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Reconciler{
		strategies: strategies,
		lifecycle:  deps.Lifecycle,
		guard:      deps.Guard,
		logger:     logger,
	}, nil
}

// Supports reports whether a strategy is registered for provider.
func (r *Reconciler) Supports(provider string) bool {
	_, ok := r.strategies[domain.PaymentProvider(strings.ToLower(strings.TrimSpace(provider)))]
	return ok
}

// WebhookScope returns the idempotency scope deliveries of provider are deduplicated under.
func WebhookScope(provider domain.PaymentProvider) string {
	return "payments/" + string(provider) + "/webhook"
}

// Handle verifies, deduplicates and applies one delivery. A nil error means the provider should be
// acknowledged with 200.
func (r *Reconciler) Handle(ctx context.Context, provider string, delivery Delivery) (Result, error) {
	strategy, ok := r.strategies[domain.PaymentProvider(strings.ToLower(strings.TrimSpace(provider)))]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	name := strategy.Provider()

	if err := strategy.Verify(ctx, delivery); err != nil {
		r.logger(ctx, "payment.webhook.verification_failed", map[string]any{
			"provider": string(name),
			"error":    err.Error(),
		})
		return Result{}, err
	}

	event, err := strategy.MapEvent(delivery)
	if err != nil {
		return Result{}, err
	}
	result := Result{Provider: name, EventID: event.ID, Type: event.Type}

	outcome, err := r.guard.Begin(ctx, event.ID, WebhookScope(name), map[string]any{
		"type":       event.Type,
		"paymentRef": event.PaymentRef,
	})
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		return Result{}, ErrDeliveryInProgress
	case errors.Is(err, idempotency.ErrHashMismatch):
		r.logger(ctx, "payment.webhook.event_id_reused", map[string]any{
			"provider": string(name),
			"eventId":  event.ID,
			"type":     event.Type,
		})
		result.Outcome = OutcomeDuplicate
		return result, nil
	case err != nil:
		return Result{}, fmt.Errorf("payments: dedupe delivery: %w", err)
	}
	if outcome.Replay != nil {
		result.Outcome = OutcomeDuplicate
		var stored Result
		if json.Unmarshal(outcome.Replay.ResponseBody, &stored) == nil {
			result.OrderID = stored.OrderID
			result.Status = stored.Status
		}
		return result, nil
	}
	claim := outcome.Claim

	result, err = r.apply(ctx, name, event, result)
	if err != nil {
		if abandonErr := r.guard.Abandon(context.WithoutCancel(ctx), claim); abandonErr != nil {
			r.logger(ctx, "payment.webhook.abandon_failed", map[string]any{
				"provider": string(name),
				"eventId":  event.ID,
				"error":    abandonErr.Error(),
			})
		}
		return Result{}, err
	}

	body, err := json.Marshal(result)
	if err != nil {
		return Result{}, fmt.Errorf("payments: encode result: %w", err)
	}
	if err := r.guard.Complete(ctx, claim, http.StatusOK, body); err != nil {
		// The effect is committed and a redelivery would hit a guarded same-status no-op.
		r.logger(ctx, "payment.webhook.record_failed", map[string]any{
			"provider": string(name),
			"eventId":  event.ID,
			"error":    err.Error(),
		})
	}
	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, provider domain.PaymentProvider, event Event, result Result) (Result, error) {
	fields := map[string]any{
		"provider":   string(provider),
		"eventId":    event.ID,
		"type":       event.Type,
		"paymentRef": event.PaymentRef,
	}

	if event.Ignored() {
		r.logger(ctx, "payment.webhook.ignored", fields)
		result.Outcome = OutcomeIgnored
		return result, nil
	}
	if event.PaymentRef == "" {
		r.logger(ctx, "payment.webhook.unresolved", fields)
		result.Outcome = OutcomeUnresolved
		return result, nil
	}

	transition, err := r.lifecycle.Transition(ctx, services.TransitionCommand{
		PaymentProvider: provider,
		PaymentRef:      event.PaymentRef,
		Target:          event.Target,
		Notification:    event.Notification,
		Trigger:         services.TriggerWebhook,
		ActorID:         string(provider),
		Reason:          event.Type,
	})
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		r.logger(ctx, "payment.webhook.order_not_found", fields)
		result.Outcome = OutcomeUnresolved
		return result, nil
	case errors.Is(err, services.ErrOrderInvalidState):
		fields["target"] = string(event.Target)
		fields["error"] = err.Error()
		r.logger(ctx, "payment.webhook.transition_rejected", fields)
		result.Outcome = OutcomeRejected
		return result, nil
	case err != nil:
		return Result{}, err
	}

	result.OrderID = transition.Order.ID
	result.Status = transition.Order.Status
	result.Outcome = OutcomeNoop
	if transition.Changed {
		result.Outcome = OutcomeApplied
	}
	fields["orderId"] = transition.Order.ID
	fields["from"] = string(transition.Previous)
	fields["to"] = string(transition.Order.Status)
	r.logger(ctx, "payment.webhook.applied", fields)
	return result, nil
}
