package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hanko-field/orders/internal/domain"
)

func TestStripeMapEvent(t *testing.T) {
	strategy, err := NewStripeStrategy(StripeConfig{WebhookSecret: testStripeSecret})
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}

	cases := []struct {
		name         string
		body         string
		ref          string
		target       domain.OrderStatus
		notification domain.NotificationKind
	}{
		{
			name:         "succeeded",
			body:         stripeEvent("evt_1", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent","amount":5000}`),
			ref:          "pi_1",
			target:       domain.OrderStatusPaid,
			notification: domain.NotificationPaid,
		},
		{
			name:         "payment failed",
			body:         stripeEvent("evt_2", "payment_intent.payment_failed", `{"id":"pi_2","object":"payment_intent"}`),
			ref:          "pi_2",
			target:       domain.OrderStatusCancelled,
			notification: domain.NotificationCancelled,
		},
		{
			name:         "canceled",
			body:         stripeEvent("evt_3", "payment_intent.canceled", `{"id":"pi_3","object":"payment_intent"}`),
			ref:          "pi_3",
			target:       domain.OrderStatusCancelled,
			notification: domain.NotificationCancelled,
		},
		{
			name:         "charge refunded",
			body:         stripeEvent("evt_4", "charge.refunded", `{"id":"ch_4","object":"charge","payment_intent":"pi_4","refunded":true}`),
			ref:          "pi_4",
			target:       domain.OrderStatusCancelled,
			notification: domain.NotificationRefunded,
		},
		{
			name:   "processing",
			body:   stripeEvent("evt_5", "payment_intent.processing", `{"id":"pi_5","object":"payment_intent"}`),
			ref:    "pi_5",
			target: domain.OrderStatusPending,
		},
		{
			name: "unrelated event",
			body: stripeEvent("evt_6", "invoice.paid", `{"id":"in_6","object":"invoice"}`),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := strategy.MapEvent(Delivery{Body: []byte(tc.body)})
			if err != nil {
				t.Fatalf("map event: %v", err)
			}
			if event.PaymentRef != tc.ref || event.Target != tc.target || event.Notification != tc.notification {
				t.Fatalf("unexpected event %+v", event)
			}
		})
	}

	if _, err := strategy.MapEvent(Delivery{Body: []byte(`not json`)}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestStripeVerifyRejectsStaleSignature(t *testing.T) {
	strategy, err := NewStripeStrategy(StripeConfig{WebhookSecret: testStripeSecret, Tolerance: time.Minute})
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	headers := http.Header{}
	headers.Set(stripeSignatureHeader, "t=1500000000,v1=5257a869e7ecebeda32affa62cdca3fa51cad7e77a0e56ff536d0ce8e108d8bd")
	err = strategy.Verify(context.Background(), Delivery{Headers: headers, Body: []byte(`{"id":"evt_1"}`)})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestNewStripeStrategyRequiresSecret(t *testing.T) {
	if _, err := NewStripeStrategy(StripeConfig{WebhookSecret: "  "}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
