package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/hanko-field/orders/internal/domain"
)

const stripeSignatureHeader = "Stripe-Signature"

var stripeEvents = map[stripe.EventType]mapping{
	stripe.EventTypePaymentIntentSucceeded:      toPaid,
	stripe.EventTypePaymentIntentCanceled:       toCancelled,
	stripe.EventTypePaymentIntentPaymentFailed:  toCancelled,
	stripe.EventTypeChargeRefunded:              toRefunded,
	stripe.EventTypePaymentIntentProcessing:     toPending,
	stripe.EventTypePaymentIntentRequiresAction: toPending,
	stripe.EventTypePaymentIntentCreated:        toPending,
}

// StripeConfig configures the Stripe webhook strategy.
type StripeConfig struct {
	WebhookSecret string
	// Tolerance bounds the signature timestamp age. Defaults to webhook.DefaultTolerance.
	Tolerance time.Duration
}

// StripeStrategy verifies Stripe webhook signatures locally and maps PaymentIntent and Charge events.
type StripeStrategy struct {
	secret    string
	tolerance time.Duration
}

var _ Strategy = (*StripeStrategy)(nil)

// NewStripeStrategy constructs the Stripe strategy.
func NewStripeStrategy(cfg StripeConfig) (*StripeStrategy, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeStrategy{secret: secret, tolerance: tolerance}, nil
}

func (s *StripeStrategy) Provider() domain.PaymentProvider {
	return domain.PaymentProviderStripe
}

func (s *StripeStrategy) Verify(_ context.Context, delivery Delivery) error {
	if err := requireHeaders(delivery, stripeSignatureHeader); err != nil {
		return err
	}
	if err := webhook.ValidatePayloadWithTolerance(delivery.Body, delivery.Header(stripeSignatureHeader), s.secret, s.tolerance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (s *StripeStrategy) MapEvent(delivery Delivery) (Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(delivery.Body, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(evt.ID) == "" {
		return Event{}, fmt.Errorf("%w: event id is missing", ErrInvalidPayload)
	}

	out := Event{ID: evt.ID, Type: string(evt.Type)}
	m, ok := stripeEvents[evt.Type]
	if !ok {
		return out, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return Event{}, fmt.Errorf("%w: event %s has no data object", ErrInvalidPayload, evt.ID)
	}

	ref, err := stripePaymentRef(evt)
	if err != nil {
		return Event{}, err
	}
	out.PaymentRef = ref
	out.Target = m.target
	out.Notification = m.notification
	return out, nil
}

// stripePaymentRef returns the PaymentIntent id orders are keyed by. Charge events carry it in
// charge.payment_intent.
func stripePaymentRef(evt stripe.Event) (string, error) {
	if evt.Type == stripe.EventTypeChargeRefunded {
		var charge stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			return "", fmt.Errorf("%w: decode charge: %v", ErrInvalidPayload, err)
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			return "", nil
		}
		return charge.PaymentIntent.ID, nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
		return "", fmt.Errorf("%w: decode payment intent: %v", ErrInvalidPayload, err)
	}
	return intent.ID, nil
}
