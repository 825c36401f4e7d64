package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hanko-field/orders/internal/domain"
)

var (
	// ErrUnsupportedProvider is returned when no strategy is registered for a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrMissingSignature indicates required signature headers were absent.
	ErrMissingSignature = errors.New("payments: missing signature headers")
	// ErrInvalidSignature indicates the delivery failed authenticity checks.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrInvalidPayload indicates the verified body could not be decoded.
	ErrInvalidPayload = errors.New("payments: invalid webhook payload")
	// ErrVerificationUnavailable indicates the provider's verification endpoint could not be reached.
	ErrVerificationUnavailable = errors.New("payments: signature verification unavailable")
)

// Delivery is a raw webhook request as received from a provider.
type Delivery struct {
	Headers http.Header
	Body    []byte
}

// Header returns the trimmed value of a delivery header.
func (d Delivery) Header(name string) string {
	if d.Headers == nil {
		return ""
	}
	return strings.TrimSpace(d.Headers.Get(name))
}

// Event is a provider event normalised for the reconciler. An empty Target marks an event type the
// service does not act on.
type Event struct {
	ID           string
	Type         string
	PaymentRef   string
	Target       domain.OrderStatus
	Notification domain.NotificationKind
}

// Ignored reports whether the event type has no order effect.
func (e Event) Ignored() bool {
	return e.Target == ""
}

// Strategy adapts one payment provider to the shared reconciliation flow.
type Strategy interface {
	Provider() domain.PaymentProvider
	// Verify authenticates the delivery. It returns ErrMissingSignature, ErrInvalidSignature or
	// ErrVerificationUnavailable.
	Verify(ctx context.Context, delivery Delivery) error
	// MapEvent decodes a verified body into a normalised event.
	MapEvent(delivery Delivery) (Event, error)
}

// requireHeaders returns ErrMissingSignature naming the first absent header.
func requireHeaders(delivery Delivery, names ...string) error {
	for _, name := range names {
		if delivery.Header(name) == "" {
			return fmt.Errorf("%w: %s", ErrMissingSignature, name)
		}
	}
	return nil
}

// mapping is one row of a provider event table.
type mapping struct {
	target       domain.OrderStatus
	notification domain.NotificationKind
}

var (
	toPaid      = mapping{target: domain.OrderStatusPaid, notification: domain.NotificationPaid}
	toCancelled = mapping{target: domain.OrderStatusCancelled, notification: domain.NotificationCancelled}
	toRefunded  = mapping{target: domain.OrderStatusCancelled, notification: domain.NotificationRefunded}
	toPending   = mapping{target: domain.OrderStatusPending}
)
