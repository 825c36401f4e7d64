package services

import (
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hanko-field/orders/internal/domain"
)

const (
	maxOrderItems        = 100
	maxItemQuantity      = 1000
	maxItemNameLength    = 200
	maxPaymentRefLength  = 255
	maxAddressLineLength = 200
)

// ValidationError lists field-level problems with a request. It matches ErrOrderInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrOrderInvalidInput.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return fmt.Sprintf("%s: %s", ErrOrderInvalidInput.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrOrderInvalidInput
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) checkPrice(field string, cents int64) {
	switch {
	case cents < 0:
		e.add(field, "must not be negative")
	case cents > MaxItemPriceCents:
		e.add(field, "exceeds the maximum item price")
	}
}

type defaultOrderValidator struct{}

// NewOrderValidator returns the built-in request shape validator.
func NewOrderValidator() OrderValidator {
	return defaultOrderValidator{}
}

func (defaultOrderValidator) ValidateCreate(cmd CreateOrderCommand) error {
	verr := &ValidationError{}

	switch n := len(cmd.Items); {
	case n == 0:
		verr.add("items", "at least one item is required")
	case n > maxOrderItems:
		verr.add("items", fmt.Sprintf("at most %d items are allowed", maxOrderItems))
	}
	for idx, item := range cmd.Items {
		prefix := fmt.Sprintf("items[%d]", idx)
		name := strings.TrimSpace(item.Name)
		if name == "" {
			verr.add(prefix+".name", "is required")
		} else if utf8.RuneCountInString(name) > maxItemNameLength {
			verr.add(prefix+".name", "is too long")
		}
		if item.Quantity <= 0 {
			verr.add(prefix+".quantity", "must be positive")
		} else if item.Quantity > maxItemQuantity {
			verr.add(prefix+".quantity", fmt.Sprintf("must not exceed %d", maxItemQuantity))
		}
		verr.checkPrice(prefix+".price", item.PriceCents)
		if raw := strings.TrimSpace(item.ImageURL); raw != "" && !isHTTPURL(raw) {
			verr.add(prefix+".imageUrl", "must be an absolute http(s) URL")
		}
	}

	if email := strings.TrimSpace(cmd.Email); email != "" {
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			verr.add("email", "is not a valid address")
		}
	}

	switch cmd.Status {
	case "", domain.OrderStatusPending, domain.OrderStatusPaid:
	default:
		verr.add("status", "must be pending or paid")
	}

	switch cmd.PaymentProvider {
	case "", domain.PaymentProviderStripe, domain.PaymentProviderPayPal:
	default:
		verr.add("paymentProvider", "must be stripe or paypal")
	}
	ref := strings.TrimSpace(cmd.PaymentRef)
	if ref != "" && cmd.PaymentProvider == "" {
		verr.add("paymentProvider", "is required when paymentRef is set")
	}
	if len(ref) > maxPaymentRefLength {
		verr.add("paymentRef", "is too long")
	}

	if _, err := NormalizeCurrency(cmd.Currency); err != nil {
		verr.add("currency", "is not a supported ISO 4217 code")
	}

	if addr := cmd.ShippingAddress; addr != nil {
		if strings.TrimSpace(addr.Line1) == "" {
			verr.add("shippingAddress.line1", "is required")
		}
		if strings.TrimSpace(addr.City) == "" {
			verr.add("shippingAddress.city", "is required")
		}
		if country := strings.TrimSpace(addr.Country); len(country) != 2 {
			verr.add("shippingAddress.country", "must be an ISO 3166-1 alpha-2 code")
		}
		for field, value := range map[string]string{
			"shippingAddress.line1": addr.Line1,
			"shippingAddress.line2": addr.Line2,
		} {
			if utf8.RuneCountInString(value) > maxAddressLineLength {
				verr.add(field, "is too long")
			}
		}
	}

	return verr.orNil()
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "https" || parsed.Scheme == "http") && parsed.Host != ""
}
