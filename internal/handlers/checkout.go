package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

const maxQuoteBodySize = 64 * 1024

type quoteItemRequest struct {
	ProductID string          `json:"productId,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type quoteRequest struct {
	Items           []quoteItemRequest `json:"items"`
	Currency        string             `json:"currency,omitempty"`
	ShippingAddress *addressPayload    `json:"shippingAddress,omitempty"`
}

type quotePayload struct {
	Subtotal string `json:"subtotal"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

// CheckoutHandlers serves price quotes computed with the same engine as order creation.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
}

func (h *CheckoutHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req quoteRequest
	if err := httpx.DecodeJSON(r, &req, maxQuoteBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	currency, err := services.NormalizeCurrency(req.Currency)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "currency is not a supported ISO 4217 code", http.StatusBadRequest))
		return
	}

	cmd := services.QuoteCommand{
		Items:    make([]services.QuoteItemInput, 0, len(req.Items)),
		Currency: currency,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.QuoteItemInput{
			ProductID:  strings.TrimSpace(item.ProductID),
			PriceCents: services.ToMinorUnits(item.Price, currency),
			Quantity:   item.Quantity,
		})
	}
	// Quotes only need the destination; street lines are accepted so clients can send the same
	// address object they will submit with the order.
	if addr := req.ShippingAddress.toDomain(); addr != nil {
		cmd.Destination = &services.Destination{
			Country:    addr.Country,
			Region:     addr.State,
			PostalCode: addr.PostalCode,
		}
	}

	quote, err := h.checkout.Quote(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	totals := quote.Totals
	httpx.WriteJSON(w, http.StatusOK, quotePayload{
		Subtotal: services.FormatMajor(totals.SubtotalCents, quote.Currency),
		Shipping: services.FormatMajor(totals.ShippingCents, quote.Currency),
		Tax:      services.FormatMajor(totals.TaxCents, quote.Currency),
		Total:    services.FormatMajor(totals.TotalCents, quote.Currency),
		Currency: quote.Currency,
	})
}
