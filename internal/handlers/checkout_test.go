package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories/memory"
	"github.com/hanko-field/orders/internal/services"
)

type stubCheckoutService struct {
	quoteFn func(context.Context, services.QuoteCommand) (services.Quote, error)
}

func (s *stubCheckoutService) Quote(ctx context.Context, cmd services.QuoteCommand) (services.Quote, error) {
	return s.quoteFn(ctx, cmd)
}

func checkoutRouter(h *CheckoutHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/checkout", h.Routes)
	return r
}

func TestCheckoutHandlersQuoteMapsBoundary(t *testing.T) {
	var captured services.QuoteCommand
	svc := &stubCheckoutService{
		quoteFn: func(_ context.Context, cmd services.QuoteCommand) (services.Quote, error) {
			captured = cmd
			return services.Quote{
				Totals:   services.Totals{SubtotalCents: 1999, ShippingCents: 500, TaxCents: 200, TotalCents: 2699},
				Currency: cmd.Currency,
			}, nil
		},
	}
	body := []byte(`{"items":[{"price":19.99,"quantity":1,"productId":"p1"}],"shippingAddress":{"line1":"1 Main","city":"Osaka","state":"27","country":"jp"}}`)
	rr := httptest.NewRecorder()

	checkoutRouter(NewCheckoutHandlers(svc)).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/quote", bytes.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Items[0].PriceCents != 1999 || captured.Items[0].ProductID != "p1" {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if captured.Destination == nil || captured.Destination.Country != "JP" || captured.Destination.Region != "27" {
		t.Fatalf("unexpected destination %+v", captured.Destination)
	}
	got := decodeBody(t, rr)
	want := map[string]any{"subtotal": "19.99", "shipping": "5.00", "tax": "2.00", "total": "26.99", "currency": "USD"}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("%s: expected %v, got %v", key, value, got[key])
		}
	}
}

func TestCheckoutHandlersQuoteWithRealService(t *testing.T) {
	catalog := memory.NewCatalogRepository(domain.CatalogProduct{
		ID:         "ebook",
		Kind:       domain.ProductKindDigital,
		PriceCents: 1000,
	})
	svc := services.NewCheckoutService(services.CheckoutServiceDeps{
		Catalog: catalog,
		Totals:  services.NewTotalsCalculator(services.FlatRateShipping{FlatFeeCents: 500}, services.RateTax{DefaultBasisPoints: 800}),
	})
	body := []byte(`{"items":[{"productId":"ebook","price":1,"quantity":2}]}`)
	rr := httptest.NewRecorder()

	checkoutRouter(NewCheckoutHandlers(svc)).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/quote", bytes.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got := decodeBody(t, rr)
	if got["subtotal"] != "20.00" || got["shipping"] != "0.00" || got["tax"] != "1.60" || got["total"] != "21.60" {
		t.Fatalf("unexpected quote %v", got)
	}
}

func TestCheckoutHandlersQuoteValidation(t *testing.T) {
	svc := services.NewCheckoutService(services.CheckoutServiceDeps{})
	rr := httptest.NewRecorder()

	checkoutRouter(NewCheckoutHandlers(svc)).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/quote", bytes.NewReader([]byte(`{"items":[]}`))))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if decodeBody(t, rr)["error"] != "invalid_request" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestCheckoutHandlersQuoteRejectsOversizedPrices(t *testing.T) {
	svc := services.NewCheckoutService(services.CheckoutServiceDeps{
		Totals: services.NewTotalsCalculator(services.FlatRateShipping{FlatFeeCents: 500}, services.RateTax{DefaultBasisPoints: 1000}),
	})
	for _, price := range []string{`"92233720368547758.07"`, `"9000000000000000"`, `"-1e40"`} {
		body := []byte(`{"items":[{"price":` + price + `,"quantity":1}]}`)
		rr := httptest.NewRecorder()
		checkoutRouter(NewCheckoutHandlers(svc)).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/quote", bytes.NewReader(body)))

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("price %s: expected 400, got %d: %s", price, rr.Code, rr.Body.String())
		}
	}
}
