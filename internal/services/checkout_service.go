package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/hanko-field/orders/internal/repositories"
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Catalog repositories.CatalogRepository
	Totals  TotalsCalculator
}

type checkoutService struct {
	pricer catalogPricer
	totals TotalsCalculator
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs the quote service. It shares pricing and totals with order creation
// so a quote and the order that follows it agree.
func NewCheckoutService(deps CheckoutServiceDeps) CheckoutService {
	return &checkoutService{
		pricer: catalogPricer{catalog: deps.Catalog},
		totals: deps.Totals,
	}
}

func (s *checkoutService) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	currency, err := NormalizeCurrency(cmd.Currency)
	if err != nil {
		return Quote{}, err
	}
	if len(cmd.Items) == 0 {
		return Quote{}, &ValidationError{Fields: map[string]string{"items": "at least one item is required"}}
	}
	if len(cmd.Items) > maxOrderItems {
		return Quote{}, &ValidationError{Fields: map[string]string{"items": fmt.Sprintf("at most %d items are allowed", maxOrderItems)}}
	}

	verr := &ValidationError{}
	lines := make([]catalogLine, 0, len(cmd.Items))
	for idx, item := range cmd.Items {
		verr.checkPrice(fmt.Sprintf("items[%d].price", idx), item.PriceCents)
		if item.Quantity <= 0 {
			verr.add(fmt.Sprintf("items[%d].quantity", idx), "must be positive")
		} else if item.Quantity > maxItemQuantity {
			verr.add(fmt.Sprintf("items[%d].quantity", idx), fmt.Sprintf("must not exceed %d", maxItemQuantity))
		}
		lines = append(lines, catalogLine{
			ProductID:  strings.TrimSpace(item.ProductID),
			PriceCents: item.PriceCents,
			Quantity:   item.Quantity,
		})
	}
	if err := verr.orNil(); err != nil {
		return Quote{}, err
	}

	priced, err := s.pricer.price(ctx, lines)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Totals:   s.totals.Calculate(priced, cmd.Destination),
		Currency: currency,
	}, nil
}
