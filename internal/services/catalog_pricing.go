package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type catalogLine struct {
	ProductID  string
	PriceCents int64
	Quantity   int
}

// catalogPricer enriches client lines with catalog metadata. When the catalog prices a product its
// price replaces whatever the client submitted.
type catalogPricer struct {
	catalog repositories.CatalogRepository
}

func (p catalogPricer) price(ctx context.Context, lines []catalogLine) ([]PricedItem, error) {
	products, err := p.lookup(ctx, lines)
	if err != nil {
		return nil, err
	}

	priced := make([]PricedItem, 0, len(lines))
	for _, line := range lines {
		item := PricedItem{
			ProductID:  line.ProductID,
			PriceCents: line.PriceCents,
			Quantity:   line.Quantity,
			Kind:       domain.ProductKindPhysical,
		}
		if line.ProductID != "" && products != nil {
			product, ok := products[line.ProductID]
			if !ok {
				return nil, fmt.Errorf("%w: unknown product %q", ErrOrderInvalidInput, line.ProductID)
			}
			if product.Kind != "" {
				item.Kind = product.Kind
			}
			item.ShippingRequired = product.ShippingRequired
			item.WeightGrams = product.WeightGrams
			if product.PriceCents > 0 {
				item.PriceCents = product.PriceCents
			}
		}
		priced = append(priced, item)
	}
	return priced, nil
}

func (p catalogPricer) lookup(ctx context.Context, lines []catalogLine) (map[string]domain.CatalogProduct, error) {
	if p.catalog == nil {
		return nil, nil
	}
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if id := strings.TrimSpace(line.ProductID); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	products, err := p.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if products == nil {
		products = map[string]domain.CatalogProduct{}
	}
	return products, nil
}
