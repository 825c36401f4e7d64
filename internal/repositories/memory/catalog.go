package memory

import (
	"context"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// CatalogRepository serves a fixed product set.
type CatalogRepository struct {
	products map[string]domain.CatalogProduct
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a catalog from the given products.
func NewCatalogRepository(products ...domain.CatalogProduct) *CatalogRepository {
	index := make(map[string]domain.CatalogProduct, len(products))
	for _, product := range products {
		index[product.ID] = product
	}
	return &CatalogRepository{products: index}
}

// FindProducts implements repositories.CatalogRepository. Unknown ids are omitted from the result.
func (r *CatalogRepository) FindProducts(_ context.Context, productIDs []string) (map[string]domain.CatalogProduct, error) {
	out := make(map[string]domain.CatalogProduct, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}
