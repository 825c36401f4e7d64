package firestore

import (
	"context"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const defaultCatalogCollection = "products"

type productDocument struct {
	Name             string `firestore:"name"`
	Kind             string `firestore:"kind"`
	ShippingRequired *bool  `firestore:"shippingRequired"`
	WeightGrams      int    `firestore:"weightGrams"`
	PriceCents       int64  `firestore:"priceCents"`
	Active           *bool  `firestore:"active"`
}

// CatalogRepository reads product metadata from the catalog collection.
type CatalogRepository struct {
	provider   *pfirestore.Provider
	collection string
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository binds the repository to collection ("products" when empty).
func NewCatalogRepository(provider *pfirestore.Provider, collection string) *CatalogRepository {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultCatalogCollection
	}
	return &CatalogRepository{provider: provider, collection: collection}
}

// FindProducts batch-reads the requested products. Missing and inactive products are omitted.
func (r *CatalogRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.CatalogProduct, error) {
	out := make(map[string]domain.CatalogProduct, len(productIDs))
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("catalog.client", err)
	}
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, client.Collection(r.collection).Doc(id))
	}
	if len(refs) == 0 {
		return out, nil
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("catalog.getAll", err)
	}
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("catalog.decode", err)
		}
		if doc.Active != nil && !*doc.Active {
			continue
		}
		out[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return out, nil
}

func (d productDocument) toDomain(id string) domain.CatalogProduct {
	kind := domain.ProductKind(strings.ToLower(strings.TrimSpace(d.Kind)))
	if kind != domain.ProductKindDigital {
		kind = domain.ProductKindPhysical
	}
	shipping := kind == domain.ProductKindPhysical
	if d.ShippingRequired != nil {
		shipping = *d.ShippingRequired
	}
	return domain.CatalogProduct{
		ID:               id,
		Name:             d.Name,
		Kind:             kind,
		ShippingRequired: shipping,
		WeightGrams:      d.WeightGrams,
		PriceCents:       d.PriceCents,
	}
}
