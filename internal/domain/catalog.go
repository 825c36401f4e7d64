package domain

// ProductKind distinguishes goods that need shipping from digital goods.
type ProductKind string

const (
	ProductKindPhysical ProductKind = "physical"
	ProductKindDigital  ProductKind = "digital"
)

// CatalogProduct is the subset of catalog data the order core relies on.
type CatalogProduct struct {
	ID               string
	Name             string
	Kind             ProductKind
	ShippingRequired bool
	WeightGrams      int
	// PriceCents is authoritative when set; zero means the catalog does not price the product.
	PriceCents int64
}

// NotificationKind identifies the customer notification emitted for an order event.
type NotificationKind string

const (
	NotificationCreated   NotificationKind = "created"
	NotificationPaid      NotificationKind = "paid"
	NotificationCancelled NotificationKind = "cancelled"
	NotificationShipped   NotificationKind = "shipped"
	NotificationRefunded  NotificationKind = "refunded"
)
