package repositories

import (
	"context"
	"time"

	"github.com/hanko-field/orders/internal/domain"
)

// RepositoryError exposes semantic checks for repository failures so services can map them without
// depending on the storage driver.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter scopes order listings to a single owner.
type OrderListFilter struct {
	UserID    string
	GuestID   string
	PageSize  int
	PageToken string
}

// StatusUpdate describes a conditional status change. The update only applies when the stored status
// still equals From.
type StatusUpdate struct {
	OrderID   string
	From      domain.OrderStatus
	To        domain.OrderStatus
	UpdatedAt time.Time
}

// OrderRepository persists orders together with their items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentRef(ctx context.Context, provider domain.PaymentProvider, paymentRef string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.OrderPage, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) error
}

// ReservationLine requests quantity of a product for an order.
type ReservationLine struct {
	ProductID string
	Quantity  int
}

// InventoryRepository owns stock and per-order reservations. ReserveForOrder is all-or-nothing: when
// any line cannot be satisfied it fails with an out-of-stock InventoryError naming the product and no
// reservation from the call remains held.
type InventoryRepository interface {
	ReserveForOrder(ctx context.Context, orderID string, lines []ReservationLine) error
	CommitOrder(ctx context.Context, orderID string) error
	ReleaseOrder(ctx context.Context, orderID string) error
	RestockOrder(ctx context.Context, orderID string) error
}

// CatalogRepository resolves product metadata for order enrichment.
type CatalogRepository interface {
	FindProducts(ctx context.Context, productIDs []string) (map[string]domain.CatalogProduct, error)
}

// AffiliateRepository stores referral clicks and conversions.
type AffiliateRepository interface {
	InsertClick(ctx context.Context, click domain.AffiliateClick) error
	ListClicksByCode(ctx context.Context, code string, limit int) ([]domain.AffiliateClick, error)
	MarkClickConverted(ctx context.Context, clickID, orderID string, convertedAt time.Time) error
	CreateConversion(ctx context.Context, conversion domain.AffiliateConversion) error
	FindConversion(ctx context.Context, conversionID string) (domain.AffiliateConversion, error)
	// UpdateConversionStatus stores conversion only while the stored status still equals from, and
	// returns a conflict otherwise.
	UpdateConversionStatus(ctx context.Context, conversion domain.AffiliateConversion, from domain.AffiliateConversionStatus) error
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}
