package services

import (
	"context"
	"time"

	"github.com/hanko-field/orders/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	OrderStatus         = domain.OrderStatus
	OrderPage           = domain.OrderPage
	Address             = domain.Address
	AffiliateClick      = domain.AffiliateClick
	AffiliateConversion = domain.AffiliateConversion
)

// OrderService creates orders idempotently and serves owner-scoped reads.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	Get(ctx context.Context, query GetOrderQuery) (Order, error)
	List(ctx context.Context, query ListOrdersQuery) (OrderPage, error)
}

// OrderLifecycle is the single entry point for order status changes. Webhooks and administrators both
// go through it so the transition guard and side effects cannot diverge.
type OrderLifecycle interface {
	Transition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error)
}

// CheckoutService prices a prospective basket without persisting anything.
type CheckoutService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (Quote, error)
}

// AffiliateService attributes orders to referral codes and manages conversion payouts.
type AffiliateService interface {
	Attribute(ctx context.Context, code string, subtotalCents int64) (*Attribution, error)
	RecordConversion(ctx context.Context, order Order) (AffiliateConversion, error)
	RecordClick(ctx context.Context, cmd RecordClickCommand) (AffiliateClick, error)
	UpdateConversionStatus(ctx context.Context, cmd UpdateConversionStatusCommand) (AffiliateConversion, error)
}

// Notifier hands customer notifications to the email collaborator.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderValidator checks the shape of an order creation request before any side effect runs.
type OrderValidator interface {
	ValidateCreate(cmd CreateOrderCommand) error
}

// IdempotencyMaintenance exposes housekeeping for stored idempotency records.
type IdempotencyMaintenance interface {
	CleanupExpired(ctx context.Context, limit int) (int, error)
}

// OrderItemInput is a client-submitted order line.
type OrderItemInput struct {
	ProductID  string `json:"productId,omitempty"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Quantity   int    `json:"quantity"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

// CreateOrderCommand carries a storefront order creation request. Payload is the decoded client body
// and is what the idempotency hash is computed over.
type CreateOrderCommand struct {
	UserID          string
	GuestID         string
	Email           string
	Status          domain.OrderStatus
	PaymentProvider domain.PaymentProvider
	PaymentRef      string
	Currency        string
	Items           []OrderItemInput
	ShippingAddress *domain.Address
	ReferralCode    string
	IdempotencyKey  string
	Payload         any
	// Encode renders the response body frozen for replays. Defaults to JSON of the order.
	Encode func(Order) ([]byte, error)
}

// CreateOrderResult is the outcome of Create. On replay Order is zero and Body holds the stored
// response.
type CreateOrderResult struct {
	Order    Order
	Body     []byte
	Status   int
	Replayed bool
}

// GetOrderQuery reads one order on behalf of its owner.
type GetOrderQuery struct {
	OrderID string
	UserID  string
	GuestID string
}

// ListOrdersQuery lists an owner's orders.
type ListOrdersQuery struct {
	UserID    string
	GuestID   string
	PageSize  int
	PageToken string
}

// TransitionTrigger identifies who asked for a status change.
type TransitionTrigger string

const (
	TriggerWebhook TransitionTrigger = "webhook"
	TriggerAdmin   TransitionTrigger = "admin"
)

// TransitionCommand requests a status change. The order is located by OrderID, or by the payment
// provider reference when OrderID is empty.
type TransitionCommand struct {
	OrderID         string
	PaymentProvider domain.PaymentProvider
	PaymentRef      string
	Target          domain.OrderStatus
	// Notification overrides the default notification kind, e.g. refunded for a paid cancellation.
	Notification domain.NotificationKind
	Trigger      TransitionTrigger
	ActorID      string
	Reason       string
}

// TransitionResult reports the order after a transition. Changed is false for same-status requests.
type TransitionResult struct {
	Order    Order
	Previous domain.OrderStatus
	Changed  bool
}

// QuoteItemInput is a line of a checkout quote request.
type QuoteItemInput struct {
	ProductID  string
	PriceCents int64
	Quantity   int
}

// QuoteCommand prices a basket for an optional destination.
type QuoteCommand struct {
	Items       []QuoteItemInput
	Destination *Destination
	Currency    string
}

// Quote is a server-computed price breakdown in minor units.
type Quote struct {
	Totals   Totals
	Currency string
}

// Attribution is the result of resolving a referral code against its latest click.
type Attribution struct {
	Code            string
	ClickID         string
	CommissionCents int64
	AttributedAt    time.Time
}

// RecordClickCommand stores a referral visit.
type RecordClickCommand struct {
	Code       string
	UserID     string
	GuestID    string
	LandingURL string
}

// UpdateConversionStatusCommand moves a conversion along its payout states.
type UpdateConversionStatusCommand struct {
	ConversionID string
	Status       domain.AffiliateConversionStatus
	ActorID      string
}

// Notification is the payload handed to the email collaborator.
type Notification struct {
	Kind       domain.NotificationKind
	OrderID    string
	Email      string
	TotalCents int64
	Currency   string
	OccurredAt time.Time
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}
