package domain

import "time"

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentProvider identifies the PSP that captured an order's payment.
type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderPayPal PaymentProvider = "paypal"
)

// Order is the authoritative order record. Items are immutable once persisted and the status is only
// mutated through the order lifecycle.
type Order struct {
	ID              string
	UserID          string
	GuestID         string
	Email           string
	Status          OrderStatus
	PaymentProvider PaymentProvider
	PaymentRef      string
	Currency        string
	SubtotalCents   int64
	ShippingCents   int64
	TaxCents        int64
	TotalCents      int64
	Items           []OrderItem
	ShippingAddress *Address
	Affiliate       *AffiliateSnapshot
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OwnedBy reports whether the order belongs to the given user or guest.
func (o Order) OwnedBy(userID, guestID string) bool {
	if userID != "" && o.UserID == userID {
		return true
	}
	return guestID != "" && o.GuestID == guestID
}

// OrderItem is a line of an order.
type OrderItem struct {
	ID         string
	ProductID  string
	Name       string
	PriceCents int64
	Quantity   int
	ImageURL   string
}

// Address captures the shipping destination supplied by the client.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// OrderPage is a page of orders returned by listing queries.
type OrderPage struct {
	Items         []Order
	NextPageToken string
}
