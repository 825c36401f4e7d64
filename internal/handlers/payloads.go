package handlers

import (
	"strings"
	"time"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
)

// Monetary values leave the service as fixed-point major-unit strings, e.g. "50.00".

type addressPayload struct {
	Recipient  string `json:"recipient,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a *addressPayload) toDomain() *domain.Address {
	if a == nil {
		return nil
	}
	return &domain.Address{
		Recipient:  strings.TrimSpace(a.Recipient),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      strings.TrimSpace(a.Phone),
	}
}

func buildAddressPayload(addr *domain.Address) *addressPayload {
	if addr == nil {
		return nil
	}
	return &addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

type orderItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"productId,omitempty"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

type affiliatePayload struct {
	Code         string `json:"code"`
	Commission   string `json:"commission"`
	Status       string `json:"status"`
	AttributedAt string `json:"attributedAt"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	Status          string             `json:"status"`
	Email           string             `json:"email,omitempty"`
	PaymentProvider string             `json:"paymentProvider,omitempty"`
	PaymentRef      string             `json:"paymentRef,omitempty"`
	Currency        string             `json:"currency"`
	Subtotal        string             `json:"subtotal"`
	Shipping        string             `json:"shipping"`
	Tax             string             `json:"tax"`
	Total           string             `json:"total"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress *addressPayload    `json:"shippingAddress,omitempty"`
	Affiliate       *affiliatePayload  `json:"affiliate,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt"`
}

type orderListPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	currency := order.Currency
	payload := orderPayload{
		ID:              order.ID,
		Status:          string(order.Status),
		Email:           order.Email,
		PaymentProvider: string(order.PaymentProvider),
		PaymentRef:      order.PaymentRef,
		Currency:        currency,
		Subtotal:        services.FormatMajor(order.SubtotalCents, currency),
		Shipping:        services.FormatMajor(order.ShippingCents, currency),
		Tax:             services.FormatMajor(order.TaxCents, currency),
		Total:           services.FormatMajor(order.TotalCents, currency),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     services.FormatMajor(item.PriceCents, currency),
			Quantity:  item.Quantity,
			ImageURL:  item.ImageURL,
		})
	}
	if snap := order.Affiliate; snap != nil {
		payload.Affiliate = &affiliatePayload{
			Code:         snap.Code,
			Commission:   services.FormatMajor(snap.CommissionCents, currency),
			Status:       string(snap.Status),
			AttributedAt: formatTime(snap.AttributedAt),
		}
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
