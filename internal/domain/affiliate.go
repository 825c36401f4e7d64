package domain

import "time"

// AffiliateConversionStatus enumerates payout states of a conversion. Transitions are driven by
// administrators only and are independent of the order lifecycle.
type AffiliateConversionStatus string

const (
	AffiliateConversionPending  AffiliateConversionStatus = "pending"
	AffiliateConversionApproved AffiliateConversionStatus = "approved"
	AffiliateConversionPaid     AffiliateConversionStatus = "paid"
)

// AffiliateSnapshot is the attribution frozen onto an order at creation time.
type AffiliateSnapshot struct {
	Code            string
	ClickID         string
	CommissionCents int64
	Status          AffiliateConversionStatus
	AttributedAt    time.Time
}

// AffiliateClick records a visit through a referral link.
type AffiliateClick struct {
	ID               string
	Code             string
	UserID           string
	GuestID          string
	LandingURL       string
	ClickedAt        time.Time
	ConvertedAt      *time.Time
	ConvertedOrderID string
}

// AffiliateConversion is a commission-bearing sale attributed to a click.
type AffiliateConversion struct {
	ID              string
	ClickID         string
	OrderID         string
	UserID          string
	Code            string
	CommissionCents int64
	Status          AffiliateConversionStatus
	CreatedAt       time.Time
	PaidAt          *time.Time
}
