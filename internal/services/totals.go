package services

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/orders/internal/domain"
)

var basisPointsPerUnit = decimal.NewFromInt(10_000)

// PricedItem is a line whose price has already been resolved against the catalog.
type PricedItem struct {
	ProductID        string
	PriceCents       int64
	Quantity         int
	Kind             domain.ProductKind
	ShippingRequired bool
	WeightGrams      int
}

func (i PricedItem) requiresShipping() bool {
	return i.Kind != domain.ProductKindDigital || i.ShippingRequired
}

// Destination narrows tax and shipping rules to where the order ships.
type Destination struct {
	Country    string
	Region     string
	PostalCode string
}

func destinationFromAddress(addr *domain.Address) *Destination {
	if addr == nil {
		return nil
	}
	return &Destination{
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Region:     strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
	}
}

// Totals is a server-computed price breakdown. Total always equals Subtotal + Shipping + Tax.
type Totals struct {
	SubtotalCents int64
	ShippingCents int64
	TaxCents      int64
	TotalCents    int64
}

// Shipment summarises what needs to be shipped for shipping providers.
type Shipment struct {
	Required      bool
	SubtotalCents int64
	WeightGrams   int64
	Destination   *Destination
}

// ShippingProvider prices shipping for a basket.
type ShippingProvider interface {
	ShippingCents(shipment Shipment) int64
}

// TaxProvider computes tax on the merchandise subtotal. Shipping is never taxed.
type TaxProvider interface {
	TaxCents(subtotalCents int64, destination *Destination) int64
}

// FlatRateShipping charges a flat fee unless the subtotal reaches the free-shipping threshold.
type FlatRateShipping struct {
	ThresholdCents int64
	FlatFeeCents   int64
}

// ShippingCents implements ShippingProvider.
func (f FlatRateShipping) ShippingCents(shipment Shipment) int64 {
	if !shipment.Required {
		return 0
	}
	if f.ThresholdCents > 0 && shipment.SubtotalCents >= f.ThresholdCents {
		return 0
	}
	if f.FlatFeeCents < 0 {
		return 0
	}
	return f.FlatFeeCents
}

// RateTax applies a rate expressed in basis points (1/100 of a percent), optionally per country.
type RateTax struct {
	DefaultBasisPoints int64
	ByCountry          map[string]int64
}

// TaxCents implements TaxProvider. Rounding is half away from zero. The product is computed in
// arbitrary precision and saturates at the int64 limit.
func (r RateTax) TaxCents(subtotalCents int64, destination *Destination) int64 {
	bps := r.DefaultBasisPoints
	if destination != nil {
		if rate, ok := r.ByCountry[strings.ToUpper(destination.Country)]; ok {
			bps = rate
		}
	}
	if bps <= 0 || subtotalCents <= 0 {
		return 0
	}
	tax := decimal.NewFromInt(subtotalCents).Mul(decimal.NewFromInt(bps)).Div(basisPointsPerUnit)
	return clampMinorUnits(tax.Round(0))
}

// TotalsCalculator computes order totals from priced items. It is pure and safe for concurrent use.
type TotalsCalculator struct {
	shipping ShippingProvider
	tax      TaxProvider
}

// NewTotalsCalculator builds a calculator. Nil providers contribute zero.
func NewTotalsCalculator(shipping ShippingProvider, tax TaxProvider) TotalsCalculator {
	return TotalsCalculator{shipping: shipping, tax: tax}
}

// Calculate sums items with a positive quantity and applies shipping and tax. Sums saturate rather
// than wrap; validated input never gets near the limit.
func (c TotalsCalculator) Calculate(items []PricedItem, destination *Destination) Totals {
	shipment := Shipment{Destination: destination}
	var subtotal int64
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		subtotal = saturatingAdd(subtotal, saturatingMul(item.PriceCents, int64(item.Quantity)))
		if !item.requiresShipping() {
			continue
		}
		shipment.Required = true
		shipment.WeightGrams = saturatingAdd(shipment.WeightGrams, saturatingMul(int64(item.WeightGrams), int64(item.Quantity)))
	}
	shipment.SubtotalCents = subtotal

	var totals Totals
	totals.SubtotalCents = subtotal
	if c.shipping != nil {
		totals.ShippingCents = c.shipping.ShippingCents(shipment)
	}
	if c.tax != nil {
		totals.TaxCents = c.tax.TaxCents(subtotal, destination)
	}
	totals.TotalCents = saturatingAdd(saturatingAdd(totals.SubtotalCents, totals.ShippingCents), totals.TaxCents)
	return totals
}

func saturatingMul(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
