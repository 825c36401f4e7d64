package services

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/orders/internal/domain"
)

func TestTotalsCalculator(t *testing.T) {
	t.Parallel()

	calc := NewTotalsCalculator(
		FlatRateShipping{ThresholdCents: 5000, FlatFeeCents: 500},
		RateTax{DefaultBasisPoints: 1000, ByCountry: map[string]int64{"JP": 800}},
	)

	cases := []struct {
		name        string
		items       []PricedItem
		destination *Destination
		want        Totals
	}{
		{
			name:  "subtotal at threshold ships free",
			items: []PricedItem{{PriceCents: 2500, Quantity: 2, Kind: domain.ProductKindPhysical}},
			want:  Totals{SubtotalCents: 5000, ShippingCents: 0, TaxCents: 500, TotalCents: 5500},
		},
		{
			name:  "below threshold pays flat fee",
			items: []PricedItem{{PriceCents: 4999, Quantity: 1, Kind: domain.ProductKindPhysical}},
			want:  Totals{SubtotalCents: 4999, ShippingCents: 500, TaxCents: 500, TotalCents: 5999},
		},
		{
			name:  "digital only never ships",
			items: []PricedItem{{PriceCents: 1000, Quantity: 1, Kind: domain.ProductKindDigital}},
			want:  Totals{SubtotalCents: 1000, ShippingCents: 0, TaxCents: 100, TotalCents: 1100},
		},
		{
			name:        "country rate and half away rounding",
			items:       []PricedItem{{PriceCents: 1006, Quantity: 1, Kind: domain.ProductKindPhysical}},
			destination: &Destination{Country: "jp"},
			// 1006 * 8% = 80.48 -> 80
			want: Totals{SubtotalCents: 1006, ShippingCents: 500, TaxCents: 80, TotalCents: 1586},
		},
		{
			name:  "zero quantity lines are ignored",
			items: []PricedItem{{PriceCents: 9999, Quantity: 0}, {PriceCents: 15, Quantity: 1, Kind: domain.ProductKindDigital}},
			// 15 * 10% = 1.5 -> 2
			want: Totals{SubtotalCents: 15, ShippingCents: 0, TaxCents: 2, TotalCents: 17},
		},
		{
			name:  "digital item with physical insert ships",
			items: []PricedItem{{PriceCents: 100, Quantity: 1, Kind: domain.ProductKindDigital, ShippingRequired: true}},
			want:  Totals{SubtotalCents: 100, ShippingCents: 500, TaxCents: 10, TotalCents: 610},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Calculate(tc.items, tc.destination)
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
			if got.TotalCents != got.SubtotalCents+got.ShippingCents+got.TaxCents {
				t.Fatalf("total invariant violated: %+v", got)
			}
		})
	}
}

func TestRateTaxRoundsHalfAwayFromZero(t *testing.T) {
	tax := RateTax{DefaultBasisPoints: 1000}
	cases := map[int64]int64{
		15:            2,
		14:            1,
		25:            3,
		0:             0,
		math.MaxInt64: 922337203685477581,
	}
	for subtotal, want := range cases {
		if got := tax.TaxCents(subtotal, nil); got != want {
			t.Fatalf("TaxCents(%d) = %d, want %d", subtotal, got, want)
		}
	}
	if got := (RateTax{DefaultBasisPoints: math.MaxInt64}).TaxCents(math.MaxInt64, nil); got != math.MaxInt64 {
		t.Fatalf("expected tax to saturate, got %d", got)
	}
}

func TestTotalsCalculatorSaturatesHugeAmounts(t *testing.T) {
	calc := NewTotalsCalculator(FlatRateShipping{FlatFeeCents: 500}, RateTax{DefaultBasisPoints: 1000})

	cases := []struct {
		name  string
		items []PricedItem
	}{
		{"line product overflows", []PricedItem{{PriceCents: math.MaxInt64, Quantity: 2, Kind: domain.ProductKindPhysical}}},
		{"sum of lines overflows", []PricedItem{
			{PriceCents: math.MaxInt64 / 2, Quantity: 1, Kind: domain.ProductKindPhysical},
			{PriceCents: math.MaxInt64 / 2, Quantity: 1},
			{PriceCents: 10, Quantity: 1},
		}},
		{"tax on a large subtotal", []PricedItem{{PriceCents: 900_000_000_000_000_000, Quantity: 1, Kind: domain.ProductKindDigital}}},
	}
	for _, tc := range cases {
		got := calc.Calculate(tc.items, nil)
		if got.SubtotalCents < 0 || got.TaxCents < 0 || got.TotalCents < 0 {
			t.Fatalf("%s: amounts wrapped negative: %+v", tc.name, got)
		}
		if got.TotalCents < got.SubtotalCents {
			t.Fatalf("%s: total below subtotal: %+v", tc.name, got)
		}
	}
}

func TestMoneyConversion(t *testing.T) {
	if got := ToMinorUnits(decimal.RequireFromString("19.995"), "USD"); got != 2000 {
		t.Fatalf("expected 2000, got %d", got)
	}
	if got := ToMinorUnits(decimal.RequireFromString("1200"), "JPY"); got != 1200 {
		t.Fatalf("expected JPY to have no minor unit, got %d", got)
	}
	if got := ToMinorUnits(decimal.RequireFromString("92233720368547758.08"), "USD"); got != math.MaxInt64 {
		t.Fatalf("expected out of range amount to saturate, got %d", got)
	}
	if got := ToMinorUnits(decimal.RequireFromString("-1e30"), "USD"); got != math.MinInt64 {
		t.Fatalf("expected negative out of range amount to saturate, got %d", got)
	}
	if got := FormatMajor(5000, "USD"); got != "50.00" {
		t.Fatalf("expected 50.00, got %s", got)
	}
	if got := FormatMajor(1234, "JPY"); got != "1234" {
		t.Fatalf("expected 1234, got %s", got)
	}
	if _, err := NormalizeCurrency("EURO"); err == nil {
		t.Fatal("expected unknown currency to be rejected")
	}
	if code, err := NormalizeCurrency(""); err != nil || code != DefaultCurrency {
		t.Fatalf("expected default currency, got %q err %v", code, err)
	}
}
