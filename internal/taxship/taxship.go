// Package taxship computes tax and shipping line amounts from a cart
// and address. Every function here is pure: no I/O, no mutation,
// deterministic given its inputs. Minor-unit percentage math uses
// shopspring/decimal to avoid float rounding drift, following the
// pack's precedent for money-safe percentage math.
package taxship

import (
	"github.com/shopspring/decimal"
)

// LineItem mirrors the checkout session's line item for totals
// purposes: quantity and a minor-unit unit price.
type LineItem struct {
	ProductID      string
	Quantity       int64
	UnitPriceMinor int64
}

// Address is the subset of a shipping/billing address tax
// jurisdiction lookup needs.
type Address struct {
	State   string
	County  string
	City    string
	Country string
}

// JurisdictionRate is a state+county+city percentage rule. Rate is a
// fraction (0.0825 for 8.25%), not a percentage point.
type JurisdictionRate struct {
	State  string
	County string
	City   string
	Rate   decimal.Decimal
}

// RateTable resolves a jurisdiction's combined tax rate. Rates for
// state/county/city are summed; CatchAll is used when no state match
// exists at all.
type RateTable struct {
	Rates    []JurisdictionRate
	CatchAll decimal.Decimal
}

// Rate returns the combined tax rate for addr: the sum of every entry
// whose non-empty fields match addr, or CatchAll when the state never
// matches.
func (t RateTable) Rate(addr Address) decimal.Decimal {
	total := decimal.Zero
	stateMatched := false
	for _, r := range t.Rates {
		if r.State != "" && r.State != addr.State {
			continue
		}
		if r.County != "" && r.County != addr.County {
			continue
		}
		if r.City != "" && r.City != addr.City {
			continue
		}
		if r.State != "" {
			stateMatched = true
		}
		total = total.Add(r.Rate)
	}
	if !stateMatched {
		return t.CatchAll
	}
	return total
}

// TaxableBase sums quantity*unit_price_minor across items.
func TaxableBase(items []LineItem) int64 {
	var base int64
	for _, it := range items {
		base += it.Quantity * it.UnitPriceMinor
	}
	return base
}

// ComputeTax returns the tax owed in minor units: taxable_base × rate,
// rounded half-away-from-zero.
func ComputeTax(items []LineItem, addr Address, table RateTable) int64 {
	base := TaxableBase(items)
	rate := table.Rate(addr)
	amount := decimal.NewFromInt(base).Mul(rate)
	return roundHalfAwayFromZero(amount)
}

// roundHalfAwayFromZero rounds a decimal minor-unit amount to the
// nearest integer, ties rounding away from zero (unlike banker's
// rounding / round-half-to-even).
func roundHalfAwayFromZero(d decimal.Decimal) int64 {
	if d.Sign() >= 0 {
		return d.Add(decimal.NewFromFloat(0.5)).Truncate(0).IntPart()
	}
	return d.Sub(decimal.NewFromFloat(0.5)).Truncate(0).IntPart()
}

// ShippingProvider supplies a shipping quote for a cart+address. Real
// carrier adapters are out of scope; this is the pure interface seam
// a concrete provider plugs into.
type ShippingProvider interface {
	Quote(items []LineItem, addr Address) (int64, error)
}

// ZeroShipping is the default ShippingProvider when none is
// configured: shipping is always zero.
type ZeroShipping struct{}

func (ZeroShipping) Quote([]LineItem, Address) (int64, error) { return 0, nil }

// Totals is the minor-unit breakdown that feeds CheckoutSession.Totals.
type Totals struct {
	Subtotal int64
	Tax      int64
	Shipping int64
	Discount int64
	Grand    int64
}

// ComputeTotals assembles Totals honoring grand_total = subtotal +
// tax + shipping − discount.
func ComputeTotals(items []LineItem, addr Address, table RateTable, shipping ShippingProvider, discount int64) (Totals, error) {
	subtotal := TaxableBase(items)
	tax := ComputeTax(items, addr, table)

	if shipping == nil {
		shipping = ZeroShipping{}
	}
	ship, err := shipping.Quote(items, addr)
	if err != nil {
		return Totals{}, err
	}

	grand := subtotal + tax + ship - discount
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: ship,
		Discount: discount,
		Grand:    grand,
	}, nil
}
