package taxship

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateTable_SumsStateCountyCity(t *testing.T) {
	table := RateTable{
		Rates: []JurisdictionRate{
			{State: "CA", Rate: decimal.NewFromFloat(0.0625)},
			{State: "CA", County: "Santa Clara", Rate: decimal.NewFromFloat(0.0125)},
			{State: "CA", County: "Santa Clara", City: "San Jose", Rate: decimal.NewFromFloat(0.0025)},
		},
		CatchAll: decimal.NewFromFloat(0.05),
	}

	rate := table.Rate(Address{State: "CA", County: "Santa Clara", City: "San Jose"})
	assert.True(t, rate.Equal(decimal.NewFromFloat(0.0775)))
}

func TestRateTable_FallsBackToCatchAll(t *testing.T) {
	table := RateTable{
		Rates:    []JurisdictionRate{{State: "CA", Rate: decimal.NewFromFloat(0.0625)}},
		CatchAll: decimal.NewFromFloat(0.05),
	}

	rate := table.Rate(Address{State: "TX"})
	assert.True(t, rate.Equal(decimal.NewFromFloat(0.05)))
}

func TestComputeTax_RoundsHalfAwayFromZero(t *testing.T) {
	items := []LineItem{{ProductID: "p1", Quantity: 1, UnitPriceMinor: 100}}
	table := RateTable{CatchAll: decimal.NewFromFloat(0.005)} // 0.5 minor units, rounds to 1

	tax := ComputeTax(items, Address{State: "ZZ"}, table)
	assert.Equal(t, int64(1), tax)
}

func TestComputeTotals_GrandTotalInvariant(t *testing.T) {
	items := []LineItem{
		{ProductID: "item_123", Quantity: 2, UnitPriceMinor: 2500},
	}
	table := RateTable{
		Rates:    []JurisdictionRate{{State: "CA", Rate: decimal.NewFromFloat(0.08)}},
		CatchAll: decimal.Zero,
	}

	totals, err := ComputeTotals(items, Address{State: "CA"}, table, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(5000), totals.Subtotal)
	assert.Equal(t, totals.Grand, totals.Subtotal+totals.Tax+totals.Shipping-totals.Discount)
}

func TestComputeTotals_WithShippingAndDiscount(t *testing.T) {
	items := []LineItem{{ProductID: "item_123", Quantity: 1, UnitPriceMinor: 1000}}
	shipFn := shippingFunc(func([]LineItem, Address) (int64, error) { return 500, nil })

	totals, err := ComputeTotals(items, Address{State: "ZZ"}, RateTable{CatchAll: decimal.Zero}, shipFn, 100)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), totals.Subtotal)
	assert.Equal(t, int64(500), totals.Shipping)
	assert.Equal(t, int64(100), totals.Discount)
	assert.Equal(t, int64(1400), totals.Grand)
}

type shippingFunc func([]LineItem, Address) (int64, error)

func (f shippingFunc) Quote(items []LineItem, addr Address) (int64, error) { return f(items, addr) }
