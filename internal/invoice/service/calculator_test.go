package service

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	taxservice "github.com/smallbiznis/bizcore/internal/tax/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(name, qty string, unitPrice int64, discount, rate string) invoicedomain.LineItem {
	return invoicedomain.LineItem{
		Name:            name,
		Quantity:        decimal.RequireFromString(qty),
		UnitPrice:       unitPrice,
		DiscountPercent: decimal.RequireFromString(discount),
		TaxRatePercent:  decimal.RequireFromString(rate),
	}
}

func TestComputeInvoiceIntraState(t *testing.T) {
	calc := NewCalculator(taxservice.NewEngine())

	totals, err := calc.ComputeInvoice([]invoicedomain.LineItem{
		line("Consulting", "1", 100_000, "0", "18"),
	}, false)
	require.NoError(t, err)

	assert.Equal(t, int64(100_000), totals.Subtotal)
	assert.Equal(t, int64(18_000), totals.TotalTax)
	assert.Equal(t, int64(9_000), totals.CGST)
	assert.Equal(t, int64(9_000), totals.SGST)
	assert.Zero(t, totals.IGST)
	assert.Equal(t, int64(118_000), totals.GrandTotal)
}

func TestComputeInvoiceInterState(t *testing.T) {
	calc := NewCalculator(taxservice.NewEngine())

	totals, err := calc.ComputeInvoice([]invoicedomain.LineItem{
		line("Consulting", "1", 100_000, "0", "18"),
	}, true)
	require.NoError(t, err)

	assert.Equal(t, int64(18_000), totals.IGST)
	assert.Zero(t, totals.CGST)
	assert.Zero(t, totals.SGST)
	assert.Equal(t, int64(18_000), totals.TotalTax)
}

func TestComputeInvoiceAppliesDiscountBeforeTax(t *testing.T) {
	calc := NewCalculator(taxservice.NewEngine())

	totals, err := calc.ComputeInvoice([]invoicedomain.LineItem{
		line("Widget", "2", 10_000, "10", "18"),
	}, false)
	require.NoError(t, err)

	assert.Equal(t, int64(20_000), totals.Subtotal)
	assert.Equal(t, int64(2_000), totals.TotalDiscount)
	assert.Equal(t, int64(3_240), totals.TotalTax)
	assert.Equal(t, int64(1_620), totals.CGST)
	assert.Equal(t, int64(1_620), totals.SGST)
	assert.Equal(t, int64(21_240), totals.GrandTotal)

	require.Len(t, totals.Items, 1)
	assert.Equal(t, int64(18_000), totals.Items[0].Taxable)
	assert.Equal(t, int64(21_240), totals.Items[0].LineTotal)
}

func TestComputeInvoiceRoundsAggregateOnce(t *testing.T) {
	calc := NewCalculator(taxservice.NewEngine())

	// Each line carries 0.005 of tax; rounding per line would give 0.03.
	items := []invoicedomain.LineItem{
		line("a", "1", 10, "0", "5"),
		line("b", "1", 10, "0", "5"),
		line("c", "1", 10, "0", "5"),
	}
	totals, err := calc.ComputeInvoice(items, false)
	require.NoError(t, err)

	assert.Equal(t, int64(2), totals.TotalTax)
	assert.Equal(t, int64(1), totals.CGST)
	assert.Equal(t, int64(1), totals.SGST)

	var perLine int64
	for _, item := range totals.Items {
		perLine += item.TaxAmount
	}
	assert.Equal(t, int64(3), perLine)
}

func TestComputeInvoiceFractionalQuantity(t *testing.T) {
	calc := NewCalculator(taxservice.NewEngine())

	totals, err := calc.ComputeInvoice([]invoicedomain.LineItem{
		line("Hours", "1.5", 3_333, "0", "0"),
	}, true)
	require.NoError(t, err)

	assert.Equal(t, int64(5_000), totals.Subtotal)
	assert.Equal(t, int64(5_000), totals.GrandTotal)
}

func TestComputeInvoiceOddTaxUnitGoesToSGST(t *testing.T) {
	calc := NewCalculator(taxservice.NewEngine())

	totals, err := calc.ComputeInvoice([]invoicedomain.LineItem{
		line("Item", "1", 1_010, "0", "5"),
	}, false)
	require.NoError(t, err)

	assert.Equal(t, int64(51), totals.TotalTax)
	assert.Equal(t, int64(25), totals.CGST)
	assert.Equal(t, int64(26), totals.SGST)
}

func TestComputeInvoiceTotalsInvariant(t *testing.T) {
	calc := NewCalculator(taxservice.NewEngine())

	prices := []int64{0, 1, 99, 1_001, 33_333, 250_000}
	quantities := []string{"1", "0.5", "3", "7.25"}
	discounts := []string{"0", "12.5", "100"}
	rates := []string{"0", "5", "12", "18", "28"}

	for _, price := range prices {
		for _, qty := range quantities {
			for _, discount := range discounts {
				for _, rate := range rates {
					for _, inter := range []bool{false, true} {
						totals, err := calc.ComputeInvoice([]invoicedomain.LineItem{
							line("x", qty, price, discount, rate),
							line("y", "1", price/3, "0", rate),
						}, inter)
						require.NoError(t, err)
						assert.Equal(t, totals.Subtotal-totals.TotalDiscount+totals.TotalTax, totals.GrandTotal)
						assert.Equal(t, totals.TotalTax, totals.CGST+totals.SGST+totals.IGST)
						assert.GreaterOrEqual(t, totals.GrandTotal, int64(0))
					}
				}
			}
		}
	}
}

func TestComputeInvoiceRejectsInvalidItems(t *testing.T) {
	calc := NewCalculator(taxservice.NewEngine())

	cases := map[string]invoicedomain.LineItem{
		"blank name":        line(" ", "1", 100, "0", "5"),
		"zero quantity":     line("x", "0", 100, "0", "5"),
		"negative quantity": line("x", "-1", 100, "0", "5"),
		"negative price":    line("x", "1", -1, "0", "5"),
		"discount too high": line("x", "1", 100, "100.01", "5"),
		"negative discount": line("x", "1", 100, "-1", "5"),
		"negative rate":     line("x", "1", 100, "0", "-5"),
		"rate too high":     line("x", "1", 100, "0", "101"),
	}
	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := calc.ComputeInvoice([]invoicedomain.LineItem{line("ok", "1", 100, "0", "5"), item}, false)
			require.ErrorIs(t, err, invoicedomain.ErrInvalidLineItem)

			var lineErr *invoicedomain.LineItemError
			require.True(t, errors.As(err, &lineErr))
			assert.Equal(t, 1, lineErr.Index)
		})
	}
}

func TestComputeInvoiceRejectsEmptyItems(t *testing.T) {
	calc := NewCalculator(taxservice.NewEngine())

	_, err := calc.ComputeInvoice(nil, false)
	require.ErrorIs(t, err, invoicedomain.ErrInvalidLineItem)
}
