package service

import (
	"strings"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	"github.com/smallbiznis/bizcore/internal/money"
	taxdomain "github.com/smallbiznis/bizcore/internal/tax/domain"
)

// Calculator aggregates line items into invoice totals. Line amounts are
// summed exactly and each aggregate is rounded half-up once, so totals do not
// accumulate per-line rounding drift.
type Calculator struct {
	engine taxdomain.Engine
}

func NewCalculator(engine taxdomain.Engine) *Calculator {
	return &Calculator{engine: engine}
}

func (c *Calculator) ComputeInvoice(items []invoicedomain.LineItem, isInterState bool) (invoicedomain.Totals, error) {
	if len(items) == 0 {
		return invoicedomain.Totals{}, &invoicedomain.LineItemError{Index: -1, Reason: "no items"}
	}

	var (
		grossSum    = decimal.Zero
		discountSum = decimal.Zero
		taxSum      = decimal.Zero
	)
	lines := make([]invoicedomain.LineBreakdown, 0, len(items))

	for i, item := range items {
		if err := validateLineItem(i, item); err != nil {
			return invoicedomain.Totals{}, err
		}

		gross := item.Quantity.Mul(money.FromMinor(item.UnitPrice))
		discount := money.Percent(gross, item.DiscountPercent)
		taxable := gross.Sub(discount)
		itemTax := money.Percent(taxable, item.TaxRatePercent)

		breakdown, err := c.engine.ComputeTax(taxable, item.TaxRatePercent, isInterState)
		if err != nil {
			return invoicedomain.Totals{}, &invoicedomain.LineItemError{Index: i, Reason: err.Error()}
		}

		grossSum = grossSum.Add(gross)
		discountSum = discountSum.Add(discount)
		taxSum = taxSum.Add(itemTax)

		line := invoicedomain.LineBreakdown{
			LineItem:     item,
			LineGross:    money.ToMinor(gross),
			LineDiscount: money.ToMinor(discount),
			Taxable:      money.ToMinor(taxable),
			TaxAmount:    breakdown.TotalTax,
			Tax:          breakdown,
		}
		line.LineTotal = line.Taxable + line.TaxAmount
		lines = append(lines, line)
	}

	subtotal := money.ToMinor(grossSum)
	totalDiscount := money.ToMinor(discountSum)
	totalTax := money.ToMinor(taxSum)
	split := taxdomain.Split(totalTax, isInterState)

	return invoicedomain.Totals{
		Subtotal:      subtotal,
		TotalDiscount: totalDiscount,
		TotalTax:      totalTax,
		CGST:          split.CGST,
		SGST:          split.SGST,
		IGST:          split.IGST,
		GrandTotal:    subtotal - totalDiscount + totalTax,
		Items:         lines,
	}, nil
}

func validateLineItem(index int, item invoicedomain.LineItem) error {
	switch {
	case strings.TrimSpace(item.Name) == "":
		return &invoicedomain.LineItemError{Index: index, Reason: "name is required"}
	case !item.Quantity.IsPositive():
		return &invoicedomain.LineItemError{Index: index, Reason: "quantity must be positive"}
	case item.UnitPrice < 0:
		return &invoicedomain.LineItemError{Index: index, Reason: "unit price must not be negative"}
	case !money.PercentInRange(item.DiscountPercent):
		return &invoicedomain.LineItemError{Index: index, Reason: "discount percent must be within 0..100"}
	case !money.PercentInRange(item.TaxRatePercent):
		return &invoicedomain.LineItemError{Index: index, Reason: "tax rate percent must be within 0..100"}
	}
	return nil
}
