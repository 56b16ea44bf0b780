package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/bizcore/internal/tax/domain"
)

// LineItem is the pricing input for one invoice line. UnitPrice is minor units.
type LineItem struct {
	Name            string          `json:"name"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       int64           `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxRatePercent  decimal.Decimal `json:"tax_rate_percent"`
}

type LineBreakdown struct {
	LineItem
	LineGross    int64
	LineDiscount int64
	Taxable      int64
	TaxAmount    int64
	LineTotal    int64
	Tax          taxdomain.Breakdown
}

// Totals are the rounded invoice aggregates.
// GrandTotal == Subtotal - TotalDiscount + TotalTax and CGST + SGST + IGST == TotalTax.
type Totals struct {
	Subtotal      int64
	TotalDiscount int64
	TotalTax      int64
	CGST          int64
	SGST          int64
	IGST          int64
	GrandTotal    int64
	Items         []LineBreakdown
}

type Calculator interface {
	ComputeInvoice(items []LineItem, isInterState bool) (Totals, error)
}

// LineItemError identifies the offending line. It matches ErrInvalidLineItem.
type LineItemError struct {
	Index  int
	Reason string
}

func (e *LineItemError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", ErrInvalidLineItem.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: item %d: %s", ErrInvalidLineItem.Error(), e.Index, e.Reason)
}

func (e *LineItemError) Unwrap() error {
	return ErrInvalidLineItem
}
