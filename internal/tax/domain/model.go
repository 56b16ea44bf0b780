package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Breakdown splits a tax amount into its jurisdiction components.
// All values are minor units and CGST + SGST + IGST == TotalTax.
type Breakdown struct {
	CGST     int64 `json:"cgst"`
	SGST     int64 `json:"sgst"`
	IGST     int64 `json:"igst"`
	TotalTax int64 `json:"total_tax"`
}

// Split distributes an already rounded tax total. Inter-state supply goes
// entirely to IGST. Intra-state supply is halved between CGST and SGST with
// any odd minor unit assigned to SGST.
func Split(totalTax int64, isInterState bool) Breakdown {
	if isInterState {
		return Breakdown{IGST: totalTax, TotalTax: totalTax}
	}
	cgst := totalTax / 2
	return Breakdown{
		CGST:     cgst,
		SGST:     totalTax - cgst,
		TotalTax: totalTax,
	}
}

// Standard GST slabs.
const (
	TaxCodeExempt = "gst-0"
	TaxCodeGST5   = "gst-5"
	TaxCodeGST12  = "gst-12"
	TaxCodeGST18  = "gst-18"
	TaxCodeGST28  = "gst-28"
)

// TaxDefinition is an account-scoped named tax rate that invoice items may
// reference by code instead of carrying an explicit rate.
// Code is immutable once created; name and description are editable.
type TaxDefinition struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	AccountID snowflake.ID `gorm:"column:account_id;not null;uniqueIndex:ux_tax_definitions_account_code"`

	Name        string          `gorm:"type:text;not null"`
	Code        string          `gorm:"type:text;not null;uniqueIndex:ux_tax_definitions_account_code"`
	RatePercent decimal.Decimal `gorm:"column:rate_percent;type:numeric(7,4);not null"`
	Description *string         `gorm:"type:text"`
	IsEnabled   bool            `gorm:"column:is_enabled;not null;default:true"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (TaxDefinition) TableName() string { return "tax_definitions" }

func (t *TaxDefinition) Validate() error {
	if t.Code == "" {
		return ErrInvalidTaxCode
	}
	if t.Name == "" {
		return ErrInvalidName
	}
	return ValidateRate(t.RatePercent)
}

var hundred = decimal.NewFromInt(100)

// ValidateRate rejects percentages outside [0, 100].
func ValidateRate(ratePercent decimal.Decimal) error {
	if ratePercent.IsNegative() || ratePercent.GreaterThan(hundred) {
		return ErrInvalidTaxRate
	}
	return nil
}
