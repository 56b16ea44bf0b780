// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "DRAFT"
	InvoiceStatusIssued InvoiceStatus = "ISSUED"
	InvoiceStatusPaid   InvoiceStatus = "PAID"
	InvoiceStatusVoid   InvoiceStatus = "VOID"
)

// IsFinalized reports whether amounts and items are frozen.
func (s InvoiceStatus) IsFinalized() bool {
	return s == InvoiceStatusIssued || s == InvoiceStatusPaid || s == InvoiceStatusVoid
}

type InvoiceSource string

const (
	InvoiceSourceManual    InvoiceSource = "manual"
	InvoiceSourceRecurring InvoiceSource = "recurring"
)

// Customer is the billed party as it was at issue time.
type Customer struct {
	Name  string  `gorm:"type:text;not null" json:"name"`
	State string  `gorm:"type:text;not null" json:"state"`
	GSTIN *string `gorm:"column:gstin;type:text" json:"gstin,omitempty"`
	Email *string `gorm:"type:text" json:"email,omitempty"`
}

// Invoice represents an issued or draft invoice. Money columns are minor units.
type Invoice struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	AccountID     snowflake.ID  `gorm:"not null;index"`
	InvoiceNumber string        `gorm:"type:text;not null;uniqueIndex"`
	Status        InvoiceStatus `gorm:"type:text;not null;default:'DRAFT'"`
	Source        InvoiceSource `gorm:"type:text;not null;default:'manual'"`

	Customer     Customer `gorm:"embedded;embeddedPrefix:customer_"`
	IsInterState bool     `gorm:"not null;default:false"`
	Currency     string   `gorm:"type:text;not null"`

	Subtotal      int64 `gorm:"not null;default:0"`
	TotalDiscount int64 `gorm:"not null;default:0"`
	TotalTax      int64 `gorm:"not null;default:0"`
	CGST          int64 `gorm:"column:cgst;not null;default:0"`
	SGST          int64 `gorm:"column:sgst;not null;default:0"`
	IGST          int64 `gorm:"column:igst;not null;default:0"`
	GrandTotal    int64 `gorm:"not null;default:0"`

	TemplateID *snowflake.ID `gorm:"uniqueIndex:ux_invoice_template_cycle,priority:1"`
	CycleDate  *time.Time    `gorm:"uniqueIndex:ux_invoice_template_cycle,priority:2"`

	IssuedAt   *time.Time        `gorm:""`
	PaidAt     *time.Time        `gorm:""`
	VoidedAt   *time.Time        `gorm:""`
	VoidReason *string           `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time         `gorm:"not null"`
	UpdatedAt  time.Time         `gorm:"not null"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is a priced line. Computed amounts are display-rounded per line;
// invoice totals are rounded once over the exact sums and may differ from the
// sum of these columns by a minor unit.
type InvoiceItem struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	AccountID       snowflake.ID    `gorm:"not null;index"`
	InvoiceID       snowflake.ID    `gorm:"not null;index"`
	Position        int             `gorm:"not null"`
	Name            string          `gorm:"type:text;not null"`
	Description     *string         `gorm:"type:text"`
	Quantity        decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	UnitPrice       int64           `gorm:"not null"`
	DiscountPercent decimal.Decimal `gorm:"type:numeric(7,4);not null"`
	TaxRatePercent  decimal.Decimal `gorm:"type:numeric(7,4);not null"`
	TaxCode         *string         `gorm:"type:text"`

	LineGross    int64 `gorm:"not null"`
	LineDiscount int64 `gorm:"not null"`
	Taxable      int64 `gorm:"not null"`
	TaxAmount    int64 `gorm:"not null"`
	CGST         int64 `gorm:"column:cgst;not null"`
	SGST         int64 `gorm:"column:sgst;not null"`
	IGST         int64 `gorm:"column:igst;not null"`
	LineTotal    int64 `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
