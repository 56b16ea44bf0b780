package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CustomerInput struct {
	Name  string  `json:"name"`
	State string  `json:"state"`
	GSTIN *string `json:"gstin,omitempty"`
	Email *string `json:"email,omitempty"`
}

// LineInput is a requested invoice line. When TaxRatePercent is nil the rate
// is resolved from the account's tax definition named by TaxCode.
type LineInput struct {
	Name            string           `json:"name"`
	Description     *string          `json:"description,omitempty"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitPrice       int64            `json:"unit_price"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	TaxRatePercent  *decimal.Decimal `json:"tax_rate_percent,omitempty"`
	TaxCode         string           `json:"tax_code,omitempty"`
}

type IssueRequest struct {
	Customer CustomerInput  `json:"customer"`
	Items    []LineInput    `json:"items"`
	Currency string         `json:"currency"`
	Finalize bool           `json:"finalize"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Set by the recurring generator.
	Source     InvoiceSource `json:"-"`
	TemplateID *snowflake.ID `json:"-"`
	CycleDate  *time.Time    `json:"-"`
}

type ListRequest struct {
	Status     *InvoiceStatus
	Source     *InvoiceSource
	TemplateID *snowflake.ID
}

type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*Invoice, error)
	// IssueInTx issues inside a caller-owned transaction. Every item must carry
	// an explicit tax rate and authorization is the caller's responsibility.
	IssueInTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, req IssueRequest) (*Invoice, error)
	ResolveRates(ctx context.Context, accountID snowflake.ID, items []LineInput) ([]LineInput, error)
	UpdateItems(ctx context.Context, id string, items []LineInput) (*Invoice, error)
	Finalize(ctx context.Context, id string) (*Invoice, error)
	MarkPaid(ctx context.Context, id string) (*Invoice, error)
	Void(ctx context.Context, id string, reason string) (*Invoice, error)
	GetByID(ctx context.Context, id string) (*Invoice, error)
	List(ctx context.Context, req ListRequest) ([]Invoice, error)
}

// Repository methods take the handle to run on so callers control transactions.
type Repository interface {
	// Insert reports false when a unique constraint already holds the invoice.
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, accountID snowflake.ID, filter ListRequest) ([]Invoice, error)
	// TransitionStatus applies the update only while the stored status is one of from.
	TransitionStatus(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID, from []InvoiceStatus, to InvoiceStatus, fields map[string]any) (bool, error)
	// ReplaceItems rewrites items and totals of a draft invoice.
	ReplaceItems(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
}
