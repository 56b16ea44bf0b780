package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Engine computes jurisdiction-aware tax. It has no I/O.
type Engine interface {
	ComputeTax(taxableAmount, ratePercent decimal.Decimal, isInterState bool) (Breakdown, error)
	ResolveJurisdiction(businessState, customerState string) (bool, error)
}

// RateResolver maps an account tax code to its percentage.
type RateResolver interface {
	ResolveRate(ctx context.Context, accountID snowflake.ID, code string) (decimal.Decimal, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Disable(ctx context.Context, id string) (*Response, error)
}

type ListRequest struct {
	Code      string
	IsEnabled *bool
}

type CreateRequest struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	RatePercent decimal.Decimal `json:"rate_percent"`
	Description *string         `json:"description"`
}

type UpdateRequest struct {
	ID          string           `json:"id"`
	Name        *string          `json:"name,omitempty"`
	RatePercent *decimal.Decimal `json:"rate_percent,omitempty"`
	Description *string          `json:"description,omitempty"`
}

type Response struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	RatePercent decimal.Decimal `json:"rate_percent"`
	Description *string         `json:"description,omitempty"`
	IsEnabled   bool            `json:"is_enabled"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
