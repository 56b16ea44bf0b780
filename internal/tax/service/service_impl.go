package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/bizcore/internal/money"
	taxdomain "github.com/smallbiznis/bizcore/internal/tax/domain"
)

type engine struct{}

func NewEngine() taxdomain.Engine {
	return engine{}
}

// ComputeTax rounds taxable * rate / 100 half-up to minor units once and
// splits the result by jurisdiction.
func (engine) ComputeTax(taxableAmount, ratePercent decimal.Decimal, isInterState bool) (taxdomain.Breakdown, error) {
	if taxableAmount.IsNegative() {
		return taxdomain.Breakdown{}, taxdomain.ErrInvalidTaxRate
	}
	if err := taxdomain.ValidateRate(ratePercent); err != nil {
		return taxdomain.Breakdown{}, err
	}
	total := money.ToMinor(money.Percent(taxableAmount, ratePercent))
	return taxdomain.Split(total, isInterState), nil
}

// ResolveJurisdiction reports whether a supply crosses state lines.
// Missing states are rejected rather than defaulted.
func (engine) ResolveJurisdiction(businessState, customerState string) (bool, error) {
	business := strings.TrimSpace(businessState)
	customer := strings.TrimSpace(customerState)
	if business == "" || customer == "" {
		return false, taxdomain.ErrInvalidTaxJurisdiction
	}
	return !strings.EqualFold(business, customer), nil
}

type resolver struct {
	repo taxdomain.Repository
}

func NewResolver(repo taxdomain.Repository) taxdomain.RateResolver {
	return &resolver{repo: repo}
}

func (r *resolver) ResolveRate(ctx context.Context, accountID snowflake.ID, code string) (decimal.Decimal, error) {
	code = slug.Make(code)
	if code == "" {
		return decimal.Zero, taxdomain.ErrInvalidTaxCode
	}
	def, err := r.repo.FindByCode(ctx, accountID, code)
	if err != nil {
		return decimal.Zero, err
	}
	if def == nil {
		return decimal.Zero, taxdomain.ErrNotFound
	}
	if !def.IsEnabled {
		return decimal.Zero, taxdomain.ErrTaxCodeDisabled
	}
	return def.RatePercent, nil
}
