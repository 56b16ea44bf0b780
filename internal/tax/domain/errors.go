package domain

import "errors"

var (
	ErrInvalidAccount         = errors.New("invalid_account")
	ErrInvalidName            = errors.New("invalid_name")
	ErrInvalidID              = errors.New("invalid_id")
	ErrNotFound               = errors.New("not_found")
	ErrInvalidTaxCode         = errors.New("invalid_tax_code")
	ErrInvalidTaxRate         = errors.New("invalid_tax_rate")
	ErrInvalidTaxJurisdiction = errors.New("invalid_tax_jurisdiction")
	ErrDuplicateTaxCode       = errors.New("duplicate_tax_code")
	ErrTaxCodeDisabled        = errors.New("tax_code_disabled")
)
