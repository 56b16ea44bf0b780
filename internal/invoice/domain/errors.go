package domain

import "errors"

var (
	ErrInvalidAccount           = errors.New("invalid_account")
	ErrInvalidInvoiceID         = errors.New("invalid_invoice_id")
	ErrInvoiceNotFound          = errors.New("invoice_not_found")
	ErrInvalidLineItem          = errors.New("invalid_line_item")
	ErrInvalidCustomer          = errors.New("invalid_customer")
	ErrInvalidCurrency          = errors.New("invalid_currency")
	ErrInvoiceFinalized         = errors.New("invoice_finalized")
	ErrInvalidInvoiceTransition = errors.New("invalid_invoice_transition")
	ErrDuplicateInvoice         = errors.New("duplicate_invoice")
)
