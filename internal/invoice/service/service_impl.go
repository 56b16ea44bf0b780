package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"github.com/smallbiznis/bizcore/internal/authorization"
	billingeventdomain "github.com/smallbiznis/bizcore/internal/billingevent/domain"
	"github.com/smallbiznis/bizcore/internal/clock"
	"github.com/smallbiznis/bizcore/internal/config"
	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	taxdomain "github.com/smallbiznis/bizcore/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultCurrency = "INR"

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  config.Config
	Repo    invoicedomain.Repository
	Engine  taxdomain.Engine
	Emitter billingeventdomain.Emitter
	Rates   taxdomain.RateResolver      `optional:"true"`
	Pricing *config.PricingConfigHolder `optional:"true"`
	Authz   authorization.Service       `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID         *snowflake.Node
	clock         clock.Clock
	businessState string
	repo          invoicedomain.Repository
	engine        taxdomain.Engine
	calculator    *Calculator
	emitter       billingeventdomain.Emitter
	rates         taxdomain.RateResolver
	pricing       *config.PricingConfigHolder
	authz         authorization.Service
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:         p.GenID,
		clock:         p.Clock,
		businessState: p.Config.BusinessState,
		repo:          p.Repo,
		engine:        p.Engine,
		calculator:    NewCalculator(p.Engine),
		emitter:       p.Emitter,
		rates:         p.Rates,
		pricing:       p.Pricing,
		authz:         p.Authz,
	}
}

func (s *Service) Issue(ctx context.Context, req invoicedomain.IssueRequest) (*invoicedomain.Invoice, error) {
	accountID, err := s.authorize(ctx, authorization.ActionInvoiceCreate)
	if err != nil {
		return nil, err
	}

	items, err := s.ResolveRates(ctx, accountID, req.Items)
	if err != nil {
		return nil, err
	}
	req.Items = items
	req.Source = invoicedomain.InvoiceSourceManual
	req.TemplateID = nil
	req.CycleDate = nil

	var invoice *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.IssueInTx(ctx, tx, accountID, req)
		if err != nil {
			return err
		}
		invoice = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice issued",
		zap.String("account_id", accountID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("status", string(invoice.Status)),
		zap.Int64("grand_total", invoice.GrandTotal),
	)
	return invoice, nil
}

func (s *Service) IssueInTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, req invoicedomain.IssueRequest) (*invoicedomain.Invoice, error) {
	if accountID == 0 {
		return nil, invoicedomain.ErrInvalidAccount
	}

	customer, err := normalizeCustomer(req.Customer)
	if err != nil {
		return nil, err
	}
	isInterState, err := s.engine.ResolveJurisdiction(s.businessState, customer.State)
	if err != nil {
		return nil, err
	}

	currency, err := s.currency(req.Currency)
	if err != nil {
		return nil, err
	}

	lineItems, err := toLineItems(req.Items)
	if err != nil {
		return nil, err
	}
	totals, err := s.calculator.ComputeInvoice(lineItems, isInterState)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	source := req.Source
	if source == "" {
		source = invoicedomain.InvoiceSourceManual
	}
	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	invoice := &invoicedomain.Invoice{
		ID:            s.genID.Generate(),
		AccountID:     accountID,
		InvoiceNumber: newInvoiceNumber(now),
		Status:        invoicedomain.InvoiceStatusDraft,
		Source:        source,
		Customer:      customer,
		IsInterState:  isInterState,
		Currency:      currency,
		TemplateID:    req.TemplateID,
		CycleDate:     req.CycleDate,
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	applyTotals(invoice, totals)
	invoice.Items = s.buildItems(invoice, req.Items, totals, now)
	if req.Finalize {
		invoice.Status = invoicedomain.InvoiceStatusIssued
		invoice.IssuedAt = &now
	}

	inserted, err := s.repo.Insert(ctx, tx, invoice)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, invoicedomain.ErrDuplicateInvoice
	}

	if invoice.Status == invoicedomain.InvoiceStatusIssued {
		if err := s.emitGenerated(ctx, tx, invoice); err != nil {
			return nil, err
		}
	}
	return invoice, nil
}

// ResolveRates fills missing tax rates from the account's tax definitions.
func (s *Service) ResolveRates(ctx context.Context, accountID snowflake.ID, items []invoicedomain.LineInput) ([]invoicedomain.LineInput, error) {
	out := make([]invoicedomain.LineInput, len(items))
	for i, item := range items {
		out[i] = item
		if item.TaxRatePercent != nil {
			continue
		}
		if strings.TrimSpace(item.TaxCode) == "" {
			return nil, &invoicedomain.LineItemError{Index: i, Reason: "tax rate or tax code is required"}
		}
		if s.rates == nil {
			return nil, &invoicedomain.LineItemError{Index: i, Reason: "tax codes are not supported"}
		}
		rate, err := s.rates.ResolveRate(ctx, accountID, item.TaxCode)
		if err != nil {
			return nil, fmt.Errorf("item %d tax code %q: %w", i, item.TaxCode, err)
		}
		out[i].TaxRatePercent = &rate
	}
	return out, nil
}

func (s *Service) UpdateItems(ctx context.Context, id string, items []invoicedomain.LineInput) (*invoicedomain.Invoice, error) {
	accountID, err := s.authorize(ctx, authorization.ActionInvoiceCreate)
	if err != nil {
		return nil, err
	}
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	items, err = s.ResolveRates(ctx, accountID, items)
	if err != nil {
		return nil, err
	}
	lineItems, err := toLineItems(items)
	if err != nil {
		return nil, err
	}

	var updated *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByID(ctx, tx, accountID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.Status.IsFinalized() {
			return invoicedomain.ErrInvoiceFinalized
		}

		totals, err := s.calculator.ComputeInvoice(lineItems, invoice.IsInterState)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		applyTotals(invoice, totals)
		invoice.Items = s.buildItems(invoice, items, totals, now)
		invoice.UpdatedAt = now

		ok, err := s.repo.ReplaceItems(ctx, tx, invoice)
		if err != nil {
			return err
		}
		if !ok {
			return invoicedomain.ErrInvoiceFinalized
		}
		updated = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Finalize(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, id, authorization.ActionInvoiceFinalize,
		[]invoicedomain.InvoiceStatus{invoicedomain.InvoiceStatusDraft},
		invoicedomain.InvoiceStatusIssued,
		func(now time.Time) map[string]any {
			return map[string]any{"issued_at": now}
		},
	)
}

func (s *Service) MarkPaid(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, id, authorization.ActionInvoiceMarkPaid,
		[]invoicedomain.InvoiceStatus{invoicedomain.InvoiceStatusIssued},
		invoicedomain.InvoiceStatusPaid,
		func(now time.Time) map[string]any {
			return map[string]any{"paid_at": now}
		},
	)
}

// Void cancels a draft or issued invoice. Paid invoices are corrected by issuing a new one.
func (s *Service) Void(ctx context.Context, id string, reason string) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, id, authorization.ActionInvoiceVoid,
		[]invoicedomain.InvoiceStatus{invoicedomain.InvoiceStatusDraft, invoicedomain.InvoiceStatusIssued},
		invoicedomain.InvoiceStatusVoid,
		func(now time.Time) map[string]any {
			fields := map[string]any{"voided_at": now}
			if reason = strings.TrimSpace(reason); reason != "" {
				fields["void_reason"] = reason
			}
			return fields
		},
	)
}

func (s *Service) GetByID(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	accountID, err := s.authorize(ctx, authorization.ActionInvoiceView)
	if err != nil {
		return nil, err
	}
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	invoice, err := s.repo.FindByID(ctx, s.db, accountID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListRequest) ([]invoicedomain.Invoice, error) {
	accountID, err := s.authorize(ctx, authorization.ActionInvoiceView)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, s.db, accountID, req)
}

func (s *Service) transition(
	ctx context.Context,
	id string,
	action string,
	from []invoicedomain.InvoiceStatus,
	to invoicedomain.InvoiceStatus,
	fields func(now time.Time) map[string]any,
) (*invoicedomain.Invoice, error) {
	accountID, err := s.authorize(ctx, action)
	if err != nil {
		return nil, err
	}
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var invoice *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		updates := fields(now)
		updates["updated_at"] = now

		ok, err := s.repo.TransitionStatus(ctx, tx, accountID, invoiceID, from, to, updates)
		if err != nil {
			return err
		}

		current, err := s.repo.FindByID(ctx, tx, accountID, invoiceID)
		if err != nil {
			return err
		}
		if current == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if !ok {
			return fmt.Errorf("%w: %s to %s", invoicedomain.ErrInvalidInvoiceTransition, current.Status, to)
		}
		if to == invoicedomain.InvoiceStatusIssued {
			if err := s.emitGenerated(ctx, tx, current); err != nil {
				return err
			}
		}
		invoice = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice status changed",
		zap.String("account_id", accountID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("status", string(invoice.Status)),
	)
	return invoice, nil
}

func (s *Service) emitGenerated(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	payload := map[string]any{
		"invoice_id":     invoice.ID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"source":         string(invoice.Source),
		"currency":       invoice.Currency,
		"grand_total":    invoice.GrandTotal,
		"total_tax":      invoice.TotalTax,
	}
	if invoice.TemplateID != nil {
		payload["template_id"] = invoice.TemplateID.String()
	}
	if invoice.CycleDate != nil {
		payload["cycle_date"] = invoice.CycleDate.Format(time.DateOnly)
	}
	_, err := s.emitter.Emit(ctx, tx, billingeventdomain.Event{
		AccountID: invoice.AccountID,
		Type:      billingeventdomain.EventTypeInvoiceGenerated,
		DedupeKey: "invoice:" + invoice.ID.String(),
		Payload:   payload,
	})
	return err
}

func (s *Service) buildItems(invoice *invoicedomain.Invoice, inputs []invoicedomain.LineInput, totals invoicedomain.Totals, now time.Time) []invoicedomain.InvoiceItem {
	return lo.Map(totals.Items, func(line invoicedomain.LineBreakdown, i int) invoicedomain.InvoiceItem {
		input := inputs[i]
		var taxCode *string
		if code := strings.TrimSpace(input.TaxCode); code != "" {
			taxCode = &code
		}
		return invoicedomain.InvoiceItem{
			ID:              s.genID.Generate(),
			AccountID:       invoice.AccountID,
			InvoiceID:       invoice.ID,
			Position:        i,
			Name:            strings.TrimSpace(line.Name),
			Description:     input.Description,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			TaxRatePercent:  line.TaxRatePercent,
			TaxCode:         taxCode,
			LineGross:       line.LineGross,
			LineDiscount:    line.LineDiscount,
			Taxable:         line.Taxable,
			TaxAmount:       line.TaxAmount,
			CGST:            line.Tax.CGST,
			SGST:            line.Tax.SGST,
			IGST:            line.Tax.IGST,
			LineTotal:       line.LineTotal,
			CreatedAt:       now,
		}
	})
}

func (s *Service) currency(requested string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(requested))
	if currency == "" && s.pricing != nil {
		currency = s.pricing.Get().Currency
	}
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		return "", invoicedomain.ErrInvalidCurrency
	}
	return currency, nil
}

func (s *Service) authorize(ctx context.Context, action string) (snowflake.ID, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return 0, invoicedomain.ErrInvalidAccount
	}
	if s.authz == nil {
		return accountID, nil
	}
	if err := s.authz.Authorize(ctx, accountID, authorization.ObjectInvoice, action); err != nil {
		return 0, err
	}
	return accountID, nil
}

func applyTotals(invoice *invoicedomain.Invoice, totals invoicedomain.Totals) {
	invoice.Subtotal = totals.Subtotal
	invoice.TotalDiscount = totals.TotalDiscount
	invoice.TotalTax = totals.TotalTax
	invoice.CGST = totals.CGST
	invoice.SGST = totals.SGST
	invoice.IGST = totals.IGST
	invoice.GrandTotal = totals.GrandTotal
}

func normalizeCustomer(in invoicedomain.CustomerInput) (invoicedomain.Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return invoicedomain.Customer{}, invoicedomain.ErrInvalidCustomer
	}
	return invoicedomain.Customer{
		Name:  name,
		State: strings.TrimSpace(in.State),
		GSTIN: trimmedOrNil(in.GSTIN),
		Email: trimmedOrNil(in.Email),
	}, nil
}

func toLineItems(inputs []invoicedomain.LineInput) ([]invoicedomain.LineItem, error) {
	items := make([]invoicedomain.LineItem, 0, len(inputs))
	for i, input := range inputs {
		if input.TaxRatePercent == nil {
			return nil, &invoicedomain.LineItemError{Index: i, Reason: "tax rate is required"}
		}
		items = append(items, invoicedomain.LineItem{
			Name:            input.Name,
			Quantity:        input.Quantity,
			UnitPrice:       input.UnitPrice,
			DiscountPercent: input.DiscountPercent,
			TaxRatePercent:  *input.TaxRatePercent,
		})
	}
	return items, nil
}

// newInvoiceNumber returns INV-<yyyymmdd>-<ULID>. ULIDs sort by time and need no counter row.
func newInvoiceNumber(now time.Time) string {
	return fmt.Sprintf("INV-%s-%s", now.UTC().Format("20060102"), ulid.Make().String())
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invoicedomain.ErrInvalidInvoiceID
	}
	return id, nil
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
