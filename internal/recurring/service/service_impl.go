package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"github.com/smallbiznis/bizcore/internal/authorization"
	"github.com/smallbiznis/bizcore/internal/clock"
	entitlementdomain "github.com/smallbiznis/bizcore/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	recurringdomain "github.com/smallbiznis/bizcore/internal/recurring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultMaxRetries = 3

	featureRecurringInvoices = "recurring-invoices"
	maxFastForwardCycles     = 100_000
)

var hundred = decimal.NewFromInt(100)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         recurringdomain.Repository
	Entitlements entitlementdomain.Service `optional:"true"`
	Invoices     invoicedomain.Service     `optional:"true"`
	Authz        authorization.Service     `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	repo         recurringdomain.Repository
	entitlements entitlementdomain.Service
	invoices     invoicedomain.Service
	authz        authorization.Service
}

func NewService(p ServiceParam) recurringdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("recurring.service"),

		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		entitlements: p.Entitlements,
		invoices:     p.Invoices,
		authz:        p.Authz,
	}
}

func (s *Service) Create(ctx context.Context, req recurringdomain.CreateRequest) (*recurringdomain.Template, error) {
	accountID, err := s.authorize(ctx, authorization.ActionRecurringCreate)
	if err != nil {
		return nil, err
	}
	if s.entitlements != nil {
		ok, err := s.entitlements.HasFeature(ctx, accountID, featureRecurringInvoices)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, recurringdomain.ErrFeatureNotAvailable
		}
	}

	if !req.Frequency.Valid() {
		return nil, recurringdomain.ErrInvalidFrequency
	}
	if req.Interval < 1 {
		return nil, recurringdomain.ErrInvalidInterval
	}
	if req.StartDate.IsZero() {
		return nil, fmt.Errorf("%w: start date is required", recurringdomain.ErrInvalidTemplate)
	}
	start := req.StartDate.UTC()
	var end *time.Time
	if req.EndDate != nil {
		e := req.EndDate.UTC()
		if recurringdomain.DayOf(e).Before(recurringdomain.DayOf(start)) {
			return nil, fmt.Errorf("%w: end date before start date", recurringdomain.ErrInvalidTemplate)
		}
		end = &e
	}
	customer, err := normalizeCustomer(req.Customer)
	if err != nil {
		return nil, err
	}
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}
	items, err := s.freezeRates(ctx, accountID, req.Items)
	if err != nil {
		return nil, err
	}

	anchorDay := 0
	if req.Frequency == recurringdomain.FrequencyMonthly || req.Frequency == recurringdomain.FrequencyYearly {
		anchorDay = start.Day()
	}
	now := s.clock.Now()
	template := &recurringdomain.Template{
		ID:              s.genID.Generate(),
		AccountID:       accountID,
		Customer:        customer,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		Frequency:       req.Frequency,
		Interval:        req.Interval,
		StartDate:       start,
		EndDate:         end,
		AnchorDay:       anchorDay,
		NextInvoiceDate: start,
		Items:           items,
		AutoIssue:       req.AutoIssue,
		Status:          recurringdomain.TemplateStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, template); err != nil {
		return nil, err
	}

	s.log.Info("recurring template created",
		zap.String("account_id", accountID.String()),
		zap.String("template_id", template.ID.String()),
		zap.String("frequency", string(template.Frequency)),
		zap.Int("interval", template.Interval),
		zap.Time("next_invoice_date", template.NextInvoiceDate),
	)
	return template, nil
}

func (s *Service) UpdateItems(ctx context.Context, id string, version int64, items []invoicedomain.LineInput) (*recurringdomain.Template, error) {
	accountID, err := s.authorize(ctx, authorization.ActionRecurringUpdate)
	if err != nil {
		return nil, err
	}
	templateID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}
	items, err = s.freezeRates(ctx, accountID, items)
	if err != nil {
		return nil, err
	}

	var updated *recurringdomain.Template
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, accountID, templateID)
		if err != nil {
			return err
		}
		if current == nil {
			return recurringdomain.ErrTemplateNotFound
		}
		if current.Status.IsTerminal() {
			return fmt.Errorf("%w: template is %s", recurringdomain.ErrInvalidTemplateTransition, current.Status)
		}
		ok, err := s.repo.UpdateVersioned(ctx, tx, accountID, templateID, version, map[string]any{
			"items":      datatypes.JSONSlice[invoicedomain.LineInput](items),
			"updated_at": s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return recurringdomain.ErrVersionConflict
		}
		updated, err = s.repo.FindByID(ctx, tx, accountID, templateID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Pause(ctx context.Context, id string) (*recurringdomain.Template, error) {
	return s.transition(ctx, id, authorization.ActionRecurringPause, func(t *recurringdomain.Template, _ time.Time) (map[string]any, error) {
		if t.Status != recurringdomain.TemplateStatusActive {
			return nil, fmt.Errorf("%w: pause from %s", recurringdomain.ErrInvalidTemplateTransition, t.Status)
		}
		return map[string]any{"status": recurringdomain.TemplateStatusPaused}, nil
	})
}

func (s *Service) Resume(ctx context.Context, id string) (*recurringdomain.Template, error) {
	return s.transition(ctx, id, authorization.ActionRecurringResume, func(t *recurringdomain.Template, now time.Time) (map[string]any, error) {
		if t.Status != recurringdomain.TemplateStatusPaused {
			return nil, fmt.Errorf("%w: resume from %s", recurringdomain.ErrInvalidTemplateTransition, t.Status)
		}
		next, err := fastForward(t, recurringdomain.DayOf(now))
		if err != nil {
			return nil, err
		}
		status := recurringdomain.TemplateStatusActive
		if recurringdomain.PastEnd(next, t.EndDate) {
			status = recurringdomain.TemplateStatusCompleted
		}
		return map[string]any{"status": status, "next_invoice_date": next.UTC()}, nil
	})
}

func (s *Service) Cancel(ctx context.Context, id string) (*recurringdomain.Template, error) {
	return s.transition(ctx, id, authorization.ActionRecurringCancel, func(t *recurringdomain.Template, _ time.Time) (map[string]any, error) {
		if t.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: cancel from %s", recurringdomain.ErrInvalidTemplateTransition, t.Status)
		}
		return map[string]any{"status": recurringdomain.TemplateStatusCancelled}, nil
	})
}

func (s *Service) Get(ctx context.Context, id string) (*recurringdomain.Template, error) {
	accountID, err := s.authorize(ctx, authorization.ActionRecurringView)
	if err != nil {
		return nil, err
	}
	templateID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	template, err := s.repo.FindByID(ctx, s.db, accountID, templateID)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, recurringdomain.ErrTemplateNotFound
	}
	return template, nil
}

func (s *Service) List(ctx context.Context) ([]recurringdomain.Template, error) {
	accountID, err := s.authorize(ctx, authorization.ActionRecurringView)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, s.db, accountID)
}

// transition re-reads and re-validates on every attempt, so a concurrent
// writer never has its change overwritten.
func (s *Service) transition(
	ctx context.Context,
	id string,
	action string,
	apply func(t *recurringdomain.Template, now time.Time) (map[string]any, error),
) (*recurringdomain.Template, error) {
	accountID, err := s.authorize(ctx, action)
	if err != nil {
		return nil, err
	}
	templateID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < DefaultMaxRetries; attempt++ {
		var updated *recurringdomain.Template
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.FindByID(ctx, tx, accountID, templateID)
			if err != nil {
				return err
			}
			if current == nil {
				return recurringdomain.ErrTemplateNotFound
			}
			now := s.clock.Now()
			fields, err := apply(current, now)
			if err != nil {
				return err
			}
			fields["updated_at"] = now
			ok, err := s.repo.UpdateVersioned(ctx, tx, accountID, templateID, current.Version, fields)
			if err != nil {
				return err
			}
			if !ok {
				return recurringdomain.ErrVersionConflict
			}
			updated, err = s.repo.FindByID(ctx, tx, accountID, templateID)
			return err
		})
		if errors.Is(err, recurringdomain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.log.Info("recurring template updated",
			zap.String("account_id", accountID.String()),
			zap.String("template_id", updated.ID.String()),
			zap.String("action", action),
			zap.String("status", string(updated.Status)),
		)
		return updated, nil
	}
	return nil, err
}

func (s *Service) authorize(ctx context.Context, action string) (snowflake.ID, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return 0, recurringdomain.ErrInvalidAccount
	}
	if s.authz == nil {
		return accountID, nil
	}
	if err := s.authz.Authorize(ctx, accountID, authorization.ObjectRecurringTemplate, action); err != nil {
		return 0, err
	}
	return accountID, nil
}

// fastForward returns the first cycle on or after today.
func fastForward(t *recurringdomain.Template, today time.Time) (time.Time, error) {
	next := t.NextInvoiceDate
	for i := 0; recurringdomain.DayOf(next).Before(today); i++ {
		if i >= maxFastForwardCycles {
			return time.Time{}, fmt.Errorf("%w: schedule too far behind", recurringdomain.ErrInvalidTemplate)
		}
		var err error
		next, err = recurringdomain.ComputeNextDateAnchored(t.Frequency, t.Interval, next, t.AnchorDay)
		if err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}

// freezeRates resolves tax codes to explicit rates so the stored snapshot no
// longer depends on the account's tax definitions.
func (s *Service) freezeRates(ctx context.Context, accountID snowflake.ID, items []invoicedomain.LineInput) ([]invoicedomain.LineInput, error) {
	needsLookup := lo.SomeBy(items, func(item invoicedomain.LineInput) bool {
		return item.TaxRatePercent == nil
	})
	if !needsLookup {
		return append([]invoicedomain.LineInput(nil), items...), nil
	}
	if s.invoices == nil {
		_, idx, _ := lo.FindIndexOf(items, func(item invoicedomain.LineInput) bool {
			return item.TaxRatePercent == nil
		})
		return nil, &invoicedomain.LineItemError{Index: idx, Reason: "tax codes are not supported"}
	}
	return s.invoices.ResolveRates(ctx, accountID, items)
}

func validateItems(items []invoicedomain.LineInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", recurringdomain.ErrInvalidTemplate)
	}
	_, bad, found := lo.FindIndexOf(items, func(item invoicedomain.LineInput) bool {
		return lineItemProblem(item) != ""
	})
	if found {
		return &invoicedomain.LineItemError{Index: bad, Reason: lineItemProblem(items[bad])}
	}
	return nil
}

func lineItemProblem(item invoicedomain.LineInput) string {
	switch {
	case strings.TrimSpace(item.Name) == "":
		return "name is required"
	case !item.Quantity.IsPositive():
		return "quantity must be positive"
	case item.UnitPrice < 0:
		return "unit price must not be negative"
	case item.DiscountPercent.IsNegative() || item.DiscountPercent.GreaterThan(hundred):
		return "discount percent must be between 0 and 100"
	case item.TaxRatePercent == nil && strings.TrimSpace(item.TaxCode) == "":
		return "tax rate or tax code is required"
	case item.TaxRatePercent != nil && (item.TaxRatePercent.IsNegative() || item.TaxRatePercent.GreaterThan(hundred)):
		return "tax rate percent must be between 0 and 100"
	}
	return ""
}

func normalizeCustomer(in invoicedomain.CustomerInput) (invoicedomain.Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return invoicedomain.Customer{}, invoicedomain.ErrInvalidCustomer
	}
	return invoicedomain.Customer{
		Name:  name,
		State: strings.TrimSpace(in.State),
		GSTIN: in.GSTIN,
		Email: in.Email,
	}, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, recurringdomain.ErrInvalidTemplateID
	}
	return id, nil
}
