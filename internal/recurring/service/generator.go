package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bizcore/internal/config"
	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/bizcore/internal/observability/metrics"
	recurringdomain "github.com/smallbiznis/bizcore/internal/recurring/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("bizcore/recurring")

const (
	defaultBatchSize        = 50
	defaultMaxCatchUpCycles = 366
)

type GeneratorParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Repo     recurringdomain.Repository
	Invoices invoicedomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Generator struct {
	db  *gorm.DB
	log *zap.Logger

	repo     recurringdomain.Repository
	invoices invoicedomain.Service
	metrics  *obsmetrics.Metrics

	batchSize  int
	maxCatchUp int
}

func NewGenerator(p GeneratorParam) recurringdomain.Generator {
	batchSize := p.Config.Scheduler.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxCatchUp := p.Config.Scheduler.MaxCatchUpCycles
	if maxCatchUp <= 0 {
		maxCatchUp = defaultMaxCatchUpCycles
	}
	return &Generator{
		db:  p.DB,
		log: p.Log.Named("recurring.generator"),

		repo:     p.Repo,
		invoices: p.Invoices,
		metrics:  p.Metrics,

		batchSize:  batchSize,
		maxCatchUp: maxCatchUp,
	}
}

func (g *Generator) GenerateDueInvoices(ctx context.Context, now time.Time) (int, error) {
	result, err := g.Generate(ctx, now)
	return result.Generated, err
}

// Generate drains every template due at now, listing them in keyset order a
// batch at a time. Templates are independent: a failure is recorded on the
// template, collected, and the run moves on past it.
func (g *Generator) Generate(ctx context.Context, now time.Time) (recurringdomain.GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "recurring.generate_due")
	defer span.End()

	var (
		result recurringdomain.GenerationResult
		errs   []error
		cursor *recurringdomain.DueCursor
	)
	// A template held back by the catch-up bound can reappear after the cursor.
	seen := make(map[snowflake.ID]struct{})
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		templates, err := g.repo.ListDue(ctx, g.db, now, cursor, g.batchSize)
		if err != nil {
			span.RecordError(err)
			errs = append(errs, err)
			break
		}
		if len(templates) == 0 {
			break
		}
		last := templates[len(templates)-1]
		cursor = &recurringdomain.DueCursor{NextInvoiceDate: last.NextInvoiceDate, ID: last.ID}

		for i := range templates {
			if _, ok := seen[templates[i].ID]; ok {
				continue
			}
			seen[templates[i].ID] = struct{}{}
			if err := g.runTemplate(ctx, templates[i], now, &result); err != nil {
				errs = append(errs, err)
			}
		}
		if len(templates) < g.batchSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("templates", len(seen)),
		attribute.Int("generated", result.Generated),
		attribute.Int("skipped", result.Skipped),
		attribute.Int("failed", result.Failed),
	)
	return result, errors.Join(errs...)
}

func (g *Generator) runTemplate(ctx context.Context, template recurringdomain.Template, now time.Time, result *recurringdomain.GenerationResult) error {
	outcome, err := g.generateTemplate(ctx, template, now)
	result.Generated += outcome.generated
	if outcome.skipped {
		result.Skipped++
	}
	if outcome.completed {
		result.Completed++
	}
	if outcome.limited {
		result.CatchUpLimited++
	}
	if err == nil {
		return nil
	}

	result.Failed++
	g.log.Error("recurring generation failed",
		zap.String("account_id", template.AccountID.String()),
		zap.String("template_id", template.ID.String()),
		zap.Int("failure_count", template.FailureCount+1),
		zap.Error(err),
	)
	if ctx.Err() == nil {
		if recErr := g.repo.RecordFailure(ctx, g.db, template.AccountID, template.ID, err.Error(), now); recErr != nil {
			g.log.Warn("recording recurring failure failed",
				zap.String("template_id", template.ID.String()),
				zap.Error(recErr),
			)
		}
	}
	return fmt.Errorf("template %s: %w", template.ID, err)
}

type templateOutcome struct {
	generated int
	skipped   bool
	completed bool
	limited   bool
}

// generateTemplate catches a template up to now, one claimed cycle per transaction.
func (g *Generator) generateTemplate(ctx context.Context, current recurringdomain.Template, now time.Time) (templateOutcome, error) {
	var out templateOutcome

	for cycle := 0; !current.NextInvoiceDate.After(now); cycle++ {
		if cycle >= g.maxCatchUp {
			out.limited = true
			g.log.Warn("recurring catch-up limit reached",
				zap.String("template_id", current.ID.String()),
				zap.Time("next_invoice_date", current.NextInvoiceDate),
				zap.Int("max_cycles", g.maxCatchUp),
			)
			return out, nil
		}

		if recurringdomain.PastEnd(current.NextInvoiceDate, current.EndDate) {
			ok, err := g.repo.UpdateVersioned(ctx, g.db, current.AccountID, current.ID, current.Version, map[string]any{
				"status":     recurringdomain.TemplateStatusCompleted,
				"updated_at": now,
			})
			if err != nil {
				return out, err
			}
			out.completed = ok
			out.skipped = !ok
			return out, nil
		}

		expected := current.NextInvoiceDate.UTC()
		next, err := recurringdomain.ComputeNextDateAnchored(current.Frequency, current.Interval, expected, current.AnchorDay)
		if err != nil {
			return out, err
		}
		status := recurringdomain.TemplateStatusActive
		if recurringdomain.PastEnd(next, current.EndDate) {
			status = recurringdomain.TemplateStatusCompleted
		}

		issued := false
		err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ok, err := g.repo.Claim(ctx, tx, recurringdomain.Claim{
				TemplateID:      current.ID,
				AccountID:       current.AccountID,
				ExpectedNext:    expected,
				ExpectedVersion: current.Version,
				Next:            next,
				Status:          status,
				GeneratedAt:     now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return recurringdomain.ErrDuplicateGenerationAttempt
			}

			templateID := current.ID
			cycleDate := expected
			_, err = g.invoices.IssueInTx(ctx, tx, current.AccountID, invoicedomain.IssueRequest{
				Customer: invoicedomain.CustomerInput{
					Name:  current.Customer.Name,
					State: current.Customer.State,
					GSTIN: current.Customer.GSTIN,
					Email: current.Customer.Email,
				},
				Items:      []invoicedomain.LineInput(current.Items),
				Currency:   current.Currency,
				Finalize:   current.AutoIssue,
				Source:     invoicedomain.InvoiceSourceRecurring,
				TemplateID: &templateID,
				CycleDate:  &cycleDate,
				Metadata: map[string]any{
					"template_id": current.ID.String(),
					"cycle_date":  cycleDate.Format(time.DateOnly),
				},
			})
			// The cycle already has an invoice; keep the claim so the schedule moves on.
			if errors.Is(err, invoicedomain.ErrDuplicateInvoice) {
				return nil
			}
			if err != nil {
				return err
			}
			issued = true
			return nil
		})
		if errors.Is(err, recurringdomain.ErrDuplicateGenerationAttempt) {
			g.log.Debug("recurring cycle already claimed",
				zap.String("template_id", current.ID.String()),
				zap.Time("cycle_date", expected),
			)
			out.skipped = true
			return out, nil
		}
		if err != nil {
			return out, err
		}

		if issued {
			out.generated++
			g.metrics.RecordInvoiceGenerated(ctx, string(invoicedomain.InvoiceSourceRecurring))
		} else {
			out.skipped = true
		}
		g.log.Info("recurring invoice generated",
			zap.String("account_id", current.AccountID.String()),
			zap.String("template_id", current.ID.String()),
			zap.Time("cycle_date", expected),
			zap.Time("next_invoice_date", next),
			zap.Bool("issued", issued),
		)

		current.NextInvoiceDate = next
		current.Version++
		current.TotalGenerated++
		current.Status = status
		if status == recurringdomain.TemplateStatusCompleted {
			out.completed = true
			return out, nil
		}
	}
	return out, nil
}
