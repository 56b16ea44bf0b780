package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"github.com/smallbiznis/bizcore/internal/config"
	invoicedomain "github.com/smallbiznis/bizcore/internal/invoice/domain"
	recurringdomain "github.com/smallbiznis/bizcore/internal/recurring/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateValidatesTemplate(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := ownerCtx()
	base := recurringdomain.CreateRequest{
		Customer:  invoicedomain.CustomerInput{Name: "Northwind", State: "Goa"},
		Frequency: recurringdomain.FrequencyMonthly,
		Interval:  1,
		StartDate: today,
		Items:     retainerItems(),
	}

	req := base
	req.Frequency = "hourly"
	_, err := f.svc.Create(ctx, req)
	require.ErrorIs(t, err, recurringdomain.ErrInvalidFrequency)

	req = base
	req.Interval = 0
	_, err = f.svc.Create(ctx, req)
	require.ErrorIs(t, err, recurringdomain.ErrInvalidInterval)

	req = base
	req.Items = nil
	_, err = f.svc.Create(ctx, req)
	require.ErrorIs(t, err, recurringdomain.ErrInvalidTemplate)

	req = base
	req.Items = []invoicedomain.LineInput{{Name: "Hosting", Quantity: decimal.Zero, UnitPrice: 100, TaxRatePercent: rate("18")}}
	_, err = f.svc.Create(ctx, req)
	var lineErr *invoicedomain.LineItemError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 0, lineErr.Index)

	req = base
	before := today.AddDate(0, 0, -1)
	req.EndDate = &before
	_, err = f.svc.Create(ctx, req)
	require.ErrorIs(t, err, recurringdomain.ErrInvalidTemplate)

	_, err = f.svc.Create(context.Background(), base)
	require.ErrorIs(t, err, recurringdomain.ErrInvalidAccount)
}

func TestCreateAnchorsCalendarSchedules(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	template := f.create(t, recurringdomain.CreateRequest{
		Frequency: recurringdomain.FrequencyMonthly,
		StartDate: start,
	})
	assert.Equal(t, 31, template.AnchorDay)
	assert.True(t, template.NextInvoiceDate.Equal(start))
	assert.Equal(t, recurringdomain.TemplateStatusActive, template.Status)

	_, err := f.generator.GenerateDueInvoices(context.Background(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	stored := f.reload(t, template.ID)
	assert.True(t, stored.NextInvoiceDate.Equal(time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(2), stored.TotalGenerated)
}

func TestPauseResumeFastForwards(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := ownerCtx()
	template := f.create(t, recurringdomain.CreateRequest{
		Frequency: recurringdomain.FrequencyWeekly,
		StartDate: today,
	})

	paused, err := f.svc.Pause(ctx, template.ID.String())
	require.NoError(t, err)
	assert.Equal(t, recurringdomain.TemplateStatusPaused, paused.Status)

	n, err := f.generator.GenerateDueInvoices(context.Background(), today)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.Pause(ctx, template.ID.String())
	require.ErrorIs(t, err, recurringdomain.ErrInvalidTemplateTransition)

	f.clock.Advance(17 * 24 * time.Hour)
	resumed, err := f.svc.Resume(ctx, template.ID.String())
	require.NoError(t, err)
	assert.Equal(t, recurringdomain.TemplateStatusActive, resumed.Status)
	assert.True(t, resumed.NextInvoiceDate.Equal(today.AddDate(0, 0, 21)))
	assert.Equal(t, template.Version+2, resumed.Version)
}

func TestResumePastEndDateCompletes(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := ownerCtx()
	end := today.AddDate(0, 0, 10)
	template := f.create(t, recurringdomain.CreateRequest{
		Frequency: recurringdomain.FrequencyMonthly,
		StartDate: today,
		EndDate:   &end,
	})
	_, err := f.svc.Pause(ctx, template.ID.String())
	require.NoError(t, err)

	f.clock.Advance(20 * 24 * time.Hour)
	resumed, err := f.svc.Resume(ctx, template.ID.String())
	require.NoError(t, err)
	assert.Equal(t, recurringdomain.TemplateStatusCompleted, resumed.Status)
}

func TestCancelIsTerminal(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := ownerCtx()
	template := f.create(t, recurringdomain.CreateRequest{
		Frequency: recurringdomain.FrequencyDaily,
		StartDate: today,
	})

	cancelled, err := f.svc.Cancel(ctx, template.ID.String())
	require.NoError(t, err)
	assert.Equal(t, recurringdomain.TemplateStatusCancelled, cancelled.Status)

	_, err = f.svc.Resume(ctx, template.ID.String())
	require.ErrorIs(t, err, recurringdomain.ErrInvalidTemplateTransition)
	_, err = f.svc.Cancel(ctx, template.ID.String())
	require.ErrorIs(t, err, recurringdomain.ErrInvalidTemplateTransition)
	_, err = f.svc.UpdateItems(ctx, template.ID.String(), cancelled.Version, retainerItems())
	require.ErrorIs(t, err, recurringdomain.ErrInvalidTemplateTransition)

	n, err := f.generator.GenerateDueInvoices(context.Background(), today)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateItemsRequiresCurrentVersion(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := ownerCtx()
	template := f.create(t, recurringdomain.CreateRequest{
		Frequency: recurringdomain.FrequencyMonthly,
		StartDate: today.AddDate(0, 0, 1),
	})

	items := []invoicedomain.LineInput{{
		Name:           "Retainer (revised)",
		Quantity:       decimal.NewFromInt(2),
		UnitPrice:      300_000,
		TaxRatePercent: rate("18"),
	}}
	updated, err := f.svc.UpdateItems(ctx, template.ID.String(), template.Version, items)
	require.NoError(t, err)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, "Retainer (revised)", updated.Items[0].Name)
	assert.True(t, updated.Items[0].Quantity.Equal(decimal.NewFromInt(2)))

	_, err = f.svc.UpdateItems(ctx, template.ID.String(), template.Version, items)
	require.ErrorIs(t, err, recurringdomain.ErrVersionConflict)

	n, err := f.generator.GenerateDueInvoices(context.Background(), today.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var invoice invoicedomain.Invoice
	require.NoError(t, f.db.Where("template_id = ?", template.ID).First(&invoice).Error)
	assert.Equal(t, int64(600_000), invoice.Subtotal)
}

func TestTemplatesAreScopedToAccount(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	template := f.create(t, recurringdomain.CreateRequest{
		Frequency: recurringdomain.FrequencyMonthly,
		StartDate: today,
	})

	other := accountcontext.WithActor(context.Background(), accountcontext.Actor{
		AccountID: testAccount + 1,
		UserID:    "u-9",
		Role:      accountcontext.RoleOwner,
	})
	_, err := f.svc.Get(other, template.ID.String())
	require.ErrorIs(t, err, recurringdomain.ErrTemplateNotFound)

	list, err := f.svc.List(ownerCtx())
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.svc.Get(ownerCtx(), "not-an-id")
	require.ErrorIs(t, err, recurringdomain.ErrInvalidTemplateID)
}
