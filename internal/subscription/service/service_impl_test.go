package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"github.com/smallbiznis/bizcore/internal/authorization"
	billingeventdomain "github.com/smallbiznis/bizcore/internal/billingevent/domain"
	billingeventservice "github.com/smallbiznis/bizcore/internal/billingevent/service"
	"github.com/smallbiznis/bizcore/internal/clock"
	"github.com/smallbiznis/bizcore/internal/config"
	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	"github.com/smallbiznis/bizcore/internal/subscription/repository"
	"github.com/smallbiznis/bizcore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testAccount = snowflake.ID(7001)

var start = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	svc   *Service
	clock *clock.FakeClock
	repo  *conflictingRepo
}

// conflictingRepo bumps the stored version before the next n versioned
// updates, the way a concurrent writer would.
type conflictingRepo struct {
	subscriptiondomain.Repository

	mu        sync.Mutex
	conflicts int
	updates   int
}

func (r *conflictingRepo) UpdateVersioned(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, expected int64) (bool, error) {
	r.mu.Lock()
	r.updates++
	inject := r.conflicts > 0
	if inject {
		r.conflicts--
	}
	r.mu.Unlock()

	if inject {
		err := tx.Model(&subscriptiondomain.Subscription{}).
			Where("id = ?", sub.ID).
			Update("version", gorm.Expr("version + 1")).Error
		if err != nil {
			return false, err
		}
	}
	return r.Repository.UpdateVersioned(ctx, tx, sub, expected)
}

func newFixture(t *testing.T, authz authorization.Service) fixture {
	t.Helper()
	db := testutil.NewDB(t,
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionHistory{},
		&billingeventdomain.BillingEvent{},
	)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(start)
	pricing, err := config.NewStaticPricingConfigHolder(config.DefaultPricingConfig())
	require.NoError(t, err)

	repo := &conflictingRepo{Repository: repository.Provide()}
	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Repo:    repo,
		Pricing: pricing,
		Emitter: billingeventservice.NewOutbox(billingeventservice.OutboxParams{Log: zap.NewNop(), GenID: node, Clock: clk}),
		Authz:   authz,
	}).(*Service)
	return fixture{db: db, svc: svc, clock: clk, repo: repo}
}

func countEvents(t *testing.T, db *gorm.DB, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&billingeventdomain.BillingEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func TestStartTrial(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sub, err := f.svc.StartTrial(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, config.PlanTrial, sub.Plan)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrial, sub.Status)
	require.NotNil(t, sub.TrialEndsAt)
	assert.True(t, sub.TrialEndsAt.Equal(start.AddDate(0, 0, 14)))
	assert.True(t, sub.CurrentPeriodEnd.Equal(*sub.TrialEndsAt))
	assert.Contains(t, []string(sub.Features), "invoicing")

	_, err = f.svc.StartTrial(ctx, testAccount)
	require.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionExists)

	history, err := f.svc.History(ctx, testAccount)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, subscriptiondomain.HistoryReasonTrialStarted, history[0].Reason)
}

func TestTrialExpiresAtReadTime(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.StartTrial(ctx, testAccount)
	require.NoError(t, err)

	f.clock.Advance(14*24*time.Hour + time.Second)
	sub, err := f.svc.Get(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, sub.Status)
	assert.False(t, sub.IsActive(f.clock.Now()))
}

func TestUpgradeFromTrial(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.StartTrial(ctx, testAccount)
	require.NoError(t, err)

	f.clock.Advance(3 * 24 * time.Hour)
	sub, err := f.svc.Upgrade(ctx, testAccount, "Monthly")
	require.NoError(t, err)
	assert.Equal(t, config.PlanMonthly, sub.Plan)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.AutoRenew)
	assert.Nil(t, sub.TrialEndsAt)
	assert.True(t, sub.CurrentPeriodStart.Equal(f.clock.Now()))
	assert.True(t, sub.CurrentPeriodEnd.Equal(f.clock.Now().AddDate(0, 0, 30)))
	assert.Equal(t, int64(1), sub.Version)
	assert.Equal(t, int64(1), countEvents(t, f.db, billingeventdomain.EventTypeSubscriptionUpgraded))

	history, err := f.svc.History(ctx, testAccount)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, config.PlanTrial, history[1].Plan)
	assert.Equal(t, subscriptiondomain.HistoryReasonUpgraded, history[1].Reason)
}

func TestUpgradeCreatesMissingSubscription(t *testing.T) {
	f := newFixture(t, nil)

	sub, err := f.svc.Upgrade(context.Background(), testAccount, "yearly")
	require.NoError(t, err)
	assert.Equal(t, config.PlanYearly, sub.Plan)
	assert.Equal(t, testAccount, sub.AccountID)
	assert.True(t, sub.CurrentPeriodEnd.Equal(start.AddDate(0, 0, 365)))
}

func TestUpgradeRejectsInvalidPlans(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Upgrade(ctx, testAccount, "trial")
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidPlanTransition)
	_, err = f.svc.Upgrade(ctx, testAccount, "platinum")
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidPlanTransition)
}

func TestUpgradeRetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.StartTrial(ctx, testAccount)
	require.NoError(t, err)

	f.repo.conflicts = 2
	sub, err := f.svc.Upgrade(ctx, testAccount, "monthly")
	require.NoError(t, err)
	// Conflicting bumps roll back with their attempt.
	assert.Equal(t, 3, f.repo.updates)
	assert.Equal(t, int64(1), sub.Version)
	assert.Equal(t, config.PlanMonthly, sub.Plan)
}

func TestUpgradeGivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.StartTrial(ctx, testAccount)
	require.NoError(t, err)

	f.repo.conflicts = DefaultMaxRetries
	_, err = f.svc.Upgrade(ctx, testAccount, "monthly")
	require.ErrorIs(t, err, subscriptiondomain.ErrVersionConflict)
	assert.Equal(t, DefaultMaxRetries, f.repo.updates)

	stored, err := f.svc.Current(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, config.PlanTrial, stored.Plan)
}

func TestPaymentFailedKeepsStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Upgrade(ctx, testAccount, "monthly")
	require.NoError(t, err)

	sub, err := f.svc.PaymentFailed(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.LastPaymentFailedAt)

	_, err = f.svc.PaymentFailed(ctx, snowflake.ID(9))
	require.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestCancelAtPeriodEnd(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Upgrade(ctx, testAccount, "monthly")
	require.NoError(t, err)

	sub, err := f.svc.Cancel(ctx, testAccount, false)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.False(t, sub.AutoRenew)
	require.NotNil(t, sub.CanceledAt)
	assert.Equal(t, int64(1), countEvents(t, f.db, billingeventdomain.EventTypeSubscriptionCancelled))

	f.clock.Advance(31 * 24 * time.Hour)
	sub, err = f.svc.Get(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, sub.Status)
}

func TestCancelImmediatelyAndReactivate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Upgrade(ctx, testAccount, "monthly")
	require.NoError(t, err)

	sub, err := f.svc.Cancel(ctx, testAccount, true)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, sub.Status)
	assert.False(t, sub.IsActive(f.clock.Now()))

	f.clock.Advance(5 * 24 * time.Hour)
	sub, err = f.svc.Reactivate(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.AutoRenew)
	assert.Nil(t, sub.CanceledAt)
}

func TestReactivateAfterPeriodEndFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Upgrade(ctx, testAccount, "monthly")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, testAccount, true)
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.svc.Reactivate(ctx, testAccount)
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
}

func TestReactivateActiveSubscriptionFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Upgrade(ctx, testAccount, "monthly")
	require.NoError(t, err)

	_, err = f.svc.Reactivate(ctx, testAccount)
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
}

func TestCancelExpiredFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Upgrade(ctx, testAccount, "monthly")
	require.NoError(t, err)

	f.clock.Advance(40 * 24 * time.Hour)
	_, err = f.svc.Cancel(ctx, testAccount, false)
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
}

func TestMarkExpiredEmitsOncePerPeriod(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.StartTrial(ctx, testAccount)
	require.NoError(t, err)
	_, err = f.svc.Upgrade(ctx, snowflake.ID(7002), "yearly")
	require.NoError(t, err)

	f.clock.Advance(15 * 24 * time.Hour)
	n, err := f.svc.MarkExpired(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.MarkExpired(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(1), countEvents(t, f.db, billingeventdomain.EventTypeSubscriptionExpired))

	var stored subscriptiondomain.Subscription
	require.NoError(t, f.db.Where("account_id = ?", testAccount).First(&stored).Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, stored.Status)
}

func TestUpgradeInTxRollsBackWithCaller(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.StartTrial(ctx, testAccount)
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		sub, err := f.svc.UpgradeInTx(ctx, tx, testAccount, "quarterly", "txn-1")
		require.NoError(t, err)
		require.NotNil(t, sub.LastTransactionID)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	sub, err := f.svc.Current(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, config.PlanTrial, sub.Plan)
	assert.Zero(t, countEvents(t, f.db, billingeventdomain.EventTypeSubscriptionUpgraded))
}

func TestMemberCannotUpgrade(t *testing.T) {
	enforcer, err := authorization.NewInMemoryEnforcer()
	require.NoError(t, err)
	f := newFixture(t, authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}))

	member := accountcontext.WithActor(context.Background(), accountcontext.Actor{
		AccountID: testAccount, UserID: "u-2", Role: accountcontext.RoleMember,
	})
	_, err = f.svc.Upgrade(member, testAccount, "monthly")
	require.ErrorIs(t, err, authorization.ErrForbidden)

	owner := accountcontext.WithActor(context.Background(), accountcontext.Actor{
		AccountID: testAccount, UserID: "u-1", Role: accountcontext.RoleOwner,
	})
	_, err = f.svc.Upgrade(owner, testAccount, "monthly")
	require.NoError(t, err)
}

func TestPaymentFailedRequiresSystemActor(t *testing.T) {
	enforcer, err := authorization.NewInMemoryEnforcer()
	require.NoError(t, err)
	f := newFixture(t, authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}))

	owner := accountcontext.WithActor(context.Background(), accountcontext.Actor{
		AccountID: testAccount, UserID: "u-1", Role: accountcontext.RoleOwner,
	})
	_, err = f.svc.Upgrade(owner, testAccount, "monthly")
	require.NoError(t, err)

	_, err = f.svc.PaymentFailed(owner, testAccount)
	require.ErrorIs(t, err, authorization.ErrForbidden)

	sub, err := f.svc.PaymentFailed(accountcontext.WithSystemActor(context.Background(), "payments"), testAccount)
	require.NoError(t, err)
	require.NotNil(t, sub.LastPaymentFailedAt)
}
