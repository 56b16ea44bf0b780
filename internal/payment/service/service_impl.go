package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"github.com/smallbiznis/bizcore/internal/clock"
	"github.com/smallbiznis/bizcore/internal/config"
	obsmetrics "github.com/smallbiznis/bizcore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/bizcore/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultMaxRetries = 5

	systemActor = "payment-feed"
)

var tracer = otel.Tracer("bizcore/payment")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          paymentdomain.Repository
	Subscriptions subscriptiondomain.Service
	Pricing       *config.PricingConfigHolder
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          paymentdomain.Repository
	subscriptions subscriptiondomain.Service
	pricing       *config.PricingConfigHolder
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		pricing:       p.Pricing,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Service) HandleConfirmation(ctx context.Context, confirmation paymentdomain.Confirmation) (*subscriptiondomain.Subscription, error) {
	if err := validateConfirmation(&confirmation); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "payment.handle_confirmation")
	defer span.End()
	span.SetAttributes(
		attribute.String("plan", confirmation.Plan),
		attribute.String("transaction_id", confirmation.TransactionID),
	)

	expected := s.expectedAmount(confirmation.Plan)
	mismatch := expected != confirmation.AmountPaid
	if mismatch {
		// Reconciliation is outside the core; the upgrade still applies.
		s.log.Warn("payment amount mismatch",
			zap.String("account_id", confirmation.AccountID.String()),
			zap.String("transaction_id", confirmation.TransactionID),
			zap.String("plan", confirmation.Plan),
			zap.Int64("amount_paid", confirmation.AmountPaid),
			zap.Int64("expected_amount", expected),
		)
	}

	var (
		sub *subscriptiondomain.Subscription
		err error
	)
	for attempt := 0; attempt < DefaultMaxRetries; attempt++ {
		sub, err = s.applyConfirmation(ctx, confirmation, expected, mismatch)
		if !errors.Is(err, subscriptiondomain.ErrVersionConflict) {
			break
		}
	}

	switch {
	case errors.Is(err, paymentdomain.ErrDuplicatePayment):
		s.obsMetrics.RecordPayment(ctx, obsmetrics.OutcomeDuplicate)
		s.log.Info("payment already processed",
			zap.String("account_id", confirmation.AccountID.String()),
			zap.String("transaction_id", confirmation.TransactionID),
		)
		return nil, err
	case err != nil:
		s.obsMetrics.RecordPayment(ctx, obsmetrics.OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.obsMetrics.RecordPayment(ctx, obsmetrics.OutcomeApplied)
	s.log.Info("payment applied",
		zap.String("account_id", confirmation.AccountID.String()),
		zap.String("transaction_id", confirmation.TransactionID),
		zap.String("plan", sub.Plan),
		zap.Time("period_end", sub.CurrentPeriodEnd),
	)
	return sub, nil
}

// applyConfirmation upgrades and records the transaction in one transaction,
// so a duplicate insert rolls the upgrade back.
func (s *Service) applyConfirmation(ctx context.Context, confirmation paymentdomain.Confirmation, expected int64, mismatch bool) (*subscriptiondomain.Subscription, error) {
	var sub *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upgraded, err := s.subscriptions.UpgradeInTx(ctx, tx, confirmation.AccountID, confirmation.Plan, confirmation.TransactionID)
		if err != nil {
			return err
		}

		subscriptionID := upgraded.ID
		inserted, err := s.repo.Insert(ctx, tx, &paymentdomain.ProcessedPayment{
			ID:             s.genID.Generate(),
			TransactionID:  confirmation.TransactionID,
			AccountID:      confirmation.AccountID,
			SubscriptionID: &subscriptionID,
			Plan:           upgraded.Plan,
			AmountPaid:     confirmation.AmountPaid,
			ExpectedAmount: expected,
			AmountMismatch: mismatch,
			PaidAt:         confirmation.Timestamp,
			ReceivedAt:     s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return paymentdomain.ErrDuplicatePayment
		}
		sub = upgraded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) HandleFailure(ctx context.Context, failure paymentdomain.Failure) (*subscriptiondomain.Subscription, error) {
	if failure.AccountID == 0 {
		return nil, paymentdomain.ErrInvalidAccount
	}
	ctx = accountcontext.WithSystemActor(ctx, systemActor)
	sub, err := s.subscriptions.PaymentFailed(ctx, failure.AccountID)
	if err != nil {
		s.obsMetrics.RecordPayment(ctx, obsmetrics.OutcomeFailed)
		return nil, err
	}
	s.obsMetrics.RecordPayment(ctx, obsmetrics.OutcomeDeclined)
	s.log.Warn("payment failed",
		zap.String("account_id", failure.AccountID.String()),
		zap.String("transaction_id", failure.TransactionID),
		zap.String("reason", failure.Reason),
	)
	return sub, nil
}

func (s *Service) expectedAmount(planCode string) int64 {
	plan, ok := s.pricing.Plan(planCode)
	if !ok {
		return 0
	}
	return plan.Price
}

func validateConfirmation(c *paymentdomain.Confirmation) error {
	if c.AccountID == 0 {
		return paymentdomain.ErrInvalidAccount
	}
	c.TransactionID = strings.TrimSpace(c.TransactionID)
	if c.TransactionID == "" {
		return paymentdomain.ErrInvalidTransaction
	}
	c.Plan = slug.Make(c.Plan)
	if c.Plan == "" {
		return paymentdomain.ErrInvalidConfirmation
	}
	if c.AmountPaid < 0 {
		return paymentdomain.ErrInvalidAmount
	}
	if c.Timestamp.IsZero() {
		return paymentdomain.ErrInvalidConfirmation
	}
	return nil
}
