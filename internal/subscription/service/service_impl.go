package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"github.com/smallbiznis/bizcore/internal/authorization"
	billingeventdomain "github.com/smallbiznis/bizcore/internal/billingevent/domain"
	"github.com/smallbiznis/bizcore/internal/clock"
	"github.com/smallbiznis/bizcore/internal/config"
	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultMaxRetries bounds re-read and re-apply attempts after a version conflict.
const DefaultMaxRetries = 5

var tracer = otel.Tracer("bizcore/subscription")

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	Pricing *config.PricingConfigHolder
	Emitter billingeventdomain.Emitter
	Authz   authorization.Service `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	pricing    *config.PricingConfigHolder
	emitter    billingeventdomain.Emitter
	authz      authorization.Service
	maxRetries int
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		pricing:    p.Pricing,
		emitter:    p.Emitter,
		authz:      p.Authz,
		maxRetries: DefaultMaxRetries,
	}
}

// mutation edits sub in place and reports the history reason. A nil sub means
// the account has no subscription yet; returning a non-nil created value asks
// for an insert instead of a versioned update.
type mutation func(sub *subscriptiondomain.Subscription, now time.Time) (reason subscriptiondomain.HistoryReason, created *subscriptiondomain.Subscription, err error)

func (s *Service) Current(ctx context.Context, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if accountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	sub, err := s.repo.FindByAccountID(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}
	sub.Status = sub.DeriveStatus(s.clock.Now())
	return sub, nil
}

func (s *Service) StartTrial(ctx context.Context, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if err := s.authorize(ctx, accountID, authorization.ActionSubscriptionStartTrial); err != nil {
		return nil, err
	}
	plan, ok := s.pricing.Plan(config.PlanTrial)
	if !ok {
		return nil, subscriptiondomain.ErrTrialPlanMissing
	}

	now := s.clock.Now()
	trialEnds := now.AddDate(0, 0, plan.DurationDays)
	sub := &subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		AccountID:          accountID,
		Plan:               plan.Code,
		Status:             subscriptiondomain.SubscriptionStatusTrial,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   trialEnds,
		TrialEndsAt:        &trialEnds,
		Features:           datatypes.JSONSlice[string](append([]string(nil), plan.Features...)),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			return err
		}
		return s.repo.InsertHistory(ctx, tx, s.snapshot(sub, subscriptiondomain.HistoryReasonTrialStarted, now))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription trial started",
		zap.String("account_id", accountID.String()),
		zap.Time("trial_ends_at", trialEnds),
	)
	return sub, nil
}

func (s *Service) Upgrade(ctx context.Context, accountID snowflake.ID, plan string) (*subscriptiondomain.Subscription, error) {
	if err := s.authorize(ctx, accountID, authorization.ActionSubscriptionUpgrade); err != nil {
		return nil, err
	}
	apply, err := s.upgradeMutation(plan, "")
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, accountID, "subscription.upgrade", apply)
}

func (s *Service) UpgradeInTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, plan string, transactionID string) (*subscriptiondomain.Subscription, error) {
	if accountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	apply, err := s.upgradeMutation(plan, transactionID)
	if err != nil {
		return nil, err
	}
	return s.applyInTx(ctx, tx, accountID, apply)
}

func (s *Service) upgradeMutation(planCode string, transactionID string) (mutation, error) {
	code := slug.Make(planCode)
	if code == "" || code == config.PlanTrial {
		return nil, fmt.Errorf("%w: %q", subscriptiondomain.ErrInvalidPlanTransition, planCode)
	}
	plan, ok := s.pricing.Plan(code)
	if !ok {
		return nil, fmt.Errorf("%w: unknown plan %q", subscriptiondomain.ErrInvalidPlanTransition, planCode)
	}

	return func(sub *subscriptiondomain.Subscription, now time.Time) (subscriptiondomain.HistoryReason, *subscriptiondomain.Subscription, error) {
		if sub == nil {
			sub = &subscriptiondomain.Subscription{
				ID:        s.genID.Generate(),
				CreatedAt: now,
			}
			applyPlan(sub, plan, now, transactionID)
			return subscriptiondomain.HistoryReasonUpgraded, sub, nil
		}
		applyPlan(sub, plan, now, transactionID)
		return subscriptiondomain.HistoryReasonUpgraded, nil, nil
	}, nil
}

func applyPlan(sub *subscriptiondomain.Subscription, plan config.Plan, now time.Time, transactionID string) {
	sub.Plan = plan.Code
	sub.Status = subscriptiondomain.SubscriptionStatusActive
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = now.AddDate(0, 0, plan.DurationDays)
	sub.TrialEndsAt = nil
	sub.AutoRenew = true
	sub.CanceledAt = nil
	sub.Features = datatypes.JSONSlice[string](append([]string(nil), plan.Features...))
	if transactionID = strings.TrimSpace(transactionID); transactionID != "" {
		sub.LastTransactionID = &transactionID
	}
}

func (s *Service) PaymentFailed(ctx context.Context, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if err := s.authorize(ctx, accountID, authorization.ActionSubscriptionPaymentFailed); err != nil {
		return nil, err
	}
	return s.mutate(ctx, accountID, "subscription.payment_failed", func(sub *subscriptiondomain.Subscription, now time.Time) (subscriptiondomain.HistoryReason, *subscriptiondomain.Subscription, error) {
		if sub == nil {
			return "", nil, subscriptiondomain.ErrSubscriptionNotFound
		}
		sub.LastPaymentFailedAt = &now
		return subscriptiondomain.HistoryReasonPaymentFailed, nil, nil
	})
}

// Cancel stops renewal. The subscription keeps access until the period ends
// unless immediately is set.
func (s *Service) Cancel(ctx context.Context, accountID snowflake.ID, immediately bool) (*subscriptiondomain.Subscription, error) {
	if err := s.authorize(ctx, accountID, authorization.ActionSubscriptionCancel); err != nil {
		return nil, err
	}
	return s.mutate(ctx, accountID, "subscription.cancel", func(sub *subscriptiondomain.Subscription, now time.Time) (subscriptiondomain.HistoryReason, *subscriptiondomain.Subscription, error) {
		if sub == nil {
			return "", nil, subscriptiondomain.ErrSubscriptionNotFound
		}
		switch sub.DeriveStatus(now) {
		case subscriptiondomain.SubscriptionStatusExpired, subscriptiondomain.SubscriptionStatusInactive:
			return "", nil, fmt.Errorf("%w: cannot cancel %s subscription", subscriptiondomain.ErrInvalidTransition, sub.DeriveStatus(now))
		case subscriptiondomain.SubscriptionStatusCancelled:
			if !immediately {
				return "", nil, fmt.Errorf("%w: already cancelled", subscriptiondomain.ErrInvalidTransition)
			}
		}
		sub.AutoRenew = false
		if sub.CanceledAt == nil {
			sub.CanceledAt = &now
		}
		if immediately {
			sub.Status = subscriptiondomain.SubscriptionStatusCancelled
		}
		return subscriptiondomain.HistoryReasonCancelled, nil, nil
	})
}

func (s *Service) Reactivate(ctx context.Context, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if err := s.authorize(ctx, accountID, authorization.ActionSubscriptionReactivate); err != nil {
		return nil, err
	}
	return s.mutate(ctx, accountID, "subscription.reactivate", func(sub *subscriptiondomain.Subscription, now time.Time) (subscriptiondomain.HistoryReason, *subscriptiondomain.Subscription, error) {
		if sub == nil {
			return "", nil, subscriptiondomain.ErrSubscriptionNotFound
		}
		if now.After(sub.CurrentPeriodEnd) {
			return "", nil, fmt.Errorf("%w: period ended", subscriptiondomain.ErrInvalidTransition)
		}
		if sub.Status != subscriptiondomain.SubscriptionStatusCancelled && sub.CanceledAt == nil {
			return "", nil, fmt.Errorf("%w: subscription is not cancelled", subscriptiondomain.ErrInvalidTransition)
		}
		if sub.Plan == config.PlanTrial {
			sub.Status = subscriptiondomain.SubscriptionStatusTrial
		} else {
			sub.Status = subscriptiondomain.SubscriptionStatusActive
		}
		sub.AutoRenew = true
		sub.CanceledAt = nil
		return subscriptiondomain.HistoryReasonReactivated, nil, nil
	})
}

func (s *Service) Get(ctx context.Context, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if err := s.authorize(ctx, accountID, authorization.ActionSubscriptionView); err != nil {
		return nil, err
	}
	sub, err := s.Current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) History(ctx context.Context, accountID snowflake.ID) ([]subscriptiondomain.SubscriptionHistory, error) {
	if err := s.authorize(ctx, accountID, authorization.ActionSubscriptionView); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, s.db, accountID)
}

// MarkExpired stores the expired hint on lapsed subscriptions. Each one is
// handled in its own transaction so one failure does not block the batch.
func (s *Service) MarkExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	ctx, span := tracer.Start(ctx, "subscription.mark_expired")
	defer span.End()

	lapsed, err := s.repo.ListLapsed(ctx, s.db, now, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	var (
		expired int
		errs    []error
	)
	for _, candidate := range lapsed {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sub, err := s.repo.FindByAccountID(ctx, tx, candidate.AccountID)
			if err != nil {
				return err
			}
			if sub == nil || sub.Version != candidate.Version {
				return subscriptiondomain.ErrVersionConflict
			}
			if sub.DeriveStatus(now) != subscriptiondomain.SubscriptionStatusExpired {
				return nil
			}
			history := s.snapshot(sub, subscriptiondomain.HistoryReasonExpired, now)
			periodEnd := sub.CurrentPeriodEnd
			sub.Status = subscriptiondomain.SubscriptionStatusExpired
			sub.AutoRenew = false
			sub.UpdatedAt = now
			ok, err := s.repo.UpdateVersioned(ctx, tx, sub, candidate.Version)
			if err != nil {
				return err
			}
			if !ok {
				return subscriptiondomain.ErrVersionConflict
			}
			if err := s.repo.InsertHistory(ctx, tx, history); err != nil {
				return err
			}
			_, err = s.emitter.Emit(ctx, tx, billingeventdomain.Event{
				AccountID: sub.AccountID,
				Type:      billingeventdomain.EventTypeSubscriptionExpired,
				DedupeKey: fmt.Sprintf("subscription_expired:%s:%d", sub.ID, periodEnd.Unix()),
				Payload: map[string]any{
					"subscription_id": sub.ID.String(),
					"plan":            sub.Plan,
					"period_end":      periodEnd.UTC().Format(time.RFC3339),
				},
			})
			if err != nil {
				return err
			}
			expired++
			return nil
		})
		if errors.Is(err, subscriptiondomain.ErrVersionConflict) {
			// Changed since listing; the next sweep re-evaluates it.
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", candidate.AccountID, err))
		}
	}

	span.SetAttributes(attribute.Int("subscription.expired", expired))
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "partial failure")
		return expired, err
	}
	if expired > 0 {
		s.log.Info("subscriptions expired", zap.Int("count", expired))
	}
	return expired, nil
}

// mutate runs apply with optimistic retry. Each attempt re-reads the row.
func (s *Service) mutate(ctx context.Context, accountID snowflake.ID, op string, apply mutation) (*subscriptiondomain.Subscription, error) {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("account_id", accountID.String()))

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		var result *subscriptiondomain.Subscription
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sub, err := s.applyInTx(ctx, tx, accountID, apply)
			if err != nil {
				return err
			}
			result = sub
			return nil
		})
		if err == nil {
			span.SetAttributes(attribute.Int("subscription.attempts", attempt))
			s.log.Info("subscription updated",
				zap.String("op", op),
				zap.String("account_id", accountID.String()),
				zap.String("plan", result.Plan),
				zap.String("status", string(result.Status)),
				zap.Int64("version", result.Version),
			)
			return result, nil
		}
		if !errors.Is(err, subscriptiondomain.ErrVersionConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		lastErr = err
		s.log.Debug("subscription version conflict, retrying",
			zap.String("op", op),
			zap.String("account_id", accountID.String()),
			zap.Int("attempt", attempt),
		)
	}
	span.SetStatus(codes.Error, "version conflict")
	return nil, lastErr
}

// applyInTx makes one attempt: read, snapshot, apply, conditional write, history, event.
func (s *Service) applyInTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, apply mutation) (*subscriptiondomain.Subscription, error) {
	now := s.clock.Now()
	current, err := s.repo.FindByAccountID(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	if current == nil {
		reason, created, err := apply(nil, now)
		if err != nil {
			return nil, err
		}
		if created == nil {
			return nil, subscriptiondomain.ErrSubscriptionNotFound
		}
		created.AccountID = accountID
		created.UpdatedAt = now
		if err := s.repo.Insert(ctx, tx, created); err != nil {
			if errors.Is(err, subscriptiondomain.ErrSubscriptionExists) {
				return nil, subscriptiondomain.ErrVersionConflict
			}
			return nil, err
		}
		if err := s.repo.InsertHistory(ctx, tx, s.snapshot(created, reason, now)); err != nil {
			return nil, err
		}
		if err := s.emitFor(ctx, tx, reason, created); err != nil {
			return nil, err
		}
		return created, nil
	}

	history := s.snapshot(current, "", now)
	expected := current.Version
	reason, _, err := apply(current, now)
	if err != nil {
		return nil, err
	}
	history.Reason = reason
	current.UpdatedAt = now

	ok, err := s.repo.UpdateVersioned(ctx, tx, current, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, subscriptiondomain.ErrVersionConflict
	}
	if err := s.repo.InsertHistory(ctx, tx, history); err != nil {
		return nil, err
	}
	if err := s.emitFor(ctx, tx, reason, current); err != nil {
		return nil, err
	}
	current.Status = current.DeriveStatus(now)
	return current, nil
}

func (s *Service) emitFor(ctx context.Context, tx *gorm.DB, reason subscriptiondomain.HistoryReason, sub *subscriptiondomain.Subscription) error {
	var eventType string
	switch reason {
	case subscriptiondomain.HistoryReasonUpgraded:
		eventType = billingeventdomain.EventTypeSubscriptionUpgraded
	case subscriptiondomain.HistoryReasonCancelled:
		eventType = billingeventdomain.EventTypeSubscriptionCancelled
	default:
		return nil
	}
	payload := map[string]any{
		"subscription_id": sub.ID.String(),
		"plan":            sub.Plan,
		"status":          string(sub.Status),
		"period_start":    sub.CurrentPeriodStart.UTC().Format(time.RFC3339),
		"period_end":      sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		"auto_renew":      sub.AutoRenew,
	}
	if sub.LastTransactionID != nil {
		payload["transaction_id"] = *sub.LastTransactionID
	}
	_, err := s.emitter.Emit(ctx, tx, billingeventdomain.Event{
		AccountID: sub.AccountID,
		Type:      eventType,
		DedupeKey: fmt.Sprintf("%s:%s:%d", reason, sub.ID, sub.Version),
		Payload:   payload,
	})
	return err
}

func (s *Service) snapshot(sub *subscriptiondomain.Subscription, reason subscriptiondomain.HistoryReason, now time.Time) *subscriptiondomain.SubscriptionHistory {
	var trialEnds *time.Time
	if sub.TrialEndsAt != nil {
		t := *sub.TrialEndsAt
		trialEnds = &t
	}
	return &subscriptiondomain.SubscriptionHistory{
		ID:                 s.genID.Generate(),
		AccountID:          sub.AccountID,
		SubscriptionID:     sub.ID,
		Reason:             reason,
		Plan:               sub.Plan,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		TrialEndsAt:        trialEnds,
		AutoRenew:          sub.AutoRenew,
		Version:            sub.Version,
		CreatedAt:          now,
	}
}

func (s *Service) authorize(ctx context.Context, accountID snowflake.ID, action string) error {
	if accountID == 0 {
		return subscriptiondomain.ErrInvalidAccount
	}
	if s.authz == nil {
		return nil
	}
	if _, ok := accountcontext.ActorFromContext(ctx); !ok {
		return authorization.ErrInvalidActor
	}
	return s.authz.Authorize(ctx, accountID, authorization.ObjectSubscription, action)
}
