package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/samber/lo"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"github.com/smallbiznis/bizcore/internal/authorization"
	billingeventdomain "github.com/smallbiznis/bizcore/internal/billingevent/domain"
	"github.com/smallbiznis/bizcore/internal/config"
	entitlementdomain "github.com/smallbiznis/bizcore/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/bizcore/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/bizcore/internal/usage/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("bizcore/entitlement")

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Subscriptions subscriptiondomain.Reader
	Counters      usagedomain.CounterStore
	Pricing       *config.PricingConfigHolder
	Emitter       billingeventdomain.Emitter
	Metrics       *obsmetrics.Metrics   `optional:"true"`
	Authz         authorization.Service `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	subscriptions subscriptiondomain.Reader
	counters      usagedomain.CounterStore
	pricing       *config.PricingConfigHolder
	emitter       billingeventdomain.Emitter
	metrics       *obsmetrics.Metrics
	authz         authorization.Service
}

func NewService(p ServiceParam) entitlementdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("entitlement.service"),

		subscriptions: p.Subscriptions,
		counters:      p.Counters,
		pricing:       p.Pricing,
		emitter:       p.Emitter,
		metrics:       p.Metrics,
		authz:         p.Authz,
	}
}

func (s *Service) CheckSubscription(ctx context.Context, accountID snowflake.ID) (entitlementdomain.Status, error) {
	if accountID == 0 {
		return entitlementdomain.Status{}, entitlementdomain.ErrInvalidAccount
	}
	sub, err := s.subscriptions.Current(ctx, accountID)
	if err != nil {
		return entitlementdomain.Status{}, err
	}
	if sub == nil {
		return entitlementdomain.Status{
			Status: string(subscriptiondomain.SubscriptionStatusInactive),
			Limits: map[string]config.Limit{},
		}, nil
	}

	// Current already re-derived the status.
	status := entitlementdomain.Status{
		IsActive:    sub.Status == subscriptiondomain.SubscriptionStatusActive || sub.Status == subscriptiondomain.SubscriptionStatusTrial,
		Plan:        sub.Plan,
		Status:      string(sub.Status),
		Limits:      map[string]config.Limit{},
		Features:    append([]string(nil), sub.Features...),
		PeriodStart: sub.CurrentPeriodStart,
		PeriodEnd:   sub.CurrentPeriodEnd,
	}
	if plan, ok := s.pricing.Plan(sub.Plan); ok {
		for resource, limit := range plan.Limits {
			status.Limits[resource] = limit
		}
	}
	return status, nil
}

func (s *Service) CheckUsageLimit(ctx context.Context, accountID snowflake.ID, resource string, increment int64) error {
	resource, err := normalizeResource(resource)
	if err != nil {
		return err
	}
	if increment < 0 {
		return entitlementdomain.ErrInvalidUsageDelta
	}
	status, err := s.requireActive(ctx, accountID, resource)
	if err != nil {
		return err
	}

	limit := limitFor(status, resource)
	if limit.IsUnlimited() {
		s.metrics.RecordEntitlementCheck(ctx, resource, obsmetrics.OutcomeAllowed)
		return nil
	}
	current, err := s.counters.Get(ctx, usagedomain.CounterKey{
		AccountID:   accountID,
		Resource:    resource,
		PeriodStart: status.PeriodStart,
	})
	if err != nil {
		return err
	}
	if current+increment > int64(limit) {
		s.metrics.RecordEntitlementCheck(ctx, resource, obsmetrics.OutcomeDenied)
		return &entitlementdomain.UsageLimitExceededError{AccountID: accountID, Resource: resource, Current: current, Limit: int64(limit)}
	}
	s.metrics.RecordEntitlementCheck(ctx, resource, obsmetrics.OutcomeAllowed)
	return nil
}

func (s *Service) UpdateUsage(ctx context.Context, accountID snowflake.ID, resource string, delta int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "entitlement.update_usage")
	defer span.End()

	resource, err := normalizeResource(resource)
	if err != nil {
		return 0, err
	}
	if delta <= 0 {
		return 0, entitlementdomain.ErrInvalidUsageDelta
	}
	span.SetAttributes(attribute.String("resource", resource), attribute.Int64("delta", delta))

	status, err := s.requireActive(ctx, accountID, resource)
	if err != nil {
		return 0, err
	}
	limit := limitFor(status, resource)
	key := usagedomain.CounterKey{
		AccountID:   accountID,
		Resource:    resource,
		PeriodStart: status.PeriodStart,
	}

	result, err := s.counters.IncrementIfWithin(ctx, key, delta, int64(limit))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if result.Applied {
		s.metrics.RecordEntitlementCheck(ctx, resource, obsmetrics.OutcomeAllowed)
		s.metrics.RecordUsageIncrement(ctx, resource, delta)
		return result.Value, nil
	}

	s.metrics.RecordEntitlementCheck(ctx, resource, obsmetrics.OutcomeDenied)
	exceeded := &entitlementdomain.UsageLimitExceededError{AccountID: accountID, Resource: resource, Current: result.Value, Limit: int64(limit)}
	if err := s.emitExceeded(ctx, accountID, status, exceeded); err != nil {
		// The denial stands even when the notification cannot be recorded.
		s.log.Error("failed to record usage limit event",
			zap.String("account_id", accountID.String()),
			zap.String("resource", resource),
			zap.Error(err),
		)
	}
	return result.Value, exceeded
}

func (s *Service) Usage(ctx context.Context, accountID snowflake.ID) ([]entitlementdomain.ResourceUsage, error) {
	if err := s.authorize(ctx, accountID); err != nil {
		return nil, err
	}
	status, err := s.CheckSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !status.IsActive {
		return nil, &entitlementdomain.SubscriptionExpiredError{AccountID: accountID, Status: status.Status}
	}

	counters, err := s.counters.List(ctx, accountID, status.PeriodStart)
	if err != nil {
		return nil, err
	}
	resources := lo.Union(lo.Keys(status.Limits), lo.Keys(counters))
	sort.Strings(resources)

	return lo.Map(resources, func(resource string, _ int) entitlementdomain.ResourceUsage {
		limit := limitFor(status, resource)
		used := counters[resource]
		remaining := int64(-1)
		if !limit.IsUnlimited() {
			remaining = max(int64(limit)-used, 0)
		}
		return entitlementdomain.ResourceUsage{
			Resource:  resource,
			Used:      used,
			Limit:     limit,
			Remaining: remaining,
		}
	}), nil
}

func (s *Service) HasFeature(ctx context.Context, accountID snowflake.ID, feature string) (bool, error) {
	feature = slug.Make(feature)
	if feature == "" {
		return false, nil
	}
	status, err := s.CheckSubscription(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !status.IsActive {
		return false, nil
	}
	return lo.Contains(status.Features, feature), nil
}

func (s *Service) requireActive(ctx context.Context, accountID snowflake.ID, resource string) (entitlementdomain.Status, error) {
	status, err := s.CheckSubscription(ctx, accountID)
	if err != nil {
		return entitlementdomain.Status{}, err
	}
	if !status.IsActive {
		s.metrics.RecordEntitlementCheck(ctx, resource, obsmetrics.OutcomeInactive)
		return entitlementdomain.Status{}, &entitlementdomain.SubscriptionExpiredError{AccountID: accountID, Status: status.Status}
	}
	return status, nil
}

// emitExceeded records one event per account, resource and period.
func (s *Service) emitExceeded(ctx context.Context, accountID snowflake.ID, status entitlementdomain.Status, exceeded *entitlementdomain.UsageLimitExceededError) error {
	if s.emitter == nil {
		return nil
	}
	_, err := s.emitter.Emit(ctx, s.db, billingeventdomain.Event{
		AccountID: accountID,
		Type:      billingeventdomain.EventTypeUsageLimitExceeded,
		DedupeKey: fmt.Sprintf("usage_limit_exceeded:%s:%d", exceeded.Resource, status.PeriodStart.Unix()),
		Payload: map[string]any{
			"resource":     exceeded.Resource,
			"current":      exceeded.Current,
			"limit":        exceeded.Limit,
			"plan":         status.Plan,
			"period_start": status.PeriodStart.UTC().Format(time.RFC3339),
		},
	})
	return err
}

func (s *Service) authorize(ctx context.Context, accountID snowflake.ID) error {
	if accountID == 0 {
		return entitlementdomain.ErrInvalidAccount
	}
	if s.authz == nil {
		return nil
	}
	if _, ok := accountcontext.ActorFromContext(ctx); !ok {
		return authorization.ErrInvalidActor
	}
	return s.authz.Authorize(ctx, accountID, authorization.ObjectUsage, authorization.ActionUsageView)
}

// limitFor treats resources missing from the plan as limit zero.
func limitFor(status entitlementdomain.Status, resource string) config.Limit {
	limit, ok := status.Limits[resource]
	if !ok {
		return 0
	}
	return limit
}

func normalizeResource(resource string) (string, error) {
	resource = strings.ToLower(strings.TrimSpace(resource))
	if resource == "" {
		return "", entitlementdomain.ErrInvalidResource
	}
	return resource, nil
}

// IsDenied reports whether err is a business denial rather than a failure.
func IsDenied(err error) bool {
	return errors.Is(err, entitlementdomain.ErrSubscriptionExpired) ||
		errors.Is(err, entitlementdomain.ErrUsageLimitExceeded)
}
