package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	billingeventdomain "github.com/smallbiznis/bizcore/internal/billingevent/domain"
	"github.com/smallbiznis/bizcore/internal/clock"
	"github.com/smallbiznis/bizcore/internal/lock"
	obsmetrics "github.com/smallbiznis/bizcore/internal/observability/metrics"
	recurringdomain "github.com/smallbiznis/bizcore/internal/recurring/domain"
	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobGenerateRecurringInvoices = "generate_recurring_invoices"
	JobExpireSubscriptions       = "expire_subscriptions"
	JobRelayBillingEvents        = "relay_billing_events"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        Config `optional:"true"`
	Recurring     recurringdomain.Generator
	Subscriptions subscriptiondomain.Service
	Relay         billingeventdomain.Relay `optional:"true"`
	Locker        *lock.Locker             `optional:"true"`
}

type Scheduler struct {
	log   *zap.Logger
	cfg   Config
	genID *snowflake.Node
	clock clock.Clock

	recurring     recurringdomain.Generator
	subscriptions subscriptiondomain.Service
	relay         billingeventdomain.Relay
	locker        *lock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Recurring == nil || p.Subscriptions == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:   p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:   p.Config.withDefaults(),
		genID: p.GenID,
		clock: p.Clock,

		recurring:     p.Recurring,
		subscriptions: p.Subscriptions,
		relay:         p.Relay,
		locker:        p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = accountcontext.WithSystemActor(ctx, "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	release, acquired, err := s.acquire(ctx, name)
	if err != nil {
		// Database claims still keep each cycle single without the lock.
		log.Warn("scheduler lock unavailable, running unlocked", zap.Error(err))
		acquired = true
	}
	if !acquired {
		schedMetrics.AddBatchSkipped(name, obsmetrics.SchedulerSkipReasonLockHeld, 1)
		run.lockHeld = true
		if owner {
			s.logJobFinish(ctx, run)
		}
		return nil
	}
	defer release()

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// acquire takes the per-job lock when a locker is configured. The returned
// release func is always safe to call.
func (s *Scheduler) acquire(ctx context.Context, job string) (func(), bool, error) {
	noop := func() {}
	if !s.locker.Enabled() {
		return noop, true, nil
	}
	key := "scheduler:" + job
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return noop, false, err
	}
	if !ok {
		return noop, false, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("scheduler lock release failed", zap.String("job", job), zap.Error(err))
		}
	}, true, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobExpireSubscriptions, s.isJobEnabled(JobExpireSubscriptions), func(ctx context.Context) error {
			return s.runJob(ctx, JobExpireSubscriptions, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpireSubscriptionsJob)
		}},
		{JobGenerateRecurringInvoices, s.isJobEnabled(JobGenerateRecurringInvoices), func(ctx context.Context) error {
			return s.runJob(ctx, JobGenerateRecurringInvoices, s.cfg.BatchSize, s.cfg.JobTimeout, s.GenerateRecurringInvoicesJob)
		}},
		{JobRelayBillingEvents, s.relay != nil && s.isJobEnabled(JobRelayBillingEvents), func(ctx context.Context) error {
			return s.runJob(ctx, JobRelayBillingEvents, s.cfg.BatchSize, s.cfg.JobTimeout, s.RelayBillingEventsJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now()
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default (monolith mode)
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// GenerateRecurringInvoicesJob generates every due template. Templates held
// back by the catch-up bound stay due and continue on the next tick.
func (s *Scheduler) GenerateRecurringInvoicesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobGenerateRecurringInvoices, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.recurring.Generate(ctx, s.clock.Now())
	run.AddProcessed(result.Generated)
	run.AddSkipped(result.Skipped + result.CatchUpLimited)

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddBatchProcessed(JobGenerateRecurringInvoices, "invoice", result.Generated)
	schedMetrics.AddBatchProcessed(JobGenerateRecurringInvoices, "template_completed", result.Completed)
	schedMetrics.AddBatchSkipped(JobGenerateRecurringInvoices, obsmetrics.SchedulerSkipReasonDuplicateGeneration, result.Skipped)
	schedMetrics.AddBatchSkipped(JobGenerateRecurringInvoices, obsmetrics.SchedulerSkipReasonCatchUpLimit, result.CatchUpLimited)
	schedMetrics.AddBatchProcessed(JobGenerateRecurringInvoices, "template_failed", result.Failed)

	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.recurring.failed", JobGenerateRecurringInvoices, err,
			zap.Int("generated", result.Generated),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}
	return err
}

// ExpireSubscriptionsJob stores the expired status on lapsed subscriptions
// until a batch comes back empty.
func (s *Scheduler) ExpireSubscriptionsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireSubscriptions, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		expired, err := s.subscriptions.MarkExpired(ctx, now, s.cfg.BatchSize)
		run.AddProcessed(expired)
		obsmetrics.Scheduler().AddBatchProcessed(JobExpireSubscriptions, "subscription", expired)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.expire.failed", JobExpireSubscriptions, err)
			return err
		}
		if expired == 0 {
			return nil
		}
	}
}

// RelayBillingEventsJob drains the outbox until a batch publishes nothing.
func (s *Scheduler) RelayBillingEventsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobRelayBillingEvents, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		published, err := s.relay.PublishPending(ctx)
		run.AddProcessed(published)
		obsmetrics.Scheduler().AddBatchProcessed(JobRelayBillingEvents, "billing_event", published)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.relay.failed", JobRelayBillingEvents, err)
			return err
		}
		if published == 0 {
			return nil
		}
	}
}
