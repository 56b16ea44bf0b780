package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"github.com/smallbiznis/bizcore/internal/clock"
	"github.com/smallbiznis/bizcore/internal/lock"
	obsmetrics "github.com/smallbiznis/bizcore/internal/observability/metrics"
	recurringdomain "github.com/smallbiznis/bizcore/internal/recurring/domain"
	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 4, 15, 6, 0, 0, 0, time.UTC)

type stubGenerator struct {
	mu     sync.Mutex
	calls  []time.Time
	result recurringdomain.GenerationResult
	err    error
	actor  accountcontext.Actor
}

func (g *stubGenerator) GenerateDueInvoices(ctx context.Context, now time.Time) (int, error) {
	result, err := g.Generate(ctx, now)
	return result.Generated, err
}

func (g *stubGenerator) Generate(ctx context.Context, now time.Time) (recurringdomain.GenerationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, now)
	g.actor, _ = accountcontext.ActorFromContext(ctx)
	return g.result, g.err
}

// stubSubscriptions only implements MarkExpired; any other call panics.
type stubSubscriptions struct {
	subscriptiondomain.Service

	batches []int
	limits  []int
	err     error
}

func (s *stubSubscriptions) MarkExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	s.limits = append(s.limits, limit)
	if len(s.batches) == 0 {
		return 0, s.err
	}
	n := s.batches[0]
	s.batches = s.batches[1:]
	return n, nil
}

type stubRelay struct {
	batches []int
	calls   int
}

func (r *stubRelay) PublishPending(ctx context.Context) (int, error) {
	r.calls++
	if len(r.batches) == 0 {
		return 0, nil
	}
	n := r.batches[0]
	r.batches = r.batches[1:]
	return n, nil
}

func newTestScheduler(t *testing.T, cfg Config, gen *stubGenerator, subs *stubSubscriptions, relay *stubRelay, locker *lock.Locker) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	p := Params{
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clock.NewFakeClock(testNow),
		Config:        cfg,
		Recurring:     gen,
		Subscriptions: subs,
		Locker:        locker,
	}
	if relay != nil {
		p.Relay = relay
	}
	s, err := New(p)
	require.NoError(t, err)
	return s
}

func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "bizcore",
		Environment: "test",
	})
	return registry
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := useTestRegistry(t)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "bizcore",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "bizcore_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "bizcore",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "bizcore_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobWrapsErrorWithJobName(t *testing.T) {
	useTestRegistry(t)
	s := newTestScheduler(t, Config{}, &stubGenerator{}, &stubSubscriptions{}, nil, nil)

	boom := errors.New("boom")
	err := s.runJob(context.Background(), "failing_job", 1, time.Second, func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
}

func TestRunOnceRunsEveryJobAsSystemActor(t *testing.T) {
	registry := useTestRegistry(t)
	gen := &stubGenerator{result: recurringdomain.GenerationResult{Generated: 3, Skipped: 1, CatchUpLimited: 2}}
	subs := &stubSubscriptions{batches: []int{2, 1}}
	relay := &stubRelay{batches: []int{5}}
	s := newTestScheduler(t, Config{BatchSize: 10}, gen, subs, relay, nil)

	require.NoError(t, s.RunOnce(context.Background()))

	require.Len(t, gen.calls, 1)
	assert.True(t, gen.calls[0].Equal(testNow))
	assert.True(t, gen.actor.IsSystem())
	assert.Equal(t, []int{10, 10, 10}, subs.limits)
	assert.Equal(t, 2, relay.calls)

	base := map[string]string{"service": "bizcore", "env": "test"}
	with := func(extra map[string]string) map[string]string {
		out := map[string]string{}
		for k, v := range base {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}
	assert.Equal(t, float64(3), getCounterValue(t, registry, "bizcore_scheduler_batch_processed_total",
		with(map[string]string{"job": JobGenerateRecurringInvoices, "resource": "invoice"})))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "bizcore_scheduler_batch_skipped_total",
		with(map[string]string{"job": JobGenerateRecurringInvoices, "reason": obsmetrics.SchedulerSkipReasonDuplicateGeneration})))
	assert.Equal(t, float64(2), getCounterValue(t, registry, "bizcore_scheduler_batch_skipped_total",
		with(map[string]string{"job": JobGenerateRecurringInvoices, "reason": obsmetrics.SchedulerSkipReasonCatchUpLimit})))
	assert.Equal(t, float64(3), getCounterValue(t, registry, "bizcore_scheduler_batch_processed_total",
		with(map[string]string{"job": JobExpireSubscriptions, "resource": "subscription"})))
	assert.Equal(t, float64(5), getCounterValue(t, registry, "bizcore_scheduler_batch_processed_total",
		with(map[string]string{"job": JobRelayBillingEvents, "resource": "billing_event"})))
	for _, job := range []string{JobGenerateRecurringInvoices, JobExpireSubscriptions, JobRelayBillingEvents} {
		assert.Equal(t, float64(1), getCounterValue(t, registry, "bizcore_scheduler_job_runs_total",
			with(map[string]string{"job": job})), job)
	}
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	useTestRegistry(t)
	gen := &stubGenerator{}
	subs := &stubSubscriptions{}
	relay := &stubRelay{}
	s := newTestScheduler(t, Config{EnabledJobs: []string{"GENERATE_RECURRING_INVOICES"}}, gen, subs, relay, nil)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Len(t, gen.calls, 1)
	assert.Empty(t, subs.limits)
	assert.Zero(t, relay.calls)
}

func TestRunOnceSkipsRelayWithoutPublisher(t *testing.T) {
	useTestRegistry(t)
	s := newTestScheduler(t, Config{}, &stubGenerator{}, &stubSubscriptions{}, nil, nil)

	assert.NotPanics(t, func() {
		require.NoError(t, s.RunOnce(context.Background()))
	})
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	useTestRegistry(t)
	genErr := errors.New("template failed")
	subsErr := errors.New("db down")
	gen := &stubGenerator{err: genErr, result: recurringdomain.GenerationResult{Generated: 1}}
	subs := &stubSubscriptions{err: subsErr}
	relay := &stubRelay{}
	s := newTestScheduler(t, Config{}, gen, subs, relay, nil)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, genErr)
	assert.ErrorIs(t, err, subsErr)
	// Later jobs still run after an earlier failure.
	assert.Equal(t, 1, relay.calls)
}

func TestRunJobSkipsWhenLockHeld(t *testing.T) {
	registry := useTestRegistry(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.NewLocker(client)

	gen := &stubGenerator{}
	s := newTestScheduler(t, Config{EnabledJobs: []string{JobGenerateRecurringInvoices}}, gen, &stubSubscriptions{}, nil, locker)

	ctx := context.Background()
	token, ok, err := locker.TryLock(ctx, "scheduler:"+JobGenerateRecurringInvoices, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RunOnce(ctx))
	assert.Empty(t, gen.calls)
	assert.Equal(t, float64(1), getCounterValue(t, registry, "bizcore_scheduler_batch_skipped_total", map[string]string{
		"service": "bizcore",
		"env":     "test",
		"job":     JobGenerateRecurringInvoices,
		"reason":  obsmetrics.SchedulerSkipReasonLockHeld,
	}))

	require.NoError(t, locker.Release(ctx, "scheduler:"+JobGenerateRecurringInvoices, token))
	require.NoError(t, s.RunOnce(ctx))
	assert.Len(t, gen.calls, 1)

	// The job lock is released after the run.
	_, ok, err = locker.TryLock(ctx, "scheduler:"+JobGenerateRecurringInvoices, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunJobRunsUnlockedWhenRedisUnavailable(t *testing.T) {
	useTestRegistry(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	gen := &stubGenerator{}
	s := newTestScheduler(t, Config{EnabledJobs: []string{JobGenerateRecurringInvoices}}, gen, &stubSubscriptions{}, nil, lock.NewLocker(client))

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, gen.calls, 1)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{JobTimeout: time.Minute}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.LockTTL)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
