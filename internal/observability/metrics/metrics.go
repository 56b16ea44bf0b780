package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeInactive = "inactive"

	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeDeclined  = "declined"
)

// Metrics holds the billing domain instruments. A nil *Metrics records nothing.
type Metrics struct {
	entitlementChecks  metric.Int64Counter
	usageIncrements    metric.Int64Counter
	invoicesGenerated  metric.Int64Counter
	subscriptionWrites metric.Int64Counter
	eventsPublished    metric.Int64Counter
	paymentsHandled    metric.Int64Counter
}

// NewProvider registers the global meter provider. Disabled configs get a no-op provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "bizcore"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.entitlementChecks, "bizcore_entitlement_checks_total", "Entitlement decisions by resource and outcome."},
		{&m.usageIncrements, "bizcore_usage_increments_total", "Usage units recorded against plan limits."},
		{&m.invoicesGenerated, "bizcore_invoices_generated_total", "Invoices persisted by source."},
		{&m.subscriptionWrites, "bizcore_subscription_writes_total", "Subscription mutations by operation and outcome."},
		{&m.eventsPublished, "bizcore_billing_events_published_total", "Outbox events relayed by type."},
		{&m.paymentsHandled, "bizcore_payment_confirmations_total", "Payment confirmations by outcome."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
		*c.target = counter
	}
	return m, nil
}

func (m *Metrics) RecordEntitlementCheck(ctx context.Context, resource, outcome string) {
	if m == nil {
		return
	}
	m.entitlementChecks.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("resource", strings.TrimSpace(resource)),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordUsageIncrement(ctx context.Context, resource string, delta int64) {
	if m == nil || delta <= 0 {
		return
	}
	m.usageIncrements.Add(ctx, delta, metric.WithAttributes(FilterAttributes(
		attribute.String("resource", strings.TrimSpace(resource)),
	)...))
}

func (m *Metrics) RecordInvoiceGenerated(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.invoicesGenerated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("source", source),
	)...))
}

func (m *Metrics) RecordSubscriptionWrite(ctx context.Context, op, outcome string) {
	if m == nil {
		return
	}
	m.subscriptionWrites.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordEventPublished(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("event_type", eventType),
	)...))
}

func (m *Metrics) RecordPayment(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.paymentsHandled.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("outcome", outcome),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Account ids and resource instance ids are never labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"resource":   {},
	"outcome":    {},
	"source":     {},
	"op":         {},
	"event_type": {},
	"reason":     {},
	"plan":       {},
}

// FilterAttributes drops labels outside the allowed low-cardinality set.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
