package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsAccountLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("account_id", "123"),
		attribute.String("resource", "invoices"),
		attribute.String("outcome", OutcomeDenied),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("resource"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestRecordEntitlementCheck(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "bizcore-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordEntitlementCheck(ctx, "invoices", OutcomeDenied)
	m.RecordEntitlementCheck(ctx, "invoices", OutcomeDenied)
	m.RecordUsageIncrement(ctx, "invoices", 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), totals["bizcore_entitlement_checks_total"])
	assert.Equal(t, int64(3), totals["bizcore_usage_increments_total"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordEntitlementCheck(context.Background(), "invoices", OutcomeAllowed)
	m.RecordPayment(context.Background(), OutcomeApplied)
}
