package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/eventfold/userd/pkg/observability"
)

func TestInitWithoutBackends(t *testing.T) {
	ctx := context.Background()

	tel, err := observability.Init(ctx, observability.Config{
		ServiceName:    "userd-test",
		ServiceVersion: "0.0.0",
		Environment:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { tel.Shutdown(ctx) })

	require.NotNil(t, tel.Metrics)
	assert.NotNil(t, tel.Tracer("userd/test"))

	// Instruments stay usable with no reader attached.
	tel.Metrics.CommandTotal.Add(ctx, 1)
	tel.Metrics.EventsAppended.Add(ctx, 3)
}

func TestInitWithManualReader(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()

	tel, err := observability.Init(ctx, observability.Config{
		ServiceName:  "userd-test",
		MetricReader: reader,
	})
	require.NoError(t, err)
	t.Cleanup(func() { tel.Shutdown(ctx) })

	tel.Metrics.SnapshotHits.Add(ctx, 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.NotEmpty(t, rm.ScopeMetrics)
}
