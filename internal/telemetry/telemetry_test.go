package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordWithoutProviderIsSafe(t *testing.T) {
	ctx := context.Background()
	RecordPass(ctx, KindDecode, 10, time.Millisecond)
	RecordLoss(ctx, 1.5)
	RecordScore(ctx, "valid", 90)
}

func TestInstrumentsReachProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	ctx := context.Background()
	RecordPass(ctx, KindTrain, 42, 5*time.Millisecond)
	RecordLoss(ctx, 3.25)
	RecordScore(ctx, "test", 88)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
			if m.Name == "crf_tokens_total" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(42), sum.DataPoints[0].Value)
			}
		}
	}
	for _, n := range []string{"crf_pass_duration_seconds", "crf_tokens_total", "crf_batch_loss", "crf_eval_score"} {
		assert.True(t, names[n], "missing metric %s", n)
	}
}

func TestSetupInstallsProvider(t *testing.T) {
	prev := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Setup(&buf, time.Hour)
	require.NoError(t, err)
	assert.NotSame(t, prev, otel.GetMeterProvider())
	require.NoError(t, shutdown(context.Background()))
}
