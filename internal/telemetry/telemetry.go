// Package telemetry records CRF pass metrics through OpenTelemetry. Without
// a configured MeterProvider the instruments are no-ops.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Setup installs a global MeterProvider that periodically writes metrics
// as JSON to w. The returned function flushes and stops it.
func Setup(w io.Writer, interval time.Duration) (func(context.Context) error, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create stdout exporter: %w", err)
	}
	opts := []sdkmetric.PeriodicReaderOption{}
	if interval > 0 {
		opts = append(opts, sdkmetric.WithInterval(interval))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, opts...)),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

var meter = otel.Meter("seqtag.crf")

var (
	passDuration metric.Float64Histogram
	passTokens   metric.Int64Counter
	passLoss     metric.Float64Histogram
	evalScore    metric.Float64Gauge

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		passDuration, err = meter.Float64Histogram(
			"crf_pass_duration_seconds",
			metric.WithDescription("Duration of CRF loss and decode passes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		passTokens, err = meter.Int64Counter(
			"crf_tokens_total",
			metric.WithDescription("Valid tokens scored by CRF passes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		passLoss, err = meter.Float64Histogram(
			"crf_batch_loss",
			metric.WithDescription("Loss of training batches"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evalScore, err = meter.Float64Gauge(
			"crf_eval_score",
			metric.WithDescription("Latest evaluation score per split"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// Pass kinds.
const (
	KindTrain  = "train"
	KindDecode = "decode"
)

// RecordPass records one batch pass.
func RecordPass(ctx context.Context, kind string, tokens int, dur time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	passDuration.Record(ctx, dur.Seconds(), attrs)
	passTokens.Add(ctx, int64(tokens), attrs)
}

// RecordLoss records the loss of one training batch.
func RecordLoss(ctx context.Context, loss float64) {
	if initMetrics() != nil {
		return
	}
	passLoss.Record(ctx, loss)
}

// RecordScore records an evaluation score for split ("valid" or "test").
func RecordScore(ctx context.Context, split string, score float64) {
	if initMetrics() != nil {
		return
	}
	evalScore.Record(ctx, score, metric.WithAttributes(attribute.String("split", split)))
}
