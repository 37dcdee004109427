package memory

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/facemydealer/dealerbrain/internal/memory"

// Metrics holds memory store operation metrics. Instruments are no-ops when
// no metrics SDK is installed.
type Metrics struct {
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewMetrics creates memory store metrics instruments.
func NewMetrics() *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}

	m.duration, _ = meter.Float64Histogram(
		"dealerbrain.memory.operation_duration_seconds",
		metric.WithDescription("Duration of memory store operations by operation name"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)

	m.errors, _ = meter.Int64Counter(
		"dealerbrain.memory.errors_total",
		metric.WithDescription("Total memory store operation errors by operation name"),
		metric.WithUnit("{error}"),
	)

	return m
}

// RecordOp records one memory store operation.
func (m *Metrics) RecordOp(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("operation", operation)}

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
