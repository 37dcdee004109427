package learning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/facemydealer/dealerbrain/internal/learning"

// Metrics holds learning engine metrics. Instruments are no-ops when no
// metrics SDK is installed.
type Metrics struct {
	matchDuration metric.Float64Histogram
	matchCount    metric.Int64Histogram
	usage         metric.Int64Counter
}

// NewMetrics creates learning engine metrics instruments.
func NewMetrics() *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}

	m.matchDuration, _ = meter.Float64Histogram(
		"dealerbrain.learning.match_duration_seconds",
		metric.WithDescription("Duration of pattern matching per message"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1),
	)

	m.matchCount, _ = meter.Int64Histogram(
		"dealerbrain.learning.matches_per_message",
		metric.WithDescription("Number of patterns matched per message"),
		metric.WithUnit("{pattern}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 8, 13),
	)

	m.usage, _ = meter.Int64Counter(
		"dealerbrain.learning.pattern_usage_total",
		metric.WithDescription("Total recorded pattern usages by outcome"),
		metric.WithUnit("{usage}"),
	)

	return m
}

// RecordMatch records one matching pass.
func (m *Metrics) RecordMatch(ctx context.Context, duration time.Duration, matches int) {
	if m.matchDuration != nil {
		m.matchDuration.Record(ctx, duration.Seconds())
	}
	if m.matchCount != nil {
		m.matchCount.Record(ctx, int64(matches))
	}
}

// RecordUsage records one pattern usage outcome.
func (m *Metrics) RecordUsage(ctx context.Context, outcome string) {
	if m.usage != nil {
		m.usage.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
