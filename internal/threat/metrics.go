package threat

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/facemydealer/dealerbrain/internal/threat"

// Metrics holds threat analysis metrics. Instruments are no-ops when no
// metrics SDK is installed.
type Metrics struct {
	duration   metric.Float64Histogram
	detections metric.Int64Counter
}

// NewMetrics creates threat engine metrics instruments.
func NewMetrics() *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}

	m.duration, _ = meter.Float64Histogram(
		"dealerbrain.threat.analysis_duration_seconds",
		metric.WithDescription("Duration of message threat analysis"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1),
	)

	m.detections, _ = meter.Int64Counter(
		"dealerbrain.threat.detections_total",
		metric.WithDescription("Total detected threats by type and severity"),
		metric.WithUnit("{threat}"),
	)

	return m
}

// RecordAnalysis records one analysis pass and, when a threat was found, the
// detection by type and severity.
func (m *Metrics) RecordAnalysis(ctx context.Context, duration time.Duration, a *Analysis) {
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds())
	}
	if a != nil && a.IsThreat && m.detections != nil {
		m.detections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("threat_type", string(a.ThreatType)),
			attribute.String("severity", string(a.Severity)),
		))
	}
}
