package orchestrator

import (
	"context"
	"time"

	"github.com/comfyflow/agentmode/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics records run outcomes through an OpenTelemetry meter.
type Metrics struct {
	runs      metric.Int64Counter
	retries   metric.Int64Counter
	toolCalls metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetrics creates the run instruments. A nil meter yields no-op instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("agentmode")
	}
	runs, err := meter.Int64Counter(
		"agentmode_runs_total",
		metric.WithDescription("Logical agent runs by terminal state"),
	)
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter(
		"agentmode_retries_total",
		metric.WithDescription("Attempt failures by category"),
	)
	if err != nil {
		return nil, err
	}
	toolCalls, err := meter.Int64Counter(
		"agentmode_tool_calls_total",
		metric.WithDescription("Tool calls started by the agent"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"agentmode_run_duration_seconds",
		metric.WithDescription("Wall-clock duration of logical runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.RunDurationBuckets...),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{runs: runs, retries: retries, toolCalls: toolCalls, duration: duration}, nil
}

func (m *Metrics) recordRun(ctx context.Context, state string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", state))
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordFailure(ctx context.Context, cat Category) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(cat))))
}

func (m *Metrics) recordToolCall(ctx context.Context, tool string) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}
