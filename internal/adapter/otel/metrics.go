package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "x402r-arbiter"

// Metrics holds all arbiter metric instruments.
type Metrics struct {
	EvaluationsStarted   metric.Int64Counter
	EvaluationsCompleted metric.Int64Counter
	EvaluationsFailed    metric.Int64Counter
	EvaluationDuration   metric.Float64Histogram
	Confidence           metric.Float64Histogram
	SchedulerTicks       metric.Int64Counter
	Replays              metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EvaluationsStarted, err = meter.Int64Counter("arbiter.evaluations.started",
		metric.WithDescription("Number of evaluations started"))
	if err != nil {
		return nil, err
	}

	m.EvaluationsCompleted, err = meter.Int64Counter("arbiter.evaluations.completed",
		metric.WithDescription("Number of evaluations completed, by status and outcome"))
	if err != nil {
		return nil, err
	}

	m.EvaluationsFailed, err = meter.Int64Counter("arbiter.evaluations.failed",
		metric.WithDescription("Number of evaluations failed, by error kind"))
	if err != nil {
		return nil, err
	}

	m.EvaluationDuration, err = meter.Float64Histogram("arbiter.evaluation.duration_seconds",
		metric.WithDescription("Evaluation duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.Confidence, err = meter.Float64Histogram("arbiter.ruling.confidence",
		metric.WithDescription("Model-reported confidence of parsed rulings"))
	if err != nil {
		return nil, err
	}

	m.SchedulerTicks, err = meter.Int64Counter("arbiter.scheduler.ticks",
		metric.WithDescription("Number of scheduler passes"))
	if err != nil {
		return nil, err
	}

	m.Replays, err = meter.Int64Counter("arbiter.replays",
		metric.WithDescription("Number of replay verifications, by match"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// EvaluationStarted implements service.Telemetry.
func (m *Metrics) EvaluationStarted(ctx context.Context) {
	m.EvaluationsStarted.Add(ctx, 1)
}

// EvaluationFinished implements service.Telemetry.
func (m *Metrics) EvaluationFinished(ctx context.Context, status, outcome string, confidence, seconds float64) {
	m.EvaluationsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("outcome", outcome),
	))
	m.EvaluationDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
	if outcome != "" {
		m.Confidence.Record(ctx, confidence)
	}
}

// EvaluationFailed implements service.Telemetry.
func (m *Metrics) EvaluationFailed(ctx context.Context, kind string, seconds float64) {
	m.EvaluationsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	m.EvaluationDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", "failed")))
}

// SchedulerTick implements service.Telemetry.
func (m *Metrics) SchedulerTick(ctx context.Context, tracked int) {
	m.SchedulerTicks.Add(ctx, 1, metric.WithAttributes(attribute.Int("tracked", tracked)))
}

// ReplayFinished implements service.Telemetry.
func (m *Metrics) ReplayFinished(ctx context.Context, match bool) {
	m.Replays.Add(ctx, 1, metric.WithAttributes(attribute.Bool("match", match)))
}
