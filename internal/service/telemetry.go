package service

import "context"

// Telemetry receives evaluation and scheduler measurements.
type Telemetry interface {
	EvaluationStarted(ctx context.Context)
	EvaluationFinished(ctx context.Context, status, outcome string, confidence, seconds float64)
	EvaluationFailed(ctx context.Context, kind string, seconds float64)
	SchedulerTick(ctx context.Context, tracked int)
	ReplayFinished(ctx context.Context, match bool)
}

type noopTelemetry struct{}

func (noopTelemetry) EvaluationStarted(context.Context) {}
func (noopTelemetry) EvaluationFinished(context.Context, string, string, float64, float64) {}
func (noopTelemetry) EvaluationFailed(context.Context, string, float64) {}
func (noopTelemetry) SchedulerTick(context.Context, int) {}
func (noopTelemetry) ReplayFinished(context.Context, bool) {}
