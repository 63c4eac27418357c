package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records workflow counters and latencies.
type Metrics struct {
	runs        metric.Int64Counter
	stepLatency metric.Float64Histogram
	llmCalls    metric.Int64Counter
	llmLatency  metric.Float64Histogram
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	runs, err := meter.Int64Counter("search.workflow.runs",
		metric.WithDescription("Workflow runs by format and outcome"))
	if err != nil {
		return nil, err
	}
	stepLatency, err := meter.Float64Histogram("search.workflow.step.duration",
		metric.WithDescription("Workflow step latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	llmCalls, err := meter.Int64Counter("search.llm.calls",
		metric.WithDescription("LLM enhancement attempts by result"))
	if err != nil {
		return nil, err
	}
	llmLatency, err := meter.Float64Histogram("search.llm.duration",
		metric.WithDescription("LLM enhancement latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runs:        runs,
		stepLatency: stepLatency,
		llmCalls:    llmCalls,
		llmLatency:  llmLatency,
	}, nil
}

// RecordRun counts a finished workflow run.
func (m *Metrics) RecordRun(ctx context.Context, format, outcome string) {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("format", format),
		attribute.String("outcome", outcome),
	))
}

// RecordStep records the latency of one workflow step.
func (m *Metrics) RecordStep(ctx context.Context, step string, d time.Duration, failed bool) {
	m.stepLatency.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(
		attribute.String("step", step),
		attribute.Bool("error", failed),
	))
}

// Handler returns a sink handler that records LLM end events. Events without
// a completer attribute never reached a model and are not counted.
func (m *Metrics) Handler() Handler {
	return func(ev Event) {
		if ev.Phase != PhaseEnd {
			return
		}
		if _, ok := ev.Attrs["completer"]; !ok {
			return
		}
		result := "ok"
		if ev.Failed() {
			result = "fallback"
		}
		ctx := context.Background()
		attrs := metric.WithAttributes(
			attribute.String("event", ev.Name),
			attribute.String("result", result),
		)
		m.llmCalls.Add(ctx, 1, attrs)
		m.llmLatency.Record(ctx, float64(ev.Latency.Microseconds())/1000, attrs)
	}
}
