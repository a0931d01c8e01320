package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FlowMetrics records reconciliation flow and external API call metrics.
// Implementations track counts and durations labeled by flow name, external
// service and terminal status.
type FlowMetrics interface {
	// RecordFlow records one completed flow with its terminal status.
	// Flow name examples: "quote-sync", "task-writeback".
	// Status examples: "success", "failed".
	RecordFlow(ctx context.Context, flowName, status string, duration time.Duration)

	// RecordAPICall records one outbound API call attempt.
	// Service examples: "fieldpro", "taskhub".
	RecordAPICall(ctx context.Context, service, operation, status string, duration time.Duration)
}

// flowMetrics implements FlowMetrics using OpenTelemetry metrics.
type flowMetrics struct {
	flowCounter  metric.Int64Counter
	flowDuration metric.Float64Histogram
	callCounter  metric.Int64Counter
	callDuration metric.Float64Histogram
}

// NewFlowMetrics creates a FlowMetrics implementation using the provided meter provider.
// The namespace parameter is used as a prefix for all metric names (e.g., "syncbridge").
// Returns error if meters cannot be initialized.
func NewFlowMetrics(meterProvider metric.MeterProvider, namespace string) (FlowMetrics, error) {
	meter := meterProvider.Meter(namespace)

	flowCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_flows_total", namespace),
		metric.WithDescription("Total number of completed reconciliation flows"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow counter: %w", err)
	}

	flowDuration, err := meter.Float64Histogram(
		fmt.Sprintf("%s_flow_duration_seconds", namespace),
		metric.WithDescription("Duration of reconciliation flows in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow duration histogram: %w", err)
	}

	callCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_api_calls_total", namespace),
		metric.WithDescription("Total number of outbound API call attempts"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api call counter: %w", err)
	}

	callDuration, err := meter.Float64Histogram(
		fmt.Sprintf("%s_api_call_duration_seconds", namespace),
		metric.WithDescription("Duration of outbound API call attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api call duration histogram: %w", err)
	}

	return &flowMetrics{
		flowCounter:  flowCounter,
		flowDuration: flowDuration,
		callCounter:  callCounter,
		callDuration: callDuration,
	}, nil
}

// RecordFlow increments the flow counter and records the flow duration.
func (f *flowMetrics) RecordFlow(ctx context.Context, flowName, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("flow", flowName),
		attribute.String("status", status),
	)
	f.flowCounter.Add(ctx, 1, attrs)
	f.flowDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordAPICall increments the call counter and records the call duration.
func (f *flowMetrics) RecordAPICall(
	ctx context.Context,
	service, operation, status string,
	duration time.Duration,
) {
	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	f.callCounter.Add(ctx, 1, attrs)
	f.callDuration.Record(ctx, duration.Seconds(), attrs)
}

// NoOpFlowMetrics is a no-op implementation of FlowMetrics for when metrics are disabled.
type NoOpFlowMetrics struct{}

// NewNoOpFlowMetrics creates a no-op FlowMetrics implementation.
func NewNoOpFlowMetrics() FlowMetrics {
	return &NoOpFlowMetrics{}
}

// RecordFlow does nothing when metrics are disabled.
func (n *NoOpFlowMetrics) RecordFlow(ctx context.Context, flowName, status string, duration time.Duration) {
	// No-op
}

// RecordAPICall does nothing when metrics are disabled.
func (n *NoOpFlowMetrics) RecordAPICall(
	ctx context.Context,
	service, operation, status string,
	duration time.Duration,
) {
	// No-op
}
