package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/allisson/syncbridge/internal/bus"
	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
)

// Notifier consumes finality events and renders a human-readable report of
// the finished flow: the per-step trail plus the final error when applicable.
type Notifier struct {
	recorder *Recorder
	logger   *slog.Logger
}

// NewNotifier creates a Notifier backed by the recorder's report loader.
func NewNotifier(recorder *Recorder, logger *slog.Logger) *Notifier {
	return &Notifier{recorder: recorder, logger: logger}
}

// Register subscribes the notifier to both finality topics of each flow.
func (n *Notifier) Register(b *bus.Bus, flowNames ...string) {
	for _, flowName := range flowNames {
		b.Subscribe(bus.FinalitySuccessTopic(flowName), n.HandleFinality)
		b.Subscribe(bus.FinalityErrorTopic(flowName), n.HandleFinality)
	}
}

// HandleFinality is the bus handler for all finality topics.
func (n *Notifier) HandleFinality(ctx context.Context, event bus.Event) {
	finality, ok := event.Payload.(Finality)
	if !ok {
		if n.logger != nil {
			n.logger.Warn("unexpected finality payload", slog.String("topic", event.Topic))
		}
		return
	}

	flow, steps, calls, err := n.recorder.Report(ctx, finality.TraceID)
	if err != nil {
		if n.logger != nil {
			n.logger.Warn("failed to load finality report",
				slog.String("trace_id", finality.TraceID),
				slog.Any("error", err),
			)
		}
		return
	}

	report := renderReport(flow, steps, calls)
	if n.logger == nil {
		return
	}
	if finality.Status == traceDomain.FlowFailed {
		n.logger.Error("flow failed",
			slog.String("trace_id", finality.TraceID),
			slog.String("flow", finality.FlowName),
			slog.String("error_category", finality.ErrorCategory),
			slog.String("error", finality.ErrorMessage),
			slog.String("report", report),
		)
		return
	}
	n.logger.Info("flow finished",
		slog.String("trace_id", finality.TraceID),
		slog.String("flow", finality.FlowName),
		slog.Int64("duration_ms", finality.DurationMs),
		slog.String("report", report),
	)
}

// renderReport formats the step and API call trail as a single line per entry.
func renderReport(
	flow *traceDomain.FlowExecution,
	steps []*traceDomain.StepExecution,
	calls []*traceDomain.ExternalAPICall,
) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s [%s]", flow.FlowName, flow.Status)
	for _, step := range steps {
		fmt.Fprintf(&b, "; step %s=%s", step.StepName, step.Status)
		if step.SkipReason != "" {
			fmt.Fprintf(&b, " (%s)", step.SkipReason)
		}
		if step.ErrorMessage != "" {
			fmt.Fprintf(&b, " (%s)", step.ErrorMessage)
		}
	}
	for _, call := range calls {
		fmt.Fprintf(&b, "; call %s.%s=%s", call.Service, call.Operation, call.Status)
		if call.HTTPStatus != 0 {
			fmt.Fprintf(&b, " http=%d", call.HTTPStatus)
		}
	}

	return b.String()
}
