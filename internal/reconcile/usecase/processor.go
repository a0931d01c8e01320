package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/allisson/syncbridge/internal/bus"
	apperrors "github.com/allisson/syncbridge/internal/errors"
	"github.com/allisson/syncbridge/internal/mapping"
	reconDomain "github.com/allisson/syncbridge/internal/reconcile/domain"
	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

// TraceRecorder is the subset of the trace recorder the processor drives.
// All methods are fire-and-forget.
type TraceRecorder interface {
	StartFlow(ctx context.Context, traceID, flowName, flowType, inputSummary string)
	CompleteFlow(ctx context.Context, traceID string, status traceDomain.FlowStatus, flowErr error)
	StartStep(ctx context.Context, traceID, stepName string, metadata map[string]string) uuid.UUID
	CompleteStep(
		ctx context.Context,
		traceID string,
		stepID uuid.UUID,
		stepName string,
		status traceDomain.StepStatus,
		skipReason string,
		stepErr error,
	)
}

// Processor runs one reconciliation flow per inbound event. Each event is an
// independent task identified by its trace id; there is no shared mutable
// business state between concurrently processing traces.
type Processor struct {
	engine   *Engine
	guard    *LoopGuard
	source   SourceGateway
	target   TargetGateway
	recorder TraceRecorder
	logger   *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(
	engine *Engine,
	guard *LoopGuard,
	source SourceGateway,
	target TargetGateway,
	recorder TraceRecorder,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		engine:   engine,
		guard:    guard,
		source:   source,
		target:   target,
		recorder: recorder,
		logger:   logger,
	}
}

// Register subscribes the processor to the entity lifecycle topics.
func (p *Processor) Register(b *bus.Bus) {
	for _, verb := range []string{webhookDomain.VerbCreated, webhookDomain.VerbUpdated, webhookDomain.VerbDestroyed} {
		b.Subscribe(bus.FlowTopic(string(webhookDomain.EntityQuote), verb), p.HandleSourceChange)
		b.Subscribe(bus.FlowTopic(string(webhookDomain.EntityWorkOrder), verb), p.HandleSourceChange)
	}
	for _, verb := range []string{webhookDomain.VerbCreated, webhookDomain.VerbUpdated} {
		b.Subscribe(bus.FlowTopic(string(webhookDomain.EntityTask), verb), p.HandleTargetChange)
	}
}

// HandleSourceChange processes a FieldPro notification: fetch the canonical
// record, check for echo, then reconcile the corresponding TaskHub task.
func (p *Processor) HandleSourceChange(ctx context.Context, event bus.Event) {
	notification, ok := event.Payload.(*webhookDomain.ChangeNotification)
	if !ok {
		p.badPayload(event)
		return
	}

	traceID := event.TraceID
	ctx = traceDomain.WithTraceID(ctx, traceID)

	flowName := reconDomain.FlowQuoteSync
	if notification.EntityKind == webhookDomain.EntityWorkOrder {
		flowName = reconDomain.FlowWorkOrderSync
	}
	summary := fmt.Sprintf("%s %s %s", notification.EntityKind, notification.EntityID, notification.Verb)
	p.recorder.StartFlow(ctx, traceID, flowName, "webhook", summary)

	// Fetch fresh: the notification's embedded fields are never trusted for content.
	stepID := p.recorder.StartStep(ctx, traceID, reconDomain.StepFetchSource, nil)
	record, err := p.source.FetchCanonical(ctx, notification.EntityKind, notification.EntityID)
	if err != nil {
		p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepFetchSource, traceDomain.StepFailed, "", err)
		p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowFailed, err)
		return
	}
	p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepFetchSource, traceDomain.StepSuccess, "", nil)

	if notification.Verb == webhookDomain.VerbDestroyed {
		p.handleSourceDestroyed(ctx, traceID, record)
		return
	}

	// Echo check: skip when the candidate value already matches what the
	// target has on record. A skip is not a failure.
	if _, _, single := notification.SingleTrackedChange(); single {
		stepID = p.recorder.StartStep(ctx, traceID, reconDomain.StepLoopGuard, nil)
		skip := p.guard.ShouldSkip(ctx, notification, candidateValues(record), p.targetCurrentValues(record))
		if skip {
			p.recorder.CompleteStep(
				ctx, traceID, stepID, reconDomain.StepLoopGuard,
				traceDomain.StepSkipped, traceDomain.SkipReasonLoopPrevention, nil,
			)
			p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowSuccess, nil)
			return
		}
		p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepLoopGuard, traceDomain.StepSuccess, "", nil)
	}

	stepID = p.recorder.StartStep(ctx, traceID, reconDomain.StepReconcileTarget, nil)
	result, err := p.engine.Reconcile(ctx, record)
	if err != nil {
		p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepReconcileTarget, traceDomain.StepFailed, "", err)
		p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowFailed, err)
		return
	}
	p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepReconcileTarget, traceDomain.StepSuccess, "",
		nil)

	if p.logger != nil {
		p.logger.Info("reconciled source change",
			slog.String("trace_id", traceID),
			slog.String("reference", result.Reference.Encode()),
			slog.String("target_id", result.Reference.TargetID),
			slog.Bool("created", result.Created),
		)
	}
	p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowSuccess, nil)
}

// handleSourceDestroyed cancels the linked task when the source record is destroyed.
func (p *Processor) handleSourceDestroyed(ctx context.Context, traceID string, record *reconDomain.CanonicalRecord) {
	stepID := p.recorder.StartStep(ctx, traceID, reconDomain.StepReconcileTarget, nil)

	reference := reconDomain.ExternalReference{SourceKind: record.Kind, SourceID: record.ID}
	candidates, err := p.target.SearchByExternalRef(ctx, reference.Encode())
	if err == nil && len(candidates) == 1 {
		err = p.target.Update(ctx, candidates[0].ID, map[string]string{"status": "cancelled"})
	}
	if err != nil {
		p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepReconcileTarget, traceDomain.StepFailed, "", err)
		p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowFailed, err)
		return
	}
	p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepReconcileTarget, traceDomain.StepSuccess, "", nil)
	p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowSuccess, nil)
}

// HandleTargetChange processes a TaskHub notification: fetch the task fresh,
// resolve its external reference, check for echo, then write the changed
// values back to FieldPro.
func (p *Processor) HandleTargetChange(ctx context.Context, event bus.Event) {
	notification, ok := event.Payload.(*webhookDomain.ChangeNotification)
	if !ok {
		p.badPayload(event)
		return
	}

	traceID := event.TraceID
	ctx = traceDomain.WithTraceID(ctx, traceID)

	summary := fmt.Sprintf("task %s %s", notification.EntityID, notification.Verb)
	p.recorder.StartFlow(ctx, traceID, reconDomain.FlowTaskWriteBack, "webhook", summary)

	stepID := p.recorder.StartStep(ctx, traceID, reconDomain.StepFetchSource, nil)
	task, err := p.target.FetchTask(ctx, notification.EntityID)
	if err != nil {
		p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepFetchSource, traceDomain.StepFailed, "", err)
		p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowFailed, err)
		return
	}

	kind, sourceID, refErr := reconDomain.ParseExternalRef(task.ExternalID)
	if refErr != nil {
		// A task this system never produced; nothing to write back.
		p.recorder.CompleteStep(
			ctx, traceID, stepID, reconDomain.StepFetchSource,
			traceDomain.StepSkipped, "no_external_reference", nil,
		)
		p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowSuccess, nil)
		return
	}
	p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepFetchSource, traceDomain.StepSuccess, "", nil)

	if _, _, single := notification.SingleTrackedChange(); single {
		stepID = p.recorder.StartStep(ctx, traceID, reconDomain.StepLoopGuard, nil)
		skip := p.guard.ShouldSkip(ctx, notification, taskCandidateValues(task), p.sourceCurrentValues(kind, sourceID))
		if skip {
			p.recorder.CompleteStep(
				ctx, traceID, stepID, reconDomain.StepLoopGuard,
				traceDomain.StepSkipped, traceDomain.SkipReasonLoopPrevention, nil,
			)
			p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowSuccess, nil)
			return
		}
		p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepLoopGuard, traceDomain.StepSuccess, "", nil)
	}

	fields := writeBackFields(task, notification)
	if len(fields) == 0 {
		p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowSuccess, nil)
		return
	}

	stepID = p.recorder.StartStep(ctx, traceID, reconDomain.StepWriteBack, map[string]string{
		"reference": task.ExternalID,
	})
	if err := p.source.UpdateFields(ctx, kind, sourceID, fields); err != nil {
		p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepWriteBack, traceDomain.StepFailed, "", err)
		p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowFailed, err)
		return
	}
	p.recorder.CompleteStep(ctx, traceID, stepID, reconDomain.StepWriteBack, traceDomain.StepSuccess, "", nil)
	p.recorder.CompleteFlow(ctx, traceID, traceDomain.FlowSuccess, nil)
}

// candidateValues builds the loop-guard candidate set from a canonical record.
func candidateValues(record *reconDomain.CanonicalRecord) map[string][]string {
	return map[string][]string{
		"due_date":    {record.Fields["due_date"]},
		"assigned_to": record.Assignees,
	}
}

// taskCandidateValues builds the loop-guard candidate set from a fresh task.
func taskCandidateValues(task *TargetTask) map[string][]string {
	return map[string][]string{
		"due_date":    {task.Fields["due_date"]},
		"assigned_to": task.Assignees,
	}
}

// targetCurrentValues fetches the value the target system has on record for
// one tracked field, via the external-reference search.
func (p *Processor) targetCurrentValues(record *reconDomain.CanonicalRecord) CurrentValueFunc {
	reference := reconDomain.ExternalReference{SourceKind: record.Kind, SourceID: record.ID}
	return func(ctx context.Context, field string) ([]string, error) {
		candidates, err := p.target.SearchByExternalRef(ctx, reference.Encode())
		if err != nil {
			return nil, err
		}
		if len(candidates) != 1 {
			return nil, apperrors.Wrapf(apperrors.ErrNotFound, "no unique task for %s", reference.Encode())
		}
		if field == "assigned_to" {
			return candidates[0].Assignees, nil
		}
		return []string{candidates[0].Fields[field]}, nil
	}
}

// sourceCurrentValues fetches the value the source system has on record for
// one tracked field, via a fresh canonical fetch.
func (p *Processor) sourceCurrentValues(kind webhookDomain.EntityKind, sourceID string) CurrentValueFunc {
	return func(ctx context.Context, field string) ([]string, error) {
		record, err := p.source.FetchCanonical(ctx, kind, sourceID)
		if err != nil {
			return nil, err
		}
		if field == "assigned_to" {
			return record.Assignees, nil
		}
		return []string{record.Fields[field]}, nil
	}
}

// writeBackFields selects the values to push back to the source system: the
// notification's changed fields restricted to the write-back-managed set,
// with values taken from the fresh task, never from the notification.
func writeBackFields(task *TargetTask, notification *webhookDomain.ChangeNotification) map[string]string {
	changed := make(map[string]bool, len(notification.Changes))
	for field := range notification.Changes {
		changed[field] = true
	}
	// Without a usable diff, refresh the whole write-back-managed set.
	all := len(changed) == 0

	fields := make(map[string]string)
	if all || changed["due_date"] {
		if value, ok := task.Fields["due_date"]; ok {
			fields["due_date"] = mapping.NormalizeDate(value)
		}
	}
	if all || changed["assigned_to"] {
		if len(task.Assignees) > 0 {
			fields["assigned_to"] = strings.Join(task.Assignees, ",")
		}
	}
	return fields
}

func (p *Processor) badPayload(event bus.Event) {
	if p.logger != nil {
		p.logger.Warn("unexpected event payload",
			slog.String("topic", event.Topic),
			slog.String("trace_id", event.TraceID),
		)
	}
}
