package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/syncbridge/internal/bus"
	reconDomain "github.com/allisson/syncbridge/internal/reconcile/domain"
	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

// fakeSourceGateway is an in-memory SourceGateway.
type fakeSourceGateway struct {
	records  map[string]*reconDomain.CanonicalRecord
	fetchErr error

	mu      sync.Mutex
	updates []map[string]string
}

func newFakeSourceGateway() *fakeSourceGateway {
	return &fakeSourceGateway{records: make(map[string]*reconDomain.CanonicalRecord)}
}

func (g *fakeSourceGateway) FetchCanonical(
	ctx context.Context,
	kind webhookDomain.EntityKind,
	id string,
) (*reconDomain.CanonicalRecord, error) {
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	record, ok := g.records[string(kind)+":"+id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return record, nil
}

func (g *fakeSourceGateway) UpdateFields(
	ctx context.Context,
	kind webhookDomain.EntityKind,
	id string,
	fields map[string]string,
) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, fields)
	return nil
}

// recordedStep is one completed step observed by the fake recorder.
type recordedStep struct {
	name       string
	status     traceDomain.StepStatus
	skipReason string
	err        error
}

// fakeRecorder captures the trace calls the processor issues.
type fakeRecorder struct {
	mu         sync.Mutex
	flowName   string
	flowStatus traceDomain.FlowStatus
	flowErr    error
	completed  bool
	steps      []recordedStep
}

func (r *fakeRecorder) StartFlow(ctx context.Context, traceID, flowName, flowType, inputSummary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flowName = flowName
}

func (r *fakeRecorder) CompleteFlow(ctx context.Context, traceID string, status traceDomain.FlowStatus, flowErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flowStatus = status
	r.flowErr = flowErr
	r.completed = true
}

func (r *fakeRecorder) StartStep(ctx context.Context, traceID, stepName string, metadata map[string]string) uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

func (r *fakeRecorder) CompleteStep(
	ctx context.Context,
	traceID string,
	stepID uuid.UUID,
	stepName string,
	status traceDomain.StepStatus,
	skipReason string,
	stepErr error,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, recordedStep{name: stepName, status: status, skipReason: skipReason, err: stepErr})
}

func (r *fakeRecorder) stepNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.steps))
	for _, s := range r.steps {
		names = append(names, s.name)
	}
	return names
}

type processorFixture struct {
	processor *Processor
	source    *fakeSourceGateway
	target    *fakeTargetGateway
	recorder  *fakeRecorder
}

func newProcessorFixture() *processorFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := newFakeSourceGateway()
	target := newFakeTargetGateway()
	recorder := &fakeRecorder{}
	processor := NewProcessor(
		NewEngine(target, logger),
		NewLoopGuard(logger),
		source,
		target,
		recorder,
		logger,
	)
	return &processorFixture{processor: processor, source: source, target: target, recorder: recorder}
}

func sourceEvent(notification *webhookDomain.ChangeNotification) bus.Event {
	return bus.Event{
		ID:      uuid.Must(uuid.NewV7()),
		Topic:   bus.FlowTopic(string(notification.EntityKind), notification.Verb),
		TraceID: uuid.Must(uuid.NewV7()).String(),
		Payload: notification,
	}
}

func TestHandleSourceChange_CreateFlow(t *testing.T) {
	f := newProcessorFixture()
	f.source.records["quote:1042"] = &reconDomain.CanonicalRecord{
		System: webhookDomain.SystemFieldPro,
		Kind:   webhookDomain.EntityQuote,
		ID:     "1042",
		Fields: map[string]string{"title": "Roof repair", "status": "approved"},
	}

	f.processor.HandleSourceChange(context.Background(), sourceEvent(&webhookDomain.ChangeNotification{
		Origin:     webhookDomain.SystemFieldPro,
		EntityID:   "1042",
		EntityKind: webhookDomain.EntityQuote,
		Verb:       webhookDomain.VerbCreated,
	}))

	assert.Equal(t, reconDomain.FlowQuoteSync, f.recorder.flowName)
	assert.Equal(t, traceDomain.FlowSuccess, f.recorder.flowStatus)
	assert.Equal(t, []string{reconDomain.StepFetchSource, reconDomain.StepReconcileTarget}, f.recorder.stepNames())
	require.Len(t, f.target.created, 1)
	assert.Equal(t, "quote:1042", f.target.created[0].ExternalID)
}

func TestHandleSourceChange_WorkOrderFlowName(t *testing.T) {
	f := newProcessorFixture()
	f.source.records["work_order:77"] = &reconDomain.CanonicalRecord{
		Kind:   webhookDomain.EntityWorkOrder,
		ID:     "77",
		Fields: map[string]string{"title": "Install HVAC"},
	}

	f.processor.HandleSourceChange(context.Background(), sourceEvent(&webhookDomain.ChangeNotification{
		EntityID:   "77",
		EntityKind: webhookDomain.EntityWorkOrder,
		Verb:       webhookDomain.VerbCreated,
	}))

	assert.Equal(t, reconDomain.FlowWorkOrderSync, f.recorder.flowName)
	assert.Equal(t, traceDomain.FlowSuccess, f.recorder.flowStatus)
}

func TestHandleSourceChange_FetchFailureFailsFlow(t *testing.T) {
	f := newProcessorFixture()
	f.source.fetchErr = errors.New("fieldpro unavailable")

	f.processor.HandleSourceChange(context.Background(), sourceEvent(&webhookDomain.ChangeNotification{
		EntityID:   "1042",
		EntityKind: webhookDomain.EntityQuote,
		Verb:       webhookDomain.VerbCreated,
	}))

	assert.Equal(t, traceDomain.FlowFailed, f.recorder.flowStatus)
	require.Len(t, f.recorder.steps, 1)
	assert.Equal(t, reconDomain.StepFetchSource, f.recorder.steps[0].name)
	assert.Equal(t, traceDomain.StepFailed, f.recorder.steps[0].status)
	assert.Empty(t, f.target.created)
}

func TestHandleSourceChange_EchoSkipsReconcile(t *testing.T) {
	f := newProcessorFixture()
	f.source.records["quote:1042"] = &reconDomain.CanonicalRecord{
		Kind:   webhookDomain.EntityQuote,
		ID:     "1042",
		Fields: map[string]string{"title": "Roof repair", "due_date": "2025-05-20"},
	}
	f.target.tasks["T-1"] = &TargetTask{
		ID:         "T-1",
		ExternalID: "quote:1042",
		Fields:     map[string]string{"due_date": "2025-05-20T00:00:00Z"},
	}

	f.processor.HandleSourceChange(context.Background(), sourceEvent(&webhookDomain.ChangeNotification{
		EntityID:   "1042",
		EntityKind: webhookDomain.EntityQuote,
		Verb:       webhookDomain.VerbUpdated,
		Changes: map[string]webhookDomain.FieldChange{
			"due_date": {Old: "2025-05-01", New: "2025-05-20"},
		},
	}))

	assert.Equal(t, traceDomain.FlowSuccess, f.recorder.flowStatus)
	assert.Equal(t, []string{reconDomain.StepFetchSource, reconDomain.StepLoopGuard}, f.recorder.stepNames())
	last := f.recorder.steps[len(f.recorder.steps)-1]
	assert.Equal(t, traceDomain.StepSkipped, last.status)
	assert.Equal(t, traceDomain.SkipReasonLoopPrevention, last.skipReason)
	assert.Empty(t, f.target.updated)
}

func TestHandleSourceChange_RealChangeProceeds(t *testing.T) {
	f := newProcessorFixture()
	f.source.records["quote:1042"] = &reconDomain.CanonicalRecord{
		Kind:   webhookDomain.EntityQuote,
		ID:     "1042",
		Fields: map[string]string{"due_date": "2025-05-20"},
	}
	f.target.tasks["T-1"] = &TargetTask{
		ID:         "T-1",
		ExternalID: "quote:1042",
		Fields:     map[string]string{"due_date": "2025-05-01"},
	}

	f.processor.HandleSourceChange(context.Background(), sourceEvent(&webhookDomain.ChangeNotification{
		EntityID:   "1042",
		EntityKind: webhookDomain.EntityQuote,
		Verb:       webhookDomain.VerbUpdated,
		Changes: map[string]webhookDomain.FieldChange{
			"due_date": {Old: "2025-05-01", New: "2025-05-20"},
		},
	}))

	assert.Equal(t, traceDomain.FlowSuccess, f.recorder.flowStatus)
	assert.Equal(
		t,
		[]string{reconDomain.StepFetchSource, reconDomain.StepLoopGuard, reconDomain.StepReconcileTarget},
		f.recorder.stepNames(),
	)
	require.Len(t, f.target.updated, 1)
	assert.Equal(t, "2025-05-20", f.target.tasks["T-1"].Fields["due_date"])
}

func TestHandleSourceChange_DestroyCancelsTask(t *testing.T) {
	f := newProcessorFixture()
	f.source.records["quote:1042"] = &reconDomain.CanonicalRecord{
		Kind:   webhookDomain.EntityQuote,
		ID:     "1042",
		Fields: map[string]string{},
	}
	f.target.tasks["T-1"] = &TargetTask{
		ID:         "T-1",
		ExternalID: "quote:1042",
		Fields:     map[string]string{"status": "in_progress"},
	}

	f.processor.HandleSourceChange(context.Background(), sourceEvent(&webhookDomain.ChangeNotification{
		EntityID:   "1042",
		EntityKind: webhookDomain.EntityQuote,
		Verb:       webhookDomain.VerbDestroyed,
	}))

	assert.Equal(t, traceDomain.FlowSuccess, f.recorder.flowStatus)
	assert.Equal(t, "cancelled", f.target.tasks["T-1"].Fields["status"])
}

func TestHandleSourceChange_BadPayloadIgnored(t *testing.T) {
	f := newProcessorFixture()

	f.processor.HandleSourceChange(context.Background(), bus.Event{
		Topic:   bus.FlowTopic("quote", webhookDomain.VerbCreated),
		TraceID: "trace-1",
		Payload: "not a notification",
	})

	assert.False(t, f.recorder.completed)
	assert.Empty(t, f.recorder.steps)
}

func TestHandleTargetChange_WriteBack(t *testing.T) {
	f := newProcessorFixture()
	f.target.tasks["T-9"] = &TargetTask{
		ID:         "T-9",
		ExternalID: "quote:3001",
		Fields:     map[string]string{"due_date": "2025-05-20"},
	}
	f.source.records["quote:3001"] = &reconDomain.CanonicalRecord{
		Kind:   webhookDomain.EntityQuote,
		ID:     "3001",
		Fields: map[string]string{"due_date": "2025-05-01"},
	}

	f.processor.HandleTargetChange(context.Background(), bus.Event{
		Topic:   bus.FlowTopic("task", webhookDomain.VerbUpdated),
		TraceID: uuid.Must(uuid.NewV7()).String(),
		Payload: &webhookDomain.ChangeNotification{
			Origin:     webhookDomain.SystemTaskHub,
			EntityID:   "T-9",
			EntityKind: webhookDomain.EntityTask,
			Verb:       webhookDomain.VerbUpdated,
			Changes: map[string]webhookDomain.FieldChange{
				"due_date": {Old: "2025-05-01", New: "2025-05-20"},
			},
		},
	})

	assert.Equal(t, reconDomain.FlowTaskWriteBack, f.recorder.flowName)
	assert.Equal(t, traceDomain.FlowSuccess, f.recorder.flowStatus)
	assert.Contains(t, f.recorder.stepNames(), reconDomain.StepWriteBack)
	require.Len(t, f.source.updates, 1)
	assert.Equal(t, map[string]string{"due_date": "2025-05-20"}, f.source.updates[0])
}

func TestHandleTargetChange_EchoSkipsWriteBack(t *testing.T) {
	f := newProcessorFixture()
	f.target.tasks["T-9"] = &TargetTask{
		ID:         "T-9",
		ExternalID: "quote:3001",
		Fields:     map[string]string{"due_date": "2025-05-20"},
	}
	f.source.records["quote:3001"] = &reconDomain.CanonicalRecord{
		Kind:   webhookDomain.EntityQuote,
		ID:     "3001",
		Fields: map[string]string{"due_date": "2025-05-20T00:00:00Z"},
	}

	f.processor.HandleTargetChange(context.Background(), bus.Event{
		Topic:   bus.FlowTopic("task", webhookDomain.VerbUpdated),
		TraceID: uuid.Must(uuid.NewV7()).String(),
		Payload: &webhookDomain.ChangeNotification{
			EntityID:   "T-9",
			EntityKind: webhookDomain.EntityTask,
			Verb:       webhookDomain.VerbUpdated,
			Changes: map[string]webhookDomain.FieldChange{
				"due_date": {Old: "2025-05-01", New: "2025-05-20"},
			},
		},
	})

	assert.Equal(t, traceDomain.FlowSuccess, f.recorder.flowStatus)
	last := f.recorder.steps[len(f.recorder.steps)-1]
	assert.Equal(t, reconDomain.StepLoopGuard, last.name)
	assert.Equal(t, traceDomain.StepSkipped, last.status)
	assert.Empty(t, f.source.updates)
}

func TestHandleTargetChange_NoExternalReference(t *testing.T) {
	f := newProcessorFixture()
	f.target.tasks["T-9"] = &TargetTask{
		ID:     "T-9",
		Fields: map[string]string{"due_date": "2025-05-20"},
	}

	f.processor.HandleTargetChange(context.Background(), bus.Event{
		Topic:   bus.FlowTopic("task", webhookDomain.VerbUpdated),
		TraceID: uuid.Must(uuid.NewV7()).String(),
		Payload: &webhookDomain.ChangeNotification{
			EntityID:   "T-9",
			EntityKind: webhookDomain.EntityTask,
			Verb:       webhookDomain.VerbUpdated,
		},
	})

	assert.Equal(t, traceDomain.FlowSuccess, f.recorder.flowStatus)
	require.Len(t, f.recorder.steps, 1)
	assert.Equal(t, traceDomain.StepSkipped, f.recorder.steps[0].status)
	assert.Equal(t, "no_external_reference", f.recorder.steps[0].skipReason)
	assert.Empty(t, f.source.updates)
}

func TestWriteBackFields(t *testing.T) {
	task := &TargetTask{
		ID:         "T-9",
		ExternalID: "quote:3001",
		Fields:     map[string]string{"due_date": "2025-05-20T00:00:00Z", "name": "Roof repair"},
		Assignees:  []string{"user:7"},
	}

	t.Run("ChangedDueDateOnly", func(t *testing.T) {
		fields := writeBackFields(task, &webhookDomain.ChangeNotification{
			Changes: map[string]webhookDomain.FieldChange{
				"due_date": {Old: "a", New: "b"},
			},
		})
		assert.Equal(t, map[string]string{"due_date": "2025-05-20"}, fields)
	})

	t.Run("NoDiffRefreshesManagedSet", func(t *testing.T) {
		fields := writeBackFields(task, &webhookDomain.ChangeNotification{})
		assert.Equal(t, map[string]string{
			"due_date":    "2025-05-20",
			"assigned_to": "user:7",
		}, fields)
	})

	t.Run("UnmanagedFieldYieldsNothing", func(t *testing.T) {
		fields := writeBackFields(task, &webhookDomain.ChangeNotification{
			Changes: map[string]webhookDomain.FieldChange{
				"name": {Old: "a", New: "b"},
			},
		})
		assert.Empty(t, fields)
	})
}
