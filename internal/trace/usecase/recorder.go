// Package usecase implements the execution-trace recorder and the retention
// cleaner. All recorder operations are fire-and-forget with respect to the
// business flow: a sink failure is downgraded to a warning and never
// propagated.
package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/syncbridge/internal/bus"
	apperrors "github.com/allisson/syncbridge/internal/errors"
	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
)

// ExecutionRepository defines the row-oriented execution store operations.
type ExecutionRepository interface {
	CreateFlow(ctx context.Context, flow *traceDomain.FlowExecution) error
	CompleteFlow(
		ctx context.Context,
		traceID string,
		status traceDomain.FlowStatus,
		completedAt time.Time,
		durationMs int64,
		errorMessage string,
		errorCategory string,
	) (bool, error)
	GetByTraceID(ctx context.Context, traceID string) (*traceDomain.FlowExecution, error)
	ListFlows(ctx context.Context, offset, limit int) ([]*traceDomain.FlowExecution, error)
	CreateStep(ctx context.Context, step *traceDomain.StepExecution) error
	CompleteStep(
		ctx context.Context,
		stepID uuid.UUID,
		status traceDomain.StepStatus,
		completedAt time.Time,
		durationMs int64,
		errorMessage string,
		errorCategory string,
		skipReason string,
	) error
	ListSteps(ctx context.Context, executionID uuid.UUID) ([]*traceDomain.StepExecution, error)
	CreateAPICall(ctx context.Context, call *traceDomain.ExternalAPICall) error
	ListAPICalls(ctx context.Context, executionID uuid.UUID) ([]*traceDomain.ExternalAPICall, error)
	DeleteOrphaned(ctx context.Context, olderThan time.Time) (int64, error)
}

// EventRepository defines the time-series sink operations.
type EventRepository interface {
	Append(ctx context.Context, event *traceDomain.SyncEvent) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DailySnapshot(ctx context.Context, day time.Time) ([]*traceDomain.ReliabilitySnapshot, error)
}

// Publisher publishes finality events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event bus.Event) error
}

// FlowMetrics records flow and API call metrics.
type FlowMetrics interface {
	RecordFlow(ctx context.Context, flowName, status string, duration time.Duration)
	RecordAPICall(ctx context.Context, service, operation, status string, duration time.Duration)
}

// Finality is the terminal signal payload published on the finality topics,
// exactly once per trace id.
type Finality struct {
	TraceID       string
	FlowName      string
	Status        traceDomain.FlowStatus
	DurationMs    int64
	ErrorMessage  string
	ErrorCategory string
}

// finalizedGuardLimit bounds the in-memory finality guard.
const finalizedGuardLimit = 100000

// traceRef is the short-lived per-trace lookup cache entry: it avoids
// redundant lookups within one trace's lifetime and is discarded at finality.
type traceRef struct {
	executionID   uuid.UUID
	flowName      string
	startedAt     time.Time
	currentStepID *uuid.UUID
	stepStarts    map[uuid.UUID]time.Time
}

// Recorder records execution traces into both sinks and raises the finality
// signal. Safe for concurrent use by many in-flight traces; each trace's
// state is independent.
type Recorder struct {
	execRepo  ExecutionRepository
	eventRepo EventRepository
	publisher Publisher
	metrics   FlowMetrics
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*traceRef
	// finalized guards the at-most-one terminal transition per trace id
	// process-locally; the conditional UPDATE guards it durably.
	finalized map[string]bool

	now func() time.Time
}

// NewRecorder creates a Recorder. publisher and metrics may be nil.
func NewRecorder(
	execRepo ExecutionRepository,
	eventRepo EventRepository,
	publisher Publisher,
	metrics FlowMetrics,
	logger *slog.Logger,
) *Recorder {
	return &Recorder{
		execRepo:  execRepo,
		eventRepo: eventRepo,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		active:    make(map[string]*traceRef),
		finalized: make(map[string]bool),
		now:       time.Now,
	}
}

// StartFlow records the beginning of an end-to-end flow run.
func (r *Recorder) StartFlow(ctx context.Context, traceID, flowName, flowType, inputSummary string) {
	startedAt := r.now()
	executionID := uuid.Must(uuid.NewV7())

	r.mu.Lock()
	r.active[traceID] = &traceRef{
		executionID: executionID,
		flowName:    flowName,
		startedAt:   startedAt,
		stepStarts:  make(map[uuid.UUID]time.Time),
	}
	r.mu.Unlock()

	flow := &traceDomain.FlowExecution{
		ID:           executionID,
		TraceID:      traceID,
		FlowName:     flowName,
		FlowType:     flowType,
		Status:       traceDomain.FlowRunning,
		StartedAt:    startedAt,
		InputSummary: inputSummary,
	}
	if err := r.execRepo.CreateFlow(ctx, flow); err != nil {
		r.warn("failed to record flow start", traceID, err)
	}

	r.appendEvent(ctx, &traceDomain.SyncEvent{
		EventType: traceDomain.EventExecutionStarted,
		TraceID:   traceID,
		FlowName:  flowName,
		Status:    string(traceDomain.FlowRunning),
		EventTime: startedAt,
	})
}

// CompleteFlow records the terminal outcome of a flow and raises finality.
// At most one terminal transition is ever performed per trace id; later
// attempts are dropped.
func (r *Recorder) CompleteFlow(ctx context.Context, traceID string, status traceDomain.FlowStatus, flowErr error) {
	completedAt := r.now()

	r.mu.Lock()
	if r.finalized[traceID] {
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Debug("dropping duplicate finality transition", slog.String("trace_id", traceID))
		}
		return
	}
	// Bound the process-local guard; the conditional UPDATE still protects
	// evicted trace ids.
	if len(r.finalized) >= finalizedGuardLimit {
		r.finalized = make(map[string]bool)
	}
	r.finalized[traceID] = true
	ref := r.active[traceID]
	delete(r.active, traceID)
	r.mu.Unlock()

	var flowName string
	var durationMs int64
	if ref != nil {
		flowName = ref.flowName
		durationMs = completedAt.Sub(ref.startedAt).Milliseconds()
	}

	var errorMessage string
	var errorCategory string
	if flowErr != nil {
		errorMessage = flowErr.Error()
		errorCategory = string(apperrors.Classify(flowErr))
	}

	transitioned, err := r.execRepo.CompleteFlow(
		ctx, traceID, status, completedAt, durationMs, errorMessage, errorCategory,
	)
	if err != nil {
		r.warn("failed to record flow completion", traceID, err)
		// The durable guard is unavailable; the process-local guard already
		// claimed this trace id, so finality still fires exactly once here.
		transitioned = true
	}
	if !transitioned {
		if r.logger != nil {
			r.logger.Debug("flow already finalized in store", slog.String("trace_id", traceID))
		}
		return
	}

	eventType := traceDomain.EventExecutionCompleted
	if status == traceDomain.FlowFailed {
		eventType = traceDomain.EventExecutionFailed
	}
	r.appendEvent(ctx, &traceDomain.SyncEvent{
		EventType:     eventType,
		TraceID:       traceID,
		FlowName:      flowName,
		Status:        string(status),
		ErrorCategory: errorCategory,
		ErrorMessage:  errorMessage,
		DurationMs:    &durationMs,
		EventTime:     completedAt,
	})

	if r.metrics != nil {
		r.metrics.RecordFlow(ctx, flowName, string(status), time.Duration(durationMs)*time.Millisecond)
	}

	r.publishFinality(ctx, Finality{
		TraceID:       traceID,
		FlowName:      flowName,
		Status:        status,
		DurationMs:    durationMs,
		ErrorMessage:  errorMessage,
		ErrorCategory: errorCategory,
	})
}

// StartStep records the beginning of a named processing stage and returns the
// step id used to complete it.
func (r *Recorder) StartStep(ctx context.Context, traceID, stepName string, metadata map[string]string) uuid.UUID {
	startedAt := r.now()
	stepID := uuid.Must(uuid.NewV7())

	r.mu.Lock()
	ref := r.active[traceID]
	if ref != nil {
		ref.currentStepID = &stepID
		ref.stepStarts[stepID] = startedAt
	}
	r.mu.Unlock()

	if ref == nil {
		r.warn("step started for unknown trace", traceID, nil)
		return stepID
	}

	step := &traceDomain.StepExecution{
		ID:          stepID,
		TraceID:     traceID,
		ExecutionID: ref.executionID,
		StepName:    stepName,
		Status:      traceDomain.StepStarted,
		StartedAt:   startedAt,
		Metadata:    metadata,
	}
	if err := r.execRepo.CreateStep(ctx, step); err != nil {
		r.warn("failed to record step start", traceID, err)
	}

	r.appendEvent(ctx, &traceDomain.SyncEvent{
		EventType: traceDomain.EventStepStarted,
		TraceID:   traceID,
		FlowName:  ref.flowName,
		StepName:  stepName,
		Status:    string(traceDomain.StepStarted),
		EventTime: startedAt,
	})

	return stepID
}

// CompleteStep records a step outcome: success, failed, or skipped with a
// reason. A skip is not a failure.
func (r *Recorder) CompleteStep(
	ctx context.Context,
	traceID string,
	stepID uuid.UUID,
	stepName string,
	status traceDomain.StepStatus,
	skipReason string,
	stepErr error,
) {
	completedAt := r.now()

	r.mu.Lock()
	ref := r.active[traceID]
	var flowName string
	startedAt := completedAt
	if ref != nil {
		flowName = ref.flowName
		if stepStart, ok := ref.stepStarts[stepID]; ok {
			startedAt = stepStart
			delete(ref.stepStarts, stepID)
		}
		if ref.currentStepID != nil && *ref.currentStepID == stepID {
			ref.currentStepID = nil
		}
	}
	r.mu.Unlock()

	var errorMessage, errorCategory string
	if stepErr != nil {
		errorMessage = stepErr.Error()
		errorCategory = string(apperrors.Classify(stepErr))
	}

	durationMs := completedAt.Sub(startedAt).Milliseconds()
	if err := r.execRepo.CompleteStep(
		ctx, stepID, status, completedAt, durationMs, errorMessage, errorCategory, skipReason,
	); err != nil {
		r.warn("failed to record step completion", traceID, err)
	}

	eventType := traceDomain.EventStepCompleted
	if status == traceDomain.StepFailed {
		eventType = traceDomain.EventStepFailed
	}
	r.appendEvent(ctx, &traceDomain.SyncEvent{
		EventType:     eventType,
		TraceID:       traceID,
		FlowName:      flowName,
		StepName:      stepName,
		Status:        string(status),
		ErrorCategory: errorCategory,
		ErrorMessage:  errorMessage,
		DurationMs:    &durationMs,
		EventTime:     completedAt,
	})
}

// RecordAPICall records one outbound network call (one record per attempt).
// Implements the clients' CallRecorder contract; the trace id travels in ctx.
func (r *Recorder) RecordAPICall(
	ctx context.Context,
	service, operation string,
	duration time.Duration,
	status traceDomain.CallStatus,
	httpStatus int,
	callErr error,
) {
	traceID := traceDomain.TraceIDFrom(ctx)
	calledAt := r.now()

	r.mu.Lock()
	ref := r.active[traceID]
	r.mu.Unlock()

	var errorMessage string
	if callErr != nil {
		errorMessage = callErr.Error()
	}
	durationMs := duration.Milliseconds()

	if ref != nil {
		call := &traceDomain.ExternalAPICall{
			ID:              uuid.Must(uuid.NewV7()),
			TraceID:         traceID,
			ExecutionID:     ref.executionID,
			StepExecutionID: ref.currentStepID,
			Service:         service,
			Operation:       operation,
			Status:          status,
			HTTPStatus:      httpStatus,
			DurationMs:      durationMs,
			ErrorMessage:    errorMessage,
			CalledAt:        calledAt,
		}
		if err := r.execRepo.CreateAPICall(ctx, call); err != nil {
			r.warn("failed to record api call", traceID, err)
		}
	}

	var flowName string
	if ref != nil {
		flowName = ref.flowName
	}
	r.appendEvent(ctx, &traceDomain.SyncEvent{
		EventType:       traceDomain.EventAPICall,
		TraceID:         traceID,
		FlowName:        flowName,
		Status:          string(status),
		ErrorMessage:    errorMessage,
		DurationMs:      &durationMs,
		ExternalService: service,
		EventTime:       calledAt,
	})

	if r.metrics != nil {
		r.metrics.RecordAPICall(ctx, service, operation, string(status), duration)
	}
}

// Report loads the full trail for a finished trace: the execution, its steps
// and its API calls. Used by the finality notifier to render the outcome.
func (r *Recorder) Report(ctx context.Context, traceID string) (
	*traceDomain.FlowExecution,
	[]*traceDomain.StepExecution,
	[]*traceDomain.ExternalAPICall,
	error,
) {
	flow, err := r.execRepo.GetByTraceID(ctx, traceID)
	if err != nil {
		return nil, nil, nil, err
	}
	steps, err := r.execRepo.ListSteps(ctx, flow.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	calls, err := r.execRepo.ListAPICalls(ctx, flow.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return flow, steps, calls, nil
}

// ListFlows pages through recorded flow executions, newest first.
func (r *Recorder) ListFlows(ctx context.Context, offset, limit int) ([]*traceDomain.FlowExecution, error) {
	return r.execRepo.ListFlows(ctx, offset, limit)
}

// publishFinality raises the terminal signal for downstream consumers.
func (r *Recorder) publishFinality(ctx context.Context, finality Finality) {
	if r.publisher == nil {
		return
	}

	topic := bus.FinalitySuccessTopic(finality.FlowName)
	if finality.Status == traceDomain.FlowFailed {
		topic = bus.FinalityErrorTopic(finality.FlowName)
	}

	event := bus.Event{
		ID:         uuid.Must(uuid.NewV7()),
		Topic:      topic,
		TraceID:    finality.TraceID,
		OccurredAt: r.now(),
		Payload:    finality,
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.warn("failed to publish finality event", finality.TraceID, err)
	}
}

// appendEvent writes to the time-series sink, downgrading failures to warnings.
func (r *Recorder) appendEvent(ctx context.Context, event *traceDomain.SyncEvent) {
	event.ID = uuid.Must(uuid.NewV7())
	if err := r.eventRepo.Append(ctx, event); err != nil {
		r.warn("failed to append sync event", event.TraceID, err)
	}
}

func (r *Recorder) warn(message, traceID string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message, slog.String("trace_id", traceID), slog.Any("error", err))
}
