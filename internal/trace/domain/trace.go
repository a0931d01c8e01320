// Package domain defines the execution-trace entities: one FlowExecution per
// end-to-end flow run, with StepExecution and ExternalAPICall children, all
// keyed by the correlation id generated at ingress.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// FlowStatus is the lifecycle status of a flow execution. An execution is
// created "running" and transitions to a terminal status exactly once.
type FlowStatus string

// Flow statuses.
const (
	FlowRunning FlowStatus = "running"
	FlowSuccess FlowStatus = "success"
	FlowFailed  FlowStatus = "failed"
)

// StepStatus is the status of one named processing stage.
type StepStatus string

// Step statuses.
const (
	StepStarted StepStatus = "started"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// CallStatus is the outcome of one outbound network call.
type CallStatus string

// API call statuses.
const (
	CallSuccess CallStatus = "success"
	CallFailed  CallStatus = "failed"
	CallTimeout CallStatus = "timeout"
)

// SkipReasonLoopPrevention marks a step skipped because the candidate value
// already matched the value on record (echo suppression).
const SkipReasonLoopPrevention = "loop_prevention"

// FlowExecution is one row per end-to-end flow run. Mutated to a terminal
// status exactly once, immutable afterward. A "running" execution older than
// a bounded age is considered orphaned and eligible for cleanup.
type FlowExecution struct {
	ID            uuid.UUID
	TraceID       string
	FlowName      string
	FlowType      string
	Status        FlowStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMs    *int64
	ErrorMessage  string
	ErrorCategory string
	InputSummary  string
}

// StepExecution is one row per named processing stage inside a flow.
type StepExecution struct {
	ID            uuid.UUID
	TraceID       string
	ExecutionID   uuid.UUID
	StepName      string
	Status        StepStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMs    *int64
	ErrorMessage  string
	ErrorCategory string
	SkipReason    string
	Metadata      map[string]string
}

// ExternalAPICall is one row per outbound network call (one per attempt, not
// per logical operation).
type ExternalAPICall struct {
	ID              uuid.UUID
	TraceID         string
	ExecutionID     uuid.UUID
	StepExecutionID *uuid.UUID
	Service         string
	Operation       string
	Status          CallStatus
	HTTPStatus      int
	DurationMs      int64
	ErrorMessage    string
	CalledAt        time.Time
}

// EventType is the lifecycle event type of a time-series sink row.
type EventType string

// Time-series event types.
const (
	EventExecutionStarted   EventType = "execution_started"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepFailed         EventType = "step_failed"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventAPICall            EventType = "api_call"
)

// SyncEvent is one append-only row in the time-series sink: a high-volume
// operational record retained for a bounded window and aggregable into daily
// reliability snapshots.
type SyncEvent struct {
	ID              uuid.UUID
	EventType       EventType
	TraceID         string
	FlowName        string
	StepName        string
	Status          string
	ErrorCategory   string
	ErrorMessage    string
	DurationMs      *int64
	ExternalService string
	EventTime       time.Time
}

// ReliabilitySnapshot is one day's aggregate for a flow or external service.
type ReliabilitySnapshot struct {
	Day         time.Time
	FlowName    string
	Service     string
	Total       int64
	Successes   int64
	SuccessRate float64
	P50Ms       float64
	P95Ms       float64
	P99Ms       float64
}
