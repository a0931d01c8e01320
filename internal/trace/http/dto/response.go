// Package dto defines the execution-trace API responses.
package dto

import (
	"time"

	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
)

// FlowExecutionResponse is one flow execution as returned by the API.
type FlowExecutionResponse struct {
	ID            string     `json:"id"`
	TraceID       string     `json:"trace_id"`
	FlowName      string     `json:"flow_name"`
	FlowType      string     `json:"flow_type"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	ErrorCategory string     `json:"error_category,omitempty"`
	InputSummary  string     `json:"input_summary,omitempty"`
}

// StepExecutionResponse is one step execution as returned by the API.
type StepExecutionResponse struct {
	ID            string            `json:"id"`
	StepName      string            `json:"step_name"`
	Status        string            `json:"status"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	DurationMs    *int64            `json:"duration_ms,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	ErrorCategory string            `json:"error_category,omitempty"`
	SkipReason    string            `json:"skip_reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ExternalAPICallResponse is one outbound call record as returned by the API.
type ExternalAPICallResponse struct {
	ID           string    `json:"id"`
	Service      string    `json:"service"`
	Operation    string    `json:"operation"`
	Status       string    `json:"status"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CalledAt     time.Time `json:"called_at"`
}

// TraceReportResponse is the full trail of one trace id.
type TraceReportResponse struct {
	Flow  FlowExecutionResponse     `json:"flow"`
	Steps []StepExecutionResponse   `json:"steps"`
	Calls []ExternalAPICallResponse `json:"api_calls"`
}

// ListFlowsResponse is the paginated flow listing envelope.
type ListFlowsResponse struct {
	Flows []FlowExecutionResponse `json:"flows"`
	Count int                     `json:"count"`
}

// MapFlowToResponse maps a flow execution to its API shape.
func MapFlowToResponse(flow *traceDomain.FlowExecution) FlowExecutionResponse {
	return FlowExecutionResponse{
		ID:            flow.ID.String(),
		TraceID:       flow.TraceID,
		FlowName:      flow.FlowName,
		FlowType:      flow.FlowType,
		Status:        string(flow.Status),
		StartedAt:     flow.StartedAt,
		CompletedAt:   flow.CompletedAt,
		DurationMs:    flow.DurationMs,
		ErrorMessage:  flow.ErrorMessage,
		ErrorCategory: flow.ErrorCategory,
		InputSummary:  flow.InputSummary,
	}
}

// MapReportToResponse maps a full trace trail to its API shape.
func MapReportToResponse(
	flow *traceDomain.FlowExecution,
	steps []*traceDomain.StepExecution,
	calls []*traceDomain.ExternalAPICall,
) TraceReportResponse {
	response := TraceReportResponse{
		Flow:  MapFlowToResponse(flow),
		Steps: make([]StepExecutionResponse, 0, len(steps)),
		Calls: make([]ExternalAPICallResponse, 0, len(calls)),
	}
	for _, step := range steps {
		response.Steps = append(response.Steps, StepExecutionResponse{
			ID:            step.ID.String(),
			StepName:      step.StepName,
			Status:        string(step.Status),
			StartedAt:     step.StartedAt,
			CompletedAt:   step.CompletedAt,
			DurationMs:    step.DurationMs,
			ErrorMessage:  step.ErrorMessage,
			ErrorCategory: step.ErrorCategory,
			SkipReason:    step.SkipReason,
			Metadata:      step.Metadata,
		})
	}
	for _, call := range calls {
		response.Calls = append(response.Calls, ExternalAPICallResponse{
			ID:           call.ID.String(),
			Service:      call.Service,
			Operation:    call.Operation,
			Status:       string(call.Status),
			HTTPStatus:   call.HTTPStatus,
			DurationMs:   call.DurationMs,
			ErrorMessage: call.ErrorMessage,
			CalledAt:     call.CalledAt,
		})
	}
	return response
}

// MapFlowsToListResponse maps a page of flow executions to the listing envelope.
func MapFlowsToListResponse(flows []*traceDomain.FlowExecution) ListFlowsResponse {
	response := ListFlowsResponse{
		Flows: make([]FlowExecutionResponse, 0, len(flows)),
	}
	for _, flow := range flows {
		response.Flows = append(response.Flows, MapFlowToResponse(flow))
	}
	response.Count = len(response.Flows)
	return response
}
