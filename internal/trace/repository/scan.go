package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	apperrors "github.com/allisson/syncbridge/internal/errors"
	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
)

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

// nullString converts "" to database NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt converts 0 to database NULL.
func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

// scanFlowExecution scans one flow_executions row.
func scanFlowExecution(row rowScanner) (*traceDomain.FlowExecution, error) {
	var flow traceDomain.FlowExecution
	var status string
	var completedAt sql.NullTime
	var durationMs sql.NullInt64
	var errorMessage, errorCategory, inputSummary sql.NullString

	err := row.Scan(
		&flow.ID,
		&flow.TraceID,
		&flow.FlowName,
		&flow.FlowType,
		&status,
		&flow.StartedAt,
		&completedAt,
		&durationMs,
		&errorMessage,
		&errorCategory,
		&inputSummary,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "flow execution not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan flow execution")
	}

	flow.Status = traceDomain.FlowStatus(status)
	if completedAt.Valid {
		flow.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		flow.DurationMs = &durationMs.Int64
	}
	flow.ErrorMessage = errorMessage.String
	flow.ErrorCategory = errorCategory.String
	flow.InputSummary = inputSummary.String

	return &flow, nil
}

// scanStepExecution scans one step_executions row.
func scanStepExecution(row rowScanner) (*traceDomain.StepExecution, error) {
	var step traceDomain.StepExecution
	var status string
	var completedAt sql.NullTime
	var durationMs sql.NullInt64
	var errorMessage, errorCategory, skipReason sql.NullString
	var metadataJSON []byte

	err := row.Scan(
		&step.ID,
		&step.TraceID,
		&step.ExecutionID,
		&step.StepName,
		&status,
		&step.StartedAt,
		&completedAt,
		&durationMs,
		&errorMessage,
		&errorCategory,
		&skipReason,
		&metadataJSON,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan step execution")
	}

	step.Status = traceDomain.StepStatus(status)
	if completedAt.Valid {
		step.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		step.DurationMs = &durationMs.Int64
	}
	step.ErrorMessage = errorMessage.String
	step.ErrorCategory = errorCategory.String
	step.SkipReason = skipReason.String
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &step.Metadata); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal step metadata")
		}
	}

	return &step, nil
}

// scanAPICall scans one external_api_calls row.
func scanAPICall(row rowScanner) (*traceDomain.ExternalAPICall, error) {
	var call traceDomain.ExternalAPICall
	var status string
	var stepID uuid.NullUUID
	var httpStatus sql.NullInt64
	var errorMessage sql.NullString

	err := row.Scan(
		&call.ID,
		&call.TraceID,
		&call.ExecutionID,
		&stepID,
		&call.Service,
		&call.Operation,
		&status,
		&httpStatus,
		&call.DurationMs,
		&errorMessage,
		&call.CalledAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan external api call")
	}

	call.Status = traceDomain.CallStatus(status)
	if stepID.Valid {
		call.StepExecutionID = &stepID.UUID
	}
	call.HTTPStatus = int(httpStatus.Int64)
	call.ErrorMessage = errorMessage.String

	return &call, nil
}
