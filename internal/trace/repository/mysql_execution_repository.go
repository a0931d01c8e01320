package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/syncbridge/internal/database"
	apperrors "github.com/allisson/syncbridge/internal/errors"
	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
)

// MySQLExecutionRepository persists flow executions, step executions and
// external API calls in MySQL. Uses transaction support via database.GetTx().
type MySQLExecutionRepository struct {
	db *sql.DB
}

// NewMySQLExecutionRepository creates a MySQL-backed execution repository.
func NewMySQLExecutionRepository(db *sql.DB) *MySQLExecutionRepository {
	return &MySQLExecutionRepository{db: db}
}

// CreateFlow inserts a new flow execution row with status "running".
func (m *MySQLExecutionRepository) CreateFlow(ctx context.Context, flow *traceDomain.FlowExecution) error {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT INTO flow_executions
			  (id, trace_id, flow_name, flow_type, status, started_at, input_summary)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := querier.ExecContext(
		ctx,
		query,
		flow.ID.String(),
		flow.TraceID,
		flow.FlowName,
		flow.FlowType,
		string(flow.Status),
		flow.StartedAt,
		flow.InputSummary,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create flow execution")
	}

	return nil
}

// CompleteFlow performs the terminal status transition for a trace id,
// conditional on status still being "running". Returns false when the row was
// already terminal (or absent).
func (m *MySQLExecutionRepository) CompleteFlow(
	ctx context.Context,
	traceID string,
	status traceDomain.FlowStatus,
	completedAt time.Time,
	durationMs int64,
	errorMessage string,
	errorCategory string,
) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE flow_executions
			  SET status = ?, completed_at = ?, duration_ms = ?, error_message = ?, error_category = ?
			  WHERE trace_id = ? AND status = 'running'`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(status),
		completedAt,
		durationMs,
		nullString(errorMessage),
		nullString(errorCategory),
		traceID,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to complete flow execution")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to read affected rows")
	}

	return affected == 1, nil
}

// GetByTraceID retrieves one flow execution by its correlation id.
func (m *MySQLExecutionRepository) GetByTraceID(
	ctx context.Context,
	traceID string,
) (*traceDomain.FlowExecution, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, trace_id, flow_name, flow_type, status, started_at,
			  completed_at, duration_ms, error_message, error_category, input_summary
			  FROM flow_executions
			  WHERE trace_id = ?`

	row := querier.QueryRowContext(ctx, query, traceID)
	return scanFlowExecution(row)
}

// ListFlows retrieves flow executions in reverse start order with pagination.
func (m *MySQLExecutionRepository) ListFlows(
	ctx context.Context,
	offset, limit int,
) ([]*traceDomain.FlowExecution, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, trace_id, flow_name, flow_type, status, started_at,
			  completed_at, duration_ms, error_message, error_category, input_summary
			  FROM flow_executions
			  ORDER BY started_at DESC
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list flow executions")
	}
	defer func() {
		_ = rows.Close()
	}()

	flows := make([]*traceDomain.FlowExecution, 0)
	for rows.Next() {
		flow, err := scanFlowExecution(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate flow executions")
	}

	return flows, nil
}

// CreateStep inserts a new step execution row.
func (m *MySQLExecutionRepository) CreateStep(ctx context.Context, step *traceDomain.StepExecution) error {
	querier := database.GetTx(ctx, m.db)

	var metadataJSON []byte
	var err error
	if step.Metadata != nil {
		metadataJSON, err = json.Marshal(step.Metadata)
		if err != nil {
			return apperrors.Wrap(err, "failed to marshal step metadata")
		}
	}

	query := `INSERT INTO step_executions
			  (id, trace_id, execution_id, step_name, status, started_at, metadata)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		step.ID.String(),
		step.TraceID,
		step.ExecutionID.String(),
		step.StepName,
		string(step.Status),
		step.StartedAt,
		metadataJSON,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create step execution")
	}

	return nil
}

// CompleteStep finalizes a step execution with its outcome.
func (m *MySQLExecutionRepository) CompleteStep(
	ctx context.Context,
	stepID uuid.UUID,
	status traceDomain.StepStatus,
	completedAt time.Time,
	durationMs int64,
	errorMessage string,
	errorCategory string,
	skipReason string,
) error {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE step_executions
			  SET status = ?, completed_at = ?, duration_ms = ?, error_message = ?,
			      error_category = ?, skip_reason = ?
			  WHERE id = ?`

	_, err := querier.ExecContext(
		ctx,
		query,
		string(status),
		completedAt,
		durationMs,
		nullString(errorMessage),
		nullString(errorCategory),
		nullString(skipReason),
		stepID.String(),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to complete step execution")
	}

	return nil
}

// ListSteps retrieves a flow's step executions in start order.
func (m *MySQLExecutionRepository) ListSteps(
	ctx context.Context,
	executionID uuid.UUID,
) ([]*traceDomain.StepExecution, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, trace_id, execution_id, step_name, status, started_at,
			  completed_at, duration_ms, error_message, error_category, skip_reason, metadata
			  FROM step_executions
			  WHERE execution_id = ?
			  ORDER BY started_at ASC`

	rows, err := querier.QueryContext(ctx, query, executionID.String())
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list step executions")
	}
	defer func() {
		_ = rows.Close()
	}()

	steps := make([]*traceDomain.StepExecution, 0)
	for rows.Next() {
		step, err := scanStepExecution(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate step executions")
	}

	return steps, nil
}

// CreateAPICall inserts one external API call record.
func (m *MySQLExecutionRepository) CreateAPICall(ctx context.Context, call *traceDomain.ExternalAPICall) error {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT INTO external_api_calls
			  (id, trace_id, execution_id, step_execution_id, service, operation,
			   status, http_status, duration_ms, error_message, called_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var stepID any
	if call.StepExecutionID != nil {
		stepID = call.StepExecutionID.String()
	}

	_, err := querier.ExecContext(
		ctx,
		query,
		call.ID.String(),
		call.TraceID,
		call.ExecutionID.String(),
		stepID,
		call.Service,
		call.Operation,
		string(call.Status),
		nullInt(call.HTTPStatus),
		call.DurationMs,
		nullString(call.ErrorMessage),
		call.CalledAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create external api call")
	}

	return nil
}

// ListAPICalls retrieves a flow's external API calls in call order.
func (m *MySQLExecutionRepository) ListAPICalls(
	ctx context.Context,
	executionID uuid.UUID,
) ([]*traceDomain.ExternalAPICall, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, trace_id, execution_id, step_execution_id, service, operation,
			  status, http_status, duration_ms, error_message, called_at
			  FROM external_api_calls
			  WHERE execution_id = ?
			  ORDER BY called_at ASC`

	rows, err := querier.QueryContext(ctx, query, executionID.String())
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list external api calls")
	}
	defer func() {
		_ = rows.Close()
	}()

	calls := make([]*traceDomain.ExternalAPICall, 0)
	for rows.Next() {
		call, err := scanAPICall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate external api calls")
	}

	return calls, nil
}

// DeleteOrphaned removes still-running executions older than the cutoff,
// together with their children. Returns the number of executions removed.
func (m *MySQLExecutionRepository) DeleteOrphaned(ctx context.Context, olderThan time.Time) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	// MySQL cannot delete from a table referenced in its own subquery, so the
	// children join against flow_executions directly.
	childQueries := []string{
		`DELETE c FROM external_api_calls c
		 JOIN flow_executions f ON f.id = c.execution_id
		 WHERE f.status = 'running' AND f.started_at < ?`,
		`DELETE s FROM step_executions s
		 JOIN flow_executions f ON f.id = s.execution_id
		 WHERE f.status = 'running' AND f.started_at < ?`,
	}
	for _, query := range childQueries {
		if _, err := querier.ExecContext(ctx, query, olderThan); err != nil {
			return 0, apperrors.Wrap(err, "failed to delete orphaned trace children")
		}
	}

	result, err := querier.ExecContext(
		ctx,
		`DELETE FROM flow_executions WHERE status = 'running' AND started_at < ?`,
		olderThan,
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete orphaned flow executions")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read affected rows")
	}

	return affected, nil
}
