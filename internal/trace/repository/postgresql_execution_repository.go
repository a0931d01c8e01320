// Package repository implements persistence for execution traces: a
// row-oriented store for queryable historical records and an append-only
// time-series sink for high-volume operational monitoring. Both PostgreSQL
// and MySQL flavors are provided.
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

// PostgreSQLExecutionRepository persists flow executions, step executions and
// external API calls in PostgreSQL. Uses transaction support via database.GetTx().
type PostgreSQLExecutionRepository struct {
	db *sql.DB
}

// NewPostgreSQLExecutionRepository creates a PostgreSQL-backed execution repository.
func NewPostgreSQLExecutionRepository(db *sql.DB) *PostgreSQLExecutionRepository {
	return &PostgreSQLExecutionRepository{db: db}
}

// CreateFlow inserts a new flow execution row with status "running".
func (p *PostgreSQLExecutionRepository) CreateFlow(ctx context.Context, flow *traceDomain.FlowExecution) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO flow_executions
			  (id, trace_id, flow_name, flow_type, status, started_at, input_summary)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := querier.ExecContext(
		ctx,
		query,
		flow.ID,
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

// CompleteFlow performs the terminal status transition for a trace id. The
// update is conditional on status still being "running", which makes the
// transition at-most-once even across processes: the first writer wins.
// Returns false when the row was already terminal (or absent).
func (p *PostgreSQLExecutionRepository) CompleteFlow(
	ctx context.Context,
	traceID string,
	status traceDomain.FlowStatus,
	completedAt time.Time,
	durationMs int64,
	errorMessage string,
	errorCategory string,
) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE flow_executions
			  SET status = $1, completed_at = $2, duration_ms = $3, error_message = $4, error_category = $5
			  WHERE trace_id = $6 AND status = 'running'`

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
func (p *PostgreSQLExecutionRepository) GetByTraceID(
	ctx context.Context,
	traceID string,
) (*traceDomain.FlowExecution, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, trace_id, flow_name, flow_type, status, started_at,
			  completed_at, duration_ms, error_message, error_category, input_summary
			  FROM flow_executions
			  WHERE trace_id = $1`

	row := querier.QueryRowContext(ctx, query, traceID)
	return scanFlowExecution(row)
}

// ListFlows retrieves flow executions in reverse start order with pagination.
func (p *PostgreSQLExecutionRepository) ListFlows(
	ctx context.Context,
	offset, limit int,
) ([]*traceDomain.FlowExecution, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, trace_id, flow_name, flow_type, status, started_at,
			  completed_at, duration_ms, error_message, error_category, input_summary
			  FROM flow_executions
			  ORDER BY started_at DESC
			  OFFSET $1 LIMIT $2`

	rows, err := querier.QueryContext(ctx, query, offset, limit)
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
func (p *PostgreSQLExecutionRepository) CreateStep(ctx context.Context, step *traceDomain.StepExecution) error {
	querier := database.GetTx(ctx, p.db)

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
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = querier.ExecContext(
		ctx,
		query,
		step.ID,
		step.TraceID,
		step.ExecutionID,
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
func (p *PostgreSQLExecutionRepository) CompleteStep(
	ctx context.Context,
	stepID uuid.UUID,
	status traceDomain.StepStatus,
	completedAt time.Time,
	durationMs int64,
	errorMessage string,
	errorCategory string,
	skipReason string,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE step_executions
			  SET status = $1, completed_at = $2, duration_ms = $3, error_message = $4,
			      error_category = $5, skip_reason = $6
			  WHERE id = $7`

	_, err := querier.ExecContext(
		ctx,
		query,
		string(status),
		completedAt,
		durationMs,
		nullString(errorMessage),
		nullString(errorCategory),
		nullString(skipReason),
		stepID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to complete step execution")
	}

	return nil
}

// ListSteps retrieves a flow's step executions in start order.
func (p *PostgreSQLExecutionRepository) ListSteps(
	ctx context.Context,
	executionID uuid.UUID,
) ([]*traceDomain.StepExecution, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, trace_id, execution_id, step_name, status, started_at,
			  completed_at, duration_ms, error_message, error_category, skip_reason, metadata
			  FROM step_executions
			  WHERE execution_id = $1
			  ORDER BY started_at ASC`

	rows, err := querier.QueryContext(ctx, query, executionID)
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
func (p *PostgreSQLExecutionRepository) CreateAPICall(ctx context.Context, call *traceDomain.ExternalAPICall) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO external_api_calls
			  (id, trace_id, execution_id, step_execution_id, service, operation,
			   status, http_status, duration_ms, error_message, called_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	var stepID any
	if call.StepExecutionID != nil {
		stepID = *call.StepExecutionID
	}

	_, err := querier.ExecContext(
		ctx,
		query,
		call.ID,
		call.TraceID,
		call.ExecutionID,
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
func (p *PostgreSQLExecutionRepository) ListAPICalls(
	ctx context.Context,
	executionID uuid.UUID,
) ([]*traceDomain.ExternalAPICall, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, trace_id, execution_id, step_execution_id, service, operation,
			  status, http_status, duration_ms, error_message, called_at
			  FROM external_api_calls
			  WHERE execution_id = $1
			  ORDER BY called_at ASC`

	rows, err := querier.QueryContext(ctx, query, executionID)
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
func (p *PostgreSQLExecutionRepository) DeleteOrphaned(ctx context.Context, olderThan time.Time) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	// Children first, the schema has no ON DELETE CASCADE.
	childQueries := []string{
		`DELETE FROM external_api_calls WHERE execution_id IN
		 (SELECT id FROM flow_executions WHERE status = 'running' AND started_at < $1)`,
		`DELETE FROM step_executions WHERE execution_id IN
		 (SELECT id FROM flow_executions WHERE status = 'running' AND started_at < $1)`,
	}
	for _, query := range childQueries {
		if _, err := querier.ExecContext(ctx, query, olderThan); err != nil {
			return 0, apperrors.Wrap(err, "failed to delete orphaned trace children")
		}
	}

	result, err := querier.ExecContext(
		ctx,
		`DELETE FROM flow_executions WHERE status = 'running' AND started_at < $1`,
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
