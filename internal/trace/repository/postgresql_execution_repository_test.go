package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/syncbridge/internal/errors"
	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
)

func newMockRepository(t *testing.T) (*PostgreSQLExecutionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return NewPostgreSQLExecutionRepository(db), mock
}

func TestPostgreSQLCreateFlow(t *testing.T) {
	repo, mock := newMockRepository(t)

	flow := &traceDomain.FlowExecution{
		ID:           uuid.Must(uuid.NewV7()),
		TraceID:      "trace-1",
		FlowName:     "quote-sync",
		FlowType:     "webhook",
		Status:       traceDomain.FlowRunning,
		StartedAt:    time.Now().UTC(),
		InputSummary: "quote 1042 created",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO flow_executions")).
		WithArgs(
			flow.ID,
			flow.TraceID,
			flow.FlowName,
			flow.FlowType,
			"running",
			flow.StartedAt,
			flow.InputSummary,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateFlow(context.Background(), flow)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLCompleteFlow(t *testing.T) {
	completedAt := time.Now().UTC()

	t.Run("Transitioned", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectExec(regexp.QuoteMeta("UPDATE flow_executions")).
			WithArgs("success", completedAt, int64(120), nullString(""), nullString(""), "trace-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		transitioned, err := repo.CompleteFlow(
			context.Background(), "trace-1", traceDomain.FlowSuccess, completedAt, 120, "", "",
		)
		require.NoError(t, err)
		assert.True(t, transitioned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyTerminal", func(t *testing.T) {
		// The conditional update matches zero rows when another writer won.
		repo, mock := newMockRepository(t)

		mock.ExpectExec(regexp.QuoteMeta("UPDATE flow_executions")).
			WithArgs("failed", completedAt, int64(120), nullString("boom"), nullString("api_error"), "trace-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		transitioned, err := repo.CompleteFlow(
			context.Background(), "trace-1", traceDomain.FlowFailed, completedAt, 120, "boom", "api_error",
		)
		require.NoError(t, err)
		assert.False(t, transitioned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgreSQLGetByTraceID(t *testing.T) {
	repo, mock := newMockRepository(t)

	executionID := uuid.Must(uuid.NewV7())
	startedAt := time.Now().UTC()
	completedAt := startedAt.Add(150 * time.Millisecond)

	columns := []string{
		"id", "trace_id", "flow_name", "flow_type", "status", "started_at",
		"completed_at", "duration_ms", "error_message", "error_category", "input_summary",
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, trace_id, flow_name, flow_type, status, started_at")).
		WithArgs("trace-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			executionID, "trace-1", "quote-sync", "webhook", "success", startedAt,
			completedAt, int64(150), nil, nil, "quote 1042 created",
		))

	flow, err := repo.GetByTraceID(context.Background(), "trace-1")
	require.NoError(t, err)

	assert.Equal(t, executionID, flow.ID)
	assert.Equal(t, traceDomain.FlowSuccess, flow.Status)
	require.NotNil(t, flow.DurationMs)
	assert.Equal(t, int64(150), *flow.DurationMs)
	assert.Empty(t, flow.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLGetByTraceID_NotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	columns := []string{
		"id", "trace_id", "flow_name", "flow_type", "status", "started_at",
		"completed_at", "duration_ms", "error_message", "error_category", "input_summary",
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, trace_id, flow_name, flow_type, status, started_at")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.GetByTraceID(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgreSQLCreateStep(t *testing.T) {
	repo, mock := newMockRepository(t)

	step := &traceDomain.StepExecution{
		ID:          uuid.Must(uuid.NewV7()),
		TraceID:     "trace-1",
		ExecutionID: uuid.Must(uuid.NewV7()),
		StepName:    "fetch_source",
		Status:      traceDomain.StepStarted,
		StartedAt:   time.Now().UTC(),
		Metadata:    map[string]string{"reference": "quote:1042"},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO step_executions")).
		WithArgs(
			step.ID,
			step.TraceID,
			step.ExecutionID,
			step.StepName,
			"started",
			step.StartedAt,
			[]byte(`{"reference":"quote:1042"}`),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateStep(context.Background(), step)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLCompleteStep_SkippedStoresReason(t *testing.T) {
	repo, mock := newMockRepository(t)

	stepID := uuid.Must(uuid.NewV7())
	completedAt := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE step_executions")).
		WithArgs(
			"skipped", completedAt, int64(3),
			nullString(""), nullString(""), nullString(traceDomain.SkipReasonLoopPrevention),
			stepID,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CompleteStep(
		context.Background(), stepID, traceDomain.StepSkipped, completedAt, 3,
		"", "", traceDomain.SkipReasonLoopPrevention,
	)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLCreateAPICall(t *testing.T) {
	repo, mock := newMockRepository(t)

	stepID := uuid.Must(uuid.NewV7())
	call := &traceDomain.ExternalAPICall{
		ID:              uuid.Must(uuid.NewV7()),
		TraceID:         "trace-1",
		ExecutionID:     uuid.Must(uuid.NewV7()),
		StepExecutionID: &stepID,
		Service:         "fieldpro",
		Operation:       "get_quote",
		Status:          traceDomain.CallFailed,
		HTTPStatus:      503,
		DurationMs:      42,
		ErrorMessage:    "status 503",
		CalledAt:        time.Now().UTC(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO external_api_calls")).
		WithArgs(
			call.ID,
			call.TraceID,
			call.ExecutionID,
			stepID,
			"fieldpro",
			"get_quote",
			"failed",
			nullInt(503),
			int64(42),
			nullString("status 503"),
			call.CalledAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateAPICall(context.Background(), call)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLListSteps(t *testing.T) {
	repo, mock := newMockRepository(t)

	executionID := uuid.Must(uuid.NewV7())
	startedAt := time.Now().UTC()

	columns := []string{
		"id", "trace_id", "execution_id", "step_name", "status", "started_at",
		"completed_at", "duration_ms", "error_message", "error_category", "skip_reason", "metadata",
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, trace_id, execution_id, step_name, status, started_at")).
		WithArgs(executionID).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(uuid.Must(uuid.NewV7()), "trace-1", executionID, "fetch_source", "success", startedAt,
				startedAt.Add(time.Millisecond), int64(1), nil, nil, nil, nil).
			AddRow(uuid.Must(uuid.NewV7()), "trace-1", executionID, "loop_guard", "skipped", startedAt,
				startedAt.Add(time.Millisecond), int64(1), nil, nil, "loop_prevention", nil))

	steps, err := repo.ListSteps(context.Background(), executionID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "fetch_source", steps[0].StepName)
	assert.Equal(t, traceDomain.StepSkipped, steps[1].Status)
	assert.Equal(t, "loop_prevention", steps[1].SkipReason)
}

func TestPostgreSQLDeleteOrphaned(t *testing.T) {
	repo, mock := newMockRepository(t)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM external_api_calls")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM step_executions")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM flow_executions")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := repo.DeleteOrphaned(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
