package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/allisson/syncbridge/internal/database"
	apperrors "github.com/allisson/syncbridge/internal/errors"
	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
)

// MySQLEventRepository is the append-only time-series sink for lifecycle
// events in MySQL.
type MySQLEventRepository struct {
	db *sql.DB
}

// NewMySQLEventRepository creates a MySQL-backed event sink.
func NewMySQLEventRepository(db *sql.DB) *MySQLEventRepository {
	return &MySQLEventRepository{db: db}
}

// Append inserts one lifecycle event. Rows are never updated.
func (m *MySQLEventRepository) Append(ctx context.Context, event *traceDomain.SyncEvent) error {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT INTO sync_events
			  (id, event_type, trace_id, flow_name, step_name, status,
			   error_category, error_message, duration_ms, external_service, event_time)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var durationMs sql.NullInt64
	if event.DurationMs != nil {
		durationMs = sql.NullInt64{Int64: *event.DurationMs, Valid: true}
	}

	_, err := querier.ExecContext(
		ctx,
		query,
		event.ID.String(),
		string(event.EventType),
		event.TraceID,
		event.FlowName,
		nullString(event.StepName),
		event.Status,
		nullString(event.ErrorCategory),
		nullString(event.ErrorMessage),
		durationMs,
		nullString(event.ExternalService),
		event.EventTime,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to append sync event")
	}

	return nil
}

// DeleteOlderThan enforces the retention window. Returns the number of events removed.
func (m *MySQLEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM sync_events WHERE event_time < ?`, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete expired sync events")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read affected rows")
	}

	return affected, nil
}

// DailySnapshot aggregates one day of terminal execution events and API calls
// into reliability snapshots per flow and per external service.
func (m *MySQLEventRepository) DailySnapshot(
	ctx context.Context,
	day time.Time,
) ([]*traceDomain.ReliabilitySnapshot, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT event_type, flow_name, external_service, status, duration_ms
			  FROM sync_events
			  WHERE event_time >= ? AND event_time < ?
			    AND event_type IN ('execution_completed', 'execution_failed', 'api_call')`

	start := day.UTC().Truncate(24 * time.Hour)
	rows, err := querier.QueryContext(ctx, query, start, start.Add(24*time.Hour))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query sync events for snapshot")
	}
	defer func() {
		_ = rows.Close()
	}()

	return aggregateSnapshot(start, rows)
}
