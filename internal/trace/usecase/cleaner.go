package usecase

import (
	"context"
	"log/slog"
	"time"

	traceDomain "github.com/allisson/syncbridge/internal/trace/domain"
)

// Cleaner enforces the trace store's bounds: running executions older than
// the orphan age are removed, and time-series events outside the retention
// window are dropped.
type Cleaner struct {
	execRepo  ExecutionRepository
	eventRepo EventRepository
	logger    *slog.Logger

	now func() time.Time
}

// NewCleaner creates a Cleaner.
func NewCleaner(execRepo ExecutionRepository, eventRepo EventRepository, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		execRepo:  execRepo,
		eventRepo: eventRepo,
		logger:    logger,
		now:       time.Now,
	}
}

// Clean removes orphaned executions and expired sync events.
func (c *Cleaner) Clean(ctx context.Context, orphanAge, retention time.Duration) error {
	now := c.now()

	orphans, err := c.execRepo.DeleteOrphaned(ctx, now.Add(-orphanAge))
	if err != nil {
		return err
	}

	expired, err := c.eventRepo.DeleteOlderThan(ctx, now.Add(-retention))
	if err != nil {
		return err
	}

	if c.logger != nil {
		c.logger.Info("trace cleanup completed",
			slog.Int64("orphaned_executions", orphans),
			slog.Int64("expired_events", expired),
		)
	}
	return nil
}

// Snapshot aggregates one day of events into reliability snapshots.
func (c *Cleaner) Snapshot(ctx context.Context, day time.Time) ([]*traceDomain.ReliabilitySnapshot, error) {
	return c.eventRepo.DailySnapshot(ctx, day)
}
