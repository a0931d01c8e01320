package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/allisson/syncbridge/internal/app"
	"github.com/allisson/syncbridge/internal/config"
)

// RunCleanTraces removes orphaned flow executions and expired sync events.
// Zero overrides fall back to the configured TraceOrphanAge and TraceRetention.
// Intended to run from a scheduler (cron) alongside the server.
func RunCleanTraces(ctx context.Context, orphanAgeHours, retentionDays int) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(container, logger)

	cleaner, err := container.Cleaner()
	if err != nil {
		return fmt.Errorf("failed to initialize cleaner: %w", err)
	}

	orphanAge := cfg.TraceOrphanAge
	if orphanAgeHours > 0 {
		orphanAge = time.Duration(orphanAgeHours) * time.Hour
	}
	retention := cfg.TraceRetention
	if retentionDays > 0 {
		retention = time.Duration(retentionDays) * 24 * time.Hour
	}

	logger.Info("cleaning execution traces",
		slog.Duration("orphan_age", orphanAge),
		slog.Duration("retention", retention),
	)

	if err := cleaner.Clean(ctx, orphanAge, retention); err != nil {
		return fmt.Errorf("failed to clean traces: %w", err)
	}

	return nil
}
