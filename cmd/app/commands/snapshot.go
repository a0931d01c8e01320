package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/allisson/syncbridge/internal/app"
	"github.com/allisson/syncbridge/internal/config"
)

// RunSnapshot aggregates one day of sync events into per-flow and per-service
// reliability snapshots and writes them as JSON. An empty day defaults to
// yesterday in UTC.
func RunSnapshot(ctx context.Context, day string, w io.Writer) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(container, logger)

	target := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	if day != "" {
		parsed, err := time.Parse("2006-01-02", day)
		if err != nil {
			return fmt.Errorf("invalid day %q, expected YYYY-MM-DD: %w", day, err)
		}
		target = parsed
	}

	cleaner, err := container.Cleaner()
	if err != nil {
		return fmt.Errorf("failed to initialize cleaner: %w", err)
	}

	snapshots, err := cleaner.Snapshot(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to aggregate snapshot: %w", err)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshots); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return nil
}
