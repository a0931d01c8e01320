// Package main provides the entry point for the application with CLI commands.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/syncbridge/cmd/app/commands"
)

func main() {
	cmd := &cli.Command{
		Name:    "syncbridge",
		Usage:   "Cross-system reconciliation service for FieldPro and TaskHub",
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "Start the webhook ingress and trace API server",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunServer(ctx)
				},
			},
			{
				Name:  "migrate",
				Usage: "Run database migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunMigrations()
				},
			},
			{
				Name:  "clean-traces",
				Usage: "Delete orphaned executions and expired sync events",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "orphan-age-hours",
						Aliases: []string{"o"},
						Value:   0,
						Usage:   "Override the orphan age in hours (0 uses TRACE_ORPHAN_AGE_HOURS)",
					},
					&cli.IntFlag{
						Name:    "retention-days",
						Aliases: []string{"r"},
						Value:   0,
						Usage:   "Override the retention window in days (0 uses TRACE_RETENTION_DAYS)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunCleanTraces(
						ctx,
						cmd.Int("orphan-age-hours"),
						cmd.Int("retention-days"),
					)
				},
			},
			{
				Name:  "snapshot",
				Usage: "Print the daily reliability snapshot for one day",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "day",
						Aliases: []string{"d"},
						Value:   "",
						Usage:   "Day to aggregate in YYYY-MM-DD (defaults to yesterday, UTC)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunSnapshot(ctx, cmd.String("day"), os.Stdout)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}
