package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/allisson/syncbridge/internal/app"
	"github.com/allisson/syncbridge/internal/config"
)

// RunServer starts the webhook ingress and trace API server with graceful
// shutdown support. Loads configuration, decrypts remote-system credentials
// when a KMS key is configured, initializes the DI container, starts the event
// bus workers and the Gin HTTP server. Blocks until receiving SIGINT/SIGTERM
// or encountering a fatal error. On shutdown signal, gracefully stops the
// servers within DBConnMaxLifetime timeout.
func RunServer(ctx context.Context) error {
	// Load configuration
	cfg := config.Load()

	// API tokens and webhook secrets may arrive as KMS ciphertext
	if err := cfg.DecryptCredentials(ctx); err != nil {
		return fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	// Set Gin mode based on log level
	gin.SetMode(cfg.GetGinMode())

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()
	logger.Info("starting server")

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	// Get HTTP server from container (this initializes all dependencies,
	// including the bus subscriptions of the processor and the notifier)
	server, err := container.HTTPServer()
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	// Get Metrics server from container
	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Bus workers stop after the HTTP servers during shutdown, so accepted
	// webhooks still drain before the pool exits
	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()

	// Start bus workers and servers in goroutines
	serverErr := make(chan error, 3)
	go func() {
		if err := container.Bus().Start(busCtx); err != nil && !errors.Is(err, context.Canceled) {
			serverErr <- fmt.Errorf("event bus error: %w", err)
		}
	}()
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErr <- fmt.Errorf("api server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				serverErr <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DBConnMaxLifetime)
		defer shutdownCancel()

		var shutdownErrors []error

		if err := server.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("api server shutdown: %w", err))
		}

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}

		busCancel()

		if len(shutdownErrors) > 0 {
			return errors.Join(shutdownErrors...)
		}
	case err := <-serverErr:
		// Attempt graceful shutdown if one component fails
		logger.Error("server error, initiating shutdown", slog.Any("error", err))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DBConnMaxLifetime)
		defer shutdownCancel()

		var shutdownErrors []error
		shutdownErrors = append(shutdownErrors, err)

		if server != nil {
			if shutErr := server.Shutdown(shutdownCtx); shutErr != nil {
				shutdownErrors = append(shutdownErrors, fmt.Errorf("api server shutdown: %w", shutErr))
			}
		}

		if metricsServer != nil {
			if shutErr := metricsServer.Shutdown(shutdownCtx); shutErr != nil {
				shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", shutErr))
			}
		}

		busCancel()

		return errors.Join(shutdownErrors...)
	}

	return nil
}
