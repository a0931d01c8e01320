// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/allisson/syncbridge/internal/bus"
	"github.com/allisson/syncbridge/internal/config"
	"github.com/allisson/syncbridge/internal/database"
	"github.com/allisson/syncbridge/internal/fieldpro"
	"github.com/allisson/syncbridge/internal/http"
	"github.com/allisson/syncbridge/internal/metrics"
	reconDomain "github.com/allisson/syncbridge/internal/reconcile/domain"
	reconUsecase "github.com/allisson/syncbridge/internal/reconcile/usecase"
	"github.com/allisson/syncbridge/internal/retry"
	"github.com/allisson/syncbridge/internal/taskhub"
	traceHTTP "github.com/allisson/syncbridge/internal/trace/http"
	traceRepository "github.com/allisson/syncbridge/internal/trace/repository"
	traceUsecase "github.com/allisson/syncbridge/internal/trace/usecase"
	webhookHTTP "github.com/allisson/syncbridge/internal/webhook/http"
	webhookService "github.com/allisson/syncbridge/internal/webhook/service"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger   *slog.Logger
	db       *sql.DB
	eventBus *bus.Bus

	// Observability
	metricsProvider *metrics.Provider
	flowMetrics     metrics.FlowMetrics

	// Repositories
	execRepo  traceUsecase.ExecutionRepository
	eventRepo traceUsecase.EventRepository

	// Use cases and services
	recorder  *traceUsecase.Recorder
	cleaner   *traceUsecase.Cleaner
	notifier  *traceUsecase.Notifier
	processor *reconUsecase.Processor

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                sync.Mutex
	loggerInit        sync.Once
	dbInit            sync.Once
	busInit           sync.Once
	metricsInit       sync.Once
	flowMetricsInit   sync.Once
	execRepoInit      sync.Once
	eventRepoInit     sync.Once
	recorderInit      sync.Once
	cleanerInit       sync.Once
	processorInit     sync.Once
	httpServerInit    sync.Once
	metricsServerInit sync.Once
	initErrors        map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// Bus returns the in-process event bus.
func (c *Container) Bus() *bus.Bus {
	c.busInit.Do(func() {
		c.eventBus = bus.NewBus(c.config.BusWorkers, c.config.BusQueueSize, c.Logger())
	})
	return c.eventBus
}

// MetricsProvider returns the metrics provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// FlowMetrics returns the flow metrics recorder, falling back to a no-op
// implementation when metrics are disabled.
func (c *Container) FlowMetrics() (metrics.FlowMetrics, error) {
	var err error
	c.flowMetricsInit.Do(func() {
		provider, providerErr := c.MetricsProvider()
		if providerErr != nil {
			c.initErrors["flowMetrics"] = providerErr
			return
		}
		if provider == nil {
			c.flowMetrics = metrics.NewNoOpFlowMetrics()
			return
		}
		c.flowMetrics, err = metrics.NewFlowMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["flowMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["flowMetrics"]; exists {
		return nil, storedErr
	}
	return c.flowMetrics, nil
}

// ExecutionRepository returns the execution-trace row store.
func (c *Container) ExecutionRepository() (traceUsecase.ExecutionRepository, error) {
	var err error
	c.execRepoInit.Do(func() {
		c.execRepo, err = c.initExecutionRepository()
		if err != nil {
			c.initErrors["execRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["execRepo"]; exists {
		return nil, storedErr
	}
	return c.execRepo, nil
}

// EventRepository returns the append-only sync-event sink.
func (c *Container) EventRepository() (traceUsecase.EventRepository, error) {
	var err error
	c.eventRepoInit.Do(func() {
		c.eventRepo, err = c.initEventRepository()
		if err != nil {
			c.initErrors["eventRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["eventRepo"]; exists {
		return nil, storedErr
	}
	return c.eventRepo, nil
}

// Recorder returns the execution-trace recorder.
func (c *Container) Recorder() (*traceUsecase.Recorder, error) {
	var err error
	c.recorderInit.Do(func() {
		c.recorder, err = c.initRecorder()
		if err != nil {
			c.initErrors["recorder"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["recorder"]; exists {
		return nil, storedErr
	}
	return c.recorder, nil
}

// Cleaner returns the trace retention cleaner.
func (c *Container) Cleaner() (*traceUsecase.Cleaner, error) {
	var err error
	c.cleanerInit.Do(func() {
		c.cleaner, err = c.initCleaner()
		if err != nil {
			c.initErrors["cleaner"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["cleaner"]; exists {
		return nil, storedErr
	}
	return c.cleaner, nil
}

// Processor returns the reconciliation flow processor, with the processor and
// the finality notifier subscribed to the event bus.
func (c *Container) Processor() (*reconUsecase.Processor, error) {
	var err error
	c.processorInit.Do(func() {
		c.processor, err = c.initProcessor()
		if err != nil {
			c.initErrors["processor"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["processor"]; exists {
		return nil, storedErr
	}
	return c.processor, nil
}

// HTTPServer returns the HTTP server instance.
func (c *Container) HTTPServer() (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the metrics server instance, or nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	c.metricsServerInit.Do(func() {
		provider, providerErr := c.MetricsProvider()
		if providerErr != nil {
			c.initErrors["metricsServer"] = providerErr
			return
		}
		if provider == nil {
			return
		}
		c.metricsServer = http.NewMetricsServer(
			c.config.ServerHost,
			c.config.MetricsPort,
			c.Logger(),
			provider,
		)
	})
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	// Shutdown HTTP server if initialized
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	// Shutdown metrics provider if initialized
	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	// Close database connection if initialized
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	// Return combined errors if any occurred
	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initExecutionRepository creates the execution repository for the configured driver.
func (c *Container) initExecutionRepository() (traceUsecase.ExecutionRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for execution repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "mysql":
		return traceRepository.NewMySQLExecutionRepository(db), nil
	case "postgres":
		return traceRepository.NewPostgreSQLExecutionRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initEventRepository creates the sync-event repository for the configured driver.
func (c *Container) initEventRepository() (traceUsecase.EventRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for event repository: %w", err)
	}

	switch c.config.DBDriver {
	case "mysql":
		return traceRepository.NewMySQLEventRepository(db), nil
	case "postgres":
		return traceRepository.NewPostgreSQLEventRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initRecorder creates the trace recorder with both sinks, the finality
// publisher and the flow metrics.
func (c *Container) initRecorder() (*traceUsecase.Recorder, error) {
	execRepo, err := c.ExecutionRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get execution repository for recorder: %w", err)
	}

	eventRepo, err := c.EventRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get event repository for recorder: %w", err)
	}

	flowMetrics, err := c.FlowMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get flow metrics for recorder: %w", err)
	}

	return traceUsecase.NewRecorder(execRepo, eventRepo, c.Bus(), flowMetrics, c.Logger()), nil
}

// initCleaner creates the trace retention cleaner.
func (c *Container) initCleaner() (*traceUsecase.Cleaner, error) {
	execRepo, err := c.ExecutionRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get execution repository for cleaner: %w", err)
	}

	eventRepo, err := c.EventRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get event repository for cleaner: %w", err)
	}

	return traceUsecase.NewCleaner(execRepo, eventRepo, c.Logger()), nil
}

// initProcessor wires the clients, the engine, the loop guard and the trace
// recorder into the flow processor, and subscribes the processor and the
// finality notifier to the event bus.
func (c *Container) initProcessor() (*reconUsecase.Processor, error) {
	logger := c.Logger()

	recorder, err := c.Recorder()
	if err != nil {
		return nil, fmt.Errorf("failed to get recorder for processor: %w", err)
	}

	policy := retry.Policy{
		MaxRetries: c.config.RetryMaxAttempts,
		BaseDelay:  c.config.RetryBaseDelay,
		MaxDelay:   c.config.RetryMaxDelay,
	}
	caller := retry.NewCaller(policy, logger)

	fieldproClient := fieldpro.NewClient(c.config.FieldPro, caller, recorder, logger)
	taskhubClient := taskhub.NewClient(c.config.TaskHub, caller, recorder, logger)

	source := reconUsecase.NewFieldProGateway(fieldproClient)
	target := reconUsecase.NewTaskHubGateway(taskhubClient)

	engine := reconUsecase.NewEngine(target, logger)
	guard := reconUsecase.NewLoopGuard(logger)
	processor := reconUsecase.NewProcessor(engine, guard, source, target, recorder, logger)

	eventBus := c.Bus()
	processor.Register(eventBus)
	c.notifier = traceUsecase.NewNotifier(recorder, logger)
	c.notifier.Register(eventBus,
		reconDomain.FlowQuoteSync,
		reconDomain.FlowWorkOrderSync,
		reconDomain.FlowTaskWriteBack,
	)

	return processor, nil
}

// initHTTPServer creates the HTTP server with all its dependencies.
func (c *Container) initHTTPServer() (*http.Server, error) {
	logger := c.Logger()

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}

	recorder, err := c.Recorder()
	if err != nil {
		return nil, fmt.Errorf("failed to get recorder for http server: %w", err)
	}

	// The processor must be wired before the server accepts webhooks,
	// otherwise published events have no subscribers.
	if _, err := c.Processor(); err != nil {
		return nil, fmt.Errorf("failed to get processor for http server: %w", err)
	}

	webhookHandler := webhookHTTP.NewWebhookHandler(
		webhookService.NewAuthenticator(c.config.FieldPro.WebhookSecret),
		webhookService.NewAuthenticator(c.config.TaskHub.WebhookSecret),
		c.Bus(),
		logger,
	)
	traceHandler := traceHTTP.NewTraceHandler(recorder, logger)

	routerConfig := http.RouterConfig{
		WebhookHandler:   webhookHandler,
		TraceHandler:     traceHandler,
		MetricsNamespace: c.config.MetricsNamespace,
		CORSEnabled:      c.config.CORSEnabled,
		CORSAllowOrigins: c.config.CORSAllowOrigins,
	}
	if c.config.RateLimitEnabled {
		routerConfig.RateLimitRPS = c.config.RateLimitRequestsPerSec
		routerConfig.RateLimitBurst = c.config.RateLimitBurst
	}
	if provider, err := c.MetricsProvider(); err == nil && provider != nil {
		routerConfig.MeterProvider = provider.MeterProvider()
	}

	server := http.NewServer(db, c.config.ServerHost, c.config.ServerPort, logger)
	server.SetupRouter(routerConfig)

	return server, nil
}
