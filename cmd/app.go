package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"optqueue/app/router"
	"optqueue/internal/jobs"
	"optqueue/internal/queue"
	"optqueue/internal/service"
	"optqueue/internal/ws"
	"optqueue/pkg/config"
	"optqueue/pkg/logger"
	"optqueue/pkg/metrics"
	mysqlstore "optqueue/pkg/store/mysql"
	redisstore "optqueue/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	configPath  string
	mysqlRepo   *mysqlstore.Repository
	redisClient *redisstore.RedisClient

	// Core
	queue     *queue.TaskQueue
	registry  *ws.Registry
	collector *metrics.Collector

	// Service layer
	archiveService *service.ArchiveService
	historyService *service.HistoryService

	// Handler layer
	handlers router.Handlers

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Cleanup functions, run in reverse registration order
	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication(configPath string) *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		configPath:   configPath,
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"MySQL", app.initMySQL},
		{"Redis", app.initRedis},
		{"Task Queue", app.initQueue},
		{"Connection Registry", app.initRegistry},
		{"Metrics", app.initMetrics},
		{"Service Layer", app.initServices},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Start background tasks
	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "Starting background task manager: %v", app.jobsManager.Jobs())
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 2. Start scheduling
	if app.config.Queue.AutoStart {
		if app.queue.StartProcessing() {
			logger.InfoCtx(app.ctx, "Queue processing started")
		}
	}

	// 3. Start HTTP server
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
		}
	}()

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Cancel background tasks
	logger.InfoCtx(app.ctx, "Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 2. Stop scheduling; the active task is stopped and reports its status
	if app.queue != nil {
		app.queue.StopProcessing()
	}

	// 3. Close websocket connections; their handlers hold hijacked requests
	// that http.Server.Shutdown does not wait for
	if app.registry != nil {
		logger.InfoCtx(app.ctx, "Closing websocket connections...")
		app.registry.Close()
	}

	// 4. Stop HTTP server (stop accepting new requests)
	if app.httpServer != nil {
		logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
		}
	}

	// 5. Wait for background goroutines
	logger.InfoCtx(app.ctx, "Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background tasks completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some tasks may not have completed")
	}

	// 6. Flush queued events to the subscribers before the services close
	if app.queue != nil {
		app.queue.Close()
	}

	// 7. Run cleanup functions (services, stores, logger)
	logger.InfoCtx(app.ctx, "Cleaning up resources...")
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}

	logger.InfoCtx(app.ctx, "Application has been safely shut down")
	return nil
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(fn func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, fn)
}
