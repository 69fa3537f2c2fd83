package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"optqueue/app/handler"
	"optqueue/app/router"
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

// serviceBuffer is the event capacity of each persistence service
const serviceBuffer = 1024

// initConfig initializes configuration
func (app *Application) initConfig() error {
	cfg, err := config.Load(app.configPath)
	if err != nil {
		return err
	}
	app.config = cfg
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(app.config.Logger); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		_ = logger.Sync()
	})
	return nil
}

// initMySQL initializes MySQL
func (app *Application) initMySQL() error {
	if !app.config.MySQL.Enabled {
		logger.InfoCtx(app.ctx, "MySQL disabled, task history will not be persisted")
		return nil
	}

	repo, err := mysqlstore.NewRepository(app.config.MySQL.DSN())
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		if err := repo.Close(); err != nil {
			logger.WarnCtx(app.ctx, "MySQL close error: %v", err)
			return
		}
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})
	return nil
}

// initRedis initializes Redis
func (app *Application) initRedis() error {
	if !app.config.Redis.Enabled {
		logger.InfoCtx(app.ctx, "Redis disabled, event history will not be archived")
		return nil
	}

	client, err := redisstore.NewRedisClient(app.config.Redis)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.registerCleanup(func() {
		if err := client.Close(); err != nil {
			logger.WarnCtx(app.ctx, "Redis close error: %v", err)
			return
		}
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})
	return nil
}

// initQueue creates the scheduler
func (app *Application) initQueue() error {
	app.queue = queue.New(queue.Options{
		PollInterval:       app.config.Queue.PollInterval,
		PauseCheckInterval: app.config.Queue.PauseCheckInterval,
		ForwardBuffer:      app.config.Queue.ForwardBuffer,
	})
	logger.InfoCtx(app.ctx, "Registered objectives: %v", app.queue.Registry().Names())
	return nil
}

// initRegistry creates the websocket connection registry and subscribes it
// to the queue bus
func (app *Application) initRegistry() error {
	app.registry = ws.NewRegistry(app.queue, ws.Options{
		BufferSize:           app.config.WebSocket.EventBufferSize,
		ReconnectBaseDelay:   app.config.WebSocket.ReconnectBaseDelay,
		MaxReconnectAttempts: app.config.WebSocket.MaxReconnectAttempts,
	})
	app.queue.Events().Subscribe(app.registry.HandleEvent)
	return nil
}

// initMetrics initializes the Prometheus collector
func (app *Application) initMetrics() error {
	if !app.config.Metrics.Enabled {
		return nil
	}

	app.collector = metrics.NewCollector()
	if err := app.collector.RegisterGaugeFunc("ws_connections", "Number of connected websocket clients.", func() float64 {
		return float64(app.registry.ConnectionCount())
	}); err != nil {
		return fmt.Errorf("register connection gauge: %w", err)
	}
	app.queue.Events().Subscribe(app.collector.HandleEvent)
	return nil
}

// initServices initializes the persistence services
func (app *Application) initServices() error {
	if app.redisClient != nil {
		archive := redisstore.NewEventRepository(app.redisClient, app.config.Redis.EventHistory)
		app.archiveService = service.NewArchiveService(archive, serviceBuffer)
		app.queue.Events().Subscribe(app.archiveService.HandleEvent)
		app.registerCleanup(app.archiveService.Close)
		app.logLastSnapshot()
	}

	if app.mysqlRepo != nil {
		app.historyService = service.NewHistoryService(app.mysqlRepo.TaskRun, app.queue, serviceBuffer)
		app.queue.Events().Subscribe(app.historyService.HandleEvent)
		app.registerCleanup(app.historyService.Close)
	}
	return nil
}

// logLastSnapshot reports what the previous process left behind
func (app *Application) logLastSnapshot() {
	ctx, cancel := context.WithTimeout(app.ctx, 5*time.Second)
	defer cancel()

	tasks, at, err := app.archiveService.LastSnapshot(ctx)
	if err != nil {
		logger.WarnCtx(app.ctx, "Failed to load last queue snapshot: %v", err)
		return
	}
	if at.IsZero() {
		return
	}
	logger.InfoCtx(app.ctx, "Last queue snapshot from %s holds %d tasks", at.Format(time.RFC3339), len(tasks))
}

// initHandlers initializes the handler layer
func (app *Application) initHandlers() error {
	app.handlers = router.Handlers{
		Task:      handler.NewTaskHandler(app.queue, app.archiveService),
		Queue:     handler.NewQueueHandler(app.queue),
		History:   handler.NewHistoryHandler(app.historyService),
		WebSocket: handler.NewWebSocketHandler(app.registry, app.config.WebSocket.WriteTimeout),
		Health:    handler.NewHealthHandler(app.queue, app.registry),
	}
	return nil
}

// initHTTPServer initializes the HTTP server
func (app *Application) initHTTPServer() error {
	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()

	r := router.NewRouter(app.handlers)
	if app.collector != nil {
		r.WithMetrics(app.config.Metrics.Path, gin.WrapH(app.collector.Handler()))
	}
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}
	return nil
}
