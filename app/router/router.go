package router

import (
	"optqueue/app/handler"
	"optqueue/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	taskHandler      *handler.TaskHandler
	queueHandler     *handler.QueueHandler
	historyHandler   *handler.HistoryHandler
	websocketHandler *handler.WebSocketHandler
	healthHandler    *handler.HealthHandler
	metricsHandler   gin.HandlerFunc
	metricsPath      string
}

// Handlers groups the handlers served by the router
type Handlers struct {
	Task      *handler.TaskHandler
	Queue     *handler.QueueHandler
	History   *handler.HistoryHandler
	WebSocket *handler.WebSocketHandler
	Health    *handler.HealthHandler
}

// NewRouter creates a new Router
func NewRouter(h Handlers) *Router {
	return &Router{
		taskHandler:      h.Task,
		queueHandler:     h.Queue,
		historyHandler:   h.History,
		websocketHandler: h.WebSocket,
		healthHandler:    h.Health,
	}
}

// WithMetrics serves handler at path
func (r *Router) WithMetrics(path string, handler gin.HandlerFunc) *Router {
	r.metricsPath = path
	r.metricsHandler = handler
	return r
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Trace())
	engine.Use(middleware.Logger())

	engine.GET("/health", r.healthHandler.Health)
	engine.GET("/ws", r.websocketHandler.Connect)
	if r.metricsHandler != nil {
		engine.GET(r.metricsPath, r.metricsHandler)
	}

	api := engine.Group("/api")
	{
		api.GET("/catalog", r.taskHandler.Catalog)

		tasks := api.Group("/tasks")
		{
			tasks.POST("", r.taskHandler.Submit)
			tasks.GET("", r.taskHandler.List)
			tasks.GET("/:task_id", r.taskHandler.Get)
			tasks.DELETE("/:task_id", r.taskHandler.Remove)
			tasks.POST("/:task_id/control", r.taskHandler.Control)
			tasks.GET("/:task_id/events", r.taskHandler.Events)
		}

		queue := api.Group("/queue")
		{
			queue.GET("/status", r.queueHandler.Status)
			queue.POST("/control", r.queueHandler.Control)
		}

		history := api.Group("/history")
		{
			history.GET("", r.historyHandler.List)
			history.GET("/:task_id", r.historyHandler.Get)
		}
	}
}
