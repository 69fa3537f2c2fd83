package handler

import (
	"net/http"

	"optqueue/internal/model"
	"optqueue/internal/queue"
	"optqueue/internal/ws"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness
type HealthHandler struct {
	queue    *queue.TaskQueue
	registry *ws.Registry
}

// NewHealthHandler creates health handler
func NewHealthHandler(q *queue.TaskQueue, registry *ws.Registry) *HealthHandler {
	return &HealthHandler{queue: q, registry: registry}
}

// Health returns queue status and the connection count
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.Success(gin.H{
		"status":      "ok",
		"queue":       h.queue.Status(),
		"connections": h.registry.ConnectionCount(),
	}))
}
