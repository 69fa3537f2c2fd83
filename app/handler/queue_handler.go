package handler

import (
	"fmt"
	"net/http"

	"optqueue/internal/model"
	"optqueue/internal/queue"

	"github.com/gin-gonic/gin"
)

// QueueHandler exposes the scheduling loop
type QueueHandler struct {
	queue *queue.TaskQueue
}

// NewQueueHandler creates queue handler
func NewQueueHandler(q *queue.TaskQueue) *QueueHandler {
	return &QueueHandler{queue: q}
}

// Status returns the queue status
func (h *QueueHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, model.Success(h.queue.Status()))
}

// Control starts, pauses, resumes or stops processing. Repeating the current
// state is not an error; applied reports whether anything changed.
func (h *QueueHandler) Control(c *gin.Context) {
	var req model.ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Failure("action required"))
		return
	}

	var applied bool
	switch req.Action {
	case model.ActionStart:
		applied = h.queue.StartProcessing()
	case model.ActionPause:
		applied = h.queue.PauseProcessing()
	case model.ActionResume:
		applied = h.queue.ResumeProcessing()
	case model.ActionStop:
		applied = h.queue.StopProcessing()
	default:
		c.JSON(http.StatusBadRequest, model.Failure(fmt.Sprintf("unknown action: %s", req.Action)))
		return
	}

	c.JSON(http.StatusOK, model.Success(gin.H{
		"action":       req.Action,
		"applied":      applied,
		"queue_status": h.queue.Status(),
	}))
}
