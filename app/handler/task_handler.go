package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"optqueue/internal/model"
	"optqueue/internal/optimizer"
	"optqueue/internal/queue"
	"optqueue/internal/service"
	"optqueue/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TaskHandler handles task submission and control
type TaskHandler struct {
	queue   *queue.TaskQueue
	archive *service.ArchiveService
}

// NewTaskHandler creates task handler; archive may be nil when Redis is disabled
func NewTaskHandler(q *queue.TaskQueue, archive *service.ArchiveService) *TaskHandler {
	return &TaskHandler{queue: q, archive: archive}
}

// Submit adds a task to the queue
func (h *TaskHandler) Submit(c *gin.Context) {
	var cfg model.TaskConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, model.Failure(fmt.Sprintf("invalid request: %v", err)))
		return
	}

	id, err := h.queue.AddTask(cfg)
	if err != nil {
		logger.WarnCtx(c.Request.Context(), "task rejected: %v", err)
		c.JSON(submitStatus(err), model.Failure(err.Error()))
		return
	}

	state, _ := h.queue.GetTask(id)
	c.JSON(http.StatusCreated, model.Success(state))
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, queue.ErrDuplicateTaskID):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// List returns all tasks in submission order
func (h *TaskHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, model.Success(h.queue.ListTasks()))
}

// Get returns one task
func (h *TaskHandler) Get(c *gin.Context) {
	state, ok := h.queue.GetTask(c.Param("task_id"))
	if !ok {
		c.JSON(http.StatusNotFound, model.Failure("task not found"))
		return
	}
	c.JSON(http.StatusOK, model.Success(state))
}

// Control applies start, pause, resume or stop to a task
func (h *TaskHandler) Control(c *gin.Context) {
	taskID := c.Param("task_id")

	var req model.ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Failure("action required"))
		return
	}
	if !model.ValidAction(req.Action) {
		c.JSON(http.StatusBadRequest, model.Failure(fmt.Sprintf("unknown action: %s", req.Action)))
		return
	}

	state, ok := h.queue.GetTask(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, model.Failure("task not found"))
		return
	}

	var applied bool
	switch req.Action {
	case model.ActionStart:
		applied = h.queue.StartTask(taskID)
	case model.ActionPause:
		applied = h.queue.PauseTask(taskID)
	case model.ActionResume:
		applied = h.queue.ResumeTask(taskID)
	case model.ActionStop:
		applied = h.queue.StopTask(taskID)
	}
	if !applied {
		c.JSON(http.StatusConflict, model.Failure(fmt.Sprintf("cannot %s task in status %s", req.Action, state.Status)))
		return
	}

	state, _ = h.queue.GetTask(taskID)
	c.JSON(http.StatusOK, model.Success(state))
}

// Remove deletes a pending or finished task
func (h *TaskHandler) Remove(c *gin.Context) {
	taskID := c.Param("task_id")
	if err := h.queue.RemoveTask(taskID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, queue.ErrTaskNotFound):
			status = http.StatusNotFound
		case errors.Is(err, queue.ErrTaskActive):
			status = http.StatusConflict
		}
		c.JSON(status, model.Failure(err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.Success(gin.H{"task_id": taskID}))
}

// Events returns the archived events of a task
func (h *TaskHandler) Events(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusServiceUnavailable, model.Failure("event archive disabled"))
		return
	}

	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, model.Failure("invalid limit"))
		return
	}

	taskID := c.Param("task_id")
	events, err := h.archive.Events(c.Request.Context(), taskID, limit)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to load events, task_id: %s, error: %v", taskID, err)
		c.JSON(http.StatusInternalServerError, model.Failure("failed to load events"))
		return
	}
	c.JSON(http.StatusOK, model.Success(events))
}

// Catalog lists the registered objectives and supported algorithms
func (h *TaskHandler) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, model.Success(gin.H{
		"objectives": h.queue.Registry().Names(),
		"algorithms": optimizer.Algorithms(),
	}))
}
