package handler

import (
	"net/http"
	"strconv"

	"optqueue/internal/model"
	"optqueue/internal/service"
	"optqueue/pkg/logger"
	"optqueue/pkg/store/mysql"

	"github.com/gin-gonic/gin"
)

// HistoryHandler serves stored task runs
type HistoryHandler struct {
	history *service.HistoryService
}

// NewHistoryHandler creates history handler; history may be nil when MySQL is disabled
func NewHistoryHandler(history *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// List returns stored runs, newest first
func (h *HistoryHandler) List(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, model.Failure("task history disabled"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	runs, err := h.history.List(c.Request.Context(), mysql.TaskRunFilter{
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list task history: %v", err)
		c.JSON(http.StatusInternalServerError, model.Failure("failed to list task history"))
		return
	}
	c.JSON(http.StatusOK, model.Success(runs))
}

// Get returns one stored run
func (h *HistoryHandler) Get(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, model.Failure("task history disabled"))
		return
	}

	taskID := c.Param("task_id")
	state, ok, err := h.history.Get(c.Request.Context(), taskID)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to get task history, task_id: %s, error: %v", taskID, err)
		c.JSON(http.StatusInternalServerError, model.Failure("failed to get task history"))
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, model.Failure("task run not found"))
		return
	}
	c.JSON(http.StatusOK, model.Success(state))
}
