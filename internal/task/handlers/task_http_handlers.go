package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flexops/flexops/internal/task/dto"
	"github.com/flexops/flexops/internal/task/models"
	"github.com/flexops/flexops/internal/task/service"
	v1 "github.com/flexops/flexops/pkg/api/v1"
)

func (h *TaskHandlers) httpCreateTask(c *gin.Context) {
	var body service.CreateTaskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	task, err := h.service.CreateTask(c.Request.Context(), &body)
	if err != nil {
		handleCommandError(c, h.logger, err, "task not created")
		return
	}
	c.JSON(http.StatusCreated, dto.FromTask(task))
}

func (h *TaskHandlers) httpListTasks(c *gin.Context) {
	var (
		tasks []*models.Task
		err   error
	)
	if query := strings.TrimSpace(c.Query("q")); query != "" {
		tasks, err = h.service.SearchTasks(c.Request.Context(), query)
	} else {
		tasks, err = h.service.ListTasks(c.Request.Context(), v1.TaskStatus(c.Query("status")))
	}
	if err != nil {
		handleNotFound(c, h.logger, err, "tasks not found")
		return
	}
	c.JSON(http.StatusOK, dto.ListTasksResponse{
		Tasks: dto.FromTasks(tasks),
		Total: len(tasks),
	})
}

func (h *TaskHandlers) httpGetTask(c *gin.Context) {
	task, err := h.service.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleNotFound(c, h.logger, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, dto.FromTask(task))
}

func (h *TaskHandlers) httpDeleteTask(c *gin.Context) {
	if err := h.service.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		handleNotFound(c, h.logger, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

func (h *TaskHandlers) httpListFlexTasks(c *gin.Context) {
	rows, err := h.service.ListFlexTasks(c.Request.Context())
	if err != nil {
		handleNotFound(c, h.logger, err, "flex tasks not found")
		return
	}
	c.JSON(http.StatusOK, dto.ListFlexTasksResponse{
		Tasks: dto.FromFlexTasks(rows),
		Total: len(rows),
	})
}

func (h *TaskHandlers) httpOrchestratorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.GetStatus())
}
