package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flexops/flexops/internal/task/dto"
	"github.com/flexops/flexops/internal/task/service"
)

// Handoff command routes. Each maps 1:1 onto a service command; the service
// owns the domain rules, the handlers only bind and translate errors.

func (h *TaskHandlers) httpAssignTask(c *gin.Context) {
	var body service.AssignRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	task, err := h.service.Assign(c.Request.Context(), c.Param("id"), &body)
	if err != nil {
		handleCommandError(c, h.logger, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, dto.FromTask(task))
}

func (h *TaskHandlers) httpStartHandoff(c *gin.Context) {
	var body service.StartHandoffRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	task, err := h.service.StartHandoff(c.Request.Context(), c.Param("id"), &body)
	if err != nil {
		handleCommandError(c, h.logger, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, dto.FromTask(task))
}

func (h *TaskHandlers) httpRegisterGreeting(c *gin.Context) {
	task, err := h.service.RegisterGreeting(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleCommandError(c, h.logger, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, dto.FromTask(task))
}

func (h *TaskHandlers) httpMarkActivity(c *gin.Context) {
	task, err := h.service.MarkActivity(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleCommandError(c, h.logger, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, dto.FromTask(task))
}
