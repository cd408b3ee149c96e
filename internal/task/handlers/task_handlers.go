// Package handlers exposes the task lifecycle over HTTP: CRUD, the handoff
// commands, the provider webhook, and the orchestrator status endpoint.
package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/task/service"
	v1 "github.com/flexops/flexops/pkg/api/v1"
)

type TaskHandlers struct {
	service *service.Service
	status  StatusReporter
	logger  *logger.Logger
}

// StatusReporter reports the live state of the inactivity engine.
type StatusReporter interface {
	GetStatus() *v1.OrchestratorStatus
}

func NewTaskHandlers(svc *service.Service, status StatusReporter, log *logger.Logger) *TaskHandlers {
	return &TaskHandlers{
		service: svc,
		status:  status,
		logger:  log.WithFields(zap.String("component", "task-handlers")),
	}
}

func RegisterTaskRoutes(router *gin.Engine, svc *service.Service, status StatusReporter, log *logger.Logger) {
	handlers := NewTaskHandlers(svc, status, log)
	handlers.registerHTTP(router)
}

func (h *TaskHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/tasks", h.httpCreateTask)
	api.GET("/tasks", h.httpListTasks)
	api.GET("/tasks/:id", h.httpGetTask)
	api.DELETE("/tasks/:id", h.httpDeleteTask)
	api.POST("/tasks/:id/assign", h.httpAssignTask)
	api.POST("/tasks/:id/handoff", h.httpStartHandoff)
	api.POST("/tasks/:id/greeting", h.httpRegisterGreeting)
	api.POST("/tasks/:id/activity", h.httpMarkActivity)
	api.GET("/flex-tasks", h.httpListFlexTasks)
	api.GET("/orchestrator/status", h.httpOrchestratorStatus)

	// The provider posts message webhooks here; the path is configured on
	// the messaging service, not under the API prefix.
	router.POST("/tasks/twilio/inbound", h.httpProviderInbound)
}
