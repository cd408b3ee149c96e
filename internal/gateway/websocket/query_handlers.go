package websocket

import (
	"context"
	"strings"

	"github.com/flexops/flexops/internal/task/models"
	v1 "github.com/flexops/flexops/pkg/api/v1"
	ws "github.com/flexops/flexops/pkg/websocket"
)

// TaskQueries is the read surface the gateway exposes over WebSocket.
// Mutations stay on the REST API.
type TaskQueries interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, status v1.TaskStatus) ([]*models.Task, error)
	ListFlexTasks(ctx context.Context) ([]*models.FlexTask, error)
}

// StatusReporter reports the orchestrator engine state.
type StatusReporter interface {
	GetStatus() *v1.OrchestratorStatus
}

type listTasksPayload struct {
	Status string `json:"status,omitempty"`
}

type getTaskPayload struct {
	TaskID string `json:"task_id"`
}

// RegisterQueryHandlers wires the read-only actions into the dispatcher.
func RegisterQueryHandlers(d *ws.Dispatcher, queries TaskQueries, status StatusReporter) {
	d.RegisterFunc(ws.ActionTaskList, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req listTasksPayload
		if err := msg.ParsePayload(&req); err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		}

		tasks, err := queries.ListTasks(ctx, v1.TaskStatus(strings.TrimSpace(req.Status)))
		if err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
		}

		payload := make([]*v1.Task, 0, len(tasks))
		for _, task := range tasks {
			payload = append(payload, task.ToAPI())
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"tasks": payload,
			"total": len(payload),
		})
	})

	d.RegisterFunc(ws.ActionTaskGet, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		var req getTaskPayload
		if err := msg.ParsePayload(&req); err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		}
		if req.TaskID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "task_id is required", nil)
		}

		task, err := queries.GetTask(ctx, req.TaskID)
		if err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
		}
		return ws.NewResponse(msg.ID, msg.Action, task.ToAPI())
	})

	d.RegisterFunc(ws.ActionFlexTaskList, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		rows, err := queries.ListFlexTasks(ctx)
		if err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
		}

		payload := make([]*v1.FlexTask, 0, len(rows))
		for _, row := range rows {
			payload = append(payload, row.ToAPI())
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"tasks": payload,
			"total": len(payload),
		})
	})

	d.RegisterFunc(ws.ActionOrchestratorStatus, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		return ws.NewResponse(msg.ID, msg.Action, status.GetStatus())
	})
}
