package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/events"
	"github.com/flexops/flexops/internal/events/bus"
	ws "github.com/flexops/flexops/pkg/websocket"
)

// TaskEventBroadcaster relays bus events to connected WebSocket clients.
// Lifecycle transitions go to every client; the chatty per-conversation
// events (greeting, ping, activity) go only to clients subscribed to that
// task.
type TaskEventBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterTaskNotifications subscribes the broadcaster to every task and
// Flex subject. A nil bus yields an inert broadcaster, which keeps the
// gateway usable in tests and in minimal deployments.
func RegisterTaskNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *TaskEventBroadcaster {
	b := &TaskEventBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-task-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribe(eventBus, events.TaskCreated, ws.ActionTaskCreated)
	b.subscribe(eventBus, events.TaskAssigned, ws.ActionTaskAssigned)
	b.subscribe(eventBus, events.TaskGreetingSent, ws.ActionTaskGreetingSent)
	b.subscribe(eventBus, events.TaskPingSent, ws.ActionTaskPingSent)
	b.subscribe(eventBus, events.TaskClosed, ws.ActionTaskClosed)
	b.subscribe(eventBus, events.TaskActivity, ws.ActionTaskActivity)
	b.subscribe(eventBus, events.TaskDeleted, ws.ActionTaskDeleted)
	b.subscribe(eventBus, events.FlexTaskUpserted, ws.ActionFlexTaskUpdated)
	b.subscribe(eventBus, events.FlexTaskClosed, ws.ActionFlexTaskClosed)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close unsubscribes from all bus subjects.
func (b *TaskEventBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *TaskEventBroadcaster) subscribe(eventBus bus.EventBus, subject, action string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification", zap.String("action", action), zap.Error(err))
			return nil
		}

		switch action {
		case ws.ActionTaskGreetingSent, ws.ActionTaskPingSent, ws.ActionTaskActivity:
			if taskID := extractTaskID(event.Data); taskID != "" {
				b.hub.BroadcastToTask(taskID, msg)
				return nil
			}
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

// extractTaskID pulls the task identifier out of an event payload. Internal
// events carry task_id, Flex events carry task_sid.
func extractTaskID(data any) string {
	m, ok := data.(map[string]interface{})
	if !ok {
		return ""
	}
	if id, ok := m["task_id"].(string); ok && id != "" {
		return id
	}
	if sid, ok := m["task_sid"].(string); ok && sid != "" {
		return sid
	}
	return ""
}
