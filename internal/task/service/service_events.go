package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/events/bus"
	"github.com/flexops/flexops/internal/task/models"
)

// publishTaskEvent publishes task events to the event bus
func (s *Service) publishTaskEvent(ctx context.Context, eventType string, task *models.Task) {
	if s.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"task_id":          task.ID,
		"customer_name":    task.CustomerName,
		"customer_contact": task.CustomerContact,
		"status":           string(task.Status),
		"created_at":       task.CreatedAt.Format(time.RFC3339),
		"updated_at":       task.UpdatedAt.Format(time.RFC3339),
	}
	if task.OperatorID != nil {
		data["operator_id"] = *task.OperatorID
	}
	if task.OperatorName != nil {
		data["operator_name"] = *task.OperatorName
	}
	if task.GreetingSentAt != nil {
		data["greeting_sent_at"] = task.GreetingSentAt.Format(time.RFC3339)
	}
	if task.LastCustomerActivityAt != nil {
		data["last_customer_activity_at"] = task.LastCustomerActivityAt.Format(time.RFC3339)
	}

	event := bus.NewEvent(eventType, "task-service", data)

	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish task event",
			zap.String("event_type", eventType),
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

// publishFlexEvent publishes provider task events to the event bus
func (s *Service) publishFlexEvent(ctx context.Context, eventType string, row *models.FlexTask) {
	if s.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"task_sid": row.TaskSid,
	}
	if row.ConversationSid != nil {
		data["conversation_sid"] = *row.ConversationSid
	}
	if row.CustomerName != nil {
		data["customer_name"] = *row.CustomerName
	}
	if row.WorkerName != nil {
		data["worker_name"] = *row.WorkerName
	}
	if row.LastCustomerActivityAt != nil {
		data["last_customer_activity_at"] = row.LastCustomerActivityAt.Format(time.RFC3339)
	}

	event := bus.NewEvent(eventType, "task-service", data)

	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish task event",
			zap.String("event_type", eventType),
			zap.String("task_sid", row.TaskSid),
			zap.Error(err))
	}
}
