package dto

import (
	"github.com/flexops/flexops/internal/task/models"
)

func FromTask(task *models.Task) TaskDTO {
	return TaskDTO{
		ID:                     task.ID,
		CustomerName:           task.CustomerName,
		CustomerContact:        task.CustomerContact,
		OperatorID:             task.OperatorID,
		OperatorName:           task.OperatorName,
		Status:                 task.Status,
		CreatedAt:              task.CreatedAt,
		UpdatedAt:              task.UpdatedAt,
		AssignedAt:             task.AssignedAt,
		GreetingSentAt:         task.GreetingSentAt,
		PingSentAt:             task.PingSentAt,
		InactiveSentAt:         task.InactiveSentAt,
		LastCustomerActivityAt: task.LastCustomerActivityAt,
		ClosedAt:               task.ClosedAt,
		CloseReason:            task.CloseReason,
	}
}

func FromTasks(tasks []*models.Task) []TaskDTO {
	out := make([]TaskDTO, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task))
	}
	return out
}

func FromFlexTask(row *models.FlexTask) FlexTaskDTO {
	return FlexTaskDTO{
		TaskSid:                row.TaskSid,
		ConversationSid:        row.ConversationSid,
		ChannelType:            row.ChannelType,
		CustomerName:           row.CustomerName,
		CustomerAddress:        row.CustomerAddress,
		CustomerFrom:           row.CustomerFrom,
		WorkerSid:              row.WorkerSid,
		WorkerName:             row.WorkerName,
		TaskAssignmentStatus:   row.TaskAssignmentStatus,
		GreetingSentAt:         row.GreetingSentAt,
		PingSentAt:             row.PingSentAt,
		InactiveSentAt:         row.InactiveSentAt,
		LastCustomerActivityAt: row.LastCustomerActivityAt,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
	}
}

func FromFlexTasks(rows []*models.FlexTask) []FlexTaskDTO {
	out := make([]FlexTaskDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromFlexTask(row))
	}
	return out
}
