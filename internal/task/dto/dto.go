package dto

import (
	"time"

	v1 "github.com/flexops/flexops/pkg/api/v1"
)

type TaskDTO struct {
	ID                     string        `json:"id"`
	CustomerName           string        `json:"customer_name"`
	CustomerContact        string        `json:"customer_contact"`
	OperatorID             *string       `json:"operator_id,omitempty"`
	OperatorName           *string       `json:"operator_name,omitempty"`
	Status                 v1.TaskStatus `json:"status"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
	AssignedAt             *time.Time    `json:"assigned_at,omitempty"`
	GreetingSentAt         *time.Time    `json:"greeting_sent_at,omitempty"`
	PingSentAt             *time.Time    `json:"ping_sent_at,omitempty"`
	InactiveSentAt         *time.Time    `json:"inactive_sent_at,omitempty"`
	LastCustomerActivityAt *time.Time    `json:"last_customer_activity_at,omitempty"`
	ClosedAt               *time.Time    `json:"closed_at,omitempty"`
	CloseReason            *string       `json:"close_reason,omitempty"`
}

type FlexTaskDTO struct {
	TaskSid                string     `json:"task_sid"`
	ConversationSid        *string    `json:"conversation_sid,omitempty"`
	ChannelType            *string    `json:"channel_type,omitempty"`
	CustomerName           *string    `json:"customer_name,omitempty"`
	CustomerAddress        *string    `json:"customer_address,omitempty"`
	CustomerFrom           *string    `json:"customer_from,omitempty"`
	WorkerSid              *string    `json:"worker_sid,omitempty"`
	WorkerName             *string    `json:"worker_name,omitempty"`
	TaskAssignmentStatus   *string    `json:"task_assignment_status,omitempty"`
	GreetingSentAt         *time.Time `json:"greeting_sent_at,omitempty"`
	PingSentAt             *time.Time `json:"ping_sent_at,omitempty"`
	InactiveSentAt         *time.Time `json:"inactive_sent_at,omitempty"`
	LastCustomerActivityAt *time.Time `json:"last_customer_activity_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

type ListTasksResponse struct {
	Tasks []TaskDTO `json:"tasks"`
	Total int       `json:"total"`
}

type ListFlexTasksResponse struct {
	Tasks []FlexTaskDTO `json:"tasks"`
	Total int           `json:"total"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
