package models

import (
	"time"

	v1 "github.com/flexops/flexops/pkg/api/v1"
)

// Task represents an SMS handoff task in the database
type Task struct {
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

// ToAPI converts internal Task to API type
func (t *Task) ToAPI() *v1.Task {
	return &v1.Task{
		ID:                     t.ID,
		CustomerName:           t.CustomerName,
		CustomerContact:        t.CustomerContact,
		OperatorID:             t.OperatorID,
		OperatorName:           t.OperatorName,
		Status:                 t.Status,
		CreatedAt:              t.CreatedAt,
		UpdatedAt:              t.UpdatedAt,
		AssignedAt:             t.AssignedAt,
		GreetingSentAt:         t.GreetingSentAt,
		PingSentAt:             t.PingSentAt,
		InactiveSentAt:         t.InactiveSentAt,
		LastCustomerActivityAt: t.LastCustomerActivityAt,
		ClosedAt:               t.ClosedAt,
		CloseReason:            t.CloseReason,
	}
}

// FlexTask mirrors a task the provider routes itself. Polling discovers these
// rows; the orchestrator only maintains the automation marks on them, the
// provider keeps ownership of routing and assignment.
type FlexTask struct {
	TaskSid                string     `json:"task_sid"`
	ConversationSid        *string    `json:"conversation_sid,omitempty"`
	ChannelType            *string    `json:"channel_type,omitempty"`
	CustomerName           *string    `json:"customer_name,omitempty"`
	CustomerAddress        *string    `json:"customer_address,omitempty"`
	CustomerFrom           *string    `json:"customer_from,omitempty"`
	WorkerSid              *string    `json:"worker_sid,omitempty"`
	WorkerName             *string    `json:"worker_name,omitempty"`
	TaskAssignmentStatus   *string    `json:"task_assignment_status,omitempty"`
	TaskAttributes         *string    `json:"task_attributes,omitempty"` // Raw attributes JSON as received
	GreetingSentAt         *time.Time `json:"greeting_sent_at,omitempty"`
	PingSentAt             *time.Time `json:"ping_sent_at,omitempty"`
	InactiveSentAt         *time.Time `json:"inactive_sent_at,omitempty"`
	LastCustomerActivityAt *time.Time `json:"last_customer_activity_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// ToAPI converts internal FlexTask to API type. Raw task attributes stay
// internal, they can hold customer addresses the API should not echo.
func (f *FlexTask) ToAPI() *v1.FlexTask {
	return &v1.FlexTask{
		TaskSid:                f.TaskSid,
		ConversationSid:        f.ConversationSid,
		ChannelType:            f.ChannelType,
		CustomerName:           f.CustomerName,
		CustomerAddress:        f.CustomerAddress,
		CustomerFrom:           f.CustomerFrom,
		WorkerSid:              f.WorkerSid,
		WorkerName:             f.WorkerName,
		TaskAssignmentStatus:   f.TaskAssignmentStatus,
		GreetingSentAt:         f.GreetingSentAt,
		PingSentAt:             f.PingSentAt,
		InactiveSentAt:         f.InactiveSentAt,
		LastCustomerActivityAt: f.LastCustomerActivityAt,
		CreatedAt:              f.CreatedAt,
		UpdatedAt:              f.UpdatedAt,
	}
}
