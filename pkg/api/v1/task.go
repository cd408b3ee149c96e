package v1

import "time"

// TaskStatus represents the lifecycle status of a handoff task
type TaskStatus string

const (
	// TaskStatusOpen means the task exists but no operator owns it yet
	TaskStatusOpen TaskStatus = "open"
	// TaskStatusAssigned means an operator owns the task and the
	// orchestrator may greet and watch it
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusClosed is terminal
	TaskStatusClosed TaskStatus = "closed"
)

// CloseReasonInactivity is recorded when a task is closed because the
// customer never replied within the inactivity window.
const CloseReasonInactivity = "inactivity"

// Task is the public view of an SMS handoff task.
type Task struct {
	ID                     string     `json:"id"`
	CustomerName           string     `json:"customer_name"`
	CustomerContact        string     `json:"customer_contact"`
	OperatorID             *string    `json:"operator_id,omitempty"`
	OperatorName           *string    `json:"operator_name,omitempty"`
	Status                 TaskStatus `json:"status"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	AssignedAt             *time.Time `json:"assigned_at,omitempty"`
	GreetingSentAt         *time.Time `json:"greeting_sent_at,omitempty"`
	PingSentAt             *time.Time `json:"ping_sent_at,omitempty"`
	InactiveSentAt         *time.Time `json:"inactive_sent_at,omitempty"`
	LastCustomerActivityAt *time.Time `json:"last_customer_activity_at,omitempty"`
	ClosedAt               *time.Time `json:"closed_at,omitempty"`
	CloseReason            *string    `json:"close_reason,omitempty"`
}
