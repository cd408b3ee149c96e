package v1

import "time"

// FlexTask is the public view of a provider-managed task mirrored locally.
// The provider owns routing and assignment; this row only carries the
// automation marks the orchestrator maintains for it.
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
	GreetingSentAt         *time.Time `json:"greeting_sent_at,omitempty"`
	PingSentAt             *time.Time `json:"ping_sent_at,omitempty"`
	InactiveSentAt         *time.Time `json:"inactive_sent_at,omitempty"`
	LastCustomerActivityAt *time.Time `json:"last_customer_activity_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// OrchestratorStatus reports the live state of the inactivity engine.
type OrchestratorStatus struct {
	Running        bool       `json:"running"`
	Source         string     `json:"source"`
	PollIntervalMs int        `json:"poll_interval_ms"`
	ScheduledTasks int        `json:"scheduled_tasks"`
	TicksCompleted uint64     `json:"ticks_completed"`
	TicksSkipped   uint64     `json:"ticks_skipped"`
	LastTickAt     *time.Time `json:"last_tick_at,omitempty"`
}
