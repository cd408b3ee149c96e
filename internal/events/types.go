// Package events provides event types and utilities for the orchestrator event system.
package events

// Event types for internal tasks
const (
	TaskCreated      = "task.created"
	TaskAssigned     = "task.assigned"
	TaskGreetingSent = "task.greeting_sent"
	TaskPingSent     = "task.ping_sent"
	TaskClosed       = "task.closed"
	TaskActivity     = "task.activity"
	TaskDeleted      = "task.deleted"
)

// Event types for Flex tasks mirrored from TaskRouter
const (
	FlexTaskUpserted = "flex.task.upserted"
	FlexTaskClosed   = "flex.task.closed"
)

// TaskSubjects lists every internal task subject the WebSocket gateway relays.
func TaskSubjects() []string {
	return []string{
		TaskCreated,
		TaskAssigned,
		TaskGreetingSent,
		TaskPingSent,
		TaskClosed,
		TaskActivity,
		TaskDeleted,
	}
}

// FlexSubjects lists every Flex task subject the WebSocket gateway relays.
func FlexSubjects() []string {
	return []string{
		FlexTaskUpserted,
		FlexTaskClosed,
	}
}
