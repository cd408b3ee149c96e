package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Task queries (client -> server). Mutations go through the REST API.
	ActionTaskList     = "task.list"
	ActionTaskGet      = "task.get"
	ActionFlexTaskList = "flex_task.list"

	// Orchestrator queries
	ActionOrchestratorStatus = "orchestrator.status"

	// Subscription actions
	ActionTaskSubscribe   = "task.subscribe"
	ActionTaskUnsubscribe = "task.unsubscribe"

	// Notification actions (server -> client)
	ActionTaskCreated      = "task.created"
	ActionTaskAssigned     = "task.assigned"
	ActionTaskGreetingSent = "task.greeting_sent"
	ActionTaskPingSent     = "task.ping_sent"
	ActionTaskClosed       = "task.closed"
	ActionTaskActivity     = "task.activity"
	ActionTaskDeleted      = "task.deleted"
	ActionFlexTaskUpdated  = "flex_task.updated"
	ActionFlexTaskClosed   = "flex_task.closed"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
