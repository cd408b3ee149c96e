package twilio

// Message is the provider's record of a sent message.
type Message struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

// Workspace is a TaskRouter workspace.
type Workspace struct {
	Sid          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
}

// Task is a TaskRouter task. Attributes is the raw JSON document the
// provider attaches to the task; callers parse what they need from it.
type Task struct {
	Sid                   string `json:"sid"`
	WorkspaceSid          string `json:"workspace_sid"`
	AssignmentStatus      string `json:"assignment_status"`
	Attributes            string `json:"attributes"`
	TaskChannelUniqueName string `json:"task_channel_unique_name"`
	Age                   int    `json:"age"`
}

// Reservation links a task to the worker that holds it.
type Reservation struct {
	Sid               string `json:"sid"`
	WorkerSid         string `json:"worker_sid"`
	WorkerName        string `json:"worker_name"`
	ReservationStatus string `json:"reservation_status"`
}

// Worker is a TaskRouter worker.
type Worker struct {
	Sid          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	Attributes   string `json:"attributes"`
}

// Participant is a member of a conversation. Chat participants carry an
// Identity; SMS/WhatsApp participants carry a MessagingBinding instead.
type Participant struct {
	Sid              string            `json:"sid"`
	Identity         string            `json:"identity"`
	Attributes       string            `json:"attributes"`
	MessagingBinding *MessagingBinding `json:"messaging_binding"`
}

// MessagingBinding is the transport address pair of a non-chat participant.
type MessagingBinding struct {
	Type         string `json:"type"`
	Address      string `json:"address"`
	ProxyAddress string `json:"proxy_address"`
}

// List envelopes. The provider wraps collection responses in a keyed object.
type workspacePage struct {
	Workspaces []Workspace `json:"workspaces"`
}

type taskPage struct {
	Tasks []Task `json:"tasks"`
}

type reservationPage struct {
	Reservations []Reservation `json:"reservations"`
}

type participantPage struct {
	Participants []Participant `json:"participants"`
}

// apiError is the provider's error body.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}
