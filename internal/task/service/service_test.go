package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/events"
	"github.com/flexops/flexops/internal/events/bus"
	"github.com/flexops/flexops/internal/orchestrator/templates"
	"github.com/flexops/flexops/internal/task/repository"
	"github.com/flexops/flexops/internal/twilio"
	v1 "github.com/flexops/flexops/pkg/api/v1"
)

// MockEventBus implements bus.EventBus for testing
type MockEventBus struct {
	mu              sync.Mutex
	publishedEvents []*bus.Event
	closed          bool
}

func NewMockEventBus() *MockEventBus {
	return &MockEventBus{
		publishedEvents: make([]*bus.Event, 0),
	}
}

func (m *MockEventBus) Publish(ctx context.Context, subject string, event *bus.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

func (m *MockEventBus) Subscribe(subject string, handler bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (m *MockEventBus) QueueSubscribe(subject, queue string, handler bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (m *MockEventBus) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockEventBus) IsConnected() bool {
	return !m.closed
}

func (m *MockEventBus) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.publishedEvents))
	for _, e := range m.publishedEvents {
		types = append(types, e.Type)
	}
	return types
}

type sentSMS struct {
	to   string
	body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (f *fakeSender) SendSMS(ctx context.Context, to, body string) (*twilio.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentSMS{to: to, body: body})
	return &twilio.Message{Sid: "SM1", Status: "queued"}, nil
}

func (f *fakeSender) messages() []sentSMS {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentSMS, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeDeadlines struct {
	mu       sync.Mutex
	armed    map[string]time.Time
	cancels  []string
	provider []string
}

func newFakeDeadlines() *fakeDeadlines {
	return &fakeDeadlines{armed: make(map[string]time.Time)}
}

func (f *fakeDeadlines) ArmDeadlines(taskID string, greetingSentAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[taskID] = greetingSentAt
}

func (f *fakeDeadlines) CancelDeadlines(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, taskID)
	f.cancels = append(f.cancels, taskID)
}

func (f *fakeDeadlines) CancelProviderDeadlines(taskSid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provider = append(f.provider, taskSid)
}

func (f *fakeDeadlines) armedAt(taskID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.armed[taskID]
	return at, ok
}

func (f *fakeDeadlines) cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cancels))
	copy(out, f.cancels)
	return out
}

func (f *fakeDeadlines) providerCancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.provider))
	copy(out, f.provider)
	return out
}

func createTestService(t *testing.T) (*Service, *MockEventBus, *repository.MemoryRepository, *fakeDeadlines, *fakeSender) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	eventBus := NewMockEventBus()
	sender := &fakeSender{}
	// Suppress logs during tests
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	svc := NewService(repo, sender, eventBus, "System", log)
	deadlines := newFakeDeadlines()
	svc.SetDeadlineController(deadlines)
	return svc, eventBus, repo, deadlines, sender
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func strPtr(s string) *string {
	return &s
}

// Task CRUD

func TestCreateTaskValidatesCustomer(t *testing.T) {
	svc, eventBus, _, _, _ := createTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *CreateTaskRequest
	}{
		{"missing name", &CreateTaskRequest{CustomerContact: "+5511999990001"}},
		{"missing contact", &CreateTaskRequest{CustomerName: "Ana"}},
		{"blank fields", &CreateTaskRequest{CustomerName: "  ", CustomerContact: " "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateTask(ctx, tc.req); !errors.Is(err, ErrCustomerRequired) {
				t.Fatalf("expected ErrCustomerRequired, got %v", err)
			}
		})
	}
	if len(eventBus.EventTypes()) != 0 {
		t.Fatalf("no events expected for rejected creates, got %v", eventBus.EventTypes())
	}
}

func TestCreateTaskPublishesCreated(t *testing.T) {
	svc, eventBus, _, _, _ := createTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &CreateTaskRequest{CustomerName: " Ana ", CustomerContact: "+5511999990001"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected generated task id")
	}
	if task.CustomerName != "Ana" {
		t.Fatalf("expected trimmed customer name, got %q", task.CustomerName)
	}
	if task.Status != v1.TaskStatusOpen {
		t.Fatalf("expected open status, got %s", task.Status)
	}
	if !contains(eventBus.EventTypes(), events.TaskCreated) {
		t.Fatalf("expected %s event, got %v", events.TaskCreated, eventBus.EventTypes())
	}
}

func TestDeleteTaskDropsDeadlines(t *testing.T) {
	svc, eventBus, repo, deadlines, _ := createTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &CreateTaskRequest{CustomerName: "Ana", CustomerContact: "+5511999990001"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := svc.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if _, err := repo.GetTask(ctx, task.ID); err == nil {
		t.Fatal("expected task to be gone")
	}
	if !contains(deadlines.cancelled(), task.ID) {
		t.Fatal("expected deadlines dropped on delete")
	}
	if !contains(eventBus.EventTypes(), events.TaskDeleted) {
		t.Fatalf("expected %s event, got %v", events.TaskDeleted, eventBus.EventTypes())
	}
}

// Handoff commands

func TestAssignRequiresOperator(t *testing.T) {
	svc, _, _, _, _ := createTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &CreateTaskRequest{CustomerName: "Ana", CustomerContact: "+5511999990001"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := svc.Assign(ctx, task.ID, &AssignRequest{OperatorName: "Bia"}); !errors.Is(err, ErrOperatorRequired) {
		t.Fatalf("expected ErrOperatorRequired, got %v", err)
	}
}

func TestAssignUnknownTask(t *testing.T) {
	svc, eventBus, _, _, _ := createTestService(t)

	_, err := svc.Assign(context.Background(), "missing", &AssignRequest{OperatorID: "op-1", OperatorName: "Bia"})
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
	if len(eventBus.EventTypes()) != 0 {
		t.Fatalf("no events expected, got %v", eventBus.EventTypes())
	}
}

func TestAssignKeepsFirstAssignedAt(t *testing.T) {
	svc, eventBus, _, _, _ := createTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &CreateTaskRequest{CustomerName: "Ana", CustomerContact: "+5511999990001"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	assigned, err := svc.Assign(ctx, task.ID, &AssignRequest{OperatorID: "op-1", OperatorName: "Bia"})
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if assigned.Status != v1.TaskStatusAssigned {
		t.Fatalf("expected assigned status, got %s", assigned.Status)
	}
	if assigned.OperatorID == nil || *assigned.OperatorID != "op-1" {
		t.Fatal("expected operator id recorded")
	}
	if assigned.AssignedAt == nil || !assigned.AssignedAt.Equal(base) {
		t.Fatalf("expected assignedAt %v, got %v", base, assigned.AssignedAt)
	}

	svc.now = func() time.Time { return base.Add(time.Hour) }
	reassigned, err := svc.Assign(ctx, task.ID, &AssignRequest{OperatorID: "op-2", OperatorName: "Caio"})
	if err != nil {
		t.Fatalf("reassign failed: %v", err)
	}
	if *reassigned.OperatorID != "op-2" {
		t.Fatalf("expected operator swap, got %s", *reassigned.OperatorID)
	}
	if !reassigned.AssignedAt.Equal(base) {
		t.Fatalf("reassignment must keep the first assignedAt, got %v", reassigned.AssignedAt)
	}
	if !contains(eventBus.EventTypes(), events.TaskAssigned) {
		t.Fatalf("expected %s event, got %v", events.TaskAssigned, eventBus.EventTypes())
	}
}

func TestStartHandoffSendsGreetingAndArms(t *testing.T) {
	svc, eventBus, _, deadlines, sender := createTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &CreateTaskRequest{CustomerName: "Ana", CustomerContact: "+5511999990001"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	got, err := svc.StartHandoff(ctx, task.ID, &StartHandoffRequest{OperatorID: "op-1", OperatorName: "Bia"})
	if err != nil {
		t.Fatalf("StartHandoff failed: %v", err)
	}
	if got.GreetingSentAt == nil {
		t.Fatal("expected greeting mark")
	}

	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one greeting SMS, got %d", len(msgs))
	}
	if msgs[0].to != "+5511999990001" {
		t.Fatalf("greeting sent to %q", msgs[0].to)
	}
	if want := templates.Greeting("Ana", "Bia"); msgs[0].body != want {
		t.Fatalf("greeting body %q, want %q", msgs[0].body, want)
	}

	at, ok := deadlines.armedAt(task.ID)
	if !ok {
		t.Fatal("expected deadlines armed")
	}
	if !at.Equal(*got.GreetingSentAt) {
		t.Fatalf("deadlines anchored at %v, want %v", at, *got.GreetingSentAt)
	}
	types := eventBus.EventTypes()
	if !contains(types, events.TaskAssigned) || !contains(types, events.TaskGreetingSent) {
		t.Fatalf("expected assigned and greeting events, got %v", types)
	}
}

func TestStartHandoffSendFailureFailsCall(t *testing.T) {
	svc, eventBus, repo, deadlines, sender := createTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &CreateTaskRequest{CustomerName: "Ana", CustomerContact: "+5511999990001"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	sender.err = errors.New("provider down")

	if _, err := svc.StartHandoff(ctx, task.ID, &StartHandoffRequest{OperatorID: "op-1", OperatorName: "Bia"}); !errors.Is(err, ErrGreetingNotSent) {
		t.Fatalf("expected ErrGreetingNotSent, got %v", err)
	}

	// The assignment sticks; only the greeting failed.
	stored, err := repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if stored.Status != v1.TaskStatusAssigned {
		t.Fatalf("expected task to stay assigned, got %s", stored.Status)
	}
	if stored.GreetingSentAt != nil {
		t.Fatal("greeting mark must not be set on send failure")
	}
	if _, ok := deadlines.armedAt(task.ID); ok {
		t.Fatal("deadlines must not be armed on send failure")
	}
	if contains(eventBus.EventTypes(), events.TaskGreetingSent) {
		t.Fatal("no greeting event expected on send failure")
	}
}

func TestStartHandoffSkipsGreetingWhenDisabled(t *testing.T) {
	svc, _, _, deadlines, sender := createTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &CreateTaskRequest{CustomerName: "Ana", CustomerContact: "+5511999990001"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	send := false
	got, err := svc.StartHandoff(ctx, task.ID, &StartHandoffRequest{OperatorID: "op-1", OperatorName: "Bia", SendGreeting: &send})
	if err != nil {
		t.Fatalf("StartHandoff failed: %v", err)
	}
	if got.Status != v1.TaskStatusAssigned {
		t.Fatalf("expected assigned status, got %s", got.Status)
	}
	if len(sender.messages()) != 0 {
		t.Fatal("no SMS expected with greeting disabled")
	}
	if got.GreetingSentAt != nil {
		t.Fatal("no greeting mark expected with greeting disabled")
	}
	if _, ok := deadlines.armedAt(task.ID); ok {
		t.Fatal("no deadlines expected with greeting disabled")
	}
}

func TestRegisterGreetingRequiresAssigned(t *testing.T) {
	svc, _, _, _, _ := createTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &CreateTaskRequest{CustomerName: "Ana", CustomerContact: "+5511999990001"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := svc.RegisterGreeting(ctx, task.ID); !errors.Is(err, ErrTaskNotAssigned) {
		t.Fatalf("expected ErrTaskNotAssigned, got %v", err)
	}
}

func TestRegisterGreetingStartsFreshEpoch(t *testing.T) {
	svc, _, repo, deadlines, _ := createTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &CreateTaskRequest{CustomerName: "Ana", CustomerContact: "+5511999990001"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := svc.Assign(ctx, task.ID, &AssignRequest{OperatorID: "op-1", OperatorName: "Bia"}); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	if _, err := svc.RegisterGreeting(ctx, task.ID); err != nil {
		t.Fatalf("RegisterGreeting failed: %v", err)
	}

	// A ping goes out, then the operator greets again.
	if err := repo.SetPingSent(ctx, task.ID, base.Add(5*time.Second)); err != nil {
		t.Fatalf("SetPingSent failed: %v", err)
	}
	svc.now = func() time.Time { return base.Add(time.Minute) }
	if _, err := svc.RegisterGreeting(ctx, task.ID); err != nil {
		t.Fatalf("second RegisterGreeting failed: %v", err)
	}

	stored, err := repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if stored.GreetingSentAt == nil || !stored.GreetingSentAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected fresh greeting mark, got %v", stored.GreetingSentAt)
	}
	if stored.PingSentAt != nil || stored.InactiveSentAt != nil {
		t.Fatal("re-greeting must clear the earlier epoch marks")
	}
	at, ok := deadlines.armedAt(task.ID)
	if !ok || !at.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected deadlines re-anchored at the new greeting, got %v (armed=%v)", at, ok)
	}
}

func TestMarkActivityCancelsDeadlines(t *testing.T) {
	svc, eventBus, _, deadlines, _ := createTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &CreateTaskRequest{CustomerName: "Ana", CustomerContact: "+5511999990001"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := svc.StartHandoff(ctx, task.ID, &StartHandoffRequest{OperatorID: "op-1", OperatorName: "Bia"}); err != nil {
		t.Fatalf("StartHandoff failed: %v", err)
	}

	got, err := svc.MarkActivity(ctx, task.ID)
	if err != nil {
		t.Fatalf("MarkActivity failed: %v", err)
	}
	if got.LastCustomerActivityAt == nil {
		t.Fatal("expected activity mark")
	}
	if !contains(deadlines.cancelled(), task.ID) {
		t.Fatal("expected deadlines cancelled")
	}
	if !contains(eventBus.EventTypes(), events.TaskActivity) {
		t.Fatalf("expected %s event, got %v", events.TaskActivity, eventBus.EventTypes())
	}
}
