package flex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flexops/flexops/internal/orchestrator/inactivity"
	"github.com/flexops/flexops/internal/orchestrator/templates"
	"github.com/flexops/flexops/internal/task/models"
	"github.com/flexops/flexops/internal/task/repository"
	"github.com/flexops/flexops/internal/twilio"
)

type postedMessage struct {
	conversationSid string
	author          string
	body            string
}

type completedTask struct {
	taskSid string
	reason  string
}

// fakeProvider is an in-memory stand-in for the provider REST client. All
// fields are guarded so tests can mutate conversations between ticks.
type fakeProvider struct {
	mu sync.Mutex

	configured        bool
	workspaces        []twilio.Workspace
	listWorkspacesErr error

	tasks        []twilio.Task
	reservations map[string][]twilio.Reservation
	workers      map[string]*twilio.Worker
	participants map[string][]twilio.Participant

	postErr error
	posted  []postedMessage

	closedConversations []string
	completed           []completedTask
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		configured:   true,
		workspaces:   []twilio.Workspace{{Sid: "WS100", FriendlyName: "Flex Task Assignment"}},
		reservations: map[string][]twilio.Reservation{},
		workers:      map[string]*twilio.Worker{},
		participants: map[string][]twilio.Participant{},
	}
}

func (f *fakeProvider) Configured() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configured
}

func (f *fakeProvider) ListWorkspaces(ctx context.Context) ([]twilio.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listWorkspacesErr != nil {
		return nil, f.listWorkspacesErr
	}
	return append([]twilio.Workspace(nil), f.workspaces...), nil
}

func (f *fakeProvider) ListAssignedTasks(ctx context.Context, workspaceSid string, statuses []string, limit int) ([]twilio.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]twilio.Task(nil), f.tasks...), nil
}

func (f *fakeProvider) ListAcceptedReservations(ctx context.Context, workspaceSid, taskSid string, limit int) ([]twilio.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]twilio.Reservation(nil), f.reservations[taskSid]...), nil
}

func (f *fakeProvider) FetchWorker(ctx context.Context, workspaceSid, workerSid string) (*twilio.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if worker, ok := f.workers[workerSid]; ok {
		return worker, nil
	}
	return nil, fmt.Errorf("worker not found: %s", workerSid)
}

func (f *fakeProvider) ListConversationParticipants(ctx context.Context, conversationSid string, limit int) ([]twilio.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]twilio.Participant(nil), f.participants[conversationSid]...), nil
}

func (f *fakeProvider) PostConversationMessage(ctx context.Context, conversationSid, author, body string) (*twilio.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return nil, f.postErr
	}
	f.posted = append(f.posted, postedMessage{conversationSid: conversationSid, author: author, body: body})
	return &twilio.Message{Sid: fmt.Sprintf("IM%d", len(f.posted))}, nil
}

func (f *fakeProvider) CloseConversation(ctx context.Context, conversationSid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedConversations = append(f.closedConversations, conversationSid)
	return nil
}

func (f *fakeProvider) CompleteTask(ctx context.Context, workspaceSid, taskSid, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, completedTask{taskSid: taskSid, reason: reason})
	return nil
}

func (f *fakeProvider) messages() []postedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]postedMessage, len(f.posted))
	copy(out, f.posted)
	return out
}

func (f *fakeProvider) addParticipant(conversationSid string, p twilio.Participant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[conversationSid] = append(f.participants[conversationSid], p)
}

func (f *fakeProvider) setPostErr(err error) {
	f.mu.Lock()
	f.postErr = err
	f.mu.Unlock()
}

func (f *fakeProvider) closed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closedConversations...)
}

func (f *fakeProvider) completedTasks() []completedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]completedTask(nil), f.completed...)
}

// seedConversationTask registers one provider task attached to conversation
// CH001 with an accepted reservation for worker WK1, plus the customer
// participant. The worker participant is not added; tests opt in.
func (f *fakeProvider) seedConversationTask() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = []twilio.Task{{
		Sid:              "WT1",
		WorkspaceSid:     "WS100",
		AssignmentStatus: "assigned",
		Attributes:       `{"conversationSid":"CH001","customers":{"name":"Ana"},"from":"whatsapp:+5511999990001","customerAddress":"whatsapp:+5511999990001","channelType":"whatsapp"}`,
	}}
	f.reservations["WT1"] = []twilio.Reservation{{
		Sid:               "WR1",
		WorkerSid:         "WK1",
		WorkerName:        "bia.support",
		ReservationStatus: "accepted",
	}}
	f.workers["WK1"] = &twilio.Worker{
		Sid:          "WK1",
		FriendlyName: "bia",
		Attributes:   `{"full_name":"Bia"}`,
	}
	f.participants["CH001"] = []twilio.Participant{{
		Sid:              "MB-customer",
		MessagingBinding: &twilio.MessagingBinding{Type: "whatsapp", Address: "whatsapp:+5511999990001"},
	}}
}

func newFlexProcessor(t *testing.T, provider *fakeProvider, deadlineCfg inactivity.Config, cfg Config) (*Processor, *repository.MemoryRepository, *inactivity.Scheduler) {
	t.Helper()
	log := newTestLogger(t)
	repo := repository.NewMemoryRepository()
	deadlines := inactivity.NewScheduler(deadlineCfg, log)
	t.Cleanup(deadlines.CancelAll)
	proc := NewProcessor(repo, provider, deadlines, nil, cfg, log)
	return proc, repo, deadlines
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func hourConfig() inactivity.Config {
	return inactivity.Config{PingOffset: time.Hour, InactiveOffset: 2 * time.Hour}
}

func TestGreetingDeferredUntilWorkerJoins(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	proc, repo, deadlines := newFlexProcessor(t, provider, hourConfig(), DefaultConfig())

	// First pass: only the customer is in the conversation, so the greeting
	// has no author yet. The row is still mirrored.
	candidates, err := proc.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if candidates != 1 {
		t.Fatalf("Expected 1 candidate task, got %d", candidates)
	}
	if got := provider.messages(); len(got) != 0 {
		t.Fatalf("Expected no messages before the worker joins, got %+v", got)
	}
	row, err := repo.GetFlexTask(context.Background(), "WT1")
	if err != nil {
		t.Fatalf("GetFlexTask failed: %v", err)
	}
	if row.GreetingSentAt != nil {
		t.Fatal("Greeting mark set before the worker joined")
	}
	if row.ConversationSid == nil || *row.ConversationSid != "CH001" {
		t.Fatalf("Expected mirrored conversation sid, got %v", row.ConversationSid)
	}
	if deadlines.Has("WT1") {
		t.Fatal("Deadlines armed before the greeting")
	}

	// The worker joins; the next pass greets under the worker's identity.
	provider.addParticipant("CH001", twilio.Participant{Sid: "MB-worker", Identity: "WK1"})
	if _, err := proc.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	messages := provider.messages()
	if len(messages) != 1 {
		t.Fatalf("Expected exactly one greeting, got %+v", messages)
	}
	want := postedMessage{
		conversationSid: "CH001",
		author:          "WK1",
		body:            templates.Greeting("Ana", "Bia"),
	}
	if messages[0] != want {
		t.Fatalf("Expected %+v, got %+v", want, messages[0])
	}
	row, err = repo.GetFlexTask(context.Background(), "WT1")
	if err != nil {
		t.Fatalf("GetFlexTask failed: %v", err)
	}
	if row.GreetingSentAt == nil {
		t.Fatal("Greeting mark not recorded")
	}
	if !deadlines.Has("WT1") {
		t.Fatal("Deadlines not armed after the greeting")
	}
}

func TestGreetingSentOnceAcrossTicks(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	provider.addParticipant("CH001", twilio.Participant{Sid: "MB-worker", Identity: "WK1"})
	proc, _, _ := newFlexProcessor(t, provider, hourConfig(), DefaultConfig())

	for i := 0; i < 3; i++ {
		if _, err := proc.Process(context.Background()); err != nil {
			t.Fatalf("Process %d failed: %v", i, err)
		}
	}
	if got := provider.messages(); len(got) != 1 {
		t.Fatalf("Expected a single greeting across ticks, got %+v", got)
	}
}

func TestVoiceTasksAreNotCandidates(t *testing.T) {
	provider := newFakeProvider()
	provider.mu.Lock()
	provider.tasks = []twilio.Task{{
		Sid:              "WT2",
		AssignmentStatus: "assigned",
		Attributes:       `{"call_sid":"CA555","from":"+5511999990001"}`,
	}}
	provider.mu.Unlock()
	proc, repo, _ := newFlexProcessor(t, provider, hourConfig(), DefaultConfig())

	candidates, err := proc.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if candidates != 0 {
		t.Fatalf("Expected no candidates for a voice task, got %d", candidates)
	}
	if rows, _ := repo.ListFlexTasks(context.Background()); len(rows) != 0 {
		t.Fatalf("Expected no mirrored rows, got %d", len(rows))
	}
}

func TestUnreservedTaskStillCountsAsCandidate(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	provider.mu.Lock()
	provider.reservations = map[string][]twilio.Reservation{}
	provider.mu.Unlock()
	proc, repo, _ := newFlexProcessor(t, provider, hourConfig(), DefaultConfig())

	candidates, err := proc.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	// The task was seen even though nothing could be done with it yet; the
	// dispatcher must not fall through to the internal pipeline in auto mode.
	if candidates != 1 {
		t.Fatalf("Expected the unreserved task to count, got %d", candidates)
	}
	if rows, _ := repo.ListFlexTasks(context.Background()); len(rows) != 0 {
		t.Fatalf("Expected no mirrored rows without a reservation, got %d", len(rows))
	}
}

func TestWorkspaceAutoDetection(t *testing.T) {
	tests := []struct {
		name       string
		workspaces []twilio.Workspace
		listErr    error
		want       string
	}{
		{
			name:       "single workspace wins outright",
			workspaces: []twilio.Workspace{{Sid: "WS1", FriendlyName: "Support"}},
			want:       "WS1",
		},
		{
			name: "flex-named workspace wins among several",
			workspaces: []twilio.Workspace{
				{Sid: "WS1", FriendlyName: "Legacy"},
				{Sid: "WS2", FriendlyName: "Flex Task Assignment"},
			},
			want: "WS2",
		},
		{
			name: "ambiguous flex names resolve nothing",
			workspaces: []twilio.Workspace{
				{Sid: "WS1", FriendlyName: "Flex A"},
				{Sid: "WS2", FriendlyName: "Flex B"},
			},
			want: "",
		},
		{
			name: "no flex name among several resolves nothing",
			workspaces: []twilio.Workspace{
				{Sid: "WS1", FriendlyName: "A"},
				{Sid: "WS2", FriendlyName: "B"},
			},
			want: "",
		},
		{
			name:    "listing failure resolves nothing",
			listErr: errors.New("provider unavailable"),
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider()
			provider.mu.Lock()
			provider.workspaces = tt.workspaces
			provider.listWorkspacesErr = tt.listErr
			provider.mu.Unlock()
			proc, _, _ := newFlexProcessor(t, provider, hourConfig(), DefaultConfig())

			if got := proc.workspace(context.Background()); got != tt.want {
				t.Errorf("Expected workspace %q, got %q", tt.want, got)
			}
		})
	}
}

func TestConfiguredWorkspaceSkipsDetection(t *testing.T) {
	provider := newFakeProvider()
	provider.mu.Lock()
	provider.listWorkspacesErr = errors.New("must not be called")
	provider.mu.Unlock()
	cfg := DefaultConfig()
	cfg.WorkspaceSid = "WS900"
	proc, _, _ := newFlexProcessor(t, provider, hourConfig(), cfg)

	if got := proc.workspace(context.Background()); got != "WS900" {
		t.Fatalf("Expected configured workspace, got %q", got)
	}
}

func TestGreetedRowReArmsAfterRestart(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	provider.addParticipant("CH001", twilio.Participant{Sid: "MB-worker", Identity: "WK1"})
	proc, repo, deadlines := newFlexProcessor(t, provider, inactivity.Config{
		PingOffset:     100 * time.Millisecond,
		InactiveOffset: 300 * time.Millisecond,
	}, DefaultConfig())

	// A greeting recorded before the restart; this process has no deadlines
	// armed for it yet.
	greetedAt := time.Now().UTC().Add(-200 * time.Millisecond)
	seedGreetedRow(t, repo, greetedAt)

	if _, err := proc.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !deadlines.Has("WT1") {
		t.Fatal("Deadlines not re-armed for the greeted row")
	}

	waitFor(t, "inactivity close", func() bool {
		row, err := repo.GetFlexTask(context.Background(), "WT1")
		return err == nil && row.InactiveSentAt != nil
	})

	messages := provider.messages()
	if len(messages) != 2 {
		t.Fatalf("Expected ping+closure only, got %+v", messages)
	}
	if messages[0].body != templates.Ping("Ana") || messages[1].body != templates.Closure("Ana") {
		t.Fatalf("Unexpected bodies: %+v", messages)
	}
	if messages[0].author != "WK1" || messages[1].author != "WK1" {
		t.Fatalf("Expected worker-authored messages, got %+v", messages)
	}
}

func TestInactiveClosesConversationAndCompletesTask(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	provider.addParticipant("CH001", twilio.Participant{Sid: "MB-worker", Identity: "WK1"})
	proc, repo, deadlines := newFlexProcessor(t, provider, hourConfig(), DefaultConfig())

	seedGreetedRow(t, repo, time.Now().UTC().Add(-time.Hour))
	if _, err := proc.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	proc.onInactive("WT1")

	row, err := repo.GetFlexTask(context.Background(), "WT1")
	if err != nil {
		t.Fatalf("GetFlexTask failed: %v", err)
	}
	if row.InactiveSentAt == nil {
		t.Fatal("Inactive mark not recorded")
	}
	if got := provider.closed(); len(got) != 1 || got[0] != "CH001" {
		t.Fatalf("Expected CH001 closed, got %v", got)
	}
	completed := provider.completedTasks()
	if len(completed) != 1 || completed[0].taskSid != "WT1" || completed[0].reason != "inactivity" {
		t.Fatalf("Expected WT1 completed for inactivity, got %+v", completed)
	}
	if deadlines.Has("WT1") {
		t.Fatal("Deadline pair not dropped after close")
	}
}

func TestInactiveTeardownToggles(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	provider.addParticipant("CH001", twilio.Participant{Sid: "MB-worker", Identity: "WK1"})
	cfg := DefaultConfig()
	cfg.CloseConversation = false
	cfg.CompleteTask = false
	proc, repo, _ := newFlexProcessor(t, provider, hourConfig(), cfg)

	seedGreetedRow(t, repo, time.Now().UTC().Add(-time.Hour))
	if _, err := proc.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	proc.onInactive("WT1")

	row, _ := repo.GetFlexTask(context.Background(), "WT1")
	if row.InactiveSentAt == nil {
		t.Fatal("Inactive mark not recorded")
	}
	if got := provider.closed(); len(got) != 0 {
		t.Fatalf("Expected no conversation close, got %v", got)
	}
	if got := provider.completedTasks(); len(got) != 0 {
		t.Fatalf("Expected no task completion, got %+v", got)
	}
}

func TestCustomerReplySuppressesFollowups(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	provider.addParticipant("CH001", twilio.Participant{Sid: "MB-worker", Identity: "WK1"})
	proc, repo, deadlines := newFlexProcessor(t, provider, hourConfig(), DefaultConfig())

	seedGreetedRow(t, repo, time.Now().UTC().Add(-time.Hour))
	if err := repo.SetFlexLastCustomerActivity(context.Background(), "WT1", time.Now().UTC()); err != nil {
		t.Fatalf("SetFlexLastCustomerActivity failed: %v", err)
	}

	// Callbacks re-read the row and see the fresh activity.
	proc.onPing("WT1")
	proc.onInactive("WT1")
	if got := provider.messages(); len(got) != 0 {
		t.Fatalf("Expected no follow-ups after a reply, got %+v", got)
	}

	// The poll pass drops any armed deadlines for the spoken epoch.
	deadlines.Schedule("WT1", time.Now().UTC().Add(-time.Hour), proc.onPing, proc.onInactive)
	if _, err := proc.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if deadlines.Has("WT1") {
		t.Fatal("Deadlines still armed after customer activity")
	}
}

func TestPingSkippedWhenWorkerUnresolved(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	proc, repo, _ := newFlexProcessor(t, provider, hourConfig(), DefaultConfig())

	seedGreetedRow(t, repo, time.Now().UTC().Add(-time.Minute))

	// Only the customer participant exists, so the ping has no author.
	proc.onPing("WT1")
	if got := provider.messages(); len(got) != 0 {
		t.Fatalf("Expected no ping without a worker participant, got %+v", got)
	}
	row, _ := repo.GetFlexTask(context.Background(), "WT1")
	if row.PingSentAt != nil {
		t.Fatal("Ping mark set without a send")
	}
}

func TestClosureSendFailureRetriesNextTick(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	provider.addParticipant("CH001", twilio.Participant{Sid: "MB-worker", Identity: "WK1"})
	proc, repo, deadlines := newFlexProcessor(t, provider, inactivity.Config{
		PingOffset:     20 * time.Millisecond,
		InactiveOffset: 40 * time.Millisecond,
	}, DefaultConfig())

	seedGreetedRow(t, repo, time.Now().UTC().Add(-time.Second))
	provider.setPostErr(errors.New("provider unavailable"))

	if _, err := proc.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	// Both deadlines fire and fail; the spent pair is dropped so a later
	// tick can arm a fresh one.
	waitFor(t, "deadline pair drop", func() bool { return !deadlines.Has("WT1") })

	provider.setPostErr(nil)
	if _, err := proc.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	waitFor(t, "inactivity close", func() bool {
		row, err := repo.GetFlexTask(context.Background(), "WT1")
		return err == nil && row.InactiveSentAt != nil
	})
	found := false
	for _, m := range provider.messages() {
		if m.body == templates.Closure("Ana") {
			found = true
		}
		if m.body == templates.Greeting("Ana", "Bia") {
			t.Fatalf("Greeting must not repeat for a greeted row: %+v", provider.messages())
		}
	}
	if !found {
		t.Fatalf("Expected a closure message, got %+v", provider.messages())
	}
}

func TestStoredWorkerNamePreferredOverFetch(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	provider.addParticipant("CH001", twilio.Participant{Sid: "MB-worker", Identity: "WK1"})
	provider.mu.Lock()
	delete(provider.workers, "WK1") // any fetch would fall back
	provider.mu.Unlock()
	proc, repo, _ := newFlexProcessor(t, provider, hourConfig(), DefaultConfig())

	// A previous process already resolved the display name.
	storedName := "Bia Souza"
	seedMirroredRow(t, repo, &storedName)

	if _, err := proc.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	messages := provider.messages()
	if len(messages) != 1 {
		t.Fatalf("Expected one greeting, got %+v", messages)
	}
	if want := templates.Greeting("Ana", "Bia Souza"); messages[0].body != want {
		t.Fatalf("Expected stored name in greeting, got %q", messages[0].body)
	}
}

func TestUnconfiguredProviderProcessesNothing(t *testing.T) {
	provider := newFakeProvider()
	provider.seedConversationTask()
	provider.mu.Lock()
	provider.configured = false
	provider.mu.Unlock()
	proc, repo, _ := newFlexProcessor(t, provider, hourConfig(), DefaultConfig())

	candidates, err := proc.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if candidates != 0 {
		t.Fatalf("Expected nothing processed, got %d", candidates)
	}
	if rows, _ := repo.ListFlexTasks(context.Background()); len(rows) != 0 {
		t.Fatalf("Expected no mirrored rows, got %d", len(rows))
	}
}

// seedGreetedRow mirrors WT1 with a greeting mark at greetedAt, as if an
// earlier process had already greeted the conversation.
func seedGreetedRow(t *testing.T, repo *repository.MemoryRepository, greetedAt time.Time) {
	t.Helper()
	seedMirroredRow(t, repo, nil)
	if err := repo.SetFlexGreetingSent(context.Background(), "WT1", greetedAt); err != nil {
		t.Fatalf("SetFlexGreetingSent failed: %v", err)
	}
}

func seedMirroredRow(t *testing.T, repo *repository.MemoryRepository, workerName *string) {
	t.Helper()
	conversationSid := "CH001"
	customerName := "Ana"
	customerAddress := "whatsapp:+5511999990001"
	customerFrom := "whatsapp:+5511999990001"
	workerSid := "WK1"
	row := &models.FlexTask{
		TaskSid:         "WT1",
		ConversationSid: &conversationSid,
		CustomerName:    &customerName,
		CustomerAddress: &customerAddress,
		CustomerFrom:    &customerFrom,
		WorkerSid:       &workerSid,
		WorkerName:      workerName,
	}
	if err := repo.UpsertFlexTask(context.Background(), row); err != nil {
		t.Fatalf("UpsertFlexTask failed: %v", err)
	}
}
