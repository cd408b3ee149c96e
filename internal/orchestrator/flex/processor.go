// Package flex mirrors provider-routed contact-center tasks into local rows
// and drives the greeting, ping, and inactivity-close sequence over the
// Conversations API, the counterpart of the sms pipeline for tasks that live
// in the provider's own task router.
package flex

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/events"
	"github.com/flexops/flexops/internal/events/bus"
	"github.com/flexops/flexops/internal/orchestrator/inactivity"
	"github.com/flexops/flexops/internal/orchestrator/templates"
	"github.com/flexops/flexops/internal/task/models"
	"github.com/flexops/flexops/internal/task/repository"
	"github.com/flexops/flexops/internal/twilio"
)

const (
	taskStatusAssigned = "assigned"
	taskStatusReserved = "reserved"

	participantPageLimit = 50
)

// ProviderClient is the slice of the provider REST client this pipeline
// needs. *twilio.Client satisfies it.
type ProviderClient interface {
	Configured() bool
	ListWorkspaces(ctx context.Context) ([]twilio.Workspace, error)
	ListAssignedTasks(ctx context.Context, workspaceSid string, statuses []string, limit int) ([]twilio.Task, error)
	ListAcceptedReservations(ctx context.Context, workspaceSid, taskSid string, limit int) ([]twilio.Reservation, error)
	FetchWorker(ctx context.Context, workspaceSid, workerSid string) (*twilio.Worker, error)
	ListConversationParticipants(ctx context.Context, conversationSid string, limit int) ([]twilio.Participant, error)
	PostConversationMessage(ctx context.Context, conversationSid, author, body string) (*twilio.Message, error)
	CloseConversation(ctx context.Context, conversationSid string) error
	CompleteTask(ctx context.Context, workspaceSid, taskSid, reason string) error
}

// Config tunes the provider-side pipeline.
type Config struct {
	// WorkspaceSid pins the task-router workspace. Empty means auto-detect:
	// a single workspace, or the single one whose friendly name mentions flex.
	WorkspaceSid string
	// PollLimit caps how many provider tasks one tick examines.
	PollLimit int
	// CloseConversation closes the conversation after the inactivity message.
	CloseConversation bool
	// CompleteTask completes the provider task after the inactivity message.
	CompleteTask bool
}

// DefaultConfig returns the pipeline defaults: 50 tasks per tick and full
// teardown on inactivity.
func DefaultConfig() Config {
	return Config{
		PollLimit:         50,
		CloseConversation: true,
		CompleteTask:      true,
	}
}

// Processor polls the provider for assigned tasks, mirrors them into flex
// rows, and walks each conversation through greeting, ping, and close.
type Processor struct {
	repo      repository.Repository
	provider  ProviderClient
	deadlines *inactivity.Scheduler
	eventBus  bus.EventBus
	names     *workerNames
	cfg       Config
	logger    *logger.Logger

	now func() time.Time

	workspaceMu  sync.Mutex
	workspaceSid string

	// warned holds keys that already produced their one warning: "workspace",
	// "unconfigured", and "participant:<taskSid>".
	warned sync.Map
}

// NewProcessor wires the provider-side pipeline. The event bus may be nil.
func NewProcessor(repo repository.Repository, provider ProviderClient, deadlines *inactivity.Scheduler, eventBus bus.EventBus, cfg Config, log *logger.Logger) *Processor {
	if cfg.PollLimit <= 0 {
		cfg.PollLimit = DefaultConfig().PollLimit
	}
	plog := log.WithFields(zap.String("component", "flex-pipeline"))
	return &Processor{
		repo:      repo,
		provider:  provider,
		deadlines: deadlines,
		eventBus:  eventBus,
		names:     newWorkerNames(provider, plog),
		cfg:       cfg,
		logger:    plog,
		now:       time.Now,
	}
}

// Process runs one polling pass and reports how many candidate tasks the
// pass saw. Candidates are conversation-backed provider tasks, counted
// before reservation filtering; the dispatcher uses the count to decide
// whether the internal pipeline still needs to run.
func (p *Processor) Process(ctx context.Context) (int, error) {
	if !p.provider.Configured() {
		p.warnOnce("unconfigured", "Provider credentials missing, skipping provider tasks")
		return 0, nil
	}
	workspaceSid := p.workspace(ctx)
	if workspaceSid == "" {
		return 0, nil
	}

	tasks, err := p.provider.ListAssignedTasks(ctx, workspaceSid, []string{taskStatusAssigned, taskStatusReserved}, p.cfg.PollLimit)
	if err != nil {
		p.logger.Warn("Provider task poll failed", zap.Error(err))
		return 0, nil
	}

	candidates := 0
	for _, task := range tasks {
		attrs := parseTaskAttributes(task.Attributes)
		conversationSid, ok := attrs.conversationSid()
		if !ok {
			continue
		}
		candidates++
		if err := p.processTask(ctx, workspaceSid, task, conversationSid, attrs); err != nil {
			return candidates, err
		}
	}
	return candidates, nil
}

// workspace returns the task-router workspace sid, resolving and caching it
// on first use. Detection failures warn once and are retried silently on
// later ticks.
func (p *Processor) workspace(ctx context.Context) string {
	p.workspaceMu.Lock()
	defer p.workspaceMu.Unlock()

	if p.workspaceSid != "" {
		return p.workspaceSid
	}
	if p.cfg.WorkspaceSid != "" {
		p.workspaceSid = p.cfg.WorkspaceSid
		return p.workspaceSid
	}

	workspaces, err := p.provider.ListWorkspaces(ctx)
	if err != nil {
		p.warnOnce("workspace", "Workspace auto-detection failed", zap.Error(err))
		return ""
	}
	sid := pickWorkspace(workspaces)
	if sid == "" {
		p.warnOnce("workspace", "No unambiguous workspace to poll", zap.Int("workspaces", len(workspaces)))
		return ""
	}
	p.workspaceSid = sid
	p.logger.Info("Workspace auto-detected", zap.String("workspace_sid", sid))
	return sid
}

// pickWorkspace accepts a sole workspace outright, otherwise the single one
// whose friendly name mentions flex.
func pickWorkspace(workspaces []twilio.Workspace) string {
	if len(workspaces) == 1 {
		return workspaces[0].Sid
	}
	var sid string
	var matches int
	for _, ws := range workspaces {
		if strings.Contains(strings.ToLower(ws.FriendlyName), "flex") {
			sid = ws.Sid
			matches++
		}
	}
	if matches == 1 {
		return sid
	}
	return ""
}

func (p *Processor) processTask(ctx context.Context, workspaceSid string, task twilio.Task, conversationSid string, attrs taskAttributes) error {
	reservations, err := p.provider.ListAcceptedReservations(ctx, workspaceSid, task.Sid, 1)
	if err != nil {
		p.logger.Warn("Reservation lookup failed",
			zap.String("task_sid", task.Sid),
			zap.Error(err))
		return nil
	}
	if len(reservations) == 0 {
		return nil
	}
	reservation := reservations[0]

	customerName := attrs.customerName()
	fallbackName := strings.TrimSpace(reservation.WorkerName)
	if fallbackName == "" {
		fallbackName = templates.DefaultOperatorName
	}
	workerName := p.resolveWorkerName(ctx, workspaceSid, task.Sid, reservation.WorkerSid, fallbackName)

	flexTask := &models.FlexTask{
		TaskSid:              task.Sid,
		ConversationSid:      &conversationSid,
		ChannelType:          attrs.stringField("channelType"),
		CustomerName:         &customerName,
		CustomerAddress:      attrs.stringField("customerAddress"),
		CustomerFrom:         attrs.stringField("from"),
		WorkerSid:            optionalString(reservation.WorkerSid),
		WorkerName:           &workerName,
		TaskAssignmentStatus: optionalString(task.AssignmentStatus),
		TaskAttributes:       optionalString(task.Attributes),
	}
	if err := p.repo.UpsertFlexTask(ctx, flexTask); err != nil {
		return fmt.Errorf("upsert provider task %s: %w", task.Sid, err)
	}
	p.publishFlexEvent(ctx, events.FlexTaskUpserted, flexTask)

	// Reload to see the lifecycle marks the upsert preserves.
	row, err := p.repo.GetFlexTask(ctx, task.Sid)
	if err != nil {
		return fmt.Errorf("reload provider task %s: %w", task.Sid, err)
	}

	if row.GreetingSentAt != nil {
		p.watchGreeted(row)
		return nil
	}

	identity, ok := p.workerIdentity(ctx, conversationSid, reservation.WorkerSid, workerName, row)
	if !ok {
		p.warnOnce("participant:"+task.Sid, "Worker not in conversation yet, greeting deferred",
			zap.String("task_sid", task.Sid),
			zap.String("conversation_sid", conversationSid))
		return nil
	}

	body := templates.Greeting(customerName, workerName)
	if _, err := p.provider.PostConversationMessage(ctx, conversationSid, identity, body); err != nil {
		p.logger.Warn("Greeting send failed",
			zap.String("task_sid", task.Sid),
			zap.Error(err))
		// Next tick retries; the row still has no greeting mark.
		return nil
	}
	sentAt := p.now().UTC()
	if err := p.repo.SetFlexGreetingSent(ctx, task.Sid, sentAt); err != nil {
		return fmt.Errorf("record greeting for %s: %w", task.Sid, err)
	}
	row.GreetingSentAt = &sentAt
	p.publishFlexEvent(ctx, events.FlexTaskUpserted, row)
	p.deadlines.Schedule(task.Sid, sentAt, p.onPing, p.onInactive)
	p.logger.Info("Greeting posted to conversation",
		zap.String("task_sid", task.Sid),
		zap.String("conversation_sid", conversationSid),
		zap.String("author", identity))
	return nil
}

// resolveWorkerName prefers a previously stored display name over another
// provider fetch. A stored name equal to the fallback is not trusted: it may
// be the remnant of an earlier failed fetch, so the cache gets a chance to
// improve on it.
func (p *Processor) resolveWorkerName(ctx context.Context, workspaceSid, taskSid, workerSid, fallbackName string) string {
	if stored, err := p.repo.GetFlexTask(ctx, taskSid); err == nil && stored.WorkerName != nil {
		name := strings.TrimSpace(*stored.WorkerName)
		if name != "" && name != fallbackName && name != templates.DefaultOperatorName {
			return name
		}
	}
	return p.names.Resolve(ctx, workspaceSid, workerSid, fallbackName)
}

// watchGreeted mirrors the internal pipeline's greeted branch over flex
// columns: spoken or finished epochs drop their deadlines, silent ones get
// re-armed after a restart.
func (p *Processor) watchGreeted(row *models.FlexTask) {
	if activityAfter(row.LastCustomerActivityAt, row.GreetingSentAt) {
		p.deadlines.Cancel(row.TaskSid)
		return
	}
	if row.InactiveSentAt != nil {
		p.deadlines.Cancel(row.TaskSid)
		return
	}
	if p.deadlines.Has(row.TaskSid) {
		return
	}
	p.deadlines.Schedule(row.TaskSid, row.GreetingSentAt.UTC(), p.onPing, p.onInactive)
}

// Drop cancels the armed deadlines of a provider task. The conversation
// activity sink calls this when the customer writes; the mirrored row keeps
// the activity mark either way.
func (p *Processor) Drop(taskSid string) {
	p.deadlines.Cancel(taskSid)
}

// workerIdentity lists the conversation participants and picks the one that
// belongs to the assigned worker.
func (p *Processor) workerIdentity(ctx context.Context, conversationSid, workerSid, workerName string, row *models.FlexTask) (string, bool) {
	participants, err := p.provider.ListConversationParticipants(ctx, conversationSid, participantPageLimit)
	if err != nil {
		p.logger.Warn("Participant lookup failed",
			zap.String("conversation_sid", conversationSid),
			zap.Error(err))
		return "", false
	}
	return resolveWorkerIdentity(participants, workerSid, identityHints{
		workerName:      workerName,
		customerAddress: stringValue(row.CustomerAddress),
		customerFrom:    stringValue(row.CustomerFrom),
	})
}

func (p *Processor) onPing(taskSid string) {
	ctx := context.Background()
	row, err := p.repo.GetFlexTask(ctx, taskSid)
	if err != nil {
		p.logger.Warn("Ping skipped, provider task row unavailable",
			zap.String("task_sid", taskSid),
			zap.Error(err))
		return
	}
	if row.GreetingSentAt == nil || row.PingSentAt != nil || row.ConversationSid == nil {
		return
	}
	if activityAfter(row.LastCustomerActivityAt, row.GreetingSentAt) {
		return
	}

	identity, ok := p.workerIdentity(ctx, *row.ConversationSid, stringValue(row.WorkerSid), stringValue(row.WorkerName), row)
	if !ok {
		// The close deadline still covers this task.
		p.logger.Warn("Ping skipped, worker participant unresolved",
			zap.String("task_sid", taskSid))
		return
	}
	body := templates.Ping(customerNameOf(row))
	if _, err := p.provider.PostConversationMessage(ctx, *row.ConversationSid, identity, body); err != nil {
		p.logger.Warn("Ping send failed",
			zap.String("task_sid", taskSid),
			zap.Error(err))
		return
	}
	if err := p.repo.SetFlexPingSent(ctx, taskSid, p.now().UTC()); err != nil {
		p.logger.Error("Ping sent but not recorded",
			zap.String("task_sid", taskSid),
			zap.Error(err))
		return
	}
	p.publishFlexEvent(ctx, events.FlexTaskUpserted, row)
	p.logger.Info("Inactivity ping posted",
		zap.String("task_sid", taskSid))
}

func (p *Processor) onInactive(taskSid string) {
	ctx := context.Background()
	row, err := p.repo.GetFlexTask(ctx, taskSid)
	if err != nil {
		p.logger.Warn("Close skipped, provider task row unavailable",
			zap.String("task_sid", taskSid),
			zap.Error(err))
		return
	}
	if row.GreetingSentAt == nil || row.InactiveSentAt != nil || row.ConversationSid == nil {
		return
	}
	if activityAfter(row.LastCustomerActivityAt, row.GreetingSentAt) {
		return
	}
	conversationSid := *row.ConversationSid

	identity, ok := p.workerIdentity(ctx, conversationSid, stringValue(row.WorkerSid), stringValue(row.WorkerName), row)
	if !ok {
		p.logger.Warn("Close skipped, worker participant unresolved",
			zap.String("task_sid", taskSid))
		// Drop the spent deadline pair so the next tick re-arms and retries.
		p.deadlines.Cancel(taskSid)
		return
	}
	body := templates.Closure(customerNameOf(row))
	if _, err := p.provider.PostConversationMessage(ctx, conversationSid, identity, body); err != nil {
		p.logger.Warn("Closure send failed",
			zap.String("task_sid", taskSid),
			zap.Error(err))
		p.deadlines.Cancel(taskSid)
		return
	}
	if err := p.repo.SetFlexInactiveSent(ctx, taskSid, p.now().UTC()); err != nil {
		p.logger.Error("Closure sent but not recorded",
			zap.String("task_sid", taskSid),
			zap.Error(err))
		p.deadlines.Cancel(taskSid)
		return
	}

	if p.cfg.CloseConversation {
		if err := p.provider.CloseConversation(ctx, conversationSid); err != nil {
			p.logger.Warn("Conversation close failed",
				zap.String("conversation_sid", conversationSid),
				zap.Error(err))
		}
	}
	if p.cfg.CompleteTask {
		if workspaceSid := p.workspace(ctx); workspaceSid != "" {
			if err := p.provider.CompleteTask(ctx, workspaceSid, taskSid, "inactivity"); err != nil {
				p.logger.Warn("Task completion failed",
					zap.String("task_sid", taskSid),
					zap.Error(err))
			}
		}
	}

	p.publishFlexEvent(ctx, events.FlexTaskClosed, row)
	p.deadlines.Cancel(taskSid)
	p.logger.Info("Conversation closed for inactivity",
		zap.String("task_sid", taskSid),
		zap.String("conversation_sid", conversationSid))
}

func (p *Processor) publishFlexEvent(ctx context.Context, eventType string, row *models.FlexTask) {
	if p.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"task_sid":          row.TaskSid,
		"conversation_sid":  stringValue(row.ConversationSid),
		"customer_name":     stringValue(row.CustomerName),
		"worker_name":       stringValue(row.WorkerName),
		"assignment_status": stringValue(row.TaskAssignmentStatus),
	}
	event := bus.NewEvent(eventType, "flex-pipeline", data)
	if err := p.eventBus.Publish(ctx, eventType, event); err != nil {
		p.logger.Error("Failed to publish provider task event",
			zap.String("event_type", eventType),
			zap.String("task_sid", row.TaskSid),
			zap.Error(err))
	}
}

func (p *Processor) warnOnce(key, msg string, fields ...zap.Field) {
	if _, seen := p.warned.LoadOrStore(key, struct{}{}); !seen {
		p.logger.Warn(msg, fields...)
	}
}

func customerNameOf(row *models.FlexTask) string {
	if name := strings.TrimSpace(stringValue(row.CustomerName)); name != "" {
		return name
	}
	return templates.DefaultCustomerName
}

func activityAfter(activity, greeting *time.Time) bool {
	return activity != nil && greeting != nil && activity.After(*greeting)
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
