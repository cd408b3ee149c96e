// Package sms watches operator-assigned internal tasks and drives the
// greeting, ping, and inactivity-close messages over SMS.
package sms

import (
	"context"
	"fmt"
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
	v1 "github.com/flexops/flexops/pkg/api/v1"
)

// MessageSender is the slice of the provider client this pipeline needs.
type MessageSender interface {
	SendSMS(ctx context.Context, to, body string) (*twilio.Message, error)
}

// Processor runs one pass over assigned internal tasks per tick and owns
// the deadline callbacks for them.
type Processor struct {
	repo      repository.Repository
	sender    MessageSender
	deadlines *inactivity.Scheduler
	eventBus  bus.EventBus
	logger    *logger.Logger
	batchSize int

	now func() time.Time
}

// NewProcessor creates the internal-task pipeline.
func NewProcessor(
	repo repository.Repository,
	sender MessageSender,
	deadlines *inactivity.Scheduler,
	eventBus bus.EventBus,
	batchSize int,
	log *logger.Logger,
) *Processor {
	return &Processor{
		repo:      repo,
		sender:    sender,
		deadlines: deadlines,
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "sms-pipeline")),
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Process runs one reconciliation pass. It returns the number of candidate
// tasks it saw; a persistence error ends the pass early.
func (p *Processor) Process(ctx context.Context) (int, error) {
	tasks, err := p.repo.ListAssignedTasks(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list assigned tasks: %w", err)
	}

	for _, task := range tasks {
		if err := p.processTask(ctx, task); err != nil {
			return len(tasks), err
		}
	}
	return len(tasks), nil
}

func (p *Processor) processTask(ctx context.Context, task *models.Task) error {
	if task.Status != v1.TaskStatusAssigned || task.OperatorID == nil {
		return nil
	}

	if task.GreetingSentAt != nil {
		p.watchGreeted(task)
		return nil
	}

	operatorName := ""
	if task.OperatorName != nil {
		operatorName = *task.OperatorName
	}
	body := templates.Greeting(task.CustomerName, operatorName)
	if _, err := p.sender.SendSMS(ctx, task.CustomerContact, body); err != nil {
		// Next tick retries; the task still has no greeting mark.
		p.logger.Warn("greeting send failed",
			zap.String("task_id", task.ID),
			zap.Error(err))
		return nil
	}

	now := p.now().UTC()
	if err := p.repo.SetGreetingSent(ctx, task.ID, now); err != nil {
		return fmt.Errorf("record greeting for %s: %w", task.ID, err)
	}
	p.publishTaskEvent(ctx, events.TaskGreetingSent, task)
	p.deadlines.Schedule(task.ID, now, p.onPing, p.onInactive)
	p.logger.Info("greeting sent",
		zap.String("task_id", task.ID),
		zap.String("customer_contact", task.CustomerContact))
	return nil
}

// watchGreeted keeps the deadline pair of an already-greeted task in the
// right state: cancelled once the customer replied or the epoch finished,
// armed otherwise.
func (p *Processor) watchGreeted(task *models.Task) {
	if activityAfter(task.LastCustomerActivityAt, task.GreetingSentAt) {
		p.deadlines.Cancel(task.ID)
		return
	}
	if task.InactiveSentAt != nil {
		p.deadlines.Cancel(task.ID)
		return
	}
	if p.deadlines.Has(task.ID) {
		return
	}
	p.deadlines.Schedule(task.ID, task.GreetingSentAt.UTC(), p.onPing, p.onInactive)
}

// Arm schedules the ping and close deadlines for a greeted task, replacing
// any pair already armed. The handoff commands call this so deadlines start
// counting without waiting for the next poll.
func (p *Processor) Arm(taskID string, greetingSentAt time.Time) {
	p.deadlines.Schedule(taskID, greetingSentAt.UTC(), p.onPing, p.onInactive)
}

// Drop cancels the armed deadlines of a task after customer activity.
func (p *Processor) Drop(taskID string) {
	p.deadlines.Cancel(taskID)
}

// onPing runs at greeting+pingOffset. It re-reads the row because the
// customer may have replied, or another process may have pinged, after the
// deadline was armed.
func (p *Processor) onPing(taskID string) {
	ctx := context.Background()
	task, err := p.repo.GetTask(ctx, taskID)
	if err != nil {
		p.logger.Warn("ping deadline: task fetch failed",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	if task.Status != v1.TaskStatusAssigned || task.GreetingSentAt == nil || task.PingSentAt != nil {
		return
	}
	if activityAfter(task.LastCustomerActivityAt, task.GreetingSentAt) {
		return
	}

	if _, err := p.sender.SendSMS(ctx, task.CustomerContact, templates.Ping(task.CustomerName)); err != nil {
		// The close deadline still covers this task.
		p.logger.Warn("ping send failed",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	if err := p.repo.SetPingSent(ctx, taskID, p.now().UTC()); err != nil {
		p.logger.Error("failed to record ping",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	p.publishTaskEvent(ctx, events.TaskPingSent, task)
	p.logger.Info("ping sent", zap.String("task_id", taskID))
}

// onInactive runs at greeting+inactiveOffset and closes the task when the
// customer never replied. The ping mark is not required: a failed or
// skipped ping does not keep a silent task open.
func (p *Processor) onInactive(taskID string) {
	ctx := context.Background()
	task, err := p.repo.GetTask(ctx, taskID)
	if err != nil {
		p.logger.Warn("close deadline: task fetch failed",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	if task.Status != v1.TaskStatusAssigned || task.GreetingSentAt == nil || task.InactiveSentAt != nil {
		return
	}
	if activityAfter(task.LastCustomerActivityAt, task.GreetingSentAt) {
		return
	}

	if _, err := p.sender.SendSMS(ctx, task.CustomerContact, templates.Closure(task.CustomerName)); err != nil {
		p.logger.Warn("closure send failed",
			zap.String("task_id", taskID),
			zap.Error(err))
		// Drop the spent deadline pair so the next tick re-arms and retries.
		p.deadlines.Cancel(taskID)
		return
	}
	if err := p.repo.CloseDueToInactivity(ctx, taskID, p.now().UTC()); err != nil {
		p.logger.Error("failed to close task",
			zap.String("task_id", taskID),
			zap.Error(err))
		p.deadlines.Cancel(taskID)
		return
	}
	task.Status = v1.TaskStatusClosed
	p.publishTaskEvent(ctx, events.TaskClosed, task)
	p.deadlines.Cancel(taskID)
	p.logger.Info("task closed for inactivity", zap.String("task_id", taskID))
}

func (p *Processor) publishTaskEvent(ctx context.Context, eventType string, task *models.Task) {
	if p.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"task_id":          task.ID,
		"customer_name":    task.CustomerName,
		"customer_contact": task.CustomerContact,
		"status":           string(task.Status),
	}
	event := bus.NewEvent(eventType, "sms-pipeline", data)
	if err := p.eventBus.Publish(ctx, eventType, event); err != nil {
		p.logger.Error("failed to publish task event",
			zap.String("event_type", eventType),
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

// activityAfter reports whether the customer wrote after the greeting.
func activityAfter(activity, greeting *time.Time) bool {
	if activity == nil || greeting == nil {
		return false
	}
	return activity.After(*greeting)
}
