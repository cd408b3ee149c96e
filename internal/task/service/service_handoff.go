package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/events"
	"github.com/flexops/flexops/internal/orchestrator/templates"
	"github.com/flexops/flexops/internal/task/models"
	v1 "github.com/flexops/flexops/pkg/api/v1"
)

// Handoff commands. Each is an operator-facing action on an internal task;
// domain violations surface as typed errors for the handlers to map.

// Assign puts the task in the operator's hands and publishes a
// task.assigned event. assignedAt is written on the first assignment only;
// reassignment keeps the original timestamp.
func (s *Service) Assign(ctx context.Context, taskID string, req *AssignRequest) (*models.Task, error) {
	if req == nil || req.OperatorID == "" {
		return nil, ErrOperatorRequired
	}

	if err := s.repo.AssignTask(ctx, taskID, req.OperatorID, req.OperatorName, s.now().UTC()); err != nil {
		return nil, err
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	s.publishTaskEvent(ctx, events.TaskAssigned, task)
	s.logger.Info("task assigned",
		zap.String("task_id", taskID),
		zap.String("operator_id", req.OperatorID))
	return task, nil
}

// StartHandoff assigns the task and sends the greeting in one call. A failed
// greeting send fails the whole call: the task stays assigned and ungreeted,
// so the polling engine or a retried call picks it up.
func (s *Service) StartHandoff(ctx context.Context, taskID string, req *StartHandoffRequest) (*models.Task, error) {
	if req == nil || req.OperatorID == "" {
		return nil, ErrOperatorRequired
	}

	task, err := s.Assign(ctx, taskID, &AssignRequest{OperatorID: req.OperatorID, OperatorName: req.OperatorName})
	if err != nil {
		return nil, err
	}
	if req.SendGreeting != nil && !*req.SendGreeting {
		return task, nil
	}

	operatorName := ""
	if task.OperatorName != nil {
		operatorName = *task.OperatorName
	}
	if s.sender == nil {
		return nil, ErrGreetingNotSent
	}
	body := templates.Greeting(task.CustomerName, operatorName)
	if _, err := s.sender.SendSMS(ctx, task.CustomerContact, body); err != nil {
		s.logger.Warn("greeting send failed",
			zap.String("task_id", taskID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGreetingNotSent, err)
	}

	return s.recordGreeting(ctx, task)
}

// RegisterGreeting records a greeting the operator delivered through an
// outside channel and starts a fresh inactivity epoch. The task must be
// assigned.
func (s *Service) RegisterGreeting(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != v1.TaskStatusAssigned {
		return nil, ErrTaskNotAssigned
	}
	return s.recordGreeting(ctx, task)
}

// MarkActivity records explicit customer activity on an internal task and
// cancels any armed ping or close deadlines.
func (s *Service) MarkActivity(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	at := s.now().UTC()
	if err := s.repo.SetLastCustomerActivity(ctx, taskID, at); err != nil {
		s.logger.Error("failed to record activity",
			zap.String("task_id", taskID),
			zap.Error(err))
		return nil, err
	}
	task.LastCustomerActivityAt = &at

	s.cancelDeadlines(taskID)
	s.publishTaskEvent(ctx, events.TaskActivity, task)
	s.logger.Info("customer activity marked", zap.String("task_id", taskID))
	return task, nil
}

// recordGreeting stamps greetingSentAt and arms the deadline pair. The store
// clears the ping and inactive marks of any earlier epoch in the same write,
// and Schedule replaces any deadlines still armed from it.
func (s *Service) recordGreeting(ctx context.Context, task *models.Task) (*models.Task, error) {
	at := s.now().UTC()
	if err := s.repo.SetGreetingSent(ctx, task.ID, at); err != nil {
		s.logger.Error("failed to record greeting",
			zap.String("task_id", task.ID),
			zap.Error(err))
		return nil, err
	}
	task.GreetingSentAt = &at
	task.PingSentAt = nil
	task.InactiveSentAt = nil

	s.publishTaskEvent(ctx, events.TaskGreetingSent, task)
	s.armDeadlines(task.ID, at)
	s.logger.Info("greeting registered", zap.String("task_id", task.ID))
	return task, nil
}
