// Package service implements the task lifecycle around chatbot-to-operator
// handoff: CRUD for internal tasks, the handoff commands that put a task in
// an operator's hands and start the inactivity windows, and the webhook
// sinks that feed customer replies back into the engine.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/events"
	"github.com/flexops/flexops/internal/events/bus"
	"github.com/flexops/flexops/internal/task/models"
	"github.com/flexops/flexops/internal/task/repository"
	"github.com/flexops/flexops/internal/twilio"
	v1 "github.com/flexops/flexops/pkg/api/v1"
)

// DeadlineController lets the handoff commands and activity sinks drive the
// per-task deadlines the polling engine owns. The service stays correct
// without one: the next poll re-derives deadlines from the persisted marks.
type DeadlineController interface {
	ArmDeadlines(taskID string, greetingSentAt time.Time)
	CancelDeadlines(taskID string)
	CancelProviderDeadlines(taskSid string)
}

// GreetingSender posts the outbound handoff greeting.
type GreetingSender interface {
	SendSMS(ctx context.Context, to, body string) (*twilio.Message, error)
}

var (
	ErrCustomerRequired = errors.New("customer_name and customer_contact are required")
	ErrOperatorRequired = errors.New("operator_id is required")
	ErrTaskNotAssigned  = errors.New("task is not assigned to an operator")
	ErrGreetingNotSent  = errors.New("greeting could not be delivered")
)

// Service provides task business logic
type Service struct {
	repo             repository.Repository
	sender           GreetingSender
	eventBus         bus.EventBus
	deadlines        DeadlineController
	automationAuthor string
	logger           *logger.Logger
	now              func() time.Time
}

// NewService creates a new task service
func NewService(repo repository.Repository, sender GreetingSender, eventBus bus.EventBus, automationAuthor string, log *logger.Logger) *Service {
	if strings.TrimSpace(automationAuthor) == "" {
		automationAuthor = "System"
	}
	return &Service{
		repo:             repo,
		sender:           sender,
		eventBus:         eventBus,
		automationAuthor: automationAuthor,
		logger:           log,
		now:              time.Now,
	}
}

// SetDeadlineController wires the inactivity engine so commands and sinks
// arm and cancel deadlines immediately instead of waiting for the next poll.
func (s *Service) SetDeadlineController(dc DeadlineController) {
	s.deadlines = dc
}

// Request types

// CreateTaskRequest contains the data for creating a new task
type CreateTaskRequest struct {
	CustomerName    string `json:"customer_name"`
	CustomerContact string `json:"customer_contact"`
}

// AssignRequest names the operator taking over a task.
type AssignRequest struct {
	OperatorID   string `json:"operator_id"`
	OperatorName string `json:"operator_name"`
}

// StartHandoffRequest drives the one-call assign-and-greet flow. A nil
// SendGreeting means true.
type StartHandoffRequest struct {
	OperatorID   string `json:"operator_id"`
	OperatorName string `json:"operator_name"`
	SendGreeting *bool  `json:"send_greeting,omitempty"`
}

// Task operations

// CreateTask creates a new task and publishes a task.created event
func (s *Service) CreateTask(ctx context.Context, req *CreateTaskRequest) (*models.Task, error) {
	name := strings.TrimSpace(req.CustomerName)
	contact := strings.TrimSpace(req.CustomerContact)
	if name == "" || contact == "" {
		return nil, ErrCustomerRequired
	}

	task := &models.Task{
		ID:              uuid.New().String(),
		CustomerName:    name,
		CustomerContact: contact,
		Status:          v1.TaskStatusOpen,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		s.logger.Error("failed to create task", zap.Error(err))
		return nil, err
	}

	s.publishTaskEvent(ctx, events.TaskCreated, task)
	s.logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("customer_contact", task.CustomerContact))
	return task, nil
}

// GetTask returns a task by id.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.repo.GetTask(ctx, id)
}

// ListTasks returns tasks, optionally filtered by status. An empty status
// means all tasks.
func (s *Service) ListTasks(ctx context.Context, status v1.TaskStatus) ([]*models.Task, error) {
	return s.repo.ListTasks(ctx, status)
}

// SearchTasks returns tasks whose customer name contains the query.
func (s *Service) SearchTasks(ctx context.Context, query string) ([]*models.Task, error) {
	return s.repo.SearchTasksByCustomer(ctx, query)
}

// ListFlexTasks returns the provider task rows the flex pipeline mirrors.
func (s *Service) ListFlexTasks(ctx context.Context) ([]*models.FlexTask, error) {
	return s.repo.ListFlexTasks(ctx)
}

// DeleteTask removes a task and drops any deadlines still armed for it.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTask(ctx, id); err != nil {
		s.logger.Error("failed to delete task",
			zap.String("task_id", id),
			zap.Error(err))
		return err
	}

	s.cancelDeadlines(id)
	s.publishTaskEvent(ctx, events.TaskDeleted, task)
	s.logger.Info("task deleted", zap.String("task_id", id))
	return nil
}

// Nil-safe deadline helpers. A service without a controller still persists
// every mark; only the immediacy is lost.

func (s *Service) armDeadlines(taskID string, at time.Time) {
	if s.deadlines != nil {
		s.deadlines.ArmDeadlines(taskID, at)
	}
}

func (s *Service) cancelDeadlines(taskID string) {
	if s.deadlines != nil {
		s.deadlines.CancelDeadlines(taskID)
	}
}

func (s *Service) cancelProviderDeadlines(taskSid string) {
	if s.deadlines != nil {
		s.deadlines.CancelProviderDeadlines(taskSid)
	}
}
