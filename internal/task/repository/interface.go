package repository

import (
	"context"
	"time"

	"github.com/flexops/flexops/internal/task/models"
	v1 "github.com/flexops/flexops/pkg/api/v1"
)

// Repository defines the interface for task storage operations
type Repository interface {
	// Internal task operations
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, status v1.TaskStatus) ([]*models.Task, error)
	SearchTasksByCustomer(ctx context.Context, query string) ([]*models.Task, error)
	ListAssignedTasks(ctx context.Context, limit int) ([]*models.Task, error)
	FindAssignedByContact(ctx context.Context, contact string) (*models.Task, error)
	AssignTask(ctx context.Context, id, operatorID, operatorName string, at time.Time) error
	SetGreetingSent(ctx context.Context, id string, at time.Time) error
	SetPingSent(ctx context.Context, id string, at time.Time) error
	SetLastCustomerActivity(ctx context.Context, id string, at time.Time) error
	CloseDueToInactivity(ctx context.Context, id string, at time.Time) error

	// Flex task operations
	UpsertFlexTask(ctx context.Context, task *models.FlexTask) error
	GetFlexTask(ctx context.Context, taskSid string) (*models.FlexTask, error)
	GetFlexTaskByConversation(ctx context.Context, conversationSid string) (*models.FlexTask, error)
	ListFlexTasks(ctx context.Context) ([]*models.FlexTask, error)
	SetFlexGreetingSent(ctx context.Context, taskSid string, at time.Time) error
	SetFlexPingSent(ctx context.Context, taskSid string, at time.Time) error
	SetFlexInactiveSent(ctx context.Context, taskSid string, at time.Time) error
	SetFlexLastCustomerActivity(ctx context.Context, taskSid string, at time.Time) error
}
