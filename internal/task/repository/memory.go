package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flexops/flexops/internal/task/models"
	v1 "github.com/flexops/flexops/pkg/api/v1"
)

// MemoryRepository provides in-memory task storage operations. It mirrors the
// SQL implementation's semantics closely enough for pipeline tests: epoch
// clearing, assigned_at stability, mark preservation on upsert.
type MemoryRepository struct {
	tasks          map[string]*models.Task
	flexTasks      map[string]*models.FlexTask
	byConversation map[string]string // conversation sid -> task sid
	mu             sync.RWMutex
}

// Ensure MemoryRepository implements Repository interface
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory task repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks:          make(map[string]*models.Task),
		flexTasks:      make(map[string]*models.FlexTask),
		byConversation: make(map[string]string),
	}
}

// Close is a no-op for in-memory repository
func (r *MemoryRepository) Close() error {
	return nil
}

// Internal task operations

// CreateTask creates a new task
func (r *MemoryRepository) CreateTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = v1.TaskStatusOpen
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	stored := *task
	r.tasks[task.ID] = &stored
	return nil
}

// GetTask retrieves a task by ID
func (r *MemoryRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	clone := *task
	return &clone, nil
}

// DeleteTask deletes a task by ID
func (r *MemoryRepository) DeleteTask(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	delete(r.tasks, id)
	return nil
}

// ListTasks returns tasks, optionally filtered by status, newest first
func (r *MemoryRepository) ListTasks(ctx context.Context, status v1.TaskStatus) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Task
	for _, task := range r.tasks {
		if status != "" && task.Status != status {
			continue
		}
		clone := *task
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// SearchTasksByCustomer returns tasks whose customer name contains the query,
// newest first
func (r *MemoryRepository) SearchTasksByCustomer(ctx context.Context, query string) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(query)
	var result []*models.Task
	for _, task := range r.tasks {
		if !strings.Contains(strings.ToLower(task.CustomerName), needle) {
			continue
		}
		clone := *task
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ListAssignedTasks returns up to limit assigned tasks, oldest first
func (r *MemoryRepository) ListAssignedTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Task
	for _, task := range r.tasks {
		if task.Status != v1.TaskStatusAssigned {
			continue
		}
		clone := *task
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// FindAssignedByContact returns the most recently updated assigned task for a contact
func (r *MemoryRepository) FindAssignedByContact(ctx context.Context, contact string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.Task
	for _, task := range r.tasks {
		if task.Status != v1.TaskStatusAssigned || task.CustomerContact != contact {
			continue
		}
		if best == nil || task.UpdatedAt.After(best.UpdatedAt) {
			best = task
		}
	}
	if best == nil {
		return nil, fmt.Errorf("task not found for contact: %s", contact)
	}
	clone := *best
	return &clone, nil
}

// AssignTask sets the operator and moves the task to assigned
func (r *MemoryRepository) AssignTask(ctx context.Context, id, operatorID, operatorName string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	task.OperatorID = &operatorID
	task.OperatorName = &operatorName
	task.Status = v1.TaskStatusAssigned
	if task.AssignedAt == nil {
		assignedAt := at
		task.AssignedAt = &assignedAt
	}
	task.UpdatedAt = at
	return nil
}

// SetGreetingSent records the greeting timestamp and clears the epoch marks
func (r *MemoryRepository) SetGreetingSent(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	greetingAt := at
	task.GreetingSentAt = &greetingAt
	task.PingSentAt = nil
	task.InactiveSentAt = nil
	task.UpdatedAt = at
	return nil
}

// SetPingSent records the ping timestamp
func (r *MemoryRepository) SetPingSent(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	pingAt := at
	task.PingSentAt = &pingAt
	task.UpdatedAt = at
	return nil
}

// SetLastCustomerActivity records an inbound customer message timestamp
func (r *MemoryRepository) SetLastCustomerActivity(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	activityAt := at
	task.LastCustomerActivityAt = &activityAt
	task.UpdatedAt = at
	return nil
}

// CloseDueToInactivity marks the inactivity closure and terminates the task
func (r *MemoryRepository) CloseDueToInactivity(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	closeAt := at
	reason := v1.CloseReasonInactivity
	task.InactiveSentAt = &closeAt
	task.Status = v1.TaskStatusClosed
	task.ClosedAt = &closeAt
	task.CloseReason = &reason
	task.UpdatedAt = at
	return nil
}

// Flex task operations

// UpsertFlexTask writes observed state, preserving marks and creation time
func (r *MemoryRepository) UpsertFlexTask(ctx context.Context, task *models.FlexTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := *task
	stored.UpdatedAt = now

	if existing, ok := r.flexTasks[task.TaskSid]; ok {
		stored.CreatedAt = existing.CreatedAt
		stored.GreetingSentAt = existing.GreetingSentAt
		stored.PingSentAt = existing.PingSentAt
		stored.InactiveSentAt = existing.InactiveSentAt
		stored.LastCustomerActivityAt = existing.LastCustomerActivityAt
	} else {
		// Fresh rows never carry marks, the SQL insert path omits those columns
		stored.GreetingSentAt = nil
		stored.PingSentAt = nil
		stored.InactiveSentAt = nil
		stored.LastCustomerActivityAt = nil
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	}

	r.flexTasks[task.TaskSid] = &stored
	if task.ConversationSid != nil && *task.ConversationSid != "" {
		r.byConversation[*task.ConversationSid] = task.TaskSid
	}
	return nil
}

// GetFlexTask retrieves a flex task by its provider sid
func (r *MemoryRepository) GetFlexTask(ctx context.Context, taskSid string) (*models.FlexTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.flexTasks[taskSid]
	if !ok {
		return nil, fmt.Errorf("flex task not found: %s", taskSid)
	}
	clone := *task
	return &clone, nil
}

// GetFlexTaskByConversation resolves a conversation sid to its flex task
func (r *MemoryRepository) GetFlexTaskByConversation(ctx context.Context, conversationSid string) (*models.FlexTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	taskSid, ok := r.byConversation[conversationSid]
	if !ok {
		return nil, fmt.Errorf("flex task not found for conversation: %s", conversationSid)
	}
	task, ok := r.flexTasks[taskSid]
	if !ok {
		return nil, fmt.Errorf("flex task not found: %s", taskSid)
	}
	clone := *task
	return &clone, nil
}

// ListFlexTasks returns all mirrored flex tasks, most recently updated first
func (r *MemoryRepository) ListFlexTasks(ctx context.Context) ([]*models.FlexTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.FlexTask
	for _, task := range r.flexTasks {
		clone := *task
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// SetFlexGreetingSent records the greeting timestamp and clears the epoch marks
func (r *MemoryRepository) SetFlexGreetingSent(ctx context.Context, taskSid string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.flexTasks[taskSid]
	if !ok {
		return fmt.Errorf("flex task not found: %s", taskSid)
	}
	greetingAt := at
	task.GreetingSentAt = &greetingAt
	task.PingSentAt = nil
	task.InactiveSentAt = nil
	task.UpdatedAt = at
	return nil
}

// SetFlexPingSent records the ping timestamp
func (r *MemoryRepository) SetFlexPingSent(ctx context.Context, taskSid string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.flexTasks[taskSid]
	if !ok {
		return fmt.Errorf("flex task not found: %s", taskSid)
	}
	pingAt := at
	task.PingSentAt = &pingAt
	task.UpdatedAt = at
	return nil
}

// SetFlexInactiveSent records the inactivity closure timestamp
func (r *MemoryRepository) SetFlexInactiveSent(ctx context.Context, taskSid string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.flexTasks[taskSid]
	if !ok {
		return fmt.Errorf("flex task not found: %s", taskSid)
	}
	inactiveAt := at
	task.InactiveSentAt = &inactiveAt
	task.UpdatedAt = at
	return nil
}

// SetFlexLastCustomerActivity records an inbound customer message timestamp
func (r *MemoryRepository) SetFlexLastCustomerActivity(ctx context.Context, taskSid string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.flexTasks[taskSid]
	if !ok {
		return fmt.Errorf("flex task not found: %s", taskSid)
	}
	activityAt := at
	task.LastCustomerActivityAt = &activityAt
	task.UpdatedAt = at
	return nil
}
