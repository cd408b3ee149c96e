package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flexops/flexops/internal/common/tracing"
	"github.com/flexops/flexops/internal/db/dialect"
	"github.com/flexops/flexops/internal/task/models"
	v1 "github.com/flexops/flexops/pkg/api/v1"
)

const taskColumns = `id, customer_name, customer_contact, operator_id, operator_name, status, created_at, updated_at, assigned_at, greeting_sent_at, ping_sent_at, inactive_sent_at, last_customer_activity_at, closed_at, close_reason`

// CreateTask creates a new task
func (r *Repository) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = v1.TaskStatusOpen
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO tasks (id, customer_name, customer_contact, operator_id, operator_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.CustomerName, task.CustomerContact, task.OperatorID, task.OperatorName, task.Status, task.CreatedAt, task.UpdatedAt)
	return err
}

// GetTask retrieves a task by ID
func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT `+taskColumns+`
		FROM tasks WHERE id = ?
	`), id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask deletes a task by ID
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// ListTasks returns tasks, optionally filtered by status, newest first
func (r *Repository) ListTasks(ctx context.Context, status v1.TaskStatus) ([]*models.Task, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = r.ro.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			ORDER BY created_at DESC
		`)
	} else {
		rows, err = r.ro.QueryContext(ctx, r.ro.Rebind(`
			SELECT `+taskColumns+`
			FROM tasks
			WHERE status = ?
			ORDER BY created_at DESC
		`), status)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTasks(rows)
}

// SearchTasksByCustomer returns tasks whose customer name contains the query,
// newest first. Case folding is the driver's: ILIKE on postgres, LIKE on
// sqlite.
func (r *Repository) SearchTasksByCustomer(ctx context.Context, query string) ([]*models.Task, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE customer_name `+dialect.Like(r.ro.DriverName())+` ?
		ORDER BY created_at DESC
	`), "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTasks(rows)
}

// ListAssignedTasks returns up to limit assigned tasks, oldest first.
// This is the per-tick read of the reconciliation loop.
func (r *Repository) ListAssignedTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	ctx, span := tracing.Tracer("flexops-db").Start(ctx, "db.ListAssignedTasks")
	defer span.End()
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`), v1.TaskStatusAssigned, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTasks(rows)
}

// FindAssignedByContact returns the most recently updated assigned task for a
// customer contact. A contact can accumulate several closed tasks over time;
// only the freshest assigned one receives the activity mark.
func (r *Repository) FindAssignedByContact(ctx context.Context, contact string) (*models.Task, error) {
	row := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE customer_contact = ? AND status = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`), contact, v1.TaskStatusAssigned)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found for contact: %s", contact)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// AssignTask sets the operator and moves the task to assigned.
// assigned_at is written once and survives reassignment.
func (r *Repository) AssignTask(ctx context.Context, id, operatorID, operatorName string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE tasks
		SET operator_id = ?, operator_name = ?, status = ?, assigned_at = COALESCE(assigned_at, ?), updated_at = ?
		WHERE id = ?
	`), operatorID, operatorName, v1.TaskStatusAssigned, at, at, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// SetGreetingSent records the greeting timestamp and opens a fresh epoch:
// the ping and inactive marks are cleared so the new window can fire again.
func (r *Repository) SetGreetingSent(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE tasks
		SET greeting_sent_at = ?, ping_sent_at = NULL, inactive_sent_at = NULL, updated_at = ?
		WHERE id = ?
	`), at, at, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// SetPingSent records the ping timestamp
func (r *Repository) SetPingSent(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE tasks SET ping_sent_at = ?, updated_at = ? WHERE id = ?
	`), at, at, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// SetLastCustomerActivity records an inbound customer message timestamp
func (r *Repository) SetLastCustomerActivity(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE tasks SET last_customer_activity_at = ?, updated_at = ? WHERE id = ?
	`), at, at, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// CloseDueToInactivity marks the inactivity closure and terminates the task
func (r *Repository) CloseDueToInactivity(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE tasks
		SET inactive_sent_at = ?, status = ?, closed_at = ?, close_reason = ?, updated_at = ?
		WHERE id = ?
	`), at, v1.TaskStatusClosed, at, v1.CloseReasonInactivity, at, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// rowScanner covers both sql.Row and sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var operatorID, operatorName, closeReason sql.NullString
	var assignedAt, greetingSentAt, pingSentAt, inactiveSentAt, lastActivityAt, closedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.CustomerName,
		&task.CustomerContact,
		&operatorID,
		&operatorName,
		&task.Status,
		&task.CreatedAt,
		&task.UpdatedAt,
		&assignedAt,
		&greetingSentAt,
		&pingSentAt,
		&inactiveSentAt,
		&lastActivityAt,
		&closedAt,
		&closeReason,
	)
	if err != nil {
		return nil, err
	}

	if operatorID.Valid {
		task.OperatorID = &operatorID.String
	}
	if operatorName.Valid {
		task.OperatorName = &operatorName.String
	}
	if closeReason.Valid {
		task.CloseReason = &closeReason.String
	}
	if assignedAt.Valid {
		task.AssignedAt = &assignedAt.Time
	}
	if greetingSentAt.Valid {
		task.GreetingSentAt = &greetingSentAt.Time
	}
	if pingSentAt.Valid {
		task.PingSentAt = &pingSentAt.Time
	}
	if inactiveSentAt.Valid {
		task.InactiveSentAt = &inactiveSentAt.Time
	}
	if lastActivityAt.Valid {
		task.LastCustomerActivityAt = &lastActivityAt.Time
	}
	if closedAt.Valid {
		task.ClosedAt = &closedAt.Time
	}
	return task, nil
}

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var result []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, rows.Err()
}
