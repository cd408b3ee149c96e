package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flexops/flexops/internal/common/tracing"
	"github.com/flexops/flexops/internal/task/models"
)

const flexTaskColumns = `task_sid, conversation_sid, channel_type, customer_name, customer_address, customer_from, worker_sid, worker_name, task_assignment_status, task_attributes, greeting_sent_at, ping_sent_at, inactive_sent_at, last_customer_activity_at, created_at, updated_at`

// UpsertFlexTask writes the state observed by the current poll. The automation
// marks and created_at survive the conflict path untouched; polling must never
// reopen an epoch. The conversation lookup row is refreshed in the same
// transaction when a conversation sid is present.
func (r *Repository) UpsertFlexTask(ctx context.Context, task *models.FlexTask) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO flex_tasks (task_sid, conversation_sid, channel_type, customer_name, customer_address, customer_from, worker_sid, worker_name, task_assignment_status, task_attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_sid) DO UPDATE SET
			conversation_sid = excluded.conversation_sid,
			channel_type = excluded.channel_type,
			customer_name = excluded.customer_name,
			customer_address = excluded.customer_address,
			customer_from = excluded.customer_from,
			worker_sid = excluded.worker_sid,
			worker_name = excluded.worker_name,
			task_assignment_status = excluded.task_assignment_status,
			task_attributes = excluded.task_attributes,
			updated_at = excluded.updated_at
	`), task.TaskSid, task.ConversationSid, task.ChannelType, task.CustomerName, task.CustomerAddress, task.CustomerFrom, task.WorkerSid, task.WorkerName, task.TaskAssignmentStatus, task.TaskAttributes, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("failed to rollback flex task upsert: %w", rollbackErr)
		}
		return err
	}

	if task.ConversationSid != nil && *task.ConversationSid != "" {
		_, err = tx.ExecContext(ctx, r.db.Rebind(`
			INSERT INTO flex_tasks_by_conversation (conversation_sid, task_sid)
			VALUES (?, ?)
			ON CONFLICT (conversation_sid) DO UPDATE SET task_sid = excluded.task_sid
		`), *task.ConversationSid, task.TaskSid)
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				return fmt.Errorf("failed to rollback conversation lookup upsert: %w", rollbackErr)
			}
			return err
		}
	}

	return tx.Commit()
}

// GetFlexTask retrieves a flex task by its provider sid
func (r *Repository) GetFlexTask(ctx context.Context, taskSid string) (*models.FlexTask, error) {
	row := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT `+flexTaskColumns+`
		FROM flex_tasks WHERE task_sid = ?
	`), taskSid)

	task, err := scanFlexTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("flex task not found: %s", taskSid)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetFlexTaskByConversation resolves a conversation sid through the lookup
// table to its flex task
func (r *Repository) GetFlexTaskByConversation(ctx context.Context, conversationSid string) (*models.FlexTask, error) {
	row := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT ft.task_sid, ft.conversation_sid, ft.channel_type, ft.customer_name, ft.customer_address, ft.customer_from, ft.worker_sid, ft.worker_name, ft.task_assignment_status, ft.task_attributes, ft.greeting_sent_at, ft.ping_sent_at, ft.inactive_sent_at, ft.last_customer_activity_at, ft.created_at, ft.updated_at
		FROM flex_tasks_by_conversation fc
		JOIN flex_tasks ft ON ft.task_sid = fc.task_sid
		WHERE fc.conversation_sid = ?
	`), conversationSid)

	task, err := scanFlexTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("flex task not found for conversation: %s", conversationSid)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListFlexTasks returns all mirrored flex tasks, most recently updated first
func (r *Repository) ListFlexTasks(ctx context.Context) ([]*models.FlexTask, error) {
	ctx, span := tracing.Tracer("flexops-db").Start(ctx, "db.ListFlexTasks")
	defer span.End()
	rows, err := r.ro.QueryContext(ctx, `
		SELECT `+flexTaskColumns+`
		FROM flex_tasks
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanFlexTasks(rows)
}

// SetFlexGreetingSent records the greeting timestamp and opens a fresh epoch,
// clearing the ping and inactive marks
func (r *Repository) SetFlexGreetingSent(ctx context.Context, taskSid string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE flex_tasks
		SET greeting_sent_at = ?, ping_sent_at = NULL, inactive_sent_at = NULL, updated_at = ?
		WHERE task_sid = ?
	`), at, at, taskSid)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("flex task not found: %s", taskSid)
	}
	return nil
}

// SetFlexPingSent records the ping timestamp
func (r *Repository) SetFlexPingSent(ctx context.Context, taskSid string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE flex_tasks SET ping_sent_at = ?, updated_at = ? WHERE task_sid = ?
	`), at, at, taskSid)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("flex task not found: %s", taskSid)
	}
	return nil
}

// SetFlexInactiveSent records the inactivity closure timestamp
func (r *Repository) SetFlexInactiveSent(ctx context.Context, taskSid string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE flex_tasks SET inactive_sent_at = ?, updated_at = ? WHERE task_sid = ?
	`), at, at, taskSid)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("flex task not found: %s", taskSid)
	}
	return nil
}

// SetFlexLastCustomerActivity records an inbound customer message timestamp
func (r *Repository) SetFlexLastCustomerActivity(ctx context.Context, taskSid string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE flex_tasks SET last_customer_activity_at = ?, updated_at = ? WHERE task_sid = ?
	`), at, at, taskSid)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("flex task not found: %s", taskSid)
	}
	return nil
}

func scanFlexTask(row rowScanner) (*models.FlexTask, error) {
	task := &models.FlexTask{}
	var conversationSid, channelType, customerName, customerAddress, customerFrom sql.NullString
	var workerSid, workerName, assignmentStatus, attributes sql.NullString
	var greetingSentAt, pingSentAt, inactiveSentAt, lastActivityAt sql.NullTime

	err := row.Scan(
		&task.TaskSid,
		&conversationSid,
		&channelType,
		&customerName,
		&customerAddress,
		&customerFrom,
		&workerSid,
		&workerName,
		&assignmentStatus,
		&attributes,
		&greetingSentAt,
		&pingSentAt,
		&inactiveSentAt,
		&lastActivityAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conversationSid.Valid {
		task.ConversationSid = &conversationSid.String
	}
	if channelType.Valid {
		task.ChannelType = &channelType.String
	}
	if customerName.Valid {
		task.CustomerName = &customerName.String
	}
	if customerAddress.Valid {
		task.CustomerAddress = &customerAddress.String
	}
	if customerFrom.Valid {
		task.CustomerFrom = &customerFrom.String
	}
	if workerSid.Valid {
		task.WorkerSid = &workerSid.String
	}
	if workerName.Valid {
		task.WorkerName = &workerName.String
	}
	if assignmentStatus.Valid {
		task.TaskAssignmentStatus = &assignmentStatus.String
	}
	if attributes.Valid {
		task.TaskAttributes = &attributes.String
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
	return task, nil
}

func scanFlexTasks(rows *sql.Rows) ([]*models.FlexTask, error) {
	var result []*models.FlexTask
	for rows.Next() {
		task, err := scanFlexTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, rows.Err()
}
