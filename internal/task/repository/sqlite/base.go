// Package sqlite provides the SQL-backed repository implementation.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository provides SQL-backed task storage operations.
type Repository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader (read-only pool)
	ownsDB bool
}

// NewWithDB creates a new repository with existing database connections (shared ownership).
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	return newRepository(writer, reader, false)
}

func newRepository(writer, reader *sqlx.DB, ownsDB bool) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			if closeErr := writer.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
			}
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}

// DB returns the underlying sql.DB instance for shared access
func (r *Repository) DB() *sql.DB {
	return r.db.DB
}

// initSchema creates the database tables if they don't exist.
// Statements run one at a time; pgx rejects multi-statement Exec.
func (r *Repository) initSchema() error {
	if err := r.initTaskSchema(); err != nil {
		return err
	}
	if err := r.initFlexSchema(); err != nil {
		return err
	}
	return r.ensureIndexes()
}

func (r *Repository) initTaskSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		customer_name TEXT NOT NULL,
		customer_contact TEXT NOT NULL,
		operator_id TEXT,
		operator_name TEXT,
		status TEXT NOT NULL DEFAULT 'open',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		assigned_at TIMESTAMP,
		greeting_sent_at TIMESTAMP,
		ping_sent_at TIMESTAMP,
		inactive_sent_at TIMESTAMP,
		last_customer_activity_at TIMESTAMP,
		closed_at TIMESTAMP,
		close_reason TEXT
	)`)
	return err
}

func (r *Repository) initFlexSchema() error {
	if _, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS flex_tasks (
		task_sid TEXT PRIMARY KEY,
		conversation_sid TEXT,
		channel_type TEXT,
		customer_name TEXT,
		customer_address TEXT,
		customer_from TEXT,
		worker_sid TEXT,
		worker_name TEXT,
		task_assignment_status TEXT,
		task_attributes TEXT,
		greeting_sent_at TIMESTAMP,
		ping_sent_at TIMESTAMP,
		inactive_sent_at TIMESTAMP,
		last_customer_activity_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		return err
	}

	// Lookup rows are written on upsert, last write wins, and may outlive
	// the task row they point at.
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS flex_tasks_by_conversation (
		conversation_sid TEXT PRIMARY KEY,
		task_sid TEXT NOT NULL
	)`)
	return err
}

// ensureIndexes creates the read-path indexes
func (r *Repository) ensureIndexes() error {
	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`); err != nil {
		return err
	}
	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_contact_status ON tasks(customer_contact, status)`); err != nil {
		return err
	}
	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_flex_tasks_conversation ON flex_tasks(conversation_sid)`); err != nil {
		return err
	}
	return nil
}
