package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dkoval/todolist/internal/domain"
	"github.com/dkoval/todolist/internal/repository"
)

// CreateTask inserts a task.
func (r *Repository) CreateTask(ctx context.Context, task *domain.Task) error {
	const query = `INSERT INTO tasks (id, owner_id, title, memo, created_at, completed)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, task.ID, task.OwnerID, task.Title, task.Memo, task.CreatedAt, timePtrToNil(task.Completed))
	return mapPgError(err)
}

// GetTask fetches a task scoped to its owner.
func (r *Repository) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	const query = `SELECT id, owner_id, title, memo, created_at, completed
		FROM tasks WHERE id = $1 AND owner_id = $2`
	row := r.pool.QueryRow(ctx, query, taskID, ownerID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return task, nil
}

// ListOpenTasks returns the owner's open tasks in creation order.
func (r *Repository) ListOpenTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	const query = `SELECT id, owner_id, title, memo, created_at, completed
		FROM tasks WHERE owner_id = $1 AND completed IS NULL ORDER BY created_at ASC`
	return r.listTasks(ctx, query, ownerID)
}

// ListCompletedTasks returns the owner's completed tasks, most recent first.
func (r *Repository) ListCompletedTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	const query = `SELECT id, owner_id, title, memo, created_at, completed
		FROM tasks WHERE owner_id = $1 AND completed IS NOT NULL ORDER BY completed DESC`
	return r.listTasks(ctx, query, ownerID)
}

// UpdateTask rewrites title and memo in place, leaving owner, creation time
// and completion state untouched.
func (r *Repository) UpdateTask(ctx context.Context, ownerID, taskID, title, memo string) error {
	const query = `UPDATE tasks SET title = $3, memo = $4 WHERE id = $1 AND owner_id = $2`
	cmdTag, err := r.pool.Exec(ctx, query, taskID, ownerID, title, memo)
	if err != nil {
		return mapPgError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CompleteTask stamps the completion time. COALESCE keeps the original
// timestamp when the task was already completed, so re-completing is a no-op
// rather than an error.
func (r *Repository) CompleteTask(ctx context.Context, ownerID, taskID string, completedAt time.Time) error {
	const query = `UPDATE tasks SET completed = COALESCE(completed, $3) WHERE id = $1 AND owner_id = $2`
	cmdTag, err := r.pool.Exec(ctx, query, taskID, ownerID, completedAt)
	if err != nil {
		return mapPgError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteTask removes a task scoped to its owner.
func (r *Repository) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	const query = `DELETE FROM tasks WHERE id = $1 AND owner_id = $2`
	cmdTag, err := r.pool.Exec(ctx, query, taskID, ownerID)
	if err != nil {
		return mapPgError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) listTasks(ctx context.Context, query, ownerID string) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		t         domain.Task
		completed sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Memo, &t.CreatedAt, &completed); err != nil {
		return nil, err
	}
	if completed.Valid {
		value := completed.Time.UTC()
		t.Completed = &value
	}
	return &t, nil
}

func timePtrToNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
