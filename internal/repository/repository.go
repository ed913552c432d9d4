package repository

import (
	"context"
	"time"

	"github.com/dkoval/todolist/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// TaskRepository persists tasks. Every lookup and mutation is scoped by the
// owning user; a task that exists but belongs to someone else behaves exactly
// like a task that does not exist.
type TaskRepository interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error)
	ListOpenTasks(ctx context.Context, ownerID string) ([]domain.Task, error)
	ListCompletedTasks(ctx context.Context, ownerID string) ([]domain.Task, error)
	UpdateTask(ctx context.Context, ownerID, taskID, title, memo string) error
	CompleteTask(ctx context.Context, ownerID, taskID string, completedAt time.Time) error
	DeleteTask(ctx context.Context, ownerID, taskID string) error
}
