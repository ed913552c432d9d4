package task

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/dkoval/todolist/internal/domain"
	"github.com/dkoval/todolist/internal/repository"
)

// Validation failures surfaced on the task forms.
var (
	ErrTitleRequired  = errors.New("title is required")
	ErrMissingOwnerID = errors.New("owner id required")
)

// Service orchestrates task management. Every operation is scoped to the
// calling owner; tasks belonging to other users are indistinguishable from
// missing ones.
type Service struct {
	tasks  repository.TaskRepository
	logger *slog.Logger
}

// New returns a task service.
func New(tasks repository.TaskRepository, logger *slog.Logger) Service {
	return Service{tasks: tasks, logger: logger}
}

// Create stores a new open task for the owner.
func (s Service) Create(ctx context.Context, ownerID, title, memo string) (*domain.Task, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrMissingOwnerID
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	task := &domain.Task{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Memo:      strings.TrimSpace(memo),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("task created", "task_id", task.ID, "owner_id", ownerID)
	return task, nil
}

// ListOpen returns the owner's open tasks in creation order.
func (s Service) ListOpen(ctx context.Context, ownerID string) ([]domain.Task, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrMissingOwnerID
	}
	return s.tasks.ListOpenTasks(ctx, ownerID)
}

// ListCompleted returns the owner's completed tasks, most recent first.
func (s Service) ListCompleted(ctx context.Context, ownerID string) ([]domain.Task, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrMissingOwnerID
	}
	return s.tasks.ListCompletedTasks(ctx, ownerID)
}

// Get fetches one of the owner's tasks.
func (s Service) Get(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrMissingOwnerID
	}
	return s.tasks.GetTask(ctx, ownerID, taskID)
}

// Update rewrites title and memo of one of the owner's tasks. Ownership and
// completion state never change here.
func (s Service) Update(ctx context.Context, ownerID, taskID, title, memo string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrMissingOwnerID
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrTitleRequired
	}
	return s.tasks.UpdateTask(ctx, ownerID, taskID, title, strings.TrimSpace(memo))
}

// Complete stamps the task with the current time. Completing an already
// completed task keeps its original timestamp and succeeds.
func (s Service) Complete(ctx context.Context, ownerID, taskID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrMissingOwnerID
	}
	if err := s.tasks.CompleteTask(ctx, ownerID, taskID, time.Now().UTC()); err != nil {
		return err
	}
	s.logger.Info("task completed", "task_id", taskID, "owner_id", ownerID)
	return nil
}

// Delete permanently removes one of the owner's tasks.
func (s Service) Delete(ctx context.Context, ownerID, taskID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrMissingOwnerID
	}
	if err := s.tasks.DeleteTask(ctx, ownerID, taskID); err != nil {
		return err
	}
	s.logger.Info("task deleted", "task_id", taskID, "owner_id", ownerID)
	return nil
}
