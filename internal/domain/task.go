package domain

import "time"

// Task is a single todo item owned by exactly one user.
// A nil Completed means the task is still open.
type Task struct {
	ID        string
	OwnerID   string
	Title     string
	Memo      string
	CreatedAt time.Time
	Completed *time.Time
}

// Done reports whether the task has been completed.
func (t Task) Done() bool {
	return t.Completed != nil
}
