package domain

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound is returned when an update targets a task the user does not own.
var ErrTaskNotFound = errors.New("task not found")

// Task is a single todo item owned by one user.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ShortID is the 8-character prefix users type to address a task.
func (t Task) ShortID() string {
	if len(t.ID) < 8 {
		return t.ID
	}
	return t.ID[:8]
}

// TaskStore keeps tasks per user. Lookups by prefix are scoped to the user.
type TaskStore interface {
	Add(ctx context.Context, task Task) error
	List(ctx context.Context, userID string) ([]Task, error)
	FindByPrefix(ctx context.Context, userID, prefix string) (*Task, error)
	Complete(ctx context.Context, userID, id string, at time.Time) error
	Delete(ctx context.Context, userID, id string) error
	Close() error
}
