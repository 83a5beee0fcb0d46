package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// TaskState represents the lifecycle state of a task.
type TaskState int

const (
	TaskPending   TaskState = iota // Waiting for dependencies
	TaskRunning                    // Currently executing
	TaskCompleted                  // Finished successfully
	TaskFailed                     // Finished with error
)

// String returns the lowercase name of the state, matching the wire
// representation used by the API and the history journal.
func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the state is final. No transitions leave a
// terminal state.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskKind selects which handler executes a task.
type TaskKind string

const (
	KindPlanning    TaskKind = "planning"
	KindDevelopment TaskKind = "development"
	KindTesting     TaskKind = "testing"
	KindRefactoring TaskKind = "refactoring"
)

// Task represents a unit of schedulable work.
// The registry owns all Task records; everything handed out is a copy,
// so handlers and callers observe snapshots and never mutate state
// directly.
type Task struct {
	ID           uuid.UUID
	Kind         TaskKind
	Description  string      // Opaque payload passed to the handler
	Dependencies []uuid.UUID // Tasks that must complete before this one runs
	State        TaskState
	CreatedAt    time.Time
	StartedAt    time.Time // Zero until the task enters TaskRunning
	CompletedAt  time.Time // Zero until the task reaches a terminal state
	Result       any       // Handler output, set only on TaskCompleted
	Err          error     // Failure cause, set only on TaskFailed
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.Dependencies != nil {
		cp.Dependencies = append([]uuid.UUID(nil), task.Dependencies...)
	}
	return &cp
}
