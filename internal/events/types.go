package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() uuid.UUID
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
)

// Event type constants
const (
	EventTypeTaskCreated   = "task.created"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeRunProgress   = "run.progress"
	EventTypeRunFinished   = "run.finished"
)

// TaskCreatedEvent is published when a task is registered.
type TaskCreatedEvent struct {
	ID          uuid.UUID
	Kind        string
	Description string
	Timestamp   time.Time
}

func (e TaskCreatedEvent) EventType() string { return EventTypeTaskCreated }
func (e TaskCreatedEvent) TaskID() uuid.UUID { return e.ID }

// TaskStartedEvent is published when a task begins execution.
type TaskStartedEvent struct {
	ID          uuid.UUID
	Kind        string
	Description string
	Timestamp   time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() uuid.UUID { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        uuid.UUID
	Kind      string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() uuid.UUID { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID        uuid.UUID
	Kind      string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() uuid.UUID { return e.ID }

// RunProgressEvent is published after each batch of the run loop settles.
type RunProgressEvent struct {
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Timestamp time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) TaskID() uuid.UUID { return uuid.Nil }

// RunFinishedEvent is published when the run loop reaches quiescence.
// Stalled means tasks remain pending behind failed, unhandled, or
// otherwise unmet dependencies.
type RunFinishedEvent struct {
	Completed int
	Failed    int
	Blocked   int
	Stalled   bool
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() uuid.UUID { return uuid.Nil }
