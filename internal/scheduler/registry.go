package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry owns the set of tasks for the lifetime of a run.
// All state transitions go through the registry's mutex, so concurrent
// handler completions within a batch are serialized and the ready-set
// scan always observes a consistent snapshot.
type Registry struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
	order []uuid.UUID // insertion order, for List
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[uuid.UUID]*Task),
	}
}

// Create allocates a new task in TaskPending state and returns its ID.
// Every dependency must reference an already-created task; an unknown
// ID fails with ErrInvalidDependency. IDs are allocated here, so a task
// can never name itself as a dependency.
func (r *Registry) Create(kind TaskKind, description string, dependencies []uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, depID := range dependencies {
		if _, exists := r.tasks[depID]; !exists {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidDependency, depID)
		}
	}

	id := uuid.New()
	r.tasks[id] = &Task{
		ID:           id,
		Kind:         kind,
		Description:  description,
		Dependencies: append([]uuid.UUID(nil), dependencies...),
		State:        TaskPending,
		CreatedAt:    time.Now(),
	}
	r.order = append(r.order, id)

	return id, nil
}

// Get returns a snapshot of the task with the given ID.
func (r *Registry) Get(id uuid.UUID) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return cloneTask(task), nil
}

// State returns the current state of the task with the given ID.
func (r *Registry) State(id uuid.UUID) (TaskState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[id]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return task.State, nil
}

// List returns snapshots of all tasks in insertion order.
func (r *Registry) List() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]*Task, 0, len(r.order))
	for _, id := range r.order {
		tasks = append(tasks, cloneTask(r.tasks[id]))
	}
	return tasks
}

// Ready returns snapshots of every task eligible for dispatch right now:
// pending, with all dependencies completed. See readySet for the
// propagation semantics around failed dependencies.
func (r *Registry) Ready() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return readySet(r.tasks)
}

// markRunning transitions a pending task to TaskRunning and stamps its
// start time. Internal to the executor; not part of the external contract.
func (r *Registry) markRunning(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if task.State != TaskPending {
		return fmt.Errorf("task %s is not pending (state: %s)", id, task.State)
	}

	task.State = TaskRunning
	task.StartedAt = time.Now()
	return nil
}

// markCompleted transitions a task to TaskCompleted and stores the result.
func (r *Registry) markCompleted(id uuid.UUID, result any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if task.State.Terminal() {
		return fmt.Errorf("task %s already finished (state: %s)", id, task.State)
	}

	task.State = TaskCompleted
	task.CompletedAt = time.Now()
	task.Result = result
	return nil
}

// markFailed transitions a task to TaskFailed and stores the error.
func (r *Registry) markFailed(id uuid.UUID, taskErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if task.State.Terminal() {
		return fmt.Errorf("task %s already finished (state: %s)", id, task.State)
	}

	task.State = TaskFailed
	task.CompletedAt = time.Now()
	task.Err = taskErr
	return nil
}
