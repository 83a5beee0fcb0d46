package scheduler

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry()

	id, err := reg.Create(KindPlanning, "plan the project", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil task ID")
	}

	task, err := reg.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.State != TaskPending {
		t.Errorf("expected new task to be pending, got %s", task.State)
	}
	if task.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if !task.StartedAt.IsZero() || !task.CompletedAt.IsZero() {
		t.Error("expected StartedAt and CompletedAt to be zero on a new task")
	}
}

func TestRegistryCreateWithDependencies(t *testing.T) {
	reg := NewRegistry()

	depID, _ := reg.Create(KindPlanning, "plan", nil)
	id, err := reg.Create(KindDevelopment, "build", []uuid.UUID{depID})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	task, _ := reg.Get(id)
	if len(task.Dependencies) != 1 || task.Dependencies[0] != depID {
		t.Errorf("expected dependencies [%s], got %v", depID, task.Dependencies)
	}
}

func TestRegistryCreateUnknownDependency(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Create(KindDevelopment, "build", []uuid.UUID{uuid.New()})
	if !errors.Is(err, ErrInvalidDependency) {
		t.Fatalf("expected ErrInvalidDependency, got: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Error("expected no task to be stored after a failed Create")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get(uuid.New())
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got: %v", err)
	}
	_, err = reg.State(uuid.New())
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask from State, got: %v", err)
	}
}

func TestRegistryListInsertionOrder(t *testing.T) {
	reg := NewRegistry()

	var want []uuid.UUID
	for _, desc := range []string{"first", "second", "third"} {
		id, _ := reg.Create(KindDevelopment, desc, nil)
		want = append(want, id)
	}

	tasks := reg.List()
	if len(tasks) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(tasks))
	}
	for i, task := range tasks {
		if task.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], task.ID)
		}
	}
}

func TestRegistrySnapshotsAreCopies(t *testing.T) {
	reg := NewRegistry()
	id, _ := reg.Create(KindDevelopment, "build", nil)

	snap, _ := reg.Get(id)
	snap.State = TaskFailed
	snap.Description = "mutated"

	fresh, _ := reg.Get(id)
	if fresh.State != TaskPending || fresh.Description != "build" {
		t.Error("mutating a snapshot must not affect the registry's record")
	}
}

func TestRegistryStateTransitions(t *testing.T) {
	reg := NewRegistry()
	id, _ := reg.Create(KindTesting, "run tests", nil)

	if err := reg.markRunning(id); err != nil {
		t.Fatalf("markRunning failed: %v", err)
	}
	task, _ := reg.Get(id)
	if task.State != TaskRunning {
		t.Errorf("expected running, got %s", task.State)
	}
	if task.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set on entering running")
	}

	if err := reg.markCompleted(id, "ok"); err != nil {
		t.Fatalf("markCompleted failed: %v", err)
	}
	task, _ = reg.Get(id)
	if task.State != TaskCompleted {
		t.Errorf("expected completed, got %s", task.State)
	}
	if task.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set on entering a terminal state")
	}
	if task.Result != "ok" {
		t.Errorf("expected result %q, got %v", "ok", task.Result)
	}
}

func TestRegistryTerminalStatesAreFinal(t *testing.T) {
	reg := NewRegistry()

	completed, _ := reg.Create(KindTesting, "done", nil)
	_ = reg.markRunning(completed)
	_ = reg.markCompleted(completed, nil)

	failed, _ := reg.Create(KindTesting, "broken", nil)
	_ = reg.markRunning(failed)
	_ = reg.markFailed(failed, errors.New("boom"))

	for _, id := range []uuid.UUID{completed, failed} {
		if err := reg.markRunning(id); err == nil {
			t.Errorf("task %s: expected markRunning to fail on a terminal task", id)
		}
		if err := reg.markCompleted(id, nil); err == nil {
			t.Errorf("task %s: expected markCompleted to fail on a terminal task", id)
		}
		if err := reg.markFailed(id, errors.New("again")); err == nil {
			t.Errorf("task %s: expected markFailed to fail on a terminal task", id)
		}
	}

	task, _ := reg.Get(failed)
	if task.Err == nil || task.Err.Error() != "boom" {
		t.Errorf("expected original error to survive, got: %v", task.Err)
	}
}
