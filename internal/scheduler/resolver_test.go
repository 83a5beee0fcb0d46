package scheduler

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestReadySet(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	tests := []struct {
		name  string
		tasks map[uuid.UUID]*Task
		want  []uuid.UUID
	}{
		{
			name: "tasks without dependencies are ready immediately",
			tasks: map[uuid.UUID]*Task{
				a: {ID: a, State: TaskPending},
				b: {ID: b, State: TaskPending},
			},
			want: []uuid.UUID{a, b},
		},
		{
			name: "pending dependency blocks dependent",
			tasks: map[uuid.UUID]*Task{
				a: {ID: a, State: TaskPending},
				b: {ID: b, State: TaskPending, Dependencies: []uuid.UUID{a}},
			},
			want: []uuid.UUID{a},
		},
		{
			name: "completed dependency releases dependent",
			tasks: map[uuid.UUID]*Task{
				a: {ID: a, State: TaskCompleted},
				b: {ID: b, State: TaskPending, Dependencies: []uuid.UUID{a}},
			},
			want: []uuid.UUID{b},
		},
		{
			name: "failed dependency blocks dependent forever",
			tasks: map[uuid.UUID]*Task{
				a: {ID: a, State: TaskFailed, Err: errors.New("boom")},
				b: {ID: b, State: TaskPending, Dependencies: []uuid.UUID{a}},
			},
			want: nil,
		},
		{
			name: "running dependency blocks dependent",
			tasks: map[uuid.UUID]*Task{
				a: {ID: a, State: TaskRunning},
				b: {ID: b, State: TaskPending, Dependencies: []uuid.UUID{a}},
			},
			want: nil,
		},
		{
			name: "non-pending tasks are never ready",
			tasks: map[uuid.UUID]*Task{
				a: {ID: a, State: TaskRunning},
				b: {ID: b, State: TaskCompleted},
				c: {ID: c, State: TaskFailed},
			},
			want: nil,
		},
		{
			name: "all dependencies must be completed",
			tasks: map[uuid.UUID]*Task{
				a: {ID: a, State: TaskCompleted},
				b: {ID: b, State: TaskPending},
				c: {ID: c, State: TaskPending, Dependencies: []uuid.UUID{a, b}},
			},
			want: []uuid.UUID{b},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readySet(tt.tasks)

			gotIDs := make(map[uuid.UUID]bool, len(got))
			for _, task := range got {
				gotIDs[task.ID] = true
			}

			if len(got) != len(tt.want) {
				t.Fatalf("expected %d ready tasks, got %d", len(tt.want), len(got))
			}
			for _, id := range tt.want {
				if !gotIDs[id] {
					t.Errorf("expected task %s in ready set", id)
				}
			}
		})
	}
}

func TestReadySetIsDeterministic(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	tasks := map[uuid.UUID]*Task{
		a: {ID: a, State: TaskCompleted},
		b: {ID: b, State: TaskPending, Dependencies: []uuid.UUID{a}},
	}

	first := readySet(tasks)
	second := readySet(tasks)

	if len(first) != len(second) {
		t.Fatalf("ready set size changed between calls: %d vs %d", len(first), len(second))
	}
	seen := make(map[uuid.UUID]bool)
	for _, task := range first {
		seen[task.ID] = true
	}
	for _, task := range second {
		if !seen[task.ID] {
			t.Errorf("task %s appeared in only one of two scans of the same snapshot", task.ID)
		}
	}
}
