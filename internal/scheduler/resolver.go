package scheduler

import "github.com/google/uuid"

// readySet returns snapshots of every pending task whose dependencies
// are ALL in TaskCompleted. The result is a pure function of the task
// states; no ordering is implied among its members and the executor
// dispatches them concurrently.
//
// A task behind a TaskFailed dependency is never returned and therefore
// never runs: a dependency failure blocks its dependents rather than
// failing them. Callers detect this by inspecting per-task state after
// the run reaches quiescence.
func readySet(tasks map[uuid.UUID]*Task) []*Task {
	ready := []*Task{}

	for _, task := range tasks {
		if task.State != TaskPending {
			continue
		}

		eligible := true
		for _, depID := range task.Dependencies {
			dep, exists := tasks[depID]
			if !exists || dep.State != TaskCompleted {
				eligible = false
				break
			}
		}

		if eligible {
			ready = append(ready, cloneTask(task))
		}
	}

	return ready
}
