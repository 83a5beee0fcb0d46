package scheduler

import "errors"

// Sentinel errors. Callers match them with errors.Is; the wrapped form
// carries the offending task or kind.
var (
	// ErrUnknownTask is returned when a task ID is not present in the registry.
	ErrUnknownTask = errors.New("unknown task")

	// ErrInvalidDependency is returned at creation time when a dependency
	// references a task that does not exist yet. Forward references are
	// not supported.
	ErrInvalidDependency = errors.New("invalid dependency")

	// ErrNoHandlerRegistered is recorded as a task's failure when no
	// handler matches its kind at dispatch time.
	ErrNoHandlerRegistered = errors.New("no handler registered")

	// ErrDependencyNotCompleted is returned by the standalone execution
	// path when a dependency has not completed. The batch loop never
	// produces it: the resolver only hands out tasks whose dependencies
	// are all completed.
	ErrDependencyNotCompleted = errors.New("dependency not completed")

	// ErrCyclicDependency is returned by RunAll when the dependency graph
	// contains a cycle. Without the check the fixed-point loop would
	// terminate with the cycle's tasks silently left pending.
	ErrCyclicDependency = errors.New("cyclic dependency")
)
