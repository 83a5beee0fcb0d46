package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mbrandt/autocoder/internal/events"
)

// Executor drives registered tasks to quiescence. It repeatedly asks the
// registry for the ready set, dispatches the whole set concurrently to
// handlers, waits for the batch to settle, and repeats until no task is
// ready. The batch join is a full barrier: a completed task's dependents
// are only picked up on the next iteration.
type Executor struct {
	registry *Registry
	handlers *HandlerRegistry
	bus      *events.Bus // optional; nil disables publishing
	log      zerolog.Logger
	limit    int           // max concurrent handlers per batch; 0 = unbounded
	timeout  time.Duration // per-handler timeout; 0 = none
}

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrencyLimit bounds the number of handlers running at once
// within a batch. Zero or negative means unbounded.
func WithConcurrencyLimit(n int) Option {
	return func(e *Executor) { e.limit = n }
}

// WithHandlerTimeout fails a task whose handler has not returned after d.
// The task transitions to TaskFailed with a timeout error instead of
// staying TaskRunning forever behind a hung handler.
func WithHandlerTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithEventBus publishes task lifecycle and run progress events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Executor) { e.bus = bus }
}

// WithLogger sets the executor's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// NewExecutor creates an Executor over the given registries.
func NewExecutor(registry *Registry, handlers *HandlerRegistry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		handlers: handlers,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunReport summarizes the registry after a run reaches quiescence.
type RunReport struct {
	Completed int
	Failed    int
	Blocked   int // tasks still pending at quiescence
}

// Stalled reports whether tasks were left pending: blocked behind a
// failed dependency, a kind with no handler, or a dependency that never
// became ready.
func (r *RunReport) Stalled() bool { return r.Blocked > 0 }

// RunAll executes the fixed-point loop until no task is ready.
//
// The graph is checked for cycles up front and RunAll fails with
// ErrCyclicDependency before any state transition; the naive loop would
// otherwise terminate with the cycle's tasks silently left pending.
//
// Task failures never abort the run. The loop only stops when the ready
// set is empty, which covers both "everything finished" and "everything
// left is blocked"; the returned report distinguishes the two.
func (e *Executor) RunAll(ctx context.Context) (*RunReport, error) {
	if err := e.checkAcyclic(); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return e.report(), err
		}

		ready := e.registry.Ready()
		if len(ready) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		if e.limit > 0 {
			g.SetLimit(e.limit)
		}

		for _, task := range ready {
			t := task
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					_ = e.registry.markFailed(t.ID, fmt.Errorf("cancelled before dispatch: %w", err))
					return nil
				}
				// Outcome lands in the registry; a handler failure
				// must not tear down its siblings.
				e.dispatch(gctx, t)
				return nil
			})
		}

		// Full barrier: the next ready set is computed only after the
		// whole batch settles.
		_ = g.Wait()

		e.publishProgress()
	}

	report := e.report()
	e.publishFinished(report)
	return report, nil
}

// ExecuteTask runs a single task outside the batch loop.
//
// Dependencies are checked eagerly: on an unmet dependency it fails with
// ErrDependencyNotCompleted and the task is left pending, untouched.
// A missing handler or a handler failure transitions the task to
// TaskFailed and the error is returned to the caller after recording.
func (e *Executor) ExecuteTask(ctx context.Context, id uuid.UUID) error {
	task, err := e.registry.Get(id)
	if err != nil {
		return err
	}

	for _, depID := range task.Dependencies {
		dep, err := e.registry.Get(depID)
		if err != nil {
			return err
		}
		if dep.State != TaskCompleted {
			return fmt.Errorf("%w: %s (state: %s)", ErrDependencyNotCompleted, depID, dep.State)
		}
	}

	return e.dispatch(ctx, task)
}

// dispatch transitions a task through TaskRunning to a terminal state.
// The returned error mirrors what was recorded on the task; the batch
// loop drops it, the standalone path re-raises it.
func (e *Executor) dispatch(ctx context.Context, task *Task) error {
	if err := e.registry.markRunning(task.ID); err != nil {
		e.log.Error().Err(err).Stringer("task", task.ID).Msg("failed to mark task running")
		return err
	}
	start := time.Now()
	e.publishStarted(task)

	handler, ok := e.handlers.Resolve(task.Kind)
	if !ok {
		err := fmt.Errorf("%w for task kind %q", ErrNoHandlerRegistered, task.Kind)
		_ = e.registry.markFailed(task.ID, err)
		e.publishFailed(task, err, time.Since(start))
		e.log.Error().Err(err).Stringer("task", task.ID).Msg("task failed")
		return err
	}

	result, err := e.invoke(ctx, handler, *task)
	if err != nil {
		_ = e.registry.markFailed(task.ID, err)
		e.publishFailed(task, err, time.Since(start))
		e.log.Error().Err(err).Stringer("task", task.ID).Str("kind", string(task.Kind)).Msg("task failed")
		return err
	}

	_ = e.registry.markCompleted(task.ID, result)
	e.publishCompleted(task, time.Since(start))
	e.log.Debug().Stringer("task", task.ID).Str("kind", string(task.Kind)).Msg("task completed")
	return nil
}

// invoke calls the handler, enforcing the per-handler timeout if one is
// configured. The handler runs in its own goroutine so that even a
// handler ignoring its context cannot hold the task in TaskRunning.
func (e *Executor) invoke(ctx context.Context, handler Handler, task Task) (any, error) {
	if e.timeout <= 0 {
		return handler(ctx, task)
	}

	hctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler(hctx, task)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-hctx.Done():
		return nil, fmt.Errorf("handler timed out after %s: %w", e.timeout, hctx.Err())
	}
}

// checkAcyclic runs a topological sort over the whole dependency graph.
func (e *Executor) checkAcyclic() error {
	tasks := e.registry.List()

	var edges []toposort.Edge
	for _, task := range tasks {
		if len(task.Dependencies) == 0 {
			// Edge from nil ensures isolated tasks appear in the sort.
			edges = append(edges, toposort.Edge{nil, task.ID})
			continue
		}
		for _, depID := range task.Dependencies {
			edges = append(edges, toposort.Edge{depID, task.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %v", ErrCyclicDependency, err)
	}
	return nil
}

func (e *Executor) report() *RunReport {
	report := &RunReport{}
	for _, task := range e.registry.List() {
		switch task.State {
		case TaskCompleted:
			report.Completed++
		case TaskFailed:
			report.Failed++
		case TaskPending:
			report.Blocked++
		}
	}
	return report
}

func (e *Executor) publishStarted(task *Task) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicTask, events.TaskStartedEvent{
		ID:          task.ID,
		Kind:        string(task.Kind),
		Description: task.Description,
		Timestamp:   time.Now(),
	})
}

func (e *Executor) publishCompleted(task *Task, duration time.Duration) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicTask, events.TaskCompletedEvent{
		ID:        task.ID,
		Kind:      string(task.Kind),
		Duration:  duration,
		Timestamp: time.Now(),
	})
}

func (e *Executor) publishFailed(task *Task, err error, duration time.Duration) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicTask, events.TaskFailedEvent{
		ID:        task.ID,
		Kind:      string(task.Kind),
		Err:       err,
		Duration:  duration,
		Timestamp: time.Now(),
	})
}

func (e *Executor) publishProgress() {
	if e.bus == nil {
		return
	}
	progress := events.RunProgressEvent{Timestamp: time.Now()}
	for _, task := range e.registry.List() {
		progress.Total++
		switch task.State {
		case TaskPending:
			progress.Pending++
		case TaskRunning:
			progress.Running++
		case TaskCompleted:
			progress.Completed++
		case TaskFailed:
			progress.Failed++
		}
	}
	e.bus.Publish(events.TopicRun, progress)
}

func (e *Executor) publishFinished(report *RunReport) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicRun, events.RunFinishedEvent{
		Completed: report.Completed,
		Failed:    report.Failed,
		Blocked:   report.Blocked,
		Stalled:   report.Stalled(),
		Timestamp: time.Now(),
	})
}
