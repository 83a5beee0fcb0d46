// Package orchestrator turns a project description into a dependency
// graph of agent tasks and drives them to completion. It owns the task
// registry, binds handlers per task kind, persists generated files, and
// feeds finished work back into the context database so later tasks see
// earlier output.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mbrandt/autocoder/internal/agent"
	"github.com/mbrandt/autocoder/internal/config"
	"github.com/mbrandt/autocoder/internal/contextdb"
	"github.com/mbrandt/autocoder/internal/events"
	"github.com/mbrandt/autocoder/internal/scheduler"
	"github.com/mbrandt/autocoder/internal/template"
)

// Project is one orchestrated project: its plan plus the tasks
// registered for it, keyed by description.
type Project struct {
	Name        string
	Description string
	Dir         string
	Plan        *agent.ProjectPlan
	Tasks       map[string]uuid.UUID
	CreatedAt   time.Time
}

// Status is a point-in-time summary of a project's tasks.
type Status struct {
	Name      string  `json:"name"`
	Total     int     `json:"total"`
	Pending   int     `json:"pending"`
	Running   int     `json:"running"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Progress  float64 `json:"progress"` // completed fraction, 0..1
}

// Orchestrator wires the agents to the scheduler for one process.
type Orchestrator struct {
	cfg       *config.Config
	registry  *scheduler.Registry
	executor  *scheduler.Executor
	bus       *events.Bus
	planner   *agent.Planner
	developer *agent.Developer
	tester    *agent.Tester
	context   *contextdb.Manager
	locks     *PathLocks
	log       zerolog.Logger

	mu        sync.RWMutex
	projects  map[string]*Project
	taskOwner map[uuid.UUID]*Project
}

// New builds an orchestrator from configuration. gen is the inference
// backend shared by all agents; bus may be nil to disable events.
func New(cfg *config.Config, gen agent.Generator, bus *events.Bus, log zerolog.Logger) (*Orchestrator, error) {
	cm := contextdb.NewManager(log)

	var tm *template.Manager
	if cfg.Projects.TemplatesDir != "" {
		if _, err := os.Stat(cfg.Projects.TemplatesDir); err == nil {
			loaded, err := template.NewManager(cfg.Projects.TemplatesDir, log)
			if err != nil {
				return nil, fmt.Errorf("loading templates: %w", err)
			}
			tm = loaded
		}
	}

	o := &Orchestrator{
		cfg:       cfg,
		registry:  scheduler.NewRegistry(),
		bus:       bus,
		planner:   agent.NewPlanner(gen, cm, log),
		developer: agent.NewDeveloper(gen, cm, tm, log),
		tester:    agent.NewTester(gen, cm, log),
		context:   cm,
		locks:     NewPathLocks(),
		log:       log,
		projects:  make(map[string]*Project),
		taskOwner: make(map[uuid.UUID]*Project),
	}

	handlers := scheduler.NewHandlerRegistry()
	handlers.Register(scheduler.KindPlanning, o.planner.Handler())
	handlers.Register(scheduler.KindDevelopment, o.developmentHandler())
	handlers.Register(scheduler.KindTesting, o.testingHandler())
	handlers.Register(scheduler.KindRefactoring, o.developer.RefactorHandler())

	opts := []scheduler.Option{
		scheduler.WithLogger(log),
		scheduler.WithConcurrencyLimit(cfg.Scheduler.ConcurrencyLimit),
		scheduler.WithHandlerTimeout(time.Duration(cfg.Scheduler.HandlerTimeout)),
	}
	if bus != nil {
		opts = append(opts, scheduler.WithEventBus(bus))
	}
	o.executor = scheduler.NewExecutor(o.registry, handlers, opts...)

	return o, nil
}

// Registry exposes the task registry for read access (API queries).
func (o *Orchestrator) Registry() *scheduler.Registry { return o.registry }

// CreateProject plans a project, scaffolds its directory layout, and
// registers the planned tasks. It does not execute anything; call Run.
func (o *Orchestrator) CreateProject(ctx context.Context, name, description string) (*Project, error) {
	if err := validateProjectName(name); err != nil {
		return nil, err
	}

	o.mu.RLock()
	_, exists := o.projects[name]
	o.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("project %q already exists", name)
	}

	plan, err := o.planner.CreateProjectPlan(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("planning project %q: %w", name, err)
	}

	dir := filepath.Join(o.cfg.Projects.Dir, name)
	if err := scaffold(dir, name, description); err != nil {
		return nil, fmt.Errorf("scaffolding project %q: %w", name, err)
	}

	project := &Project{
		Name:        name,
		Description: description,
		Dir:         dir,
		Plan:        plan,
		Tasks:       make(map[string]uuid.UUID),
		CreatedAt:   time.Now(),
	}

	if err := o.registerTasks(project, o.planner.DecomposeIntoTasks(plan)); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.projects[name] = project
	o.mu.Unlock()

	o.log.Info().
		Str("project", name).
		Int("components", len(plan.Components)).
		Int("tasks", len(project.Tasks)).
		Msg("project created")

	return project, nil
}

// Run drives every registered task to quiescence.
func (o *Orchestrator) Run(ctx context.Context) (*scheduler.RunReport, error) {
	return o.executor.RunAll(ctx)
}

// ExecuteTask runs a single task by ID, outside the batch loop.
func (o *Orchestrator) ExecuteTask(ctx context.Context, id uuid.UUID) error {
	return o.executor.ExecuteTask(ctx, id)
}

// Project returns the named project.
func (o *Orchestrator) Project(name string) (*Project, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.projects[name]
	return p, ok
}

// Projects returns all projects, in no particular order.
func (o *Orchestrator) Projects() []*Project {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Project, 0, len(o.projects))
	for _, p := range o.projects {
		out = append(out, p)
	}
	return out
}

// Status summarizes the task states of the named project.
func (o *Orchestrator) Status(name string) (*Status, error) {
	o.mu.RLock()
	project, ok := o.projects[name]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown project %q", name)
	}

	status := &Status{Name: name}
	for _, id := range project.Tasks {
		state, err := o.registry.State(id)
		if err != nil {
			return nil, err
		}
		status.Total++
		switch state {
		case scheduler.TaskPending:
			status.Pending++
		case scheduler.TaskRunning:
			status.Running++
		case scheduler.TaskCompleted:
			status.Completed++
		case scheduler.TaskFailed:
			status.Failed++
		}
	}
	if status.Total > 0 {
		status.Progress = float64(status.Completed) / float64(status.Total)
	}
	return status, nil
}

// registerTasks creates registry entries for the planner's specs,
// resolving DependsOn descriptions to the IDs allocated so far. The
// planner emits development specs topologically, so a name that does
// not resolve here is genuinely outside the plan and is dropped with a
// warning rather than failing the whole project.
func (o *Orchestrator) registerTasks(project *Project, specs []agent.TaskSpec) error {
	for _, spec := range specs {
		var deps []uuid.UUID
		for _, depDesc := range spec.DependsOn {
			depID, ok := project.Tasks[depDesc]
			if !ok {
				o.log.Warn().
					Str("task", spec.Description).
					Str("dependency", depDesc).
					Msg("dependency not in plan, dropping")
				continue
			}
			deps = append(deps, depID)
		}

		id, err := o.registry.Create(spec.Kind, spec.Description, deps)
		if err != nil {
			return fmt.Errorf("registering task %q: %w", spec.Description, err)
		}
		project.Tasks[spec.Description] = id

		o.mu.Lock()
		o.taskOwner[id] = project
		o.mu.Unlock()

		if o.bus != nil {
			o.bus.Publish(events.TopicTask, events.TaskCreatedEvent{
				ID:          id,
				Kind:        string(spec.Kind),
				Description: spec.Description,
				Timestamp:   time.Now(),
			})
		}
	}
	return nil
}

// developmentHandler generates component code, persists it under the
// owning project's src directory, and indexes it for later tasks.
func (o *Orchestrator) developmentHandler() scheduler.Handler {
	base := o.developer.Handler()
	return func(ctx context.Context, task scheduler.Task) (any, error) {
		result, err := base(ctx, task)
		if err != nil {
			return nil, err
		}

		files := generatedFiles(result)
		project := o.ownerOf(task.ID)
		if project == nil || len(files) == 0 {
			return result, nil
		}

		written, err := o.persistFiles(filepath.Join(project.Dir, "src"), files)
		if err != nil {
			return nil, err
		}
		return map[string]any{"files": files, "written": written}, nil
	}
}

// testingHandler generates tests and persists them under tests/.
func (o *Orchestrator) testingHandler() scheduler.Handler {
	base := o.tester.Handler()
	return func(ctx context.Context, task scheduler.Task) (any, error) {
		result, err := base(ctx, task)
		if err != nil {
			return nil, err
		}

		project := o.ownerOf(task.ID)
		out, ok := result.(map[string]any)
		if project == nil || !ok {
			return result, nil
		}
		tests, ok := out["tests"].(string)
		if !ok || strings.TrimSpace(tests) == "" {
			return result, nil
		}

		name := testFileName(task.Description)
		written, err := o.persistFiles(filepath.Join(project.Dir, "tests"), map[string]string{name: tests})
		if err != nil {
			return nil, err
		}
		out["written"] = written
		return out, nil
	}
}

// persistFiles writes generated files under dir, holding per-path locks
// for the duration so concurrent handlers never interleave writes to
// the same file. Written files are indexed into the context database.
func (o *Orchestrator) persistFiles(dir string, files map[string]string) ([]string, error) {
	byPath := make(map[string]string, len(files))
	for name, content := range files {
		clean := filepath.Clean(name)
		if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return nil, fmt.Errorf("generated file name %q escapes project directory", name)
		}
		byPath[filepath.Join(dir, clean)] = content
	}

	// Distinct raw names can clean to the same path ("a.go" and "./a.go"),
	// so lock over the deduplicated keys, not the raw names.
	paths := make([]string, 0, len(byPath))
	for path := range byPath {
		paths = append(paths, path)
	}

	o.locks.LockAll(paths)
	defer o.locks.UnlockAll(paths)

	written := make([]string, 0, len(paths))
	for path, content := range byPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", path, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		o.context.AddSource(path, content)
		written = append(written, path)
	}
	return written, nil
}

func (o *Orchestrator) ownerOf(id uuid.UUID) *Project {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.taskOwner[id]
}

func generatedFiles(result any) map[string]string {
	out, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	files, ok := out["files"].(map[string]string)
	if !ok {
		return nil
	}
	return files
}

// testFileName derives a file name from a "Test <component>" description.
func testFileName(description string) string {
	name := strings.TrimPrefix(description, "Test ")
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		name = "component"
	}
	return name + "_test.go"
}

// scaffold creates the project skeleton: src, tests, and docs
// directories plus a README describing the project.
func scaffold(dir, name, description string) error {
	for _, sub := range []string{"src", "tests", "docs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}

	readme := fmt.Sprintf("# %s\n\n%s\n", name, strings.TrimSpace(description))
	return os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0o644)
}

func validateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name is empty")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("invalid project name %q", name)
	}
	return nil
}
