package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
	"github.com/rs/zerolog"

	"github.com/mbrandt/autocoder/internal/contextdb"
	"github.com/mbrandt/autocoder/internal/scheduler"
)

// ProjectPlan is the planner's structured view of a project.
type ProjectPlan struct {
	Components        []string            `json:"components"`
	Dependencies      map[string][]string `json:"dependencies"`
	FrameworkChoices  map[string]string   `json:"framework_choices"`
	EstimatedTimeline map[string]int      `json:"estimated_timeline"` // hours per component
}

// TaskSpec describes a task to be registered with the scheduler.
// DependsOn names the descriptions of prerequisite tasks; the
// orchestrator resolves them to task IDs at registration time.
type TaskSpec struct {
	Kind        scheduler.TaskKind
	Description string
	DependsOn   []string
}

// Planner creates project plans and decomposes them into tasks.
type Planner struct {
	llm     Generator
	context *contextdb.Manager
	log     zerolog.Logger
}

// NewPlanner creates a planner agent.
func NewPlanner(gen Generator, cm *contextdb.Manager, log zerolog.Logger) *Planner {
	return &Planner{llm: gen, context: cm, log: log}
}

// CreateProjectPlan asks the model for a structured plan of the project.
func (p *Planner) CreateProjectPlan(ctx context.Context, description string) (*ProjectPlan, error) {
	prompt := planningPrompt(description)
	chunks := relevantChunks(p.context, description)

	raw, err := queryLLM(ctx, p.llm, prompt, chunks)
	if err != nil {
		return nil, err
	}

	var plan ProjectPlan
	if err := json.Unmarshal([]byte(stripFence(raw)), &plan); err != nil {
		p.log.Error().Err(err).Msg("parsing plan response")
		return nil, fmt.Errorf("parsing plan response: %w", err)
	}
	if len(plan.Components) == 0 {
		return nil, fmt.Errorf("plan response names no components")
	}
	return &plan, nil
}

// DecomposeIntoTasks converts a plan into concrete task specs: fixed
// setup tasks, one development task per component (depending on the
// development tasks of the component's dependencies), and one testing
// task per component depending on its development task. Development
// specs come out in dependency order regardless of how the model
// ordered the component list, so each spec only names already-emitted
// specs as dependencies.
func (p *Planner) DecomposeIntoTasks(plan *ProjectPlan) []TaskSpec {
	specs := []TaskSpec{
		{Kind: scheduler.KindPlanning, Description: "Initialize project structure"},
		{Kind: scheduler.KindPlanning, Description: "Setup development environment"},
		{Kind: scheduler.KindPlanning, Description: "Configure CI/CD pipeline"},
	}

	for _, component := range orderComponents(plan) {
		var deps []string
		for _, dep := range plan.Dependencies[component] {
			deps = append(deps, "Implement "+dep)
		}
		specs = append(specs, TaskSpec{
			Kind:        scheduler.KindDevelopment,
			Description: "Implement " + component,
			DependsOn:   deps,
		})
	}

	for _, component := range plan.Components {
		specs = append(specs, TaskSpec{
			Kind:        scheduler.KindTesting,
			Description: "Test " + component,
			DependsOn:   []string{"Implement " + component},
		})
	}

	return specs
}

// orderComponents sorts the plan's components topologically over the
// in-plan dependency edges. Dependencies naming components outside the
// plan do not affect the order. A cyclic plan falls back to the
// declared order; the unresolvable edges surface at registration time.
func orderComponents(plan *ProjectPlan) []string {
	inPlan := make(map[string]bool, len(plan.Components))
	for _, component := range plan.Components {
		inPlan[component] = true
	}

	var edges []toposort.Edge
	for _, component := range plan.Components {
		hasEdge := false
		for _, dep := range plan.Dependencies[component] {
			if inPlan[dep] {
				edges = append(edges, toposort.Edge{dep, component})
				hasEdge = true
			}
		}
		if !hasEdge {
			// Edge from nil ensures isolated components appear in the sort.
			edges = append(edges, toposort.Edge{nil, component})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return plan.Components
	}

	ordered := make([]string, 0, len(plan.Components))
	for _, v := range sorted {
		if v != nil {
			ordered = append(ordered, v.(string))
		}
	}
	return ordered
}

// Handler executes planning tasks: the model produces a short setup
// note for the task's description.
func (p *Planner) Handler() scheduler.Handler {
	return func(ctx context.Context, task scheduler.Task) (any, error) {
		prompt := fmt.Sprintf("Carry out the following project setup step and describe the result:\n\n%s", task.Description)
		out, err := queryLLM(ctx, p.llm, prompt, relevantChunks(p.context, task.Description))
		if err != nil {
			return nil, err
		}
		return map[string]any{"notes": out}, nil
	}
}

func planningPrompt(description string) string {
	return fmt.Sprintf(`Analyze the following project description and create a detailed development plan:

Description:
%s

Please provide:
1. Core components needed
2. Component dependencies
3. Required frameworks and technologies
4. Estimated timeline for each component

Format the response as JSON with the following structure:
{
    "components": ["component1", "component2"],
    "dependencies": {"component1": ["component2"]},
    "framework_choices": {"frontend": "framework1", "backend": "framework2"},
    "estimated_timeline": {"component1": 4, "component2": 6}
}`, strings.TrimSpace(description))
}
