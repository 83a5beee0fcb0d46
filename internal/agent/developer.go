package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mbrandt/autocoder/internal/contextdb"
	"github.com/mbrandt/autocoder/internal/scheduler"
	"github.com/mbrandt/autocoder/internal/template"
)

// Developer generates component code and refactors existing code.
type Developer struct {
	llm       Generator
	context   *contextdb.Manager
	templates *template.Manager
	log       zerolog.Logger
}

// NewDeveloper creates a developer agent. templates may be nil.
func NewDeveloper(gen Generator, cm *contextdb.Manager, tm *template.Manager, log zerolog.Logger) *Developer {
	return &Developer{llm: gen, context: cm, templates: tm, log: log}
}

// GenerateComponent produces the files for a component, keyed by filename.
func (d *Developer) GenerateComponent(ctx context.Context, name, description, framework string) (map[string]string, error) {
	chunks := relevantChunks(d.context, description)

	base := ""
	if d.templates != nil {
		if rendered, err := d.templates.Render(name, map[string]any{"Name": name, "Description": description}, framework); err == nil {
			base = rendered
		}
	}

	code, err := queryLLM(ctx, d.llm, componentPrompt(name, description, framework, base), chunks)
	if err != nil {
		return nil, err
	}

	files := parseGeneratedFiles(code)
	if err := validateFiles(files); err != nil {
		d.log.Error().Err(err).Str("component", name).Msg("code validation failed")
		return nil, err
	}
	return files, nil
}

// RefactorCode rewrites the file at path according to the description
// and returns the new content.
func (d *Developer) RefactorCode(ctx context.Context, path, description string) (string, error) {
	original, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	chunks := relevantChunks(d.context, description)
	code, err := queryLLM(ctx, d.llm, refactorPrompt(string(original), description), chunks)
	if err != nil {
		return "", err
	}

	code = stripFence(code)
	if err := validateFiles(map[string]string{path: code}); err != nil {
		return "", err
	}
	return code, nil
}

// Handler executes development tasks. The task description is expected
// to follow the planner's "Implement <component>" shape; anything else
// is treated as a free-form component description.
func (d *Developer) Handler() scheduler.Handler {
	return func(ctx context.Context, task scheduler.Task) (any, error) {
		name := strings.TrimPrefix(task.Description, "Implement ")
		files, err := d.GenerateComponent(ctx, name, task.Description, "")
		if err != nil {
			return nil, err
		}
		return map[string]any{"files": files}, nil
	}
}

// RefactorHandler executes refactoring tasks whose description is
// "path: instructions".
func (d *Developer) RefactorHandler() scheduler.Handler {
	return func(ctx context.Context, task scheduler.Task) (any, error) {
		path, instructions, ok := strings.Cut(task.Description, ":")
		if !ok {
			return nil, fmt.Errorf("refactoring task %s: description must be \"path: instructions\"", task.ID)
		}
		code, err := d.RefactorCode(ctx, strings.TrimSpace(path), strings.TrimSpace(instructions))
		if err != nil {
			return nil, err
		}
		return map[string]any{"files": map[string]string{strings.TrimSpace(path): code}}, nil
	}
}

// parseGeneratedFiles splits model output into files. Output with
// "// file: <name>" markers becomes one entry per marker; anything else
// is a single unnamed component file.
func parseGeneratedFiles(code string) map[string]string {
	code = stripFence(code)

	files := make(map[string]string)
	var current string
	var body []string

	flush := func() {
		if current != "" {
			files[current] = strings.TrimSpace(strings.Join(body, "\n")) + "\n"
		}
		body = nil
	}

	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(trimmed, "// file: "); ok {
			flush()
			current = strings.TrimSpace(name)
			continue
		}
		body = append(body, line)
	}
	flush()

	if len(files) == 0 {
		files["component.go"] = strings.TrimSpace(code) + "\n"
	}
	return files
}

func validateFiles(files map[string]string) error {
	for name, content := range files {
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("generated file %s is empty", name)
		}
	}
	return nil
}

func componentPrompt(name, description, framework, base string) string {
	prompt := fmt.Sprintf(`Generate code for the following component:

Name: %s
Description: %s
Framework: %s

Requirements:
1. Follow the language's established conventions
2. Document exported identifiers
3. Include error handling
4. Make the code testable
5. Start each file with a "// file: <name>" marker
`, name, description, framework)
	if base != "" {
		prompt += "\nUse the following template as a base:\n" + base + "\n"
	}
	return prompt
}

func refactorPrompt(code, description string) string {
	return fmt.Sprintf(`Refactor the following code according to the description:

Description: %s

Original Code:
%s

Requirements:
1. Maintain functionality
2. Improve code quality
3. Add missing error handling
4. Improve performance where possible
5. Add or improve documentation
`, description, code)
}
