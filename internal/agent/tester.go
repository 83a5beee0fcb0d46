package agent

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mbrandt/autocoder/internal/contextdb"
	"github.com/mbrandt/autocoder/internal/scheduler"
)

// Tester generates tests for existing source files.
type Tester struct {
	llm     Generator
	context *contextdb.Manager
	log     zerolog.Logger
}

// NewTester creates a tester agent.
func NewTester(gen Generator, cm *contextdb.Manager, log zerolog.Logger) *Tester {
	return &Tester{llm: gen, context: cm, log: log}
}

var (
	funcPattern = regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	typePattern = regexp.MustCompile(`(?m)^type\s+([A-Za-z_][A-Za-z0-9_]*)\s`)
)

// GenerateTests produces test code for the file at path. description
// optionally narrows what to cover.
func (t *Tester) GenerateTests(ctx context.Context, path, description string) (string, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	funcs, types := analyzeCode(string(code))
	chunks := relevantChunks(t.context, string(code))

	out, err := queryLLM(ctx, t.llm, testPrompt(string(code), funcs, types, description), chunks)
	if err != nil {
		return "", err
	}
	return stripFence(out), nil
}

// Handler executes testing tasks. The description is used verbatim as
// the subject; the model decides what to cover from the attached
// context chunks.
func (t *Tester) Handler() scheduler.Handler {
	return func(ctx context.Context, task scheduler.Task) (any, error) {
		prompt := fmt.Sprintf(`Generate test cases for the following work item:

%s

Requirements:
1. Include both positive and negative test cases
2. Test edge cases
3. Add appropriate assertions
4. Document each test's intent
`, task.Description)
		out, err := queryLLM(ctx, t.llm, prompt, relevantChunks(t.context, task.Description))
		if err != nil {
			return nil, err
		}
		return map[string]any{"tests": stripFence(out)}, nil
	}
}

// analyzeCode extracts the names of top-level functions and types so the
// prompt can enumerate the testable surface.
func analyzeCode(code string) (funcs, types []string) {
	for _, m := range funcPattern.FindAllStringSubmatch(code, -1) {
		funcs = append(funcs, m[1])
	}
	for _, m := range typePattern.FindAllStringSubmatch(code, -1) {
		types = append(types, m[1])
	}
	return funcs, types
}

func testPrompt(code string, funcs, types []string, description string) string {
	prompt := fmt.Sprintf(`Generate test cases for the following code:

Source Code:
%s

Testable Items:
Types: %s
Functions: %s

Requirements:
1. Include both positive and negative test cases
2. Test edge cases
3. Add appropriate assertions
4. Document each test's intent
`, code, strings.Join(types, ", "), strings.Join(funcs, ", "))
	if description != "" {
		prompt += "\nAdditional Testing Requirements:\n" + description
	}
	return prompt
}
