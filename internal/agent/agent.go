// Package agent implements the task handlers: a planner that turns a
// project description into a task graph, a developer that generates and
// refactors code, and a tester that generates tests. Each agent talks
// to the inference service through the llm client and pulls relevant
// code chunks from the context manager. Agents never call back into the
// scheduler.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbrandt/autocoder/internal/contextdb"
	"github.com/mbrandt/autocoder/internal/llm"
)

const (
	defaultMaxTokens   = 2048
	defaultTemperature = 0.7
	maxContextChunks   = 3
)

// Generator is the slice of the llm client the agents need. The tests
// substitute a fake.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerationRequest) (*llm.GenerationResponse, error)
}

// relevantChunks converts context matches into the wire format.
func relevantChunks(cm *contextdb.Manager, query string) []llm.ContextChunk {
	if cm == nil {
		return nil
	}
	matches := cm.RelevantContext(query, maxContextChunks)
	chunks := make([]llm.ContextChunk, 0, len(matches))
	for _, match := range matches {
		chunks = append(chunks, llm.ContextChunk{
			Content: match.Content,
			File:    match.File,
			Lines:   match.Lines,
		})
	}
	return chunks
}

func queryLLM(ctx context.Context, gen Generator, prompt string, chunks []llm.ContextChunk) (string, error) {
	resp, err := gen.Generate(ctx, llm.GenerationRequest{
		Prompt:        prompt,
		MaxTokens:     defaultMaxTokens,
		Temperature:   defaultTemperature,
		ContextChunks: chunks,
	})
	if err != nil {
		return "", fmt.Errorf("llm query failed: %w", err)
	}
	return resp.GeneratedCode, nil
}

// stripFence removes a surrounding markdown code fence if the model
// wrapped its output in one.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:] // drop opening fence with optional language tag
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
