package contextdb

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// maxChunkLines bounds chunk size when no declaration boundary is found.
const maxChunkLines = 50

// CodeChunk is a contiguous slice of a source file.
type CodeChunk struct {
	Content   string
	FilePath  string
	StartLine int
	EndLine   int
}

// Match is a chunk selected as relevant to a query.
type Match struct {
	Content string
	File    string
	Lines   string // "start-end"
	Score   int
}

// Manager holds the code chunks available as generation context and
// scores them against queries by token overlap.
type Manager struct {
	mu     sync.RWMutex
	chunks []CodeChunk
	log    zerolog.Logger
}

// NewManager creates an empty context manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

// AddFile parses a file from disk and adds its chunks.
func (m *Manager) AddFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	m.AddSource(path, string(content))
	return nil
}

// AddSource splits content into chunks and adds them under the given path.
func (m *Manager) AddSource(path, content string) {
	chunks := splitIntoChunks(content, path)

	m.mu.Lock()
	m.chunks = append(m.chunks, chunks...)
	m.mu.Unlock()

	m.log.Info().Str("file", path).Int("chunks", len(chunks)).Msg("added source to context")
}

// Len returns the number of stored chunks.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// RelevantContext returns up to maxChunks chunks most relevant to the
// query, scored by token overlap. Chunks scoring zero are silently
// dropped rather than padding the result; an unrelated query can
// therefore return nothing even when chunks exist.
func (m *Manager) RelevantContext(query string, maxChunks int) []Match {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.chunks) == 0 || maxChunks <= 0 {
		return nil
	}

	queryTokens := tokenize(query)

	scored := make([]Match, 0, len(m.chunks))
	for _, chunk := range m.chunks {
		score := overlap(queryTokens, tokenize(chunk.Content))
		if score <= 0 {
			continue
		}
		scored = append(scored, Match{
			Content: chunk.Content,
			File:    chunk.FilePath,
			Lines:   fmt.Sprintf("%d-%d", chunk.StartLine, chunk.EndLine),
			Score:   score,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > maxChunks {
		scored = scored[:maxChunks]
	}
	return scored
}

// splitIntoChunks breaks content at declaration starts, falling back to
// a fixed line budget for long stretches without one.
func splitIntoChunks(content, path string) []CodeChunk {
	lines := strings.Split(content, "\n")
	var chunks []CodeChunk
	var current []string
	start := 0

	flush := func(end int) {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, CodeChunk{
			Content:   strings.Join(current, "\n"),
			FilePath:  path,
			StartLine: start,
			EndLine:   end,
		})
		current = nil
		start = end + 1
	}

	for i, line := range lines {
		current = append(current, line)
		trimmed := strings.TrimSpace(line)
		atDecl := strings.HasPrefix(trimmed, "func ") ||
			strings.HasPrefix(trimmed, "type ") ||
			strings.HasPrefix(trimmed, "class ") ||
			strings.HasPrefix(trimmed, "def ")
		if atDecl || len(current) >= maxChunkLines {
			flush(i)
		}
	}
	flush(len(lines) - 1)

	return chunks
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}

func overlap(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			n++
		}
	}
	return n
}
