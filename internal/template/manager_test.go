package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func setupTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "api", "template.yaml"),
		"default: api/generic.tmpl\nframeworks:\n  chi: api/chi.tmpl\n")
	writeFile(t, filepath.Join(dir, "api", "generic.tmpl"),
		"// {{.Name}} API\n")
	writeFile(t, filepath.Join(dir, "api", "chi.tmpl"),
		"// {{.Name}} chi router\n")

	writeFile(t, filepath.Join(dir, "broken", "template.yaml"),
		"default: [not a string\n")

	return dir
}

func TestManagerLoadsManifests(t *testing.T) {
	m, err := NewManager(setupTemplates(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	names := m.Names()
	found := false
	for _, name := range names {
		if name == "api" {
			found = true
		}
		if name == "broken" {
			t.Error("malformed manifest must be skipped, not loaded")
		}
	}
	if !found {
		t.Errorf("expected template set %q in %v", "api", names)
	}
}

func TestRenderDefault(t *testing.T) {
	m, err := NewManager(setupTemplates(t), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	out, err := m.Render("api", map[string]any{"Name": "users"}, "")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "users API") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestRenderFrameworkOverride(t *testing.T) {
	m, err := NewManager(setupTemplates(t), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	out, err := m.Render("api", map[string]any{"Name": "users"}, "chi")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "chi router") {
		t.Errorf("expected the chi override, got: %q", out)
	}

	// Unknown frameworks fall back to the default file.
	out, err = m.Render("api", map[string]any{"Name": "users"}, "rails")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "users API") {
		t.Errorf("expected the default template, got: %q", out)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	m, err := NewManager(setupTemplates(t), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Render("nope", nil, ""); err == nil {
		t.Fatal("expected an error for an unknown template set")
	}
}
