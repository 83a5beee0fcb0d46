package template

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	texttemplate "text/template"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// manifest is the template.yaml sitting next to each template set.
// Default names the fallback template file; Frameworks maps a framework
// name to an override file.
type manifest struct {
	Default    string            `yaml:"default"`
	Frameworks map[string]string `yaml:"frameworks"`
}

// Manager loads template sets from a directory tree and renders them.
// Each set is a subdirectory containing a template.yaml manifest; the
// set is named after the subdirectory.
type Manager struct {
	dir       string
	manifests map[string]manifest
	log       zerolog.Logger
}

// NewManager scans dir for template manifests. A malformed manifest is
// logged and skipped; it does not fail the whole scan.
func NewManager(dir string, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		dir:       dir,
		manifests: make(map[string]manifest),
		log:       log,
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "template.yaml" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			m.log.Error().Err(err).Str("manifest", path).Msg("reading template manifest")
			return nil
		}

		var mf manifest
		if err := yaml.Unmarshal(data, &mf); err != nil {
			m.log.Error().Err(err).Str("manifest", path).Msg("parsing template manifest")
			return nil
		}

		name := filepath.Base(filepath.Dir(path))
		m.manifests[name] = mf
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning templates in %s: %w", dir, err)
	}

	return m, nil
}

// Names returns the loaded template set names.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.manifests))
	for name := range m.manifests {
		names = append(names, name)
	}
	return names
}

// Lookup resolves a template set to a parsed template, preferring the
// framework-specific file when one is declared.
func (m *Manager) Lookup(name, framework string) (*texttemplate.Template, error) {
	mf, ok := m.manifests[name]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", name)
	}

	file := mf.Default
	if framework != "" {
		if override, ok := mf.Frameworks[framework]; ok {
			file = override
		}
	}
	if file == "" {
		return nil, fmt.Errorf("template %q declares no file for framework %q", name, framework)
	}

	path := filepath.Join(m.dir, file)
	tmpl, err := texttemplate.ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("parsing template file %s: %w", path, err)
	}
	return tmpl, nil
}

// Render resolves and renders a template set with the given data.
func (m *Manager) Render(name string, data map[string]any, framework string) (string, error) {
	tmpl, err := m.Lookup(name, framework)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", name, err)
	}
	return sb.String(), nil
}
