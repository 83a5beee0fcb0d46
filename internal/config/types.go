package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LLMConfig configures the connection to the inference service.
type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	Timeout     Duration `yaml:"timeout"`
}

// SchedulerConfig configures task execution.
type SchedulerConfig struct {
	// ConcurrencyLimit bounds handlers running at once. Zero means unbounded.
	ConcurrencyLimit int `yaml:"concurrency_limit"`
	// HandlerTimeout fails a task whose handler runs longer. Zero disables it.
	HandlerTimeout Duration `yaml:"handler_timeout"`
}

// HistoryConfig configures the task history journal.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ProjectsConfig configures where generated projects and templates live.
type ProjectsConfig struct {
	Dir          string `yaml:"dir"`
	TemplatesDir string `yaml:"templates_dir"`
}

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	History   HistoryConfig   `yaml:"history"`
	Projects  ProjectsConfig  `yaml:"projects"`
}
