package config

import "time"

// DefaultConfig returns the built-in configuration. Loaded files overlay
// these values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8000",
		},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:8080",
			MaxTokens:   1024,
			Temperature: 0.7,
			Timeout:     Duration(2 * time.Minute),
		},
		Scheduler: SchedulerConfig{
			ConcurrencyLimit: 0, // dispatch the whole ready set at once
			HandlerTimeout:   Duration(10 * time.Minute),
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    ".autocoder/history.db",
		},
		Projects: ProjectsConfig{
			Dir:          "projects",
			TemplatesDir: "templates",
		},
	}
}
