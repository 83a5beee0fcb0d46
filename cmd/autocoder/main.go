// Command autocoder turns project descriptions into code through a
// graph of LLM-backed agent tasks. "serve" exposes the HTTP API,
// "run" plans and executes a single project from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mbrandt/autocoder/internal/agent"
	"github.com/mbrandt/autocoder/internal/api"
	"github.com/mbrandt/autocoder/internal/config"
	"github.com/mbrandt/autocoder/internal/events"
	"github.com/mbrandt/autocoder/internal/history"
	"github.com/mbrandt/autocoder/internal/llm"
	"github.com/mbrandt/autocoder/internal/orchestrator"
	"github.com/mbrandt/autocoder/internal/tui"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	globalConfig  string
	projectConfig string
	verbose       bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "autocoder",
		Short:         "LLM-driven project generation",
		Long:          "autocoder plans a project as a dependency graph of agent tasks\nand executes them against a local inference service.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.globalConfig, "config", "", "global config file (default ~/.autocoder/config.yml)")
	root.PersistentFlags().StringVar(&flags.projectConfig, "project-config", "", "project config file (default .autocoder/config.yml)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newRunCmd(flags))

	return root
}

// setup loads configuration and builds the logger shared by subcommands.
func setup(flags *rootFlags) (*config.Config, zerolog.Logger, error) {
	var cfg *config.Config
	var err error
	if flags.globalConfig != "" || flags.projectConfig != "" {
		cfg, err = config.Load(flags.globalConfig, flags.projectConfig)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level := zerolog.InfoLevel
	if flags.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	return cfg, log, nil
}

// tunedGenerator applies configured generation knobs to every request.
type tunedGenerator struct {
	inner       agent.Generator
	maxTokens   int
	temperature float64
}

func (g tunedGenerator) Generate(ctx context.Context, req llm.GenerationRequest) (*llm.GenerationResponse, error) {
	if g.maxTokens > 0 {
		req.MaxTokens = g.maxTokens
	}
	if g.temperature > 0 {
		req.Temperature = g.temperature
	}
	return g.inner.Generate(ctx, req)
}

func buildGenerator(cfg *config.Config, log zerolog.Logger) agent.Generator {
	client := llm.NewClient(cfg.LLM.BaseURL,
		llm.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.LLM.Timeout)}),
		llm.WithLogger(log),
	)
	return tunedGenerator{
		inner:       client,
		maxTokens:   cfg.LLM.MaxTokens,
		temperature: cfg.LLM.Temperature,
	}
}

// startRecorder journals bus events in the background and returns a
// func that blocks until the recorder has drained. Call it only after
// closing the bus, or the recorder keeps running.
func startRecorder(ctx context.Context, recorder *history.Recorder) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		recorder.Run(ctx)
	}()
	return func() { <-done }
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := events.NewBus()

			var journal *history.Store
			waitJournal := func() {}
			if cfg.History.Enabled {
				journal, err = history.NewStore(ctx, cfg.History.Path)
				if err != nil {
					return fmt.Errorf("opening history journal: %w", err)
				}
				defer journal.Close()

				waitJournal = startRecorder(ctx, history.NewRecorder(journal, bus, log))
			}
			// On exit the bus closes first, then the recorder finishes
			// draining its buffered events before the journal closes.
			defer waitJournal()
			defer bus.Close()

			orch, err := orchestrator.New(cfg, buildGenerator(cfg, log), bus, log)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:    cfg.Server.Addr,
				Handler: api.NewServer(ctx, orch, bus, journal, log),
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "bind address (overrides config)")
	return cmd
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run <name> <description>",
		Short: "Plan a project and execute its tasks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			name, description := args[0], args[1]

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := events.NewBus()

			var journal *history.Store
			waitJournal := func() {}
			if cfg.History.Enabled {
				journal, err = history.NewStore(ctx, cfg.History.Path)
				if err != nil {
					return fmt.Errorf("opening history journal: %w", err)
				}
				defer journal.Close()

				waitJournal = startRecorder(ctx, history.NewRecorder(journal, bus, log))
			}
			// On exit the bus closes first, then the recorder finishes
			// draining its buffered events before the journal closes.
			defer waitJournal()
			defer bus.Close()

			if watch {
				// Logs would corrupt the TUI.
				log = zerolog.Nop()
			}

			orch, err := orchestrator.New(cfg, buildGenerator(cfg, log), bus, log)
			if err != nil {
				return err
			}

			if _, err := orch.CreateProject(ctx, name, description); err != nil {
				return err
			}

			if watch {
				return runWatched(ctx, orch, bus)
			}

			report, err := orch.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("completed: %d, failed: %d, blocked: %d\n",
				report.Completed, report.Failed, report.Blocked)
			if report.Failed > 0 || report.Stalled() {
				return fmt.Errorf("run finished with failures")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "show a live task view while running")
	return cmd
}

// runWatched executes the run in the background while the TUI consumes
// the event stream in the foreground.
func runWatched(ctx context.Context, orch *orchestrator.Orchestrator, bus *events.Bus) error {
	model := tui.New(bus)

	type outcome struct {
		failed  bool
		stalled bool
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := orch.Run(ctx)
		// Closing the bus ends the TUI's event loop once the final
		// events have been drained.
		bus.Close()
		if err != nil {
			done <- outcome{err: err}
			return
		}
		done <- outcome{failed: report.Failed > 0, stalled: report.Stalled()}
	}()

	if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil {
		return err
	}

	out := <-done
	if out.err != nil {
		return out.err
	}
	if out.failed || out.stalled {
		return fmt.Errorf("run finished with failures")
	}
	return nil
}
