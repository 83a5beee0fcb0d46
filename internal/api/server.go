// Package api exposes the orchestrator over HTTP: project creation and
// status, task inspection, run control, the journaled history, and a
// server-sent event stream fed from the event bus.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mbrandt/autocoder/internal/events"
	"github.com/mbrandt/autocoder/internal/history"
	"github.com/mbrandt/autocoder/internal/orchestrator"
	"github.com/mbrandt/autocoder/internal/scheduler"
)

// Server handles HTTP requests against one orchestrator.
type Server struct {
	orch    *orchestrator.Orchestrator
	bus     *events.Bus
	journal *history.Store // optional; nil disables history routes
	log     zerolog.Logger
	running atomic.Bool
	baseCtx context.Context
}

// NewServer builds the HTTP handler. baseCtx bounds background runs
// kicked off through POST /api/run; journal may be nil.
func NewServer(baseCtx context.Context, orch *orchestrator.Orchestrator, bus *events.Bus, journal *history.Store, log zerolog.Logger) http.Handler {
	s := &Server{
		orch:    orch,
		bus:     bus,
		journal: journal,
		log:     log,
		baseCtx: baseCtx,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", s.health)

	r.Post("/api/projects", s.createProject)
	r.Get("/api/projects", s.listProjects)
	r.Get("/api/projects/{name}", s.getProject)
	r.Get("/api/projects/{name}/status", s.projectStatus)

	r.Post("/api/run", s.runAll)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)

	if journal != nil {
		r.Get("/api/tasks/{id}/history", s.taskHistory)
		r.Get("/api/history/recent", s.recentHistory)
		r.Get("/api/history/runs", s.listRuns)
	}

	if bus != nil {
		r.Get("/events", s.streamEvents)
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createProjectReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createProjectResp struct {
	Name  string `json:"name"`
	Tasks int    `json:"tasks"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.Description == "" {
		http.Error(w, "description is required", http.StatusBadRequest)
		return
	}

	project, err := s.orch.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		s.log.Error().Err(err).Str("project", req.Name).Msg("creating project")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusCreated, createProjectResp{Name: project.Name, Tasks: len(project.Tasks)})
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects := s.orch.Projects()
	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		out = append(out, map[string]any{
			"name":        p.Name,
			"description": p.Description,
			"tasks":       len(p.Tasks),
			"created_at":  p.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	project, ok := s.orch.Project(name)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	tasks := make(map[string]string, len(project.Tasks))
	for desc, id := range project.Tasks {
		tasks[desc] = id.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        project.Name,
		"description": project.Description,
		"dir":         project.Dir,
		"plan":        project.Plan,
		"tasks":       tasks,
		"created_at":  project.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) projectStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.Status(chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// runAll kicks off the run loop in the background. One run at a time;
// a second request while a run is in flight gets 409.
func (s *Server) runAll(w http.ResponseWriter, r *http.Request) {
	if !s.running.CompareAndSwap(false, true) {
		http.Error(w, "a run is already in progress", http.StatusConflict)
		return
	}

	go func() {
		defer s.running.Store(false)
		report, err := s.orch.Run(s.baseCtx)
		if err != nil {
			s.log.Error().Err(err).Msg("run failed")
			return
		}
		s.log.Info().
			Int("completed", report.Completed).
			Int("failed", report.Failed).
			Int("blocked", report.Blocked).
			Msg("run finished")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.orch.Registry().List()
	out := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskView(task))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	task, err := s.orch.Registry().Get(id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, taskView(task))
}

func (s *Server) taskHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	entries, err := s.journal.TaskEvents(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entryViews(entries))
}

func (s *Server) recentHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.journal.RecentEvents(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entryViews(entries))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.journal.Runs(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		out = append(out, map[string]any{
			"completed":   run.Completed,
			"failed":      run.Failed,
			"blocked":     run.Blocked,
			"stalled":     run.Stalled,
			"recorded_at": run.RecordedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// streamEvents relays bus events as server-sent events until the client
// disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.bus.SubscribeAll(256)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			payload, err := json.Marshal(eventView(ev))
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + ev.EventType() + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func taskView(task *scheduler.Task) map[string]any {
	deps := make([]string, 0, len(task.Dependencies))
	for _, dep := range task.Dependencies {
		deps = append(deps, dep.String())
	}
	view := map[string]any{
		"id":           task.ID.String(),
		"kind":         string(task.Kind),
		"description":  task.Description,
		"state":        task.State.String(),
		"dependencies": deps,
		"created_at":   task.CreatedAt.Format(time.RFC3339),
	}
	if !task.StartedAt.IsZero() {
		view["started_at"] = task.StartedAt.Format(time.RFC3339)
	}
	if !task.CompletedAt.IsZero() {
		view["completed_at"] = task.CompletedAt.Format(time.RFC3339)
	}
	if task.Err != nil {
		view["error"] = task.Err.Error()
	}
	return view
}

func entryViews(entries []history.Entry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		view := map[string]any{
			"task_id":     entry.TaskID.String(),
			"kind":        entry.Kind,
			"event":       entry.Event,
			"duration_ms": entry.DurationMS,
			"recorded_at": entry.RecordedAt.Format(time.RFC3339),
		}
		if entry.Error != "" {
			view["error"] = entry.Error
		}
		out = append(out, view)
	}
	return out
}

// eventView flattens an event for the wire; error values become strings.
func eventView(ev events.Event) map[string]any {
	view := map[string]any{"type": ev.EventType()}
	switch ev := ev.(type) {
	case events.TaskCreatedEvent:
		view["task_id"] = ev.ID.String()
		view["kind"] = ev.Kind
		view["description"] = ev.Description
	case events.TaskStartedEvent:
		view["task_id"] = ev.ID.String()
		view["kind"] = ev.Kind
		view["description"] = ev.Description
	case events.TaskCompletedEvent:
		view["task_id"] = ev.ID.String()
		view["kind"] = ev.Kind
		view["duration_ms"] = ev.Duration.Milliseconds()
	case events.TaskFailedEvent:
		view["task_id"] = ev.ID.String()
		view["kind"] = ev.Kind
		view["duration_ms"] = ev.Duration.Milliseconds()
		if ev.Err != nil {
			view["error"] = ev.Err.Error()
		}
	case events.RunProgressEvent:
		view["total"] = ev.Total
		view["completed"] = ev.Completed
		view["running"] = ev.Running
		view["failed"] = ev.Failed
		view["pending"] = ev.Pending
	case events.RunFinishedEvent:
		view["completed"] = ev.Completed
		view["failed"] = ev.Failed
		view["blocked"] = ev.Blocked
		view["stalled"] = ev.Stalled
	}
	return view
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
