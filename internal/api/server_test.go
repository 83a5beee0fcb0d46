package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mbrandt/autocoder/internal/config"
	"github.com/mbrandt/autocoder/internal/events"
	"github.com/mbrandt/autocoder/internal/history"
	"github.com/mbrandt/autocoder/internal/llm"
	"github.com/mbrandt/autocoder/internal/orchestrator"
)

const planJSON = `{
	"components": ["api", "db"],
	"dependencies": {"api": ["db"]}
}`

type scriptedGen struct{}

func (scriptedGen) Generate(_ context.Context, req llm.GenerationRequest) (*llm.GenerationResponse, error) {
	out := "done"
	switch {
	case strings.Contains(req.Prompt, "create a detailed development plan"):
		out = planJSON
	case strings.Contains(req.Prompt, "Generate code for the following component"):
		out = "package src\n"
	case strings.Contains(req.Prompt, "Generate test cases"):
		out = "func TestGenerated(t *testing.T) {}\n"
	}
	return &llm.GenerationResponse{Status: "success", GeneratedCode: out}, nil
}

func newTestServer(t *testing.T, bus *events.Bus, journal *history.Store) (http.Handler, *orchestrator.Orchestrator) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Projects.Dir = t.TempDir()
	cfg.Projects.TemplatesDir = ""

	orch, err := orchestrator.New(cfg, scriptedGen{}, bus, zerolog.Nop())
	if err != nil {
		t.Fatalf("creating orchestrator: %v", err)
	}
	return NewServer(context.Background(), orch, bus, journal, zerolog.Nop()), orch
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateProjectAndStatus(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/projects", createProjectReq{Name: "shop", Description: "An online shop"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	created := decode[createProjectResp](t, rec)
	if created.Tasks != 7 {
		t.Errorf("expected 7 tasks, got %d", created.Tasks)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/projects", nil)
	projects := decode[[]map[string]any](t, rec)
	if len(projects) != 1 || projects[0]["name"] != "shop" {
		t.Errorf("unexpected project list: %v", projects)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/projects/shop/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	status := decode[map[string]any](t, rec)
	if status["pending"].(float64) != 7 {
		t.Errorf("expected 7 pending tasks, got %v", status["pending"])
	}

	rec = doJSON(t, h, http.MethodGet, "/api/projects/nope/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown project, got %d", rec.Code)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/projects", createProjectReq{Description: "no name"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing name, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/projects", createProjectReq{Name: "shop"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing description, got %d", rec.Code)
	}

	if rec := doJSON(t, h, http.MethodPost, "/api/projects", createProjectReq{Name: "shop", Description: "d"}); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/projects", createProjectReq{Name: "shop", Description: "d"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for duplicate project, got %d", rec.Code)
	}
}

func TestListAndGetTasks(t *testing.T) {
	h, orch := newTestServer(t, nil, nil)

	if rec := doJSON(t, h, http.MethodPost, "/api/projects", createProjectReq{Name: "shop", Description: "d"}); rec.Code != http.StatusCreated {
		t.Fatal("project creation failed")
	}

	rec := doJSON(t, h, http.MethodGet, "/api/tasks", nil)
	tasks := decode[[]map[string]any](t, rec)
	if len(tasks) != 7 {
		t.Fatalf("expected 7 tasks, got %d", len(tasks))
	}
	if tasks[0]["state"] != "pending" {
		t.Errorf("expected pending state, got %v", tasks[0]["state"])
	}

	project, _ := orch.Project("shop")
	id := project.Tasks["Implement api"]
	rec = doJSON(t, h, http.MethodGet, "/api/tasks/"+id.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	task := decode[map[string]any](t, rec)
	if task["description"] != "Implement api" {
		t.Errorf("unexpected task: %v", task)
	}
	if len(task["dependencies"].([]any)) != 1 {
		t.Errorf("expected 1 dependency, got %v", task["dependencies"])
	}

	if rec := doJSON(t, h, http.MethodGet, "/api/tasks/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/tasks/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestRunEndpoint(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)

	if rec := doJSON(t, h, http.MethodPost, "/api/projects", createProjectReq{Name: "shop", Description: "d"}); rec.Code != http.StatusCreated {
		t.Fatal("project creation failed")
	}

	rec := doJSON(t, h, http.MethodPost, "/api/run", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := doJSON(t, h, http.MethodGet, "/api/projects/shop/status", nil)
		status := decode[map[string]any](t, rec)
		if status["progress"].(float64) == 1.0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish, status: %v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	journal, err := history.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer journal.Close()

	h, _ := newTestServer(t, nil, journal)

	taskID := uuid.New()
	if err := journal.RecordTaskEvent(context.Background(), taskID, "development", "started", "", 0); err != nil {
		t.Fatal(err)
	}
	if err := journal.RecordTaskEvent(context.Background(), taskID, "development", "failed", "boom", time.Second); err != nil {
		t.Fatal(err)
	}
	if err := journal.RecordRun(context.Background(), 3, 1, 0, false); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/tasks/"+taskID.String()+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	entries := decode[[]map[string]any](t, rec)
	if len(entries) != 2 || entries[1]["error"] != "boom" {
		t.Errorf("unexpected history: %v", entries)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/history/recent?limit=1", nil)
	if got := decode[[]map[string]any](t, rec); len(got) != 1 {
		t.Errorf("expected 1 recent entry, got %d", len(got))
	}

	if rec := doJSON(t, h, http.MethodGet, "/api/history/recent?limit=zero", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/history/runs", nil)
	runs := decode[[]map[string]any](t, rec)
	if len(runs) != 1 || runs[0]["failed"].(float64) != 1 {
		t.Errorf("unexpected runs: %v", runs)
	}
}

func TestHistoryRoutesAbsentWithoutJournal(t *testing.T) {
	h, _ := newTestServer(t, nil, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/history/recent", nil)
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected history routes to be absent, got %d", rec.Code)
	}
}

func TestEventStream(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	h, _ := newTestServer(t, bus, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// Publish until the subscriber is registered; the first request may
	// race the handler's SubscribeAll call.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bus.Publish(events.TopicTask, events.TaskStartedEvent{
					ID: uuid.New(), Kind: "development", Timestamp: time.Now(),
				})
			}
		}
	}()
	defer close(done)

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	if eventLine != "event: "+events.EventTypeTaskStarted {
		t.Errorf("unexpected event line: %q", eventLine)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &payload); err != nil {
		t.Fatalf("parsing event payload: %v", err)
	}
	if payload["kind"] != "development" {
		t.Errorf("unexpected payload: %v", payload)
	}
}
