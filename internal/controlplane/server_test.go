package controlplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/knaw-huc/editem/internal/audit"
	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/push"
	"github.com/knaw-huc/editem/internal/runner"
	"github.com/knaw-huc/editem/internal/store"
)

func TestHealthEndpoint_OK(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Result().StatusCode)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	broker := push.NewBroker()
	r := runner.New(nil, st, broker, nil, nil)
	defer r.Shutdown()
	server := NewServer(NewService(r, broker, st, nil), broker, st, "127.0.0.1:0")

	// Close the store to simulate DB error
	st.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if health.OK {
		t.Error("Expected health.OK to be false when DB is down")
	}
	if health.DB == "ok" {
		t.Error("Expected DB status to indicate error")
	}
}

func TestRunAndKillVerdicts(t *testing.T) {
	s, broker, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()
	sub := broker.Subscribe()
	defer sub.Close()

	v := post(t, h, "/run/function/", "")
	if v.Stat != "start-issued" || v.Task != "function" {
		t.Errorf("Expected start-issued, got %+v", v)
	}

	v = post(t, h, "/run/function/", "")
	if v.Stat != "start-prevented" || v.Msg != "already running" {
		t.Errorf("Expected start-prevented, got %+v", v)
	}

	v = post(t, h, "/kill/function/", "")
	if v.Stat != "kill-issued" {
		t.Errorf("Expected kill-issued, got %+v", v)
	}

	// start, kill and interrupt are pushed.
	var stats []string
	timeout := time.After(5 * time.Second)
	for len(stats) < 3 {
		select {
		case f := <-sub.Chan():
			if f.Event != push.EventStatus {
				continue
			}
			var d push.StatusData
			json.Unmarshal(f.Data, &d)
			stats = append(stats, d.Stat)
		case <-timeout:
			t.Fatalf("Timeout, got statuses %v", stats)
		}
	}
	if !containsAll(stats, "start", "kill", "interrupt") {
		t.Errorf("Unexpected pushed statuses %v", stats)
	}

	v = post(t, h, "/kill/function/", "")
	if v.Stat != "kill-prevented" {
		t.Errorf("Expected kill-prevented after stop, got %+v", v)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	stats := func() map[string]interface{} {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var out map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
			t.Fatalf("Failed to decode stats: %v", err)
		}
		return out
	}

	if got := stats()["active_runs"]; got != float64(0) {
		t.Errorf("Expected 0 active runs, got %v", got)
	}
	post(t, h, "/run/function/", "")
	got := stats()
	if got["active_runs"] != float64(1) {
		t.Errorf("Expected 1 active run, got %v", got["active_runs"])
	}
	if got["global_max"] != float64(runner.DefaultConfig().GlobalMax) {
		t.Errorf("Expected global_max %d, got %v", runner.DefaultConfig().GlobalMax, got["global_max"])
	}

	req := httptest.NewRequest(http.MethodPost, "/stats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestProjectRoutes(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	v := post(t, h, "/project/12/run", "")
	if v.Stat != "start-outer" || v.Project != "12" || v.Task != DefaultProjectTask {
		t.Errorf("Expected start-outer for workflow, got %+v", v)
	}
	v = post(t, h, "/project/12/run", `{"task":"workflow"}`)
	if v.Stat != "start-outer-no" {
		t.Errorf("Expected start-outer-no, got %+v", v)
	}
	v = post(t, h, "/project/13/kill", "")
	if v.Stat != "kill-outer-no" {
		t.Errorf("Expected kill-outer-no for idle project, got %+v", v)
	}
	v = post(t, h, "/project/12/kill", "")
	if v.Stat != "kill-outer" {
		t.Errorf("Expected kill-outer, got %+v", v)
	}
}

func TestUnknownTaskIs404(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	for _, path := range []string{"/run/nope/", "/kill/nope/", "/tasks/nope/runs"} {
		method := http.MethodPost
		if strings.HasPrefix(path, "/tasks") {
			method = http.MethodGet
		}
		req := httptest.NewRequest(method, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestTasksAndRuns(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var tasks []string
	if err := json.NewDecoder(w.Body).Decode(&tasks); err != nil {
		t.Fatalf("Failed to decode tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0] != "function" || tasks[1] != "workflow" {
		t.Errorf("Unexpected tasks %v", tasks)
	}

	post(t, h, "/run/function/", "")

	req = httptest.NewRequest(http.MethodGet, "/tasks/function/runs?limit=5", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var runs []models.Run
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("Failed to decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Task != "function" {
		t.Errorf("Unexpected runs %+v", runs)
	}
}

func post(t *testing.T, h http.Handler, path, body string) Verdict {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST %s: expected 200, got %d: %s", path, w.Code, w.Body.String())
	}
	var v Verdict
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode verdict: %v", err)
	}
	return v
}

func containsAll(list []string, want ...string) bool {
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		seen[s] = true
	}
	for _, w := range want {
		if !seen[w] {
			return false
		}
	}
	return true
}

func newTestServer(t *testing.T) (*Server, *push.Broker, func()) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	defs := []models.TaskDef{
		{Name: "function", Kind: models.TaskKindFunction, Steps: 10},
		{Name: "workflow", Kind: models.TaskKindFunction, Steps: 10},
	}
	cfg := runner.DefaultConfig()
	cfg.StepUnit = time.Hour

	broker := push.NewBroker()
	r := runner.New(defs, st, broker, nil, cfg)
	service := NewService(r, broker, st, audit.NewPDRWriter(st))
	server := NewServer(service, broker, st, "127.0.0.1:0")

	cleanup := func() {
		r.Shutdown()
		st.Close()
	}

	return server, broker, cleanup
}
