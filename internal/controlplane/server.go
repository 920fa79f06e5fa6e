package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/push"
	"github.com/knaw-huc/editem/internal/store"
)

// Version is the server version reported by /health. Set at build time.
var Version = "dev"

// DefaultProjectTask is run by project routes that name no task.
const DefaultProjectTask = "workflow"

// HealthResponse is the body of /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Server provides the HTTP API of the task server.
type Server struct {
	service *Service
	broker  *push.Broker
	store   *store.Store
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server. st may be nil, in which case health
// reports no database.
func NewServer(service *Service, broker *push.Broker, st *store.Store, addr string) *Server {
	return &Server{
		service: service,
		broker:  broker,
		store:   st,
		addr:    addr,
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Action endpoints
	mux.HandleFunc("/run/", s.handleAction(models.ActionStart))
	mux.HandleFunc("/kill/", s.handleAction(models.ActionKill))
	mux.HandleFunc("/project/", s.handleProject)

	// Task endpoints
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)

	// Push channel
	mux.HandleFunc("/ws", s.broker.ServeWS)

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		// Websocket connections are long lived, so only headers are bounded.
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Starting editem daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleAction handles /run/{task}/ and /kill/{task}/
func (s *Server) handleAction(action models.Action) http.HandlerFunc {
	prefix := "/" + string(action) + "/"
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		task := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if task == "" || strings.Contains(task, "/") {
			http.Error(w, "task required", http.StatusBadRequest)
			return
		}
		s.decide(w, r, action, "", task)
	}
}

type projectRequest struct {
	Task string `json:"task"`
}

// handleProject handles /project/{id}/run and /project/{id}/kill
func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/project/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var action models.Action
	switch parts[1] {
	case string(models.ActionStart):
		action = models.ActionStart
	case string(models.ActionKill):
		action = models.ActionKill
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var req projectRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if req.Task == "" {
		req.Task = DefaultProjectTask
	}
	s.decide(w, r, action, parts[0], req.Task)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, action models.Action, project, task string) {
	var v Verdict
	var err error
	if action == models.ActionStart {
		v, err = s.service.Run(project, task, r.RemoteAddr)
	} else {
		v, err = s.service.Kill(project, task, r.RemoteAddr)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownTask) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	log.Printf("%s %s (project %q): %s", action, task, project, v.Stat)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleTasks handles GET /tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tasks := s.service.Tasks()
	if tasks == nil {
		tasks = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tasks)
}

// handleStats handles GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.service.Stats())
}

// handleTaskByID handles /tasks/{task}/runs
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) < 2 || parts[0] == "" || parts[1] != "runs" || r.Method != http.MethodGet {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.service.Runs(parts[0], limit)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrUnknownTask):
			status = http.StatusNotFound
		case errors.Is(err, ErrNoStore):
			status = http.StatusNotImplemented
		}
		http.Error(w, err.Error(), status)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if s.store == nil {
		health.DB = "none"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			health.OK = false
			health.DB = "error: " + err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(health)
}
