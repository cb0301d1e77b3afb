// Package api implements the korb HTTP API: streaming chat over SSE and
// WebSocket, plus the session, settings, memory, knowledge and workflow
// endpoints the web client uses.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/korb/internal/agent"
	"github.com/nugget/korb/internal/buildinfo"
	"github.com/nugget/korb/internal/connwatch"
	"github.com/nugget/korb/internal/events"
	"github.com/nugget/korb/internal/facts"
	"github.com/nugget/korb/internal/memory"
	"github.com/nugget/korb/internal/research"
	"github.com/nugget/korb/internal/settings"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Generator runs one orchestrated generation. *agent.Loop satisfies it.
type Generator interface {
	Generate(ctx context.Context, opts agent.Options, req agent.Request, emit func(agent.Event) error) (*agent.Outcome, error)
}

// OptionsFunc builds the orchestrator options for one request from the
// current settings.
type OptionsFunc func() (agent.Options, error)

// SettingsStore loads and patches the settings document. *settings.Store
// satisfies it.
type SettingsStore interface {
	Load() (settings.Settings, error)
	Update(patch map[string]json.RawMessage) (settings.Settings, error)
}

// MemoryStore lists and clears long-term memories. *facts.Store
// satisfies it.
type MemoryStore interface {
	All() ([]facts.Memory, error)
	Clear() error
}

// KnowledgeBase stores uploaded documents. *knowledge.Store satisfies it.
type KnowledgeBase interface {
	Ingest(ctx context.Context, filename string, content []byte) (string, error)
	Retrieve(ctx context.Context, query string, n int) (string, error)
	Clear() error
}

// Researcher prepares web-backed prompts. *research.Pipeline satisfies it.
type Researcher interface {
	SearchContext(ctx context.Context, msg, query string) string
	Report(ctx context.Context, topic string, progress research.Progress) (string, error)
}

// Workflows lists and runs named macros. *workflow.Runner satisfies it.
type Workflows interface {
	List() []string
	Describe(ctx context.Context, name string) string
}

// CommandExecutor performs the client-side commands that older web
// clients expect the server to run when the model names them directly.
// *sysctl.Controller satisfies it.
type CommandExecutor interface {
	SetVolume(ctx context.Context, level int) string
	SetMute(ctx context.Context, mute bool) string
	OpenApp(ctx context.Context, name string) string
}

// HealthReporter reports reachability of upstream services.
// *connwatch.Watcher satisfies it.
type HealthReporter interface {
	Status() map[string]connwatch.Status
}

// Deps are the collaborators of a Server. Only Loop and Options are
// required; endpoints whose store is nil answer 503.
type Deps struct {
	Loop    Generator
	Options OptionsFunc

	Sessions  memory.SessionStore
	Settings  SettingsStore
	Memories  MemoryStore
	Knowledge KnowledgeBase
	Research  Researcher
	Workflows Workflows
	Commands  CommandExecutor
	Events    *events.Bus
	Health    HealthReporter

	// KnowledgeResults is how many document chunks augment a chat message.
	KnowledgeResults int

	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	deps    Deps
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.KnowledgeResults <= 0 {
		deps.KnowledgeResults = 3
	}
	return &Server{
		address: address,
		port:    port,
		deps:    deps,
		logger:  logger,
	}
}

// Handler returns the routed and logged HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	// Chat
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /ws/chat", s.handleWebSocket)

	mux.HandleFunc("GET /settings", s.handleSettingsGet)
	mux.HandleFunc("POST /settings", s.handleSettingsUpdate)

	mux.HandleFunc("GET /memories", s.handleMemoriesList)
	mux.HandleFunc("DELETE /memories", s.handleMemoriesClear)

	// Sessions
	mux.HandleFunc("POST /sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /sessions", s.handleSessionList)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("PUT /sessions/{id}", s.handleSessionRename)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleSessionDelete)

	// Knowledge base
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("DELETE /knowledge", s.handleKnowledgeClear)

	mux.HandleFunc("GET /workflows", s.handleWorkflowList)
	mux.HandleFunc("POST /workflows/{name}", s.handleWorkflowRun)

	return s.withCORS(s.withLogging(mux))
}

// Start begins serving HTTP requests. It blocks until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second, // Reset per chunk while streaming
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// withCORS lets the browser client run from any origin.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"detail": message}, s.logger)
}

func (s *Server) unavailable(w http.ResponseWriter, service string) {
	s.errorResponse(w, http.StatusServiceUnavailable, service+" not available")
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"message": "korb assistant backend is running",
		"version": buildinfo.Version,
	}, s.logger)
}

// handleHealth always answers 200 while the process is up. Upstream
// services that are down turn the status to "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status": "healthy",
		"uptime": buildinfo.Uptime().Truncate(time.Second).String(),
	}
	if s.deps.Health != nil {
		services := s.deps.Health.Status()
		for _, st := range services {
			if !st.Ready {
				resp["status"] = "degraded"
			}
		}
		resp["services"] = services
	}
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}
