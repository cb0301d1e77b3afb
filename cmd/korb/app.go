package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nugget/korb/internal/agent"
	"github.com/nugget/korb/internal/config"
	"github.com/nugget/korb/internal/embeddings"
	"github.com/nugget/korb/internal/events"
	"github.com/nugget/korb/internal/facts"
	"github.com/nugget/korb/internal/fetch"
	"github.com/nugget/korb/internal/interpreter"
	"github.com/nugget/korb/internal/knowledge"
	"github.com/nugget/korb/internal/llm"
	"github.com/nugget/korb/internal/memory"
	"github.com/nugget/korb/internal/research"
	"github.com/nugget/korb/internal/search"
	"github.com/nugget/korb/internal/settings"
	"github.com/nugget/korb/internal/sysctl"
	"github.com/nugget/korb/internal/tools"
	"github.com/nugget/korb/internal/vision"
	"github.com/nugget/korb/internal/workflow"
)

// app is every long-lived component built from one config. serve, ask,
// chat, ingest and workflow all start from here so they see the same
// stores and the same tool set.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	sessions  memory.SessionStore
	settings  *settings.Store
	memories  *facts.Store
	knowledge *knowledge.Store
	models    *llm.Factory
	registry  *tools.Registry
	research  *research.Pipeline
	system    *sysctl.Controller
	workflows *workflow.Runner
	events    *events.Bus
	loop      *agent.Loop
}

// appOptions adjust how much of the app is built.
type appOptions struct {
	// Ephemeral keeps transcripts in memory instead of the database.
	Ephemeral bool
}

// newApp opens the database and wires every store and service. The
// caller must Close the result.
func newApp(cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := memory.OpenDB(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, db: db, events: events.New()}
	if err := a.wire(opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(opts appOptions) error {
	cfg, logger := a.cfg, a.logger

	sqliteStore, err := memory.NewSQLiteStore(a.db)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	if opts.Ephemeral {
		a.sessions = memory.NewStore()
	} else {
		a.sessions = sqliteStore
	}

	a.settings, err = settings.NewStore(a.db, cfg.Providers.Default, logger)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}

	var embedder embeddings.Embedder
	if cfg.Embeddings.Enabled {
		embedder = embeddings.New(embeddings.Config{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
		logger.Info("embeddings enabled", "model", cfg.Embeddings.Model, "url", cfg.Embeddings.BaseURL)
	} else {
		logger.Info("embeddings disabled, memory search falls back to substring match")
	}

	a.memories, err = facts.NewStore(a.db, embedder, logger)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	a.knowledge, err = knowledge.NewStore(a.db, embedder, logger)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}

	a.models = llm.NewFactory(cfg.Providers, embedder, logger)
	logger.Info("model providers registered", "providers", a.models.Names(), "default", cfg.Providers.Default)

	searcher := search.NewManagerFromConfig(cfg.Search, logger)
	reader := fetch.New(cfg.Fetch)
	a.research = research.New(searcher, reader, logger)

	svc := tools.Services{
		Memory: a.memories,
		Reader: reader,
	}
	if searcher.Configured() {
		svc.Search = searcher
		logger.Info("web search enabled", "primary", searcher.Primary(), "providers", searcher.Providers())
	}
	if cfg.Interpreter.Enabled {
		svc.Python = interpreter.New(cfg.Interpreter, logger)
	}
	if cfg.Sysctl.Enabled {
		a.system = sysctl.New(cfg.Sysctl, sysctl.ExecRunner{Dir: cfg.Sysctl.Workspace}, logger)
		a.workflows = workflow.New(cfg.Sysctl, a.system, logger)
		svc.System = a.system
		svc.Workflows = a.workflows
		if cfg.Vision.Enabled {
			svc.Vision = vision.NewLocator(a.system, a.models, cfg.Vision.Provider, logger)
		}
	}

	a.registry = tools.NewDefaultRegistry(svc, logger)
	a.registry.SetAuditor(sqliteStore)

	var locks *agent.SessionLocks
	if cfg.Agent.SessionLock {
		locks = agent.NewSessionLocks()
	}
	a.loop = agent.NewLoop(agent.Deps{
		Transcript: a.sessions,
		Memories:   a.memories,
		Tools:      a.registry,
		Locks:      locks,
		Events:     a.events,
		Logger:     logger,
	})
	return nil
}

// options builds orchestrator options from the current settings.
func (a *app) options() (agent.Options, error) {
	s, err := a.settings.Load()
	if err != nil {
		return agent.Options{}, fmt.Errorf("load settings: %w", err)
	}
	return agent.NewOptions(a.cfg.Agent, s, a.models, a.registry.Catalog())
}

// generate answers one message the way the API does for plain chat:
// retrieved document context plus the orchestrator.
func (a *app) generate(ctx context.Context, sessionID, message string, emit func(agent.Event) error) (*agent.Outcome, error) {
	opts, err := a.options()
	if err != nil {
		return nil, err
	}
	req := agent.Request{SessionID: sessionID, Message: message}

	if query, ok := research.DetectSearch(message); ok {
		req.Message = a.research.SearchContext(ctx, message, query)
	} else {
		docs, err := a.knowledge.Retrieve(ctx, message, a.cfg.Agent.KnowledgeResults)
		if err != nil {
			a.logger.Warn("knowledge retrieval failed", "error", err)
		}
		req.DocumentContext = docs
	}
	return a.loop.Generate(ctx, opts, req, emit)
}

// Close releases the database.
func (a *app) Close() error {
	return a.db.Close()
}

// shutdownTimeout bounds graceful shutdown of servers and the broker
// connection.
const shutdownTimeout = 5 * time.Second
