package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nugget/korb/internal/agent"
	"github.com/nugget/korb/internal/api"
	"github.com/nugget/korb/internal/buildinfo"
	"github.com/nugget/korb/internal/connwatch"
	"github.com/nugget/korb/internal/mqtt"
)

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g)
		},
	}
}

// runServe starts the HTTP API and, when configured, the MQTT publisher.
// It blocks until SIGINT/SIGTERM or ctx cancellation.
func runServe(ctx context.Context, g *globals) error {
	cfg, cfgPath, err := loadConfig(g.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(g.stdout, cfg.Logging)
	logger.Info("starting korb", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "config", cfgPath)

	a, err := newApp(cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	deps := api.Deps{
		Loop:             a.loop,
		Options:          api.OptionsFunc(a.options),
		Sessions:         a.sessions,
		Settings:         a.settings,
		Memories:         a.memories,
		Knowledge:        a.knowledge,
		Research:         a.research,
		Events:           a.events,
		KnowledgeResults: cfg.Agent.KnowledgeResults,
		Logger:           logger,
	}
	if a.system != nil {
		deps.Commands = a.system
	}
	if a.workflows != nil {
		deps.Workflows = a.workflows
	}

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Upstream health ---
	watcher := watchServices(ctx, a)
	deps.Health = watcher
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, deps)

	// --- MQTT ---
	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		instanceID := cfg.MQTT.InstanceID
		if instanceID == "" {
			instanceID, err = mqtt.LoadOrCreateInstanceID(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("mqtt instance id: %w", err)
			}
		}
		var runner mqtt.WorkflowRunner
		if a.workflows != nil {
			runner = a.workflows
		}
		publisher = mqtt.New(cfg.MQTT, instanceID, a.events, runner, logger)
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		// Publish MQTT offline status before disconnecting.
		if publisher != nil {
			if err := publisher.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}()

	// Blocks until Shutdown.
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	watcher.Wait()
	logger.Info("korb stopped")
	return nil
}

// watchServices probes the HTTP services the config points at. Probes
// stop when ctx ends.
func watchServices(ctx context.Context, a *app) *connwatch.Watcher {
	cfg := a.cfg
	w := connwatch.New(connwatch.DefaultSchedule(), a.events, a.logger)

	if cfg.Providers.Ollama.Configured() && cfg.Providers.Ollama.BaseURL != "" {
		w.Watch(ctx, "ollama", connwatch.HTTPProbe(nil, cfg.Providers.Ollama.BaseURL))
	}
	if cfg.Embeddings.Enabled && cfg.Embeddings.BaseURL != cfg.Providers.Ollama.BaseURL {
		w.Watch(ctx, "embeddings", connwatch.HTTPProbe(nil, cfg.Embeddings.BaseURL))
	}
	if cfg.Search.SearXNG.URL != "" {
		w.Watch(ctx, "searxng", connwatch.HTTPProbe(nil, cfg.Search.SearXNG.URL))
	}
	if names := w.Names(); len(names) > 0 {
		a.logger.Info("watching upstream services", "services", names)
	}
	return w
}

var _ api.Generator = (*agent.Loop)(nil)
