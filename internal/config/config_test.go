package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "data_dir: /tmp/korb\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 8000 {
		t.Errorf("Listen.Port = %d, want 8000", cfg.Listen.Port)
	}
	if cfg.Agent.MaxTurns != 5 || cfg.Agent.MaxRetries != 2 {
		t.Errorf("agent bounds = %d/%d, want 5/2", cfg.Agent.MaxTurns, cfg.Agent.MaxRetries)
	}
	if !cfg.Agent.SessionLock {
		t.Error("SessionLock should default to true")
	}
	if cfg.Embeddings.BaseURL != "http://localhost:11434" {
		t.Errorf("Embeddings.BaseURL = %q, want ollama base url", cfg.Embeddings.BaseURL)
	}
	if got := cfg.DatabasePath(); got != filepath.Join("/tmp/korb", "korb.db") {
		t.Errorf("DatabasePath() = %q", got)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-test")
	cfg, err := Load(writeConfig(t, "providers:\n  anthropic:\n    api_key: ${TEST_ANTHROPIC_KEY}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KORB_LISTEN_PORT", "9100")
	t.Setenv("KORB_AGENT_MAX_TURNS", "7")
	t.Setenv("KORB_PROVIDERS_DEFAULT", "openai")
	t.Setenv("KORB_PROVIDERS_OPENAI_API_KEY", "sk-openai")

	cfg, err := Load(writeConfig(t, "listen:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 9100 {
		t.Errorf("Listen.Port = %d, want 9100", cfg.Listen.Port)
	}
	if cfg.Agent.MaxTurns != 7 {
		t.Errorf("MaxTurns = %d, want 7", cfg.Agent.MaxTurns)
	}
	if cfg.Providers.Default != "openai" {
		t.Errorf("Providers.Default = %q, want openai", cfg.Providers.Default)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-openai" {
		t.Errorf("OpenAI.APIKey = %q", cfg.Providers.OpenAI.APIKey)
	}
}

func TestLoad_WorkflowDelay(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sysctl:\n  workflow_delay: 2s\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sysctl.WorkflowDelay != 2*time.Second {
		t.Errorf("WorkflowDelay = %v, want 2s", cfg.Sysctl.WorkflowDelay)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default ok", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Listen.Port = 70000 }, "listen.port"},
		{"zero turns", func(c *Config) { c.Agent.MaxTurns = 0 }, "max_turns"},
		{"zero retries", func(c *Config) { c.Agent.MaxRetries = 0 }, "max_retries"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "unknown log level"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"TRACE", LevelTrace},
		{" debug ", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, LoggingConfig{Level: "trace", Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Log(t.Context(), LevelTrace, "chunk")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("output %q missing TRACE label", buf.String())
	}
}
