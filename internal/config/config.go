// Package config handles korb configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides (KORB_LISTEN_PORT, ...).
const EnvPrefix = "KORB"

// DefaultSearchPaths returns the config file search order.
// An explicit path (from the --config flag) is checked first.
// Then: ./config.yaml, ~/.config/korb/config.yaml, /etc/korb/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "korb", "config.yaml"))
	}

	paths = append(paths, "/etc/korb/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all korb configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	DataDir     string            `yaml:"data_dir" envconfig:"DATA_DIR"`
	Logging     LoggingConfig     `yaml:"logging"`
	Agent       AgentConfig       `yaml:"agent"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Search      SearchConfig      `yaml:"search"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Sysctl      SysctlConfig      `yaml:"sysctl"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Vision      VisionConfig      `yaml:"vision"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address" envconfig:"ADDRESS"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port" envconfig:"PORT"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`   // trace, debug, info, warn, error
	Format string `yaml:"format" envconfig:"FORMAT"` // text or json
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	MaxTurns         int  `yaml:"max_turns" envconfig:"MAX_TURNS"`
	MaxRetries       int  `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	HistoryLimit     int  `yaml:"history_limit" envconfig:"HISTORY_LIMIT"`
	MemoryResults    int  `yaml:"memory_results" envconfig:"MEMORY_RESULTS"`
	KnowledgeResults int  `yaml:"knowledge_results" envconfig:"KNOWLEDGE_RESULTS"`
	SessionLock      bool `yaml:"session_lock" envconfig:"SESSION_LOCK"`
}

// ProvidersConfig holds per-backend model settings. Default names the
// provider used when settings do not select one, or select an unknown one.
type ProvidersConfig struct {
	Default   string         `yaml:"default" envconfig:"DEFAULT"`
	Ollama    ProviderConfig `yaml:"ollama"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
}

// ProviderConfig is the connection info for one model backend.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey  string `yaml:"api_key" envconfig:"API_KEY"`
	Model   string `yaml:"model" envconfig:"MODEL"`
	// MaxTokens caps output length for backends that require it (anthropic).
	MaxTokens int `yaml:"max_tokens" envconfig:"MAX_TOKENS"`
}

// Configured reports whether the provider has enough to be used.
func (p ProviderConfig) Configured() bool {
	return p.Model != ""
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	Model   string `yaml:"model" envconfig:"MODEL"`       // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"` // Ollama URL (defaults to providers.ollama.base_url)
}

// SearchConfig configures web search providers.
type SearchConfig struct {
	Default string        `yaml:"default"`
	SearXNG SearXNGConfig `yaml:"searxng"`
	Brave   BraveConfig   `yaml:"brave"`
}

// SearXNGConfig points at a SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url" envconfig:"URL"`
}

// BraveConfig holds the Brave Search API key.
type BraveConfig struct {
	APIKey string `yaml:"api_key" envconfig:"API_KEY"`
}

// FetchConfig bounds URL reads.
type FetchConfig struct {
	MaxChars   int `yaml:"max_chars"`
	TimeoutSec int `yaml:"timeout_sec"`
}

// SysctlConfig configures the system-control facade.
type SysctlConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
	// Workspace roots relative file paths for read/write/list/replace.
	Workspace string `yaml:"workspace" envconfig:"WORKSPACE"`
	// Platform overrides runtime.GOOS command selection (linux, darwin).
	Platform string `yaml:"platform"`
	// WorkflowDelay is the pause between workflow steps.
	WorkflowDelay time.Duration `yaml:"workflow_delay"`
	// Workflows adds named macros or replaces built-in ones.
	Workflows map[string][]WorkflowStep `yaml:"workflows"`
}

// WorkflowStep is one action of a workflow macro.
type WorkflowStep struct {
	Action     string  `yaml:"action" json:"action"` // open_application, set_volume, media, power, wait
	AppName    string  `yaml:"app_name,omitempty" json:"app_name,omitempty"`
	Level      int     `yaml:"level,omitempty" json:"level,omitempty"`
	ActionType string  `yaml:"action_type,omitempty" json:"action_type,omitempty"`
	Seconds    float64 `yaml:"seconds,omitempty" json:"seconds,omitempty"`
}

// InterpreterConfig configures python code execution.
type InterpreterConfig struct {
	Enabled    bool   `yaml:"enabled" envconfig:"ENABLED"`
	Python     string `yaml:"python"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// VisionConfig selects the provider used for UI element lookup.
type VisionConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"ENABLED"`
	Provider string `yaml:"provider"`
}

// MQTTConfig configures status publishing to an MQTT broker.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled" envconfig:"ENABLED"`
	Broker     string `yaml:"broker" envconfig:"BROKER"`
	Username   string `yaml:"username" envconfig:"USERNAME"`
	Password   string `yaml:"password" envconfig:"PASSWORD"`
	BaseTopic  string `yaml:"base_topic"`
	InstanceID string `yaml:"instance_id"`

	// DeviceName is the Home Assistant device name; DiscoveryPrefix is
	// where discovery configs go (usually "homeassistant").
	DeviceName      string `yaml:"device_name"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`

	PublishIntervalSec int `yaml:"publish_interval_sec"`

	// Commands subscribes to <base_topic>/workflow/run so other systems
	// can trigger workflows. RateLimit caps inbound commands per minute.
	Commands  bool `yaml:"commands"`
	RateLimit int  `yaml:"rate_limit"`
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies defaults and then KORB_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays KORB_* environment variables onto the config.
// Nested sections use the section name as an infix, so providers.anthropic.api_key
// becomes KORB_PROVIDERS_ANTHROPIC_API_KEY. Unset variables leave values alone.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// Validate checks for configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Agent.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("agent.max_turns must be at least 1"))
	}
	if c.Agent.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("agent.max_retries must be at least 1"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q (valid: text, json)", c.Logging.Format))
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	return errors.Join(errs...)
}

// applyDefaults fills zero values that YAML or env may have cleared.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen.Port == 0 {
		c.Listen.Port = d.Listen.Port
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Agent.HistoryLimit == 0 {
		c.Agent.HistoryLimit = d.Agent.HistoryLimit
	}
	if c.Agent.MemoryResults == 0 {
		c.Agent.MemoryResults = d.Agent.MemoryResults
	}
	if c.Agent.KnowledgeResults == 0 {
		c.Agent.KnowledgeResults = d.Agent.KnowledgeResults
	}
	if c.Providers.Default == "" {
		c.Providers.Default = d.Providers.Default
	}
	if c.Providers.Ollama.BaseURL == "" {
		c.Providers.Ollama.BaseURL = d.Providers.Ollama.BaseURL
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Providers.Ollama.BaseURL
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = d.Embeddings.Model
	}
	if c.Fetch.MaxChars == 0 {
		c.Fetch.MaxChars = d.Fetch.MaxChars
	}
	if c.Fetch.TimeoutSec == 0 {
		c.Fetch.TimeoutSec = d.Fetch.TimeoutSec
	}
	if c.Interpreter.Python == "" {
		c.Interpreter.Python = d.Interpreter.Python
	}
	if c.Interpreter.TimeoutSec == 0 {
		c.Interpreter.TimeoutSec = d.Interpreter.TimeoutSec
	}
	if c.Sysctl.WorkflowDelay == 0 {
		c.Sysctl.WorkflowDelay = d.Sysctl.WorkflowDelay
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = d.MQTT.BaseTopic
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = d.MQTT.DeviceName
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = d.MQTT.DiscoveryPrefix
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = d.MQTT.PublishIntervalSec
	}
	if c.MQTT.RateLimit <= 0 {
		c.MQTT.RateLimit = d.MQTT.RateLimit
	}
}

// DatabasePath returns the SQLite file used for all stores.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "korb.db")
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8000},
		DataDir: "./data",
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Agent: AgentConfig{
			MaxTurns:         5,
			MaxRetries:       2,
			HistoryLimit:     50,
			MemoryResults:    5,
			KnowledgeResults: 3,
			SessionLock:      true,
		},
		Providers: ProvidersConfig{
			Default: "ollama",
			Ollama: ProviderConfig{
				BaseURL: "http://localhost:11434",
				Model:   "llama3",
			},
			Anthropic: ProviderConfig{
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 4096,
			},
			OpenAI: ProviderConfig{
				Model: "gpt-4o",
			},
		},
		Embeddings: EmbeddingsConfig{
			Model: "nomic-embed-text",
		},
		Fetch: FetchConfig{
			MaxChars:   2000,
			TimeoutSec: 10,
		},
		Sysctl: SysctlConfig{
			Enabled:       true,
			Workspace:     ".",
			WorkflowDelay: 500 * time.Millisecond,
		},
		Interpreter: InterpreterConfig{
			Python:     "python3",
			TimeoutSec: 30,
		},
		MQTT: MQTTConfig{
			BaseTopic:          "korb",
			DeviceName:         "korb",
			DiscoveryPrefix:    "homeassistant",
			PublishIntervalSec: 60,
			RateLimit:          30,
		},
	}
}
