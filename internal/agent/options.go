package agent

import (
	"fmt"
	"strings"

	"github.com/nugget/korb/internal/config"
	"github.com/nugget/korb/internal/llm"
	"github.com/nugget/korb/internal/prompts"
	"github.com/nugget/korb/internal/settings"
)

// Defaults for Options fields left at zero.
const (
	DefaultMaxTurns      = 5
	DefaultMaxRetries    = 2
	DefaultMemoryResults = 3
)

// Options configures one generation. It is built per request so that
// settings changes apply to the next message without shared state.
type Options struct {
	Provider llm.Provider

	MaxTurns   int
	MaxRetries int

	// HistoryLimit bounds the transcript messages sent as history; zero
	// sends the whole session.
	HistoryLimit  int
	MemoryResults int

	Profile settings.Profile
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MemoryResults <= 0 {
		o.MemoryResults = DefaultMemoryResults
	}
	return o
}

// ProviderResolver builds a configured provider by name. *llm.Factory
// satisfies it.
type ProviderResolver interface {
	Resolve(name, systemInstruction string) (llm.Provider, error)
}

// NewOptions resolves the active provider with the active persona's
// system instruction and the tool catalog.
func NewOptions(cfg config.AgentConfig, s settings.Settings, models ProviderResolver, catalog string) (Options, error) {
	persona := s.ActivePersona()
	local := strings.EqualFold(strings.TrimSpace(s.ActiveProvider), "ollama")
	system := prompts.SystemInstruction(persona.Prompt, catalog, local)

	provider, err := models.Resolve(s.ActiveProvider, system)
	if err != nil {
		return Options{}, fmt.Errorf("resolve provider: %w", err)
	}

	return Options{
		Provider:      provider,
		MaxTurns:      cfg.MaxTurns,
		MaxRetries:    cfg.MaxRetries,
		HistoryLimit:  cfg.HistoryLimit,
		MemoryResults: cfg.MemoryResults,
		Profile:       s.UserProfile,
	}, nil
}
