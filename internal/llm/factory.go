package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/nugget/korb/internal/config"
	"github.com/nugget/korb/internal/embeddings"
)

// Factory builds providers by name. Every Resolve returns a freshly
// configured provider, so concurrent generations never share mutable
// provider settings and settings changes apply on the next request.
type Factory struct {
	cfg    config.ProvidersConfig
	logger *slog.Logger

	mu       sync.RWMutex
	builders map[string]func() Provider
}

// NewFactory registers the built-in backends. embedder backs Embed for
// providers without their own embedding endpoint and may be nil.
func NewFactory(cfg config.ProvidersConfig, embedder embeddings.Embedder, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:      cfg,
		logger:   logger,
		builders: make(map[string]func() Provider),
	}

	ollamaHTTP := newOllamaHTTPClient(logger)
	f.Register("ollama", func() Provider {
		return &OllamaProvider{httpClient: ollamaHTTP, embedder: embedder, logger: logger}
	})
	f.Register("anthropic", func() Provider { return NewAnthropicProvider(embedder, logger) })
	f.Register("openai", func() Provider { return NewOpenAIProvider(logger) })
	return f
}

// Register adds or replaces a provider constructor.
func (f *Factory) Register(name string, build func() Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[name] = build
}

// Names lists registered provider names.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.builders))
	for n := range f.builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the named provider configured with systemInstruction
// and the per-provider settings from config. An unknown name falls back
// to the configured default provider.
func (f *Factory) Resolve(name, systemInstruction string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	f.mu.RLock()
	build, ok := f.builders[name]
	if !ok {
		f.logger.Warn("unknown provider, falling back to default", "provider", name, "default", f.cfg.Default)
		name = f.cfg.Default
		build, ok = f.builders[name]
	}
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	pc := f.providerConfig(name)
	p := build()
	if err := p.Configure(Settings{
		SystemInstruction: systemInstruction,
		Model:             pc.Model,
		APIKey:            pc.APIKey,
		BaseURL:           pc.BaseURL,
		MaxTokens:         pc.MaxTokens,
	}); err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	return p, nil
}

func (f *Factory) providerConfig(name string) config.ProviderConfig {
	switch name {
	case "ollama":
		return f.cfg.Ollama
	case "anthropic":
		return f.cfg.Anthropic
	case "openai":
		return f.cfg.OpenAI
	default:
		return config.ProviderConfig{}
	}
}
