// Package search provides pluggable web search for the assistant.
//
// Each backend implements [Provider] and is registered on a [Manager]
// by name. The manager routes queries to the primary backend, which the
// google_search tool and the search-intent pipeline both call.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nugget/korb/internal/config"
)

// ErrNotConfigured means no backend has been registered.
var ErrNotConfigured = errors.New("no search provider configured")

// DefaultCount applies when Options.Count is zero.
const DefaultCount = 5

// Result is one hit from a web search.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options tune a query. Count caps the hits (backends may return
// fewer). Language is a two-letter code such as "en".
type Options struct {
	Count    int    `json:"count,omitempty"`
	Language string `json:"language,omitempty"`
}

// Provider is a search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches. When the
// primary provider fails, the others are tried in name order.
type Manager struct {
	providers map[string]Provider
	primary   string
	logger    *slog.Logger
}

// NewManager returns a Manager that prefers the backend named primary.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
		logger:    slog.Default(),
	}
}

// NewManagerFromConfig registers every configured backend. An unknown or
// unconfigured default falls back to searxng, then brave.
func NewManagerFromConfig(cfg config.SearchConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	primary := cfg.Default
	m := NewManager(primary)
	m.logger = logger
	if cfg.SearXNG.URL != "" {
		m.Register(NewSearXNG(cfg.SearXNG.URL))
	}
	if cfg.Brave.APIKey != "" {
		m.Register(NewBrave(cfg.Brave.APIKey))
	}

	if _, ok := m.providers[primary]; !ok {
		for _, name := range []string{"searxng", "brave"} {
			if _, ok := m.providers[name]; ok {
				if primary != "" {
					logger.Warn("search provider not configured, using fallback",
						"requested", primary, "using", name)
				}
				m.primary = name
				break
			}
		}
	}
	return m
}

// Register adds p, replacing any backend with the same name.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider, failing over to the
// other providers. The primary's error is returned when all fail.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	results, err := m.SearchWith(ctx, m.primary, query, opts)
	if err == nil || errors.Is(err, ErrNotConfigured) {
		return results, err
	}
	for _, name := range m.Providers() {
		if name == m.primary || ctx.Err() != nil {
			continue
		}
		m.logger.Warn("search provider failed, trying next", "failed", m.primary, "next", name, "error", err)
		if results, ferr := m.SearchWith(ctx, name, query, opts); ferr == nil {
			return results, nil
		}
	}
	return nil, err
}

// SearchWith queries one backend by name, without failover.
func (m *Manager) SearchWith(ctx context.Context, name, query string, opts Options) ([]Result, error) {
	if !m.Configured() {
		return nil, ErrNotConfigured
	}
	backend := m.providers[name]
	if backend == nil {
		return nil, fmt.Errorf("search: backend %q not configured", name)
	}
	return backend.Search(ctx, query, opts)
}

// Text searches and renders the results with FormatResults.
func (m *Manager) Text(ctx context.Context, query string, count int) (string, error) {
	results, err := m.Search(ctx, query, Options{Count: count})
	if err != nil {
		return "", err
	}
	return FormatResults(results), nil
}

// Providers lists registered backend names alphabetically.
func (m *Manager) Providers() []string {
	var names []string
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Primary() string {
	return m.primary
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return m != nil && len(m.providers) > 0
}

// FormatResults renders hits as a numbered list for the model.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n   %s", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}
