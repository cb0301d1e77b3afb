// Package research pre-processes chat messages that ask for web
// information before they reach the orchestrator. A search-intent message
// is answered from one search; a research request searches, reads the top
// sources and asks the model for a report.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nugget/korb/internal/fetch"
	"github.com/nugget/korb/internal/search"
)

// DefaultSources is how many search results a research report reads.
const DefaultSources = 3

const researchPrefix = "research "

var searchPhrases = regexp.MustCompile(`(?i)search for|google`)

// DetectSearch reports whether msg asks for a web search and returns the
// query with the trigger phrases removed.
func DetectSearch(msg string) (query string, ok bool) {
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "search for") && !strings.Contains(lower, "google") {
		return "", false
	}
	return strings.TrimSpace(searchPhrases.ReplaceAllString(msg, "")), true
}

// SearchPrompt wraps the user's message and formatted results into the
// message sent to the model.
func SearchPrompt(msg, results string) string {
	return fmt.Sprintf("User asked: %s\n\nSearch Results:\n%s\n\nProvide a helpful answer based on the search results.", msg, results)
}

// DetectResearch reports whether msg starts with "research " and returns
// the topic.
func DetectResearch(msg string) (topic string, ok bool) {
	if len(msg) < len(researchPrefix) || !strings.EqualFold(msg[:len(researchPrefix)], researchPrefix) {
		return "", false
	}
	topic = strings.TrimSpace(msg[len(researchPrefix):])
	return topic, topic != ""
}

// Searcher runs a web search. *search.Manager satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Reader fetches page text. *fetch.Fetcher satisfies it.
type Reader interface {
	Fetch(ctx context.Context, rawURL string, maxChars int) (*fetch.Result, error)
}

// Pipeline builds model prompts from web results.
type Pipeline struct {
	search   Searcher
	reader   Reader
	sources  int
	maxChars int
	logger   *slog.Logger
}

// New creates a Pipeline. reader may be nil, in which case research
// reports are built from search snippets alone.
func New(s Searcher, reader Reader, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		search:   s,
		reader:   reader,
		sources:  DefaultSources,
		maxChars: fetch.DefaultMaxChars,
		logger:   logger,
	}
}

// SearchContext runs query and returns the prompt for a search-intent
// message. Search failures are folded into the prompt so the model can
// explain them.
func (p *Pipeline) SearchContext(ctx context.Context, msg, query string) string {
	var results string
	if p.search == nil {
		results = "Error performing search: " + search.ErrNotConfigured.Error()
	} else if found, err := p.search.Search(ctx, query, search.Options{}); err != nil {
		p.logger.Warn("search intent failed", "query", query, "error", err)
		results = fmt.Sprintf("Error performing search: %v", err)
	} else {
		results = search.FormatResults(found)
	}
	return SearchPrompt(msg, results)
}

// Progress receives short status lines while a report is prepared.
type Progress func(text string) error

// Report searches topic, reads the top sources and returns the prompt
// asking the model to write the report.
func (p *Pipeline) Report(ctx context.Context, topic string, progress Progress) (string, error) {
	if progress == nil {
		progress = func(string) error { return nil }
	}
	if p.search == nil {
		return "", search.ErrNotConfigured
	}

	if err := progress(fmt.Sprintf("*Researching %s...*\n\n", topic)); err != nil {
		return "", err
	}
	results, err := p.search.Search(ctx, topic, search.Options{Count: search.DefaultCount})
	if err != nil {
		return "", fmt.Errorf("research search: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("research search: no results for %q", topic)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\n\nSources:\n", topic)
	for i, r := range results {
		if i >= p.sources {
			break
		}
		body := r.Snippet
		if p.reader != nil {
			if err := progress(fmt.Sprintf("*Reading %s...*\n\n", r.URL)); err != nil {
				return "", err
			}
			page, err := p.reader.Fetch(ctx, r.URL, p.maxChars)
			if err != nil {
				p.logger.Warn("research source unreadable", "url", r.URL, "error", err)
			} else if page.Content != "" {
				body = page.Content
			}
		}
		fmt.Fprintf(&b, "\n[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, body)
	}
	b.WriteString("\nWrite a well-structured research report on the topic using the sources above. ")
	b.WriteString("Start with a short summary, then cover the key findings, and cite sources by their number.")

	p.logger.Info("research prompt prepared", "topic", topic, "results", len(results))
	return b.String(), nil
}
