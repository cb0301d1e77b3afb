package search

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/korb/internal/httpkit"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

func newSearchClient() *http.Client {
	return httpkit.NewClient(httpkit.WithTimeout(15 * time.Second))
}

// getJSON issues a GET with the given headers and decodes a 200 reply
// into v. name prefixes every error.
func getJSON(ctx context.Context, client *http.Client, name, rawURL string, header http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", name, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d: %s", name, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	return nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// cleanSnippet removes highlight markup and entities some engines put in
// descriptions.
func cleanSnippet(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// collect keeps the first count results that have a URL, skipping
// duplicates.
func collect(count int, raw []Result) []Result {
	if count <= 0 {
		count = DefaultCount
	}
	seen := make(map[string]bool, len(raw))
	out := make([]Result, 0, min(count, len(raw)))
	for _, r := range raw {
		if len(out) == count {
			break
		}
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		r.Title = strings.TrimSpace(r.Title)
		r.Snippet = cleanSnippet(r.Snippet)
		out = append(out, r)
	}
	return out
}

// SearXNG queries a self-hosted SearXNG instance through its JSON API.
// The instance must have the json format enabled.
type SearXNG struct {
	baseURL string
	client  *http.Client
}

// NewSearXNG creates a SearXNG provider for the instance root URL, e.g.
// "http://localhost:8080".
func NewSearXNG(baseURL string) *SearXNG {
	return &SearXNG{baseURL: strings.TrimRight(baseURL, "/"), client: newSearchClient()}
}

func (s *SearXNG) Name() string { return "searxng" }

func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{"q": {query}, "format": {"json"}}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := getJSON(ctx, s.client, "searxng", s.baseURL+"/search?"+params.Encode(), nil, &body); err != nil {
		return nil, err
	}

	raw := make([]Result, 0, len(body.Results))
	for _, r := range body.Results {
		raw = append(raw, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return collect(opts.Count, raw), nil
}

// Brave queries the Brave Search web API.
type Brave struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewBrave creates a Brave Search provider.
func NewBrave(apiKey string) *Brave {
	return &Brave{apiKey: apiKey, endpoint: braveEndpoint, client: newSearchClient()}
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 {
		count = DefaultCount
	}
	params := url.Values{"q": {query}, "count": {strconv.Itoa(count)}}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	header := http.Header{"X-Subscription-Token": {b.apiKey}}
	if err := getJSON(ctx, b.client, "brave", b.endpoint+"?"+params.Encode(), header, &body); err != nil {
		return nil, err
	}

	raw := make([]Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		raw = append(raw, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return collect(count, raw), nil
}
