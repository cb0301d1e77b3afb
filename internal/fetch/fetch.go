// Package fetch downloads web pages and reduces them to readable text for
// the read_url tool and research mode.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/korb/internal/config"
	"github.com/nugget/korb/internal/httpkit"
)

// Limits used when the config leaves them zero. Bodies beyond
// DefaultMaxBytes are cut off before extraction.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxBytes int64 = 5 << 20
	DefaultMaxChars       = 2000
)

var ErrEmptyURL = errors.New("url is required")

const acceptHeader = "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.7"

// Result is the readable form of one page.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher turns URLs into plain text.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
}

func New(cfg config.FetchConfig) *Fetcher {
	timeout := DefaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(timeout)),
		maxBytes: DefaultMaxBytes,
		maxChars: maxChars,
	}
}

// MaxChars returns the configured extraction limit.
func (f *Fetcher) MaxChars() int {
	return f.maxChars
}

// Fetch downloads rawURL and extracts readable text. maxChars limits the
// output length in characters; 0 uses the configured limit. Non-2xx
// responses are extracted like any other page.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	target := normalizeURL(rawURL)
	if target == "" {
		return nil, ErrEmptyURL
	}
	if maxChars <= 0 {
		maxChars = f.maxChars
	}

	resp, body, err := f.get(ctx, target)
	if err != nil {
		return nil, err
	}

	res := &Result{
		URL:         target,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isHTML(res.ContentType):
		res.Title, res.Content = extractHTML(body)
	case utf8.Valid(body):
		res.Content = strings.TrimSpace(string(body))
	default:
		res.Content = fmt.Sprintf("Binary content (%s), %d bytes", res.ContentType, len(body))
		return res, nil
	}

	if utf8.RuneCountInString(res.Content) > maxChars {
		res.Content = truncateRunes(res.Content, maxChars)
		res.Truncated = true
	}
	return res, nil
}

// normalizeURL trims s and assumes https when no scheme is given.
func normalizeURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return "https://" + s
}

func (f *Fetcher) get(ctx context.Context, target string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncateRunes cuts s to at most n characters without splitting a
// multi-byte sequence.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
