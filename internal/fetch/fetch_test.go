package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/korb/internal/config"
)

func TestExtractHTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title> Test Page </title><style>.foo { color: red; }</style></head>
<body>
<nav>Navigation stuff</nav>
<script>var x = 1;</script>
<main>
<h1>Hello World</h1>
<p>This is a test paragraph with <strong>bold text</strong>.</p>
<ul><li>one</li><li>two</li></ul>
</main>
<footer>Footer stuff</footer>
</body>
</html>`

	title, content := extractHTML([]byte(page))

	if title != "Test Page" {
		t.Errorf("expected title 'Test Page', got %q", title)
	}
	want := "Hello World\nThis is a test paragraph with bold text.\none\ntwo"
	if content != want {
		t.Errorf("content =\n%q\nwant\n%q", content, want)
	}
}

func TestCleanLines(t *testing.T) {
	input := "  Hello   world  \n\n\n\n  Second line  \n\n\n Third  "
	got := cleanLines(input)
	want := "Hello\nworld\nSecond line\nThird"
	if got != want {
		t.Errorf("cleanLines = %q, want %q", got, want)
	}
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		if !strings.HasPrefix(ua, "korb/") {
			t.Errorf("expected korb User-Agent, got %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Test</title></head><body><p>Hello from test server</p></body></html>`))
	}))
	defer ts.Close()

	f := New(config.FetchConfig{})
	result, err := f.Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Title != "Test" {
		t.Errorf("expected title 'Test', got %q", result.Title)
	}
	if result.Content != "Hello from test server" {
		t.Errorf("content = %q", result.Content)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", result.StatusCode)
	}
}

func TestFetchPlainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Just plain text content\n"))
	}))
	defer ts.Close()

	result, err := New(config.FetchConfig{}).Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Content != "Just plain text content" {
		t.Errorf("expected plain text content, got %q", result.Content)
	}
}

func TestFetchTruncation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("é", 3000)))
	}))
	defer ts.Close()

	f := New(config.FetchConfig{})
	if f.MaxChars() != DefaultMaxChars {
		t.Fatalf("MaxChars = %d, want %d", f.MaxChars(), DefaultMaxChars)
	}

	result, err := f.Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.Truncated {
		t.Error("expected truncated=true")
	}
	if n := len([]rune(result.Content)); n != DefaultMaxChars {
		t.Errorf("expected %d runes, got %d", DefaultMaxChars, n)
	}

	result, err = f.Fetch(context.Background(), ts.URL, 10)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Content != strings.Repeat("é", 10) {
		t.Errorf("explicit limit not honored: %q", result.Content)
	}
}

func TestFetchBinary(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G', 0xff, 0xfe})
	}))
	defer ts.Close()

	result, err := New(config.FetchConfig{}).Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Content != "Binary content (image/png), 6 bytes" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestFetchEmptyURL(t *testing.T) {
	_, err := New(config.FetchConfig{}).Fetch(context.Background(), "  ", 0)
	if !errors.Is(err, ErrEmptyURL) {
		t.Errorf("expected ErrEmptyURL, got %v", err)
	}
}

func TestTruncateRunes(t *testing.T) {
	s := "Héllo wörld café"
	if got := truncateRunes(s, 5); got != "Héllo" {
		t.Errorf("truncateRunes = %q", got)
	}
	if got := truncateRunes("abc", 10); got != "abc" {
		t.Errorf("short string changed: %q", got)
	}
}
