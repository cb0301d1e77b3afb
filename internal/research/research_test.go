package research

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/korb/internal/fetch"
	"github.com/nugget/korb/internal/search"
)

type fakeSearcher struct {
	results []search.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ search.Options) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

type fakeReader struct {
	pages map[string]string
	urls  []string
}

func (f *fakeReader) Fetch(_ context.Context, rawURL string, _ int) (*fetch.Result, error) {
	f.urls = append(f.urls, rawURL)
	content, ok := f.pages[rawURL]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return &fetch.Result{URL: rawURL, Content: content}, nil
}

func TestDetectSearch(t *testing.T) {
	tests := []struct {
		msg   string
		query string
		ok    bool
	}{
		{"search for golang generics", "golang generics", true},
		{"Can you Google the weather in Oslo", "Can you  the weather in Oslo", true},
		{"Search For cats", "cats", true},
		{"what is the weather", "", false},
	}
	for _, tt := range tests {
		query, ok := DetectSearch(tt.msg)
		if query != tt.query || ok != tt.ok {
			t.Errorf("DetectSearch(%q) = %q, %v; want %q, %v", tt.msg, query, ok, tt.query, tt.ok)
		}
	}
}

func TestDetectResearch(t *testing.T) {
	tests := []struct {
		msg   string
		topic string
		ok    bool
	}{
		{"research quantum dots", "quantum dots", true},
		{"Research  solar sails ", "solar sails", true},
		{"research ", "", false},
		{"researching things", "", false},
		{"do research on bees", "", false},
	}
	for _, tt := range tests {
		topic, ok := DetectResearch(tt.msg)
		if topic != tt.topic || ok != tt.ok {
			t.Errorf("DetectResearch(%q) = %q, %v; want %q, %v", tt.msg, topic, ok, tt.topic, tt.ok)
		}
	}
}

func TestSearchContext(t *testing.T) {
	s := &fakeSearcher{results: []search.Result{{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}}}
	p := New(s, nil, nil)

	got := p.SearchContext(context.Background(), "search for go", "go")
	want := "User asked: search for go\n\nSearch Results:\n1. Go\n   https://go.dev\n   The Go language\n\nProvide a helpful answer based on the search results."
	if got != want {
		t.Errorf("SearchContext() =\n%q\nwant\n%q", got, want)
	}
	if len(s.queries) != 1 || s.queries[0] != "go" {
		t.Errorf("queries = %v", s.queries)
	}
}

func TestSearchContextError(t *testing.T) {
	p := New(&fakeSearcher{err: errors.New("rate limited")}, nil, nil)
	got := p.SearchContext(context.Background(), "google x", "x")
	if !strings.Contains(got, "Search Results:\nError performing search: rate limited") {
		t.Errorf("SearchContext() = %q", got)
	}
}

func TestReport(t *testing.T) {
	s := &fakeSearcher{results: []search.Result{
		{Title: "A", URL: "https://a.example", Snippet: "snippet a"},
		{Title: "B", URL: "https://b.example", Snippet: "snippet b"},
		{Title: "C", URL: "https://c.example", Snippet: "snippet c"},
		{Title: "D", URL: "https://d.example", Snippet: "snippet d"},
	}}
	r := &fakeReader{pages: map[string]string{
		"https://a.example": "full text a",
		"https://c.example": "full text c",
	}}
	p := New(s, r, nil)

	var progress []string
	prompt, err := p.Report(context.Background(), "bees", func(text string) error {
		progress = append(progress, text)
		return nil
	})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	for _, want := range []string{
		"Research topic: bees",
		"[1] A (https://a.example)\nfull text a",
		"[2] B (https://b.example)\nsnippet b",
		"[3] C (https://c.example)\nfull text c",
		"cite sources by their number",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "d.example") {
		t.Error("only the top sources should be read")
	}
	if len(r.urls) != 3 {
		t.Errorf("fetched %v, want 3 urls", r.urls)
	}
	if len(progress) != 4 || progress[0] != "*Researching bees...*\n\n" {
		t.Errorf("progress = %q", progress)
	}
}

func TestReportErrors(t *testing.T) {
	stop := errors.New("client went away")
	tests := []struct {
		name     string
		p        *Pipeline
		progress Progress
		want     string
	}{
		{"no searcher", New(nil, nil, nil), nil, "no search provider"},
		{"search error", New(&fakeSearcher{err: errors.New("down")}, nil, nil), nil, "down"},
		{"no results", New(&fakeSearcher{}, nil, nil), nil, "no results"},
		{"progress error", New(&fakeSearcher{}, nil, nil), func(string) error { return stop }, "client went away"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.p.Report(context.Background(), "bees", tt.progress)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}
