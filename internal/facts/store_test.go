package facts

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/korb/internal/embeddings"
)

// fakeEmbedder maps known texts to fixed vectors. Unknown text gets a
// vector orthogonal to everything else.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func newTestStore(t *testing.T, embedder embeddings.Embedder) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, embedder, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestAddAndAll(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	for _, text := range []string{"favorite color is blue", "  lives in Austin  "} {
		if err := s.Add(ctx, text); err != nil {
			t.Fatalf("Add(%q): %v", text, err)
		}
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(All) = %d, want 2", len(all))
	}
	if all[0].Text != "favorite color is blue" {
		t.Errorf("first memory = %q", all[0].Text)
	}
	if all[1].Text != "lives in Austin" {
		t.Errorf("second memory not trimmed: %q", all[1].Text)
	}
	if all[0].Embedding != nil {
		t.Errorf("expected no embedding without embedder")
	}
	if all[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestAddEmpty(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.Add(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty memory")
	}
}

func TestSubstringSearch(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	for _, text := range []string{"Favorite color is BLUE", "has a dog named Rex", "blue car in the garage"} {
		if err := s.Add(ctx, text); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := s.Search(ctx, "blue", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search returned %d results, want 2: %v", len(got), got)
	}
	// Most recent first.
	if got[0] != "blue car in the garage" {
		t.Errorf("got[0] = %q", got[0])
	}

	got, err = s.Search(ctx, "blue", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("limit not honored: %v", got)
	}

	got, err = s.Search(ctx, "blue", 0)
	if err != nil || got != nil {
		t.Errorf("Search with zero limit = %v, %v", got, err)
	}
}

func TestSemanticSearch(t *testing.T) {
	e := &fakeEmbedder{vectors: map[string][]float32{
		"favorite color is blue":   {1, 0, 0, 0},
		"has a dog named Rex":      {0, 1, 0, 0},
		"likes navy and turquoise": {0.9, 0.1, 0, 0},
		"what color do I like?":    {1, 0, 0, 0},
	}}
	s := newTestStore(t, e)
	ctx := context.Background()
	for _, text := range []string{"favorite color is blue", "has a dog named Rex", "likes navy and turquoise"} {
		if err := s.Add(ctx, text); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := s.Search(ctx, "what color do I like?", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"favorite color is blue", "likes navy and turquoise"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Search = %v, want %v", got, want)
	}

	stats := s.Stats()
	if stats["embedded"] != 3 {
		t.Errorf("embedded = %v, want 3", stats["embedded"])
	}
}

func TestSearchFallsBackWhenEmbeddingFails(t *testing.T) {
	e := &fakeEmbedder{}
	s := newTestStore(t, e)
	ctx := context.Background()
	if err := s.Add(ctx, "favorite color is blue"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	e.err = errors.New("ollama down")
	if err := s.Add(ctx, "prefers tea over coffee"); err != nil {
		t.Fatalf("Add with failing embedder: %v", err)
	}

	got, err := s.Search(ctx, "TEA", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0] != "prefers tea over coffee" {
		t.Errorf("Search = %v", got)
	}

	stats := s.Stats()
	if stats["total"] != 2 || stats["embedded"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if err := s.Add(ctx, text); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	all, _ := s.All()
	if err := s.Delete(all[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(all[0].ID); err == nil {
		t.Error("expected error deleting missing memory")
	}

	all, _ = s.All()
	if len(all) != 2 {
		t.Fatalf("len after delete = %d", len(all))
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	all, _ = s.All()
	if len(all) != 0 {
		t.Errorf("len after clear = %d", len(all))
	}
}
