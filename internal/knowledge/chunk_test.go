package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		size  int
		want  []int // rune length of each chunk
	}{
		{"empty", "", 10, nil},
		{"shorter than size", "hello", 10, []int{5}},
		{"exact multiple", strings.Repeat("a", 20), 10, []int{10, 10}},
		{"remainder", strings.Repeat("a", 25), 10, []int{10, 10, 5}},
		{"multibyte", strings.Repeat("é", 15), 10, []int{10, 5}},
		{"default size", strings.Repeat("x", 2500), 0, []int{1000, 1000, 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkText(tt.input, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(got), len(tt.want))
			}
			for i, c := range got {
				if n := utf8.RuneCountInString(c); n != tt.want[i] {
					t.Errorf("chunk %d: %d runes, want %d", i, n, tt.want[i])
				}
			}
			if strings.Join(got, "") != tt.input {
				t.Error("chunks do not reassemble to the input")
			}
		})
	}
}

func TestChunkMarkdown(t *testing.T) {
	content := `Notes exported from the desk.

# Houseplant Care Guide

A reference for common indoor plants and their needs.

## Watering

Most houseplants prefer soil that dries slightly between waterings.

` + "```sh\n# not a heading\nwater --all\n```" + `

### Succulents

Water succulents every 2-3 weeks.

## Light Requirements

Different plants have different light needs.
`

	chunks := ChunkMarkdown([]byte(content), DefaultChunkSize)

	expected := []struct {
		section string
		hasText string
	}{
		{"", "exported from the desk"},
		{"houseplant-care-guide", "indoor plants"},
		{"houseplant-care-guide/watering", "# not a heading"},
		{"houseplant-care-guide/watering/succulents", "2-3 weeks"},
		{"houseplant-care-guide/light-requirements", "light needs"},
	}

	if len(chunks) != len(expected) {
		t.Fatalf("expected %d chunks, got %d: %+v", len(expected), len(chunks), chunks)
	}
	for i, exp := range expected {
		if chunks[i].Section != exp.section {
			t.Errorf("chunk %d: section %q, want %q", i, chunks[i].Section, exp.section)
		}
		if !strings.Contains(chunks[i].Content, exp.hasText) {
			t.Errorf("chunk %d: content %q missing %q", i, chunks[i].Content, exp.hasText)
		}
	}

	if !strings.HasPrefix(chunks[1].Content, "# Houseplant Care Guide") {
		t.Errorf("section should keep its heading line, got %q", chunks[1].Content)
	}
}

func TestChunkMarkdownSplitsLongSections(t *testing.T) {
	content := "# Big\n\n" + strings.Repeat("word ", 500)
	chunks := ChunkMarkdown([]byte(content), 1000)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Section != "big" {
			t.Errorf("chunk %d section = %q", i, c.Section)
		}
	}
}

func TestChunkMarkdownSetextHeadings(t *testing.T) {
	content := "Pruning Basics\n==============\n\nCut above a node.\n\nTools\n-----\n\nUse clean shears.\n"
	chunks := ChunkMarkdown([]byte(content), 1000)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Section != "pruning-basics" || !strings.HasPrefix(chunks[0].Content, "Pruning Basics") {
		t.Errorf("chunk 0 = %+v", chunks[0])
	}
	if chunks[1].Section != "pruning-basics/tools" || !strings.Contains(chunks[1].Content, "clean shears") {
		t.Errorf("chunk 1 = %+v", chunks[1])
	}
}

func TestChunkMarkdownNoHeadings(t *testing.T) {
	chunks := ChunkMarkdown([]byte("just a paragraph\n"), 1000)
	if len(chunks) != 1 || chunks[0].Content != "just a paragraph" || chunks[0].Section != "" {
		t.Errorf("unexpected chunks: %+v", chunks)
	}
	if got := ChunkMarkdown([]byte("   \n"), 1000); len(got) != 0 {
		t.Errorf("expected no chunks for blank input, got %+v", got)
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Light Requirements": "light-requirements",
		"  Q&A: FAQ  ":       "q-a-faq",
		"2-3 Weeks":          "2-3-weeks",
	}
	for in, want := range tests {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
