package knowledge

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultChunkSize is the maximum number of characters in one chunk.
const DefaultChunkSize = 1000

// Chunk is one retrievable unit of an ingested document.
type Chunk struct {
	Section string // heading path for markdown, e.g. "guide/watering"
	Content string
}

// ChunkText splits s into consecutive pieces of at most size characters.
// Splits fall on character boundaries, never inside a UTF-8 sequence.
func ChunkText(s string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		out = append(out, string(runes[i:end]))
	}
	return out
}

// ChunkMarkdown splits a markdown document into one chunk per heading
// section. Content before the first heading forms its own section. Sections
// longer than size are split further with ChunkText.
func ChunkMarkdown(src []byte, size int) []Chunk {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	type boundary struct {
		offset  int
		section string
	}

	var bounds []boundary
	var path []string // heading slugs, indexed by level-1
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		title := headingText(h, src)

		level := h.Level
		if len(path) >= level {
			path = path[:level-1]
		}
		for len(path) < level-1 {
			path = append(path, "")
		}
		path = append(path, slugify(title))

		bounds = append(bounds, boundary{
			offset:  lineStart(src, h.Lines().At(0).Start),
			section: joinPath(path),
		})
	}

	var chunks []Chunk
	add := func(section string, body []byte) {
		content := strings.TrimSpace(string(body))
		if content == "" {
			return
		}
		for _, piece := range ChunkText(content, size) {
			chunks = append(chunks, Chunk{Section: section, Content: piece})
		}
	}

	if len(bounds) == 0 {
		add("", src)
		return chunks
	}

	add("", src[:bounds[0].offset])
	for i, b := range bounds {
		end := len(src)
		if i+1 < len(bounds) {
			end = bounds[i+1].offset
		}
		add(b.section, src[b.offset:end])
	}
	return chunks
}

// headingText joins the source lines of h.
func headingText(h *ast.Heading, src []byte) string {
	var b strings.Builder
	lines := h.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return strings.TrimSpace(b.String())
}

// lineStart returns the offset of the beginning of the line containing pos.
func lineStart(src []byte, pos int) int {
	for pos > 0 && src[pos-1] != '\n' {
		pos--
	}
	return pos
}

func joinPath(parts []string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify converts a heading to a key-friendly form.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
