package fetch

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hidden are elements whose text is never shown to the reader.
var hidden = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
}

// blocks start on a new line.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.Header: true, atom.Aside: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Li: true,
	atom.Table: true, atom.Tr: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Figcaption: true, atom.Br: true, atom.Hr: true,
}

type extractor struct {
	title string
	text  strings.Builder
}

// extractHTML parses an HTML document and returns its title and visible
// text, one line per block element.
func extractHTML(raw []byte) (string, string) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", cleanLines(string(raw))
	}
	var e extractor
	e.walk(doc)
	return strings.TrimSpace(e.title), cleanLines(e.text.String())
}

func (e *extractor) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		e.text.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.DataAtom == atom.Title {
			if e.title == "" && n.FirstChild != nil {
				e.title = n.FirstChild.Data
			}
			return
		}
		if hidden[n.DataAtom] {
			return
		}
		if blocks[n.DataAtom] {
			e.text.WriteByte('\n')
			defer e.text.WriteByte('\n')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c)
	}
}

// cleanLines trims every line, splits phrases separated by runs of
// spaces onto their own lines, collapses inner whitespace and drops blank
// lines.
func cleanLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		for _, phrase := range strings.Split(line, "  ") {
			phrase = strings.Join(strings.Fields(phrase), " ")
			if phrase != "" {
				out = append(out, phrase)
			}
		}
	}
	return strings.Join(out, "\n")
}
