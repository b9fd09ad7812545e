// Package extract turns stored documents into the plain text that is sent to
// the annotation engine.
package extract

import (
	"bytes"
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// Func extracts text from a document.
type Func func(doc *model.Document) (string, error)

// ExtractText concatenates the title, description, body and related texts of
// doc, separated by blank lines. HTML bodies are converted to text first and
// control characters are stripped.
func ExtractText(doc *model.Document) (string, error) {
	if doc == nil {
		return "", nil
	}

	var parts []string
	add := func(s string) {
		if s = Clean(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(doc.Title)
	add(doc.Description)
	if doc.BodyFormat == model.FormatHTML {
		body, err := HTMLToText(strings.NewReader(doc.Body))
		if err != nil {
			return "", err
		}
		add(body)
	} else {
		add(doc.Body)
	}
	for _, related := range doc.RelatedTexts {
		add(related)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Clean strips control characters other than newlines and tabs and trims
// surrounding whitespace.
func Clean(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == '\r' {
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// HTMLToText renders the text content of an HTML fragment. Block elements
// start new lines; script and style contents are dropped.
func HTMLToText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var buf bytes.Buffer
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			return collapseLines(buf.String()), nil

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style {
				skip++
				continue
			}
			if isBlock(a) {
				buf.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if (a == atom.Script || a == atom.Style) && skip > 0 {
				skip--
				continue
			}
			if isBlock(a) {
				buf.WriteByte('\n')
			}

		case html.TextToken:
			if skip == 0 {
				buf.Write(z.Text())
			}
		}
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Ul, atom.Ol, atom.Tr, atom.Table,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Section, atom.Article, atom.Header, atom.Footer:
		return true
	}
	return false
}

// collapseLines squeezes runs of spaces within lines and drops empty lines.
func collapseLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
