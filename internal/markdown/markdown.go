// Package markdown locates image references in Markdown documents so their
// destinations can be rewritten without re-rendering the document.
package markdown

import (
	"bytes"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Image is an inline image reference. Start and End delimit the destination
// bytes in the source.
type Image struct {
	Destination string
	Start       int
	End         int
}

// Images returns every inline image of body whose destination could be
// located in the source, in document order. Reference-style images are not
// reported since their destination lives in the definition.
func Images(body []byte) []Image {
	root := goldmark.New().Parser().Parse(text.NewReader(body))

	dests := map[string]bool{}
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if img, ok := n.(*gmast.Image); ok && entering {
			dests[string(img.Destination)] = true
		}
		return gmast.WalkContinue, nil
	})
	if len(dests) == 0 {
		return nil
	}

	var out []Image
	for i := 0; i < len(body); {
		j := bytes.Index(body[i:], []byte("]("))
		if j < 0 {
			break
		}
		open := i + j + 2
		i = open
		if !isImageLabel(body, open-2) {
			continue
		}
		start := open
		for start < len(body) && (body[start] == ' ' || body[start] == '\t') {
			start++
		}
		angle := start < len(body) && body[start] == '<'
		if angle {
			start++
		}
		end := start
		for end < len(body) && !isDestEnd(body[end], angle) {
			end++
		}
		dest := string(body[start:end])
		if end > start && dests[dest] {
			out = append(out, Image{Destination: dest, Start: start, End: end})
		}
	}
	return out
}

func isDestEnd(c byte, angle bool) bool {
	if angle {
		return c == '>' || c == '\n'
	}
	return c == ')' || c == ' ' || c == '\t' || c == '\n'
}

// isImageLabel reports whether the "]" at pos closes a label opened by "![".
func isImageLabel(body []byte, pos int) bool {
	depth := 0
	for k := pos; k >= 0; k-- {
		switch body[k] {
		case ']':
			if k == 0 || body[k-1] != '\\' {
				depth++
			}
		case '[':
			if k > 0 && body[k-1] == '\\' {
				continue
			}
			depth--
			if depth == 0 {
				return k > 0 && body[k-1] == '!'
			}
		case '\n':
			if k > 0 && body[k-1] == '\n' {
				return false
			}
		}
	}
	return false
}
