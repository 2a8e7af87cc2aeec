package transform

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// linkAttrs are the attributes holding a single reference
var linkAttrs = map[string]bool{
	"href":   true,
	"src":    true,
	"poster": true,
	"data":   true,
}

// rewriteHTML streams content through the tokenizer. Tags whose references
// are all left alone are copied byte for byte.
func rewriteHTML(content string, res *resolver) (string, error) {
	z := html.NewTokenizer(strings.NewReader(content))
	var b strings.Builder
	b.Grow(len(content))
	inStyle := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				return b.String(), nil
			}
			return "", fmt.Errorf("failed to tokenize html: %w", z.Err())
		}

		raw := string(z.Raw())

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tt == html.StartTagToken && tok.DataAtom == atom.Style {
				inStyle = true
			}
			if rewriteAttrs(&tok, res) {
				b.WriteString(tok.String())
			} else {
				b.WriteString(raw)
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); atom.Lookup(name) == atom.Style {
				inStyle = false
			}
			b.WriteString(raw)
		case html.TextToken:
			if inStyle {
				b.WriteString(rewriteCSS(raw, res))
			} else {
				b.WriteString(raw)
			}
		default:
			b.WriteString(raw)
		}
	}
}

// rewriteAttrs rewrites the references of one tag in place and reports
// whether anything changed
func rewriteAttrs(tok *html.Token, res *resolver) bool {
	changed := false
	for i, attr := range tok.Attr {
		switch {
		case linkAttrs[attr.Key]:
			if link, ok := res.link(attr.Val); ok {
				tok.Attr[i].Val = link
				changed = true
			}
		case attr.Key == "style":
			if css := rewriteCSS(attr.Val, res); css != attr.Val {
				tok.Attr[i].Val = css
				changed = true
			}
		}
	}
	return changed
}
