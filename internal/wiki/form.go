package wiki

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// form is a parsed HTML form ready to be submitted
type form struct {
	Action string
	Fields url.Values
}

// parseForm finds the first form in p matching pred and collects the values
// a browser would submit: named inputs, checked checkboxes and radios,
// textareas, selects and the first submit button. File inputs are left to
// the caller.
func parseForm(p *page, pred func(*html.Node) bool) (*form, error) {
	doc, err := html.Parse(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p.URL, err)
	}

	node := findNode(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Form && pred(n)
	})
	if node == nil {
		return nil, fmt.Errorf("%w on %s", ErrFormNotFound, p.URL)
	}

	action := p.URL
	if raw := strings.TrimSpace(attr(node, "action")); raw != "" {
		ref, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid form action %q: %w", raw, err)
		}
		action = p.URL.ResolveReference(ref)
	}

	f := &form{Action: action.String(), Fields: url.Values{}}
	submitted := false

	walk(node, func(n *html.Node) {
		name := attr(n, "name")
		if n.Type != html.ElementNode || name == "" {
			return
		}
		switch n.DataAtom {
		case atom.Input:
			switch strings.ToLower(attr(n, "type")) {
			case "file", "image", "reset", "button":
			case "checkbox", "radio":
				if hasAttr(n, "checked") {
					value := attr(n, "value")
					if !hasAttr(n, "value") {
						value = "on"
					}
					f.Fields.Add(name, value)
				}
			case "submit":
				if !submitted {
					f.Fields.Add(name, attr(n, "value"))
					submitted = true
				}
			default:
				f.Fields.Add(name, attr(n, "value"))
			}
		case atom.Button:
			if t := strings.ToLower(attr(n, "type")); (t == "" || t == "submit") && !submitted {
				f.Fields.Add(name, attr(n, "value"))
				submitted = true
			}
		case atom.Textarea:
			f.Fields.Add(name, text(n))
		case atom.Select:
			if v, ok := selectedOption(n); ok {
				f.Fields.Add(name, v)
			}
		}
	})

	return f, nil
}

// byID matches elements with the given id
func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return attr(n, "id") == id
	}
}

// isPost matches forms submitted with POST
func isPost(n *html.Node) bool {
	return strings.EqualFold(attr(n, "method"), "post")
}

func selectedOption(sel *html.Node) (string, bool) {
	var first, selected *html.Node
	walk(sel, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.Option {
			return
		}
		if first == nil {
			first = n
		}
		if selected == nil && hasAttr(n, "selected") {
			selected = n
		}
	})
	if selected == nil {
		selected = first
	}
	if selected == nil {
		return "", false
	}
	if hasAttr(selected, "value") {
		return attr(selected, "value"), true
	}
	return strings.TrimSpace(text(selected)), true
}

// findNode returns the first node in document order matching pred
func findNode(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}
