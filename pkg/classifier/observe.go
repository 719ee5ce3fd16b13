package classifier

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Observation is a DOM node worth scoring, with the facts strategies need.
type Observation struct {
	Index       int
	Node        *html.Node
	Tag         string
	Role        string
	ID          string
	Classes     []string
	Text        string // normalized visible text; src for images
	Alt         string
	Href        string
	Selector    string
	XPath       string
	ParentIndex int // nearest observed ancestor, -1 when none
	Ancestors   []*html.Node
}

// HasClassLike reports whether any class contains substr (case-insensitive).
func (o *Observation) HasClassLike(substr string) bool {
	substr = strings.ToLower(substr)
	for _, c := range o.Classes {
		if strings.Contains(strings.ToLower(c), substr) {
			return true
		}
	}
	return false
}

var observedTags = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.P: true, atom.Span: true, atom.Blockquote: true, atom.Figcaption: true,
	atom.Img: true, atom.A: true, atom.Button: true,
	atom.Section: true, atom.Article: true, atom.Header: true,
	atom.Ul: true, atom.Ol: true,
	atom.Nav: true, atom.Footer: true,
}

var skippedTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
	atom.Svg: true, atom.Iframe: true, atom.Head: true,
}

// Observe walks the document in order and returns the candidate nodes.
// Hidden subtrees and non-content tags are skipped.
func Observe(root *html.Node) []Observation {
	var out []Observation
	var stack []*html.Node
	var observedStack []int

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedTags[n.DataAtom] || isHidden(n) {
				return
			}
			if observable(n) {
				parent := -1
				if len(observedStack) > 0 {
					parent = observedStack[len(observedStack)-1]
				}
				obs := Observation{
					Index:       len(out),
					Node:        n,
					Tag:         n.Data,
					Role:        strings.ToLower(attr(n, "role")),
					ID:          attr(n, "id"),
					Classes:     strings.Fields(attr(n, "class")),
					Href:        attr(n, "href"),
					Alt:         strings.TrimSpace(attr(n, "alt")),
					Selector:    BuildSelector(n),
					XPath:       BuildXPath(n),
					ParentIndex: parent,
					Ancestors:   append([]*html.Node(nil), stack...),
				}
				if n.DataAtom == atom.Img {
					obs.Text = strings.TrimSpace(attr(n, "src"))
				} else {
					obs.Text = textContent(n)
				}
				out = append(out, obs)
				observedStack = append(observedStack, obs.Index)
				defer func() { observedStack = observedStack[:len(observedStack)-1] }()
			}
			stack = append(stack, n)
			defer func() { stack = stack[:len(stack)-1] }()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func observable(n *html.Node) bool {
	if observedTags[n.DataAtom] {
		return true
	}
	if n.DataAtom != atom.Div {
		return false
	}
	class := strings.ToLower(attr(n, "class"))
	return strings.Contains(class, "hero") || strings.Contains(class, "card")
}

func isHidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		}
	}
	return false
}

// blockTags break text apart; inline markup such as links joins it.
var blockTags = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Br: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Figcaption: true, atom.Figure: true, atom.Footer: true, atom.Form: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.Option: true, atom.P: true, atom.Pre: true, atom.Section: true,
	atom.Table: true, atom.Td: true, atom.Th: true, atom.Tr: true, atom.Ul: true,
}

// textContent returns the visible text below n with whitespace collapsed.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode && (skippedTags[c.DataAtom] || isHidden(c)) {
			return
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			return
		}
		block := c.Type == html.ElementNode && blockTags[c.DataAtom]
		if block {
			b.WriteByte(' ')
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
		if block {
			b.WriteByte(' ')
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
