package classifier

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// maxSelectorClasses is how many classes a selector segment carries.
const maxSelectorClasses = 2

// BuildSelector returns a CSS selector for n. An element with a usable id is
// addressed as #id; otherwise segments are collected up to the document root
// (or the nearest ancestor with an id), each segment being
// tag[.class1.class2][:nth-child(k)] where :nth-child is only added when a
// sibling shares the tag.
func BuildSelector(n *html.Node) string {
	var segments []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if id := attr(cur, "id"); isIdentifier(id) {
			segments = append(segments, "#"+id)
			break
		}
		segments = append(segments, segment(cur))
	}

	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, " > ")
}

func segment(n *html.Node) string {
	var b strings.Builder
	b.WriteString(n.Data)

	added := 0
	for _, class := range strings.Fields(attr(n, "class")) {
		if added == maxSelectorClasses {
			break
		}
		if !isIdentifier(class) {
			continue
		}
		b.WriteString(".")
		b.WriteString(class)
		added++
	}

	if sharesTagWithSibling(n) {
		fmt.Fprintf(&b, ":nth-child(%d)", childIndex(n))
	}
	return b.String()
}

// BuildXPath returns an absolute XPath for n using 1-based same-tag positions.
func BuildXPath(n *html.Node) string {
	var segments []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		seg := cur.Data
		if sharesTagWithSibling(cur) {
			seg = fmt.Sprintf("%s[%d]", seg, tagIndex(cur))
		}
		segments = append(segments, seg)
	}

	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return "/" + strings.Join(segments, "/")
}

func sharesTagWithSibling(n *html.Node) bool {
	if n.Parent == nil {
		return false
	}
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s != n && s.Type == html.ElementNode && s.Data == n.Data {
			return true
		}
	}
	return false
}

// childIndex is the 1-based position of n among its element siblings.
func childIndex(n *html.Node) int {
	i := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			i++
		}
	}
	return i
}

// tagIndex is the 1-based position of n among siblings with the same tag.
func tagIndex(n *html.Node) int {
	i := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			i++
		}
	}
	return i
}

// isIdentifier reports whether s can be used unescaped in a CSS selector.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r == '-' && i == 0 && len(s) > 1:
		case (r >= '0' && r <= '9') || r == '-':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
