package parser

import (
	"encoding/xml"
	"strings"
)

// node is a lightweight element tree for a single article. Text runs are
// stored as children with an empty name so mixed content keeps its order.
type node struct {
	name  string
	attrs []xml.Attr
	kids  []*node
	data  string
}

// blockElements get a separating space when flattened to text.
var blockElements = map[string]bool{
	"p": true, "title": true, "sec": true, "list": true, "list-item": true,
	"disp-quote": true, "caption": true, "table-wrap": true, "fig": true,
	"label": true, "td": true, "th": true, "tr": true, "def-item": true,
	"term": true, "def": true, "break": true, "kwd": true, "part": true,
}

func localName(n xml.Name) string {
	return strings.ToLower(n.Local)
}

// buildTree consumes tokens until the end of start and returns its subtree.
func buildTree(dec *xml.Decoder, start xml.StartElement) (*node, error) {
	root := &node{name: localName(start.Name), attrs: copyAttrs(start.Attr)}
	stack := []*node{root}

	for len(stack) > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			child := &node{name: localName(t.Name), attrs: copyAttrs(t.Attr)}
			top.kids = append(top.kids, child)
			stack = append(stack, child)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(t) == 0 {
				continue
			}
			top.kids = append(top.kids, &node{data: string(t)})
		}
	}
	return root, nil
}

func copyAttrs(attrs []xml.Attr) []xml.Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]xml.Attr, len(attrs))
	copy(out, attrs)
	return out
}

// attr looks an attribute up by local name, ignoring namespace and case.
func (n *node) attr(name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func (n *node) isText() bool { return n.name == "" }

// child returns the first direct child element with the given name.
func (n *node) child(name string) *node {
	if n == nil {
		return nil
	}
	for _, k := range n.kids {
		if k.name == name {
			return k
		}
	}
	return nil
}

// children returns all direct child elements with the given name.
func (n *node) children(name string) []*node {
	if n == nil {
		return nil
	}
	var out []*node
	for _, k := range n.kids {
		if k.name == name {
			out = append(out, k)
		}
	}
	return out
}

// path follows direct children, e.g. path("front", "article-meta").
func (n *node) path(names ...string) *node {
	cur := n
	for _, name := range names {
		cur = cur.child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// skipSubtrees are never searched for article-level metadata.
var skipSubtrees = map[string]bool{
	"sub-article": true,
	"response":    true,
	"ref-list":    true,
}

// find returns descendants named name in document order, not descending into
// matches or into nested articles and reference lists.
func (n *node) find(name string) []*node {
	if n == nil {
		return nil
	}
	var out []*node
	var walk func(*node)
	walk = func(cur *node) {
		for _, k := range cur.kids {
			if k.isText() || skipSubtrees[k.name] {
				continue
			}
			if k.name == name {
				out = append(out, k)
				continue
			}
			walk(k)
		}
	}
	walk(n)
	return out
}

func (n *node) first(name string) *node {
	found := n.find(name)
	if len(found) == 0 {
		return nil
	}
	return found[0]
}

// text flattens mixed content. Block-level elements are separated by spaces,
// inline markup is not, and whitespace is collapsed.
func (n *node) text() string {
	return n.textExcept(nil)
}

// textExcept flattens like text but leaves out the named child elements.
func (n *node) textExcept(skip map[string]bool) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*node)
	walk = func(cur *node) {
		for _, k := range cur.kids {
			if k.isText() {
				b.WriteString(k.data)
				continue
			}
			if skip[k.name] {
				continue
			}
			block := blockElements[k.name]
			if block {
				b.WriteByte(' ')
			}
			walk(k)
			if block {
				b.WriteByte(' ')
			}
		}
	}
	walk(n)
	return collapseSpace(b.String())
}

// without returns a shallow copy of n minus its first direct child named name.
func (n *node) without(name string) *node {
	if n == nil {
		return nil
	}
	out := &node{name: n.name, attrs: n.attrs, kids: make([]*node, 0, len(n.kids))}
	dropped := false
	for _, k := range n.kids {
		if !dropped && k.name == name {
			dropped = true
			continue
		}
		out.kids = append(out.kids, k)
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
