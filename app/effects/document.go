package effects

import (
	"html"
	"html/template"
	"sort"
	"strings"
	"sync"
)

// DOM is the part of a document the dispatcher mutates
type DOM interface {
	GetElementByID(id string) *Node
	QueryHead(match func(*Node) bool) *Node
	QueryBody(match func(*Node) bool) *Node
	AppendHead(n *Node)
	AppendBody(n *Node)
	Remove(n *Node) bool
}

// Node is a single element with attributes and text content
type Node struct {
	ID    string
	Tag   string
	Attrs map[string]string
	Text  string
}

// Attr returns attribute value or empty string
func (n *Node) Attr(name string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// Document is an in-memory head and body, safe for concurrent use
type Document struct {
	mu   sync.RWMutex
	head []*Node
	body []*Node
}

// NewDocument makes an empty document
func NewDocument() *Document {
	return &Document{}
}

// GetElementByID looks up a node by id in head, then body
func (d *Document) GetElementByID(id string) *Node {
	if id == "" {
		return nil
	}
	match := func(n *Node) bool { return n.ID == id }
	if n := d.QueryHead(match); n != nil {
		return n
	}
	return d.QueryBody(match)
}

// QueryHead returns the first head node accepted by match
func (d *Document) QueryHead(match func(*Node) bool) *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return find(d.head, match)
}

// QueryBody returns the first body node accepted by match
func (d *Document) QueryBody(match func(*Node) bool) *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return find(d.body, match)
}

// AppendHead adds node to the end of head
func (d *Document) AppendHead(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.head = append(d.head, n)
}

// AppendBody adds node to the end of body
func (d *Document) AppendBody(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.body = append(d.body, n)
}

// Remove detaches node from head or body, returns false if it wasn't attached
func (d *Document) Remove(n *Node) bool {
	if n == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var ok bool
	if d.head, ok = without(d.head, n); ok {
		return true
	}
	d.body, ok = without(d.body, n)
	return ok
}

// Head returns a copy of head nodes
func (d *Document) Head() []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Node{}, d.head...)
}

// Body returns a copy of body nodes
func (d *Document) Body() []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Node{}, d.body...)
}

// HeadHTML renders head nodes as markup
func (d *Document) HeadHTML() template.HTML {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var sb strings.Builder
	for _, n := range d.head {
		sb.WriteString(render(n))
		sb.WriteString("\n")
	}
	return template.HTML(sb.String()) //nolint:gosec // attributes and text are escaped in render
}

func render(n *Node) string {
	var sb strings.Builder
	sb.WriteString("<" + n.Tag)
	if n.ID != "" {
		sb.WriteString(` id="` + html.EscapeString(n.ID) + `"`)
	}
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" " + html.EscapeString(k) + `="` + html.EscapeString(n.Attrs[k]) + `"`)
	}
	sb.WriteString(">")
	switch n.Tag {
	case "link", "meta":
		return sb.String()
	}
	sb.WriteString(html.EscapeString(n.Text))
	sb.WriteString("</" + n.Tag + ">")
	return sb.String()
}

func find(nodes []*Node, match func(*Node) bool) *Node {
	for _, n := range nodes {
		if match(n) {
			return n
		}
	}
	return nil
}

func without(nodes []*Node, target *Node) ([]*Node, bool) {
	for i, n := range nodes {
		if n == target {
			return append(nodes[:i:i], nodes[i+1:]...), true
		}
	}
	return nodes, false
}
