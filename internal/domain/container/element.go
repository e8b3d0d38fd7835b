package container

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TagName is the element name containers are created with
const TagName = "micro-app"

// Event is a lifecycle event dispatched on a container
type Event struct {
	Type   string
	App    string
	Detail interface{}
	Err    error
}

// Listener receives dispatched events
type Listener func(Event)

type listenerEntry struct {
	id string
	fn Listener
}

// Element is one micro-app container
type Element struct {
	page *Page
	node *html.Node

	mu        sync.Mutex
	listeners map[string][]listenerEntry // Protected by mu
	connected bool                       // Protected by mu
}

func newElement(page *Page, attrs map[string]string) *Element {
	node := &html.Node{
		Type:     html.ElementNode,
		Data:     TagName,
		DataAtom: atom.Lookup([]byte(TagName)),
	}

	lowered := make(map[string]string, len(attrs))
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		k = strings.ToLower(k)
		if _, dup := lowered[k]; !dup {
			keys = append(keys, k)
		}
		lowered[k] = v
	}
	sort.Strings(keys)
	for _, k := range keys {
		node.Attr = append(node.Attr, html.Attribute{Key: k, Val: lowered[k]})
	}

	return &Element{
		page:      page,
		node:      node,
		listeners: make(map[string][]listenerEntry),
	}
}

// Name returns the name attribute
func (e *Element) Name() string {
	v, _ := e.GetAttribute("name")
	return v
}

// GetAttribute returns an attribute value
func (e *Element) GetAttribute(name string) (string, bool) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()

	name = strings.ToLower(name)
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// HasAttribute reports whether the attribute is present
func (e *Element) HasAttribute(name string) bool {
	_, ok := e.GetAttribute(name)
	return ok
}

// SetAttribute sets an attribute value
func (e *Element) SetAttribute(name, value string) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()

	name = strings.ToLower(name)
	for i, a := range e.node.Attr {
		if a.Key == name {
			e.node.Attr[i].Val = value
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttribute removes an attribute
func (e *Element) RemoveAttribute(name string) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()

	name = strings.ToLower(name)
	kept := e.node.Attr[:0]
	for _, a := range e.node.Attr {
		if a.Key != name {
			kept = append(kept, a)
		}
	}
	e.node.Attr = kept
}

// AttributeNames returns the attribute names in document order
func (e *Element) AttributeNames() []string {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()

	names := make([]string, len(e.node.Attr))
	for i, a := range e.node.Attr {
		names[i] = a.Key
	}
	return names
}

// AddEventListener registers fn for event and returns its id
func (e *Element) AddEventListener(event string, fn Listener) string {
	id := uuid.NewString()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], listenerEntry{id: id, fn: fn})
	return id
}

// RemoveEventListener removes the listener with id
func (e *Element) RemoveEventListener(event, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.listeners[event]
	for i, l := range entries {
		if l.id == id {
			e.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(e.listeners[event]) == 0 {
		delete(e.listeners, event)
	}
}

// ListenerCount returns the number of listeners for event
func (e *Element) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Dispatch delivers ev to its listeners in registration order
func (e *Element) Dispatch(ev Event) {
	e.mu.Lock()
	entries := append([]listenerEntry(nil), e.listeners[ev.Type]...)
	e.mu.Unlock()

	for _, l := range entries {
		l.fn(ev)
	}
}

// Connected reports whether the element is attached to the page
func (e *Element) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *Element) setConnected(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = v
}

// Remove detaches the element from the page and runs the disconnected
// callback
func (e *Element) Remove(ctx context.Context) error {
	return e.page.remove(ctx, e)
}

// Selection returns a goquery selection rooted at the element
func (e *Element) Selection() *goquery.Selection {
	return goquery.NewDocumentFromNode(e.node).Selection
}

// Locker guards the element's subtree
func (e *Element) Locker() sync.Locker {
	return &e.page.mu
}

// SetContent replaces the element's children with rendered html
func (e *Element) SetContent(content string) error {
	nodes, err := html.ParseFragment(strings.NewReader(content), e.node)
	if err != nil {
		return err
	}

	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	removeChildren(e.node)
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	return nil
}

// InnerHTML renders the element's children
func (e *Element) InnerHTML() string {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()

	var buf bytes.Buffer
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

// TakeChildren detaches and returns the element's children so they can
// be moved to another container
func (e *Element) TakeChildren() []*html.Node {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return removeChildren(e.node)
}

// AdoptChildren appends nodes previously taken from a container
func (e *Element) AdoptChildren(nodes []*html.Node) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		e.node.AppendChild(n)
	}
}

// Clear removes every child
func (e *Element) Clear() {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	removeChildren(e.node)
}

func removeChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		out = append(out, c)
		c = next
	}
	return out
}
