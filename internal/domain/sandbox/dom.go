package sandbox

import (
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Tags standing in for head and body inside a container
const (
	HeadTag = "micro-app-head"
	BodyTag = "micro-app-body"
)

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// DOMScope confines element lookups to one container subtree
type DOMScope struct {
	root *goquery.Selection
	lock sync.Locker

	mu      sync.Mutex
	changes []DOMChange // Protected by mu
}

// NewDOMScope creates a scope rooted at root. lock guards the document
// root belongs to; nil means the caller owns the document.
func NewDOMScope(root *goquery.Selection, lock sync.Locker) *DOMScope {
	if lock == nil {
		lock = nopLocker{}
	}
	return &DOMScope{root: root, lock: lock}
}

// Root returns the container selection
func (d *DOMScope) Root() *goquery.Selection {
	return d.root
}

// Query returns the first match inside the container
func (d *DOMScope) Query(selector string) *goquery.Selection {
	return d.QueryAll(selector).First()
}

// QueryAll returns every match inside the container. head, body and html
// resolve to the container's own stand-ins.
func (d *DOMScope) QueryAll(selector string) *goquery.Selection {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.root == nil {
		return &goquery.Selection{}
	}
	rewritten, self := scopeSelector(selector)
	if self {
		return d.root
	}
	return d.root.Find(rewritten)
}

// within runs a scoped lookup below sel
func (d *DOMScope) within(sel *goquery.Selection, selector string) *goquery.Selection {
	d.lock.Lock()
	defer d.lock.Unlock()

	rewritten, self := scopeSelector(selector)
	if self {
		return sel
	}
	return sel.Find(rewritten)
}

// ByID finds an element by id inside the container
func (d *DOMScope) ByID(id string) *goquery.Selection {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.root == nil {
		return &goquery.Selection{}
	}
	return d.root.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("id")
		return v == id
	}).First()
}

// ByClass finds elements carrying class inside the container
func (d *DOMScope) ByClass(class string) *goquery.Selection {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.root == nil {
		return &goquery.Selection{}
	}
	return d.root.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.HasClass(class)
	})
}

// ByTag finds elements by tag name inside the container
func (d *DOMScope) ByTag(tag string) *goquery.Selection {
	return d.QueryAll(tag)
}

// Head returns the container's head stand-in
func (d *DOMScope) Head() *goquery.Selection {
	return d.QueryAll(HeadTag).First()
}

// Body returns the container's body stand-in
func (d *DOMScope) Body() *goquery.Selection {
	return d.QueryAll(BodyTag).First()
}

// Text returns the text of sel under the document lock
func (d *DOMScope) Text(sel *goquery.Selection) string {
	d.lock.Lock()
	defer d.lock.Unlock()
	return sel.Text()
}

// Attr returns an attribute of sel under the document lock
func (d *DOMScope) Attr(sel *goquery.Selection, name string) (string, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return sel.Attr(name)
}

// SetAttr sets an attribute and records the change
func (d *DOMScope) SetAttr(sel *goquery.Selection, selector, name, value string) {
	d.lock.Lock()
	sel.SetAttr(name, value)
	d.lock.Unlock()
	d.record(DOMChange{Type: "set_attribute", Selector: selector, Property: name, Value: value})
}

// SetText replaces the text of sel and records the change
func (d *DOMScope) SetText(sel *goquery.Selection, selector, text string) {
	d.lock.Lock()
	sel.SetText(text)
	d.lock.Unlock()
	d.record(DOMChange{Type: "set_text", Selector: selector, Property: "textContent", Value: text})
}

// SetHTML replaces the children of sel and records the change
func (d *DOMScope) SetHTML(sel *goquery.Selection, selector, html string) {
	d.lock.Lock()
	sel.SetHtml(html)
	d.lock.Unlock()
	d.record(DOMChange{Type: "set_html", Selector: selector, Property: "innerHTML", Value: html})
}

// HTML returns the inner HTML of sel
func (d *DOMScope) HTML(sel *goquery.Selection) string {
	d.lock.Lock()
	defer d.lock.Unlock()
	h, _ := sel.Html()
	return h
}

// Changes returns accumulated DOM changes
func (d *DOMScope) Changes() []DOMChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DOMChange{}, d.changes...)
}

func (d *DOMScope) record(change DOMChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changes = append(d.changes, change)
}

// scopeSelector maps document-level tags onto container stand-ins. self
// is true when the selector names the document root itself.
func scopeSelector(selector string) (string, bool) {
	if strings.TrimSpace(selector) == "" {
		return "", false
	}
	parts := strings.Split(selector, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		kept := fields[:0]
		for _, f := range fields {
			if f == "html" || f == ":root" {
				continue
			}
			kept = append(kept, mapRootTag(f))
		}
		if len(kept) == 0 {
			if len(parts) == 1 {
				return "", true
			}
			continue
		}
		out = append(out, strings.Join(kept, " "))
	}
	return strings.Join(out, ", "), false
}

func mapRootTag(compound string) string {
	for tag, standIn := range map[string]string{"head": HeadTag, "body": BodyTag} {
		if compound == tag {
			return standIn
		}
		if strings.HasPrefix(compound, tag) && strings.ContainsRune(".#[:>", rune(compound[len(tag)])) {
			return standIn + compound[len(tag):]
		}
	}
	return compound
}
