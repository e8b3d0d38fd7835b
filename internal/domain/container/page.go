package container

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

var (
	ErrAlreadyConnected = errors.New("element is already connected")
	ErrNotConnected     = errors.New("element is not connected")
)

// Observer receives the connected and disconnected callbacks of every
// container on a page
type Observer interface {
	Attach(ctx context.Context, el *Element) error
	Detach(ctx context.Context, el *Element) error
}

// Page is the host document containers are attached to
type Page struct {
	mu   sync.Mutex // guards the document tree
	doc  *goquery.Document
	body *html.Node

	stateMu  sync.RWMutex
	observer Observer   // Protected by stateMu
	elements []*Element // Protected by stateMu

	logger *logging.Logger
}

// NewPage creates an empty host document
func NewPage(logger *logging.Logger) *Page {
	if logger == nil {
		logger = logging.NewNop()
	}
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body></body></html>"))
	return &Page{
		doc:    doc,
		body:   doc.Find("body").Get(0),
		logger: logger.Named("page"),
	}
}

// Observe registers the container lifecycle observer
func (p *Page) Observe(o Observer) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.observer = o
}

// CreateElement creates a detached container
func (p *Page) CreateElement(attrs map[string]string) *Element {
	return newElement(p, attrs)
}

// Append attaches el to the page body and runs the connected callback
func (p *Page) Append(ctx context.Context, el *Element) error {
	if el.page != p {
		return errors.New("element belongs to another page")
	}
	if el.Connected() {
		return ErrAlreadyConnected
	}

	p.mu.Lock()
	p.body.AppendChild(el.node)
	p.mu.Unlock()
	el.setConnected(true)

	p.stateMu.Lock()
	p.elements = append(p.elements, el)
	observer := p.observer
	p.stateMu.Unlock()

	if observer == nil {
		return nil
	}
	if err := observer.Attach(ctx, el); err != nil {
		p.logger.Warn("Container attach failed", zap.String("name", el.Name()), zap.Error(err))
		return err
	}
	return nil
}

func (p *Page) remove(ctx context.Context, el *Element) error {
	if !el.Connected() {
		return ErrNotConnected
	}

	p.mu.Lock()
	if el.node.Parent != nil {
		el.node.Parent.RemoveChild(el.node)
	}
	p.mu.Unlock()
	el.setConnected(false)

	p.stateMu.Lock()
	for i, e := range p.elements {
		if e == el {
			p.elements = append(p.elements[:i:i], p.elements[i+1:]...)
			break
		}
	}
	observer := p.observer
	p.stateMu.Unlock()

	if observer == nil {
		return nil
	}
	if err := observer.Detach(ctx, el); err != nil {
		p.logger.Warn("Container detach failed", zap.String("name", el.Name()), zap.Error(err))
		return err
	}
	return nil
}

// Elements returns the connected containers in attach order
func (p *Page) Elements() []*Element {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return append([]*Element(nil), p.elements...)
}

// Find returns the connected container whose normalized name is name
func (p *Page) Find(name string) (*Element, bool) {
	name = types.FormatAppName(name)
	for _, el := range p.Elements() {
		if types.FormatAppName(el.Name()) == name {
			return el, true
		}
	}
	return nil, false
}

// HTML renders the whole host document
func (p *Page) HTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf bytes.Buffer
	for _, n := range p.doc.Nodes {
		_ = html.Render(&buf, n)
	}
	return buf.String()
}
