package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/microhost/internal/domain/assets"
	"github.com/GriffinCanCode/microhost/internal/domain/container"
	"github.com/GriffinCanCode/microhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

const (
	alphaURL = "http://alpha.test/"
	betaURL  = "http://beta.test/"
)

// site is an in-memory origin serving fixed documents
type site struct {
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
	gate  map[string]chan struct{}
	start chan string
}

func newSite() *site {
	s := &site{
		pages: map[string]string{
			alphaURL: `<html><head><link rel="stylesheet" href="style.css"></head>` +
				`<body><div id="root"></div><script src="main.js"></script></body></html>`,
			alphaURL + "style.css": `.title { color: blue }`,
			alphaURL + "main.js":   `document.querySelector('#root').textContent = 'hello ' + __MICRO_APP_NAME__; window.counter = (window.counter || 0) + 1;`,
			betaURL:                `<html><head><style>.beta { color: red }</style></head><body><p id="beta">beta</p></body></html>`,
		},
		hits:  make(map[string]int),
		gate:  make(map[string]chan struct{}),
		start: make(chan string, 16),
	}
	return s
}

func (s *site) set(url, content string) {
	s.mu.Lock()
	s.pages[url] = content
	s.mu.Unlock()
}

func (s *site) remove(url string) {
	s.mu.Lock()
	delete(s.pages, url)
	s.mu.Unlock()
}

// block makes fetches of url wait until the returned func is called
func (s *site) block(url string) func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gate[url] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *site) hitCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[url]
}

func (s *site) fetch(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	s.hits[url]++
	gate := s.gate[url]
	s.mu.Unlock()

	if gate != nil {
		select {
		case s.start <- url:
		default:
		}
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("404 not found: %s", url)
	}
	return []byte(content), nil
}

type testHost struct {
	site    *site
	manager *Manager
	page    *container.Page
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	s := newSite()
	logger := logging.NewNop()
	cache := assets.NewCache(s.fetch, logger)
	m := NewManager(Deps{
		Cache:  cache,
		Logger: logger,
		Sandbox: sandbox.Config{
			Timeout:       2 * time.Second,
			EnableConsole: true,
			MaxCallStack:  512,
		},
	})
	page := container.NewPage(logger)
	page.Observe(m)
	t.Cleanup(func() {
		_ = m.UnmountAll(context.Background(), types.UnmountOptions{Destroy: true})
	})
	return &testHost{site: s, manager: m, page: page}
}

// recorder collects lifecycle events dispatched on a container
type recorder struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events...)
}

func (r *recorder) has(event string) bool {
	for _, e := range r.list() {
		if e == event {
			return true
		}
	}
	return false
}

var allEvents = []string{
	types.EventCreated, types.EventBeforeMount, types.EventMounted, types.EventUnmount,
	types.EventError, types.EventBeforeShow, types.EventAfterShow, types.EventAfterHidden,
}

// newContainer creates a container with listeners already registered
func (h *testHost) newContainer(attrs map[string]string) (*container.Element, *recorder) {
	el := h.page.CreateElement(attrs)
	rec := &recorder{}
	for _, event := range allEvents {
		el.AddEventListener(event, func(ev container.Event) {
			rec.mu.Lock()
			rec.events = append(rec.events, ev.Type)
			if ev.Err != nil {
				rec.errs = append(rec.errs, ev.Err)
			}
			rec.mu.Unlock()
		})
	}
	return el, rec
}

func (h *testHost) mount(t *testing.T, attrs map[string]string) (*container.Element, *recorder) {
	t.Helper()
	el, rec := h.newContainer(attrs)
	if err := h.page.Append(context.Background(), el); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return el, rec
}

func (h *testHost) eval(t *testing.T, name, expr string) interface{} {
	t.Helper()
	inst, ok := h.manager.Lookup(name)
	if !ok {
		t.Fatalf("app %s not registered", name)
	}
	sb := inst.Sandbox()
	if sb == nil {
		t.Fatalf("app %s has no sandbox", name)
	}
	v, err := sb.Eval(context.Background(), expr)
	if err != nil {
		t.Fatalf("Eval(%q) error = %v", expr, err)
	}
	return v
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func alpha(extra ...string) map[string]string {
	attrs := map[string]string{"name": "alpha", "url": alphaURL}
	for i := 0; i+1 < len(extra); i += 2 {
		attrs[extra[i]] = extra[i+1]
	}
	return attrs
}

func sandboxScript(src string) sandbox.Script {
	return sandbox.Script{Source: src}
}
