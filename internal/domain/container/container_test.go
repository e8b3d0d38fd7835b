package container

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (o *recordingObserver) Attach(ctx context.Context, el *Element) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "attach:"+el.Name())
	return o.err
}

func (o *recordingObserver) Detach(ctx context.Context, el *Element) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "detach:"+el.Name())
	el.Dispatch(Event{Type: "unmount", App: el.Name()})
	return nil
}

func TestElementAttributes(t *testing.T) {
	page := NewPage(nil)
	el := page.CreateElement(map[string]string{"name": "orders", "URL": "http://a.test/"})

	v, ok := el.GetAttribute("url")
	assert.True(t, ok)
	assert.Equal(t, "http://a.test/", v)
	assert.Equal(t, "orders", el.Name())

	el.SetAttribute("destory", "legacy")
	el.SetAttribute("destory", "legacy-2")
	assert.True(t, el.HasAttribute("destory"))
	v, _ = el.GetAttribute("destory")
	assert.Equal(t, "legacy-2", v)
	assert.Equal(t, []string{"name", "url", "destory"}, el.AttributeNames())

	el.RemoveAttribute("destory")
	assert.False(t, el.HasAttribute("destory"))
}

func TestElementListeners(t *testing.T) {
	page := NewPage(nil)
	el := page.CreateElement(nil)

	var got []string
	first := el.AddEventListener("mounted", func(ev Event) { got = append(got, "first") })
	el.AddEventListener("mounted", func(ev Event) { got = append(got, "second") })

	el.Dispatch(Event{Type: "mounted"})
	assert.Equal(t, []string{"first", "second"}, got)

	el.RemoveEventListener("mounted", first)
	el.Dispatch(Event{Type: "mounted"})
	assert.Equal(t, []string{"first", "second", "second"}, got)
	assert.Equal(t, 1, el.ListenerCount("mounted"))
}

func TestPageLifecycleCallbacks(t *testing.T) {
	page := NewPage(nil)
	observer := &recordingObserver{}
	page.Observe(observer)

	el := page.CreateElement(map[string]string{"name": "a"})
	unmounted := false
	el.AddEventListener("unmount", func(Event) { unmounted = true })

	require.NoError(t, page.Append(context.Background(), el))
	assert.True(t, el.Connected())
	assert.ErrorIs(t, page.Append(context.Background(), el), ErrAlreadyConnected)

	found, ok := page.Find("a")
	require.True(t, ok)
	assert.Same(t, el, found)
	assert.Contains(t, page.HTML(), `<micro-app name="a">`)

	require.NoError(t, el.Remove(context.Background()))
	assert.False(t, el.Connected())
	assert.True(t, unmounted)
	assert.ErrorIs(t, el.Remove(context.Background()), ErrNotConnected)
	assert.NotContains(t, page.HTML(), "micro-app")
	assert.Equal(t, []string{"attach:a", "detach:a"}, observer.events)
}

func TestPageAttachErrorIsReturned(t *testing.T) {
	page := NewPage(nil)
	page.Observe(&recordingObserver{err: errors.New("bad config")})

	el := page.CreateElement(map[string]string{"name": "x"})
	assert.Error(t, page.Append(context.Background(), el))
}

func TestElementContent(t *testing.T) {
	page := NewPage(nil)
	el := page.CreateElement(map[string]string{"name": "a"})
	require.NoError(t, page.Append(context.Background(), el))

	require.NoError(t, el.SetContent(`<micro-app-head><style>.x{}</style></micro-app-head><micro-app-body><div id="root">hi</div></micro-app-body>`))
	assert.Equal(t, 1, el.Selection().Find("#root").Length())
	assert.Contains(t, el.InnerHTML(), `<div id="root">hi</div>`)

	kept := el.TakeChildren()
	assert.Len(t, kept, 2)
	assert.Empty(t, strings.TrimSpace(el.InnerHTML()))

	other := page.CreateElement(map[string]string{"name": "a"})
	other.AdoptChildren(kept)
	assert.Equal(t, "hi", other.Selection().Find("#root").Text())

	other.Clear()
	assert.Empty(t, other.InnerHTML())
}
