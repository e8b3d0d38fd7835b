package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/microhost/internal/domain/assets"
	"github.com/GriffinCanCode/microhost/internal/domain/bus"
	"github.com/GriffinCanCode/microhost/internal/domain/container"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

func TestUnmountAppUnknownName(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := NewManager(Deps{
		Cache:  assets.NewCache(newSite().fetch, nil),
		Logger: &logging.Logger{Logger: zap.New(core)},
	})

	ok, err := m.UnmountApp(context.Background(), "ghost", types.UnmountOptions{Destroy: true})
	require.NoError(t, err)
	assert.False(t, ok)

	entries := logs.FilterMessage("Unmount requested for unknown application").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "ghost", entries[0].ContextMap()["app"])
}

func TestUnmountAppVisible(t *testing.T) {
	h := newTestHost(t)
	el, rec := h.mount(t, alpha())

	ok, err := h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.False(t, el.Connected())
	assert.True(t, rec.has(types.EventUnmount))
	assert.Empty(t, el.InnerHTML())

	inst, found := h.manager.Lookup("alpha")
	require.True(t, found, "registry entry is retained")
	assert.Equal(t, types.StateUnmount, inst.State())
	require.NotNil(t, inst.Sandbox(), "sandbox context is retained")
	assert.False(t, inst.Sandbox().Released())
	assert.Empty(t, h.manager.ListActive(false))
}

func TestUnmountAppDestroyPreservesMarkers(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]string
	}{
		{name: "no marker", attrs: alpha()},
		{name: "destroy marker", attrs: alpha("destroy", "keep-me")},
		{name: "legacy marker", attrs: alpha("destory", "legacy")},
		{name: "both markers", attrs: alpha("destroy", "a", "destory", "b")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHost(t)
			el, rec := h.mount(t, tt.attrs)
			inst, _ := h.manager.Lookup("alpha")
			sb := inst.Sandbox()

			ok, err := h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{Destroy: true})
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, rec.has(types.EventUnmount))

			_, found := h.manager.Lookup("alpha")
			assert.False(t, found, "destroy removes the registry entry")
			assert.True(t, sb.Released())
			_, hasChannel := h.manager.Events().Lookup("alpha")
			assert.False(t, hasChannel)

			for _, attr := range []string{types.AttrDestroy, types.AttrDestory} {
				want, had := tt.attrs[attr]
				got, has := el.GetAttribute(attr)
				assert.Equal(t, had, has, "presence of %s", attr)
				assert.Equal(t, want, got, "value of %s", attr)
			}
		})
	}
}

func TestDetachHonorsLegacyDestroyMarker(t *testing.T) {
	h := newTestHost(t)
	el, _ := h.mount(t, alpha("destory", ""))

	require.NoError(t, el.Remove(context.Background()))
	_, found := h.manager.Lookup("alpha")
	assert.False(t, found)
}

func TestUnmountAppUnmountedOrPrefetch(t *testing.T) {
	h := newTestHost(t)
	el, _ := h.mount(t, alpha())
	require.NoError(t, el.Remove(context.Background()))

	ok, err := h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{})
	require.NoError(t, err)
	assert.True(t, ok)
	_, found := h.manager.Lookup("alpha")
	assert.True(t, found, "without destroy nothing happens")

	ok, err = h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{Destroy: true})
	require.NoError(t, err)
	assert.True(t, ok)
	_, found = h.manager.Lookup("alpha")
	assert.False(t, found)
}

func TestKeepAliveHideAndShow(t *testing.T) {
	h := newTestHost(t)
	el, rec := h.mount(t, alpha("keep-alive", ""))

	ok, err := h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rec.has(types.EventAfterHidden))
	assert.False(t, rec.has(types.EventUnmount))

	inst, _ := h.manager.Lookup("alpha")
	assert.Equal(t, types.StateMounted, inst.State())
	assert.Equal(t, types.KeepAliveHidden, inst.KeepAliveState())
	assert.Empty(t, el.InnerHTML(), "DOM moved out of the detached container")
	assert.Empty(t, h.manager.ListActive(true))
	assert.Equal(t, []string{"alpha"}, h.manager.ListActive(false))

	el2, rec2 := h.mount(t, alpha("keep-alive", ""))
	assert.Equal(t, []string{types.EventBeforeShow, types.EventAfterShow}, rec2.list())
	assert.Equal(t, types.KeepAliveShown, inst.KeepAliveState())
	assert.Contains(t, el2.InnerHTML(), "hello alpha")
	assert.Equal(t, int64(1), h.eval(t, "alpha", "window.counter"), "show must not re-run scripts")

	// The restored DOM is the one application code sees
	_, err = inst.Sandbox().Execute(context.Background(), sandboxScript("document.querySelector('#root').textContent = 'again'"))
	require.NoError(t, err)
	assert.Contains(t, el2.InnerHTML(), "again")
}

func TestUnmountAppClearAliveStateOnVisible(t *testing.T) {
	h := newTestHost(t)
	el, rec := h.mount(t, alpha("keep-alive", "true"))

	ok, err := h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{ClearAliveState: true})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, rec.has(types.EventUnmount))
	assert.False(t, rec.has(types.EventAfterHidden))
	inst, _ := h.manager.Lookup("alpha")
	assert.Equal(t, types.StateUnmount, inst.State())

	v, has := el.GetAttribute(types.AttrKeepAlive)
	assert.True(t, has, "keep-alive marker is restored")
	assert.Equal(t, "true", v)
}

func TestUnmountAppHidden(t *testing.T) {
	hide := func(t *testing.T) (*testHost, *recorder) {
		h := newTestHost(t)
		el, rec := h.mount(t, alpha("keep-alive", ""))
		require.NoError(t, el.Remove(context.Background()))
		return h, rec
	}

	t.Run("no flags", func(t *testing.T) {
		h, rec := hide(t)
		ok, err := h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{ClearData: true})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, rec.has(types.EventUnmount))
		inst, _ := h.manager.Lookup("alpha")
		assert.Equal(t, types.KeepAliveHidden, inst.KeepAliveState())
	})

	for _, clearAlive := range []bool{false, true} {
		t.Run(fmt.Sprintf("destroy clearAliveState=%v", clearAlive), func(t *testing.T) {
			h, rec := hide(t)
			inst, _ := h.manager.Lookup("alpha")
			sb := inst.Sandbox()

			ok, err := h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{
				Destroy:         true,
				ClearAliveState: clearAlive,
			})
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, rec.has(types.EventUnmount))
			_, found := h.manager.Lookup("alpha")
			assert.False(t, found, "destroy wins over clearAliveState")
			assert.True(t, sb.Released())
			_, hasChannel := h.manager.Events().Lookup("alpha")
			assert.False(t, hasChannel)
		})
	}

	t.Run("clear alive state", func(t *testing.T) {
		h, rec := hide(t)
		inst, _ := h.manager.Lookup("alpha")
		el := inst.Container()
		sb := inst.Sandbox()

		ok, err := h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{ClearAliveState: true})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, rec.has(types.EventUnmount))

		cur, found := h.manager.Lookup("alpha")
		require.True(t, found, "registry entry is retained")
		assert.Same(t, inst, cur)
		assert.Equal(t, types.StateUnmount, cur.State())
		assert.Equal(t, types.KeepAliveNone, cur.KeepAliveState())
		assert.Same(t, sb, cur.Sandbox())
		assert.False(t, sb.Released())
		assert.False(t, el.HasAttribute(types.AttrKeepAlive))

		el2, _ := h.mount(t, alpha())
		assert.Contains(t, el2.InnerHTML(), "hello alpha", "next attach mounts from scratch")
	})
}

func TestUnmountAppClearData(t *testing.T) {
	h := newTestHost(t)
	el, _ := h.mount(t, alpha())

	ch := h.manager.Events().Channel("alpha")
	ch.Publish(bus.DataEvent, map[string]interface{}{"user": "ada"})
	var got []interface{}
	ch.Subscribe(bus.DataEvent, func(data interface{}) { got = append(got, data) })
	require.Len(t, got, 1)

	ok, err := h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{ClearData: true})
	require.NoError(t, err)
	assert.True(t, ok)

	_, stored := ch.Last(bus.DataEvent)
	assert.False(t, stored)
	assert.False(t, el.HasAttribute(types.AttrClearData), "clear-data marker is temporary")
}

func TestUnmountAllIsSequential(t *testing.T) {
	h := newTestHost(t)

	var (
		mu    sync.Mutex
		order []string
		early []string
	)
	names := []string{"one", "two", "three"}
	els := make([]*container.Element, len(names))
	for i, name := range names {
		require.NoError(t, h.manager.Declare(types.AppOptions{
			Name: name,
			URL:  betaURL,
			Hooks: types.LifecycleHooks{
				Unmount: func(n string) {
					mu.Lock()
					order = append(order, "hook:"+n)
					mu.Unlock()
				},
			},
		}))
		els[i], _ = h.mount(t, map[string]string{"name": name, "url": betaURL})
	}

	for i, el := range els {
		i := i
		el.AddEventListener(types.EventUnmount, func(ev container.Event) {
			// Give a concurrent teardown of the next app time to show up
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			defer mu.Unlock()
			order = append(order, "event:"+ev.App)
			for _, next := range els[i+1:] {
				if !next.Connected() {
					early = append(early, next.Name())
				}
			}
		})
	}

	require.NoError(t, h.manager.UnmountAll(context.Background(), types.UnmountOptions{Destroy: true}))
	assert.Empty(t, h.manager.ListAll())

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, early, "a later teardown started before the previous unmount event")
	assert.Equal(t, []string{"event:one", "event:two", "event:three"}, filterPrefix(order, "event:"))
	assert.Equal(t, []string{"hook:one", "hook:two", "hook:three"}, filterPrefix(order, "hook:"))
}

func filterPrefix(list []string, prefix string) []string {
	var out []string
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

func TestUnmountAppResolvesWhenContainerRemovedFirst(t *testing.T) {
	h := newTestHost(t)
	el, rec := h.mount(t, alpha())
	inst, _ := h.manager.Lookup("alpha")

	// Another caller removes the container and its unmount event fires
	// before this caller registers any listener.
	require.NoError(t, el.Remove(context.Background()))
	require.True(t, rec.has(types.EventUnmount))

	done := make(chan error, 1)
	go func() {
		done <- h.manager.awaitTerminal(context.Background(), el, func() error {
			return removeContainer(context.Background(), inst, el)
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("unmount waited for an event that already fired")
	}
	assert.Equal(t, types.StateUnmount, inst.State())
}

func TestDestroyQueuesBehindInflightMount(t *testing.T) {
	h := newTestHost(t)
	release := h.site.block(alphaURL)
	defer release()

	el, rec := h.newContainer(alpha())
	mounted := make(chan error, 1)
	go func() { mounted <- h.page.Append(context.Background(), el) }()

	select {
	case <-h.site.start:
	case <-time.After(2 * time.Second):
		t.Fatal("mount did not start fetching")
	}

	result := make(chan error, 1)
	go func() {
		_, err := h.manager.UnmountApp(context.Background(), "alpha", types.UnmountOptions{Destroy: true})
		result <- err
	}()

	select {
	case <-result:
		t.Fatal("unmount resolved before the mount finished")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	require.NoError(t, <-mounted)
	require.NoError(t, <-result)

	events := rec.list()
	require.NotEmpty(t, events)
	assert.Equal(t, types.EventUnmount, events[len(events)-1])
	assert.Contains(t, events, types.EventMounted)
	_, found := h.manager.Lookup("alpha")
	assert.False(t, found)
}

func TestUnmountAppHonorsContext(t *testing.T) {
	h := newTestHost(t)
	release := h.site.block(alphaURL)

	el, _ := h.newContainer(alpha())
	mounted := make(chan error, 1)
	go func() { mounted <- h.page.Append(context.Background(), el) }()
	<-h.site.start

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ok, err := h.manager.UnmountApp(ctx, "alpha", types.UnmountOptions{Destroy: true})
	assert.True(t, ok)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	release()
	require.NoError(t, <-mounted)
	eventually(t, func() bool {
		_, found := h.manager.Lookup("alpha")
		return !found
	}, "queued destroy never ran")
}

func TestApplyMarkersRestores(t *testing.T) {
	h := newTestHost(t)
	el := h.page.CreateElement(alpha("keep-alive", "", "destory", "x"))

	restore := applyMarkers(el, types.UnmountOptions{Destroy: true, ClearAliveState: true, ClearData: true})
	assert.True(t, el.HasAttribute(types.AttrDestroy))
	assert.False(t, el.HasAttribute(types.AttrKeepAlive))
	assert.True(t, el.HasAttribute(types.AttrClearData))

	restore()
	assert.ElementsMatch(t, []string{"destory", "keep-alive", "name", "url"}, el.AttributeNames())
	v, _ := el.GetAttribute(types.AttrDestory)
	assert.Equal(t, "x", v)
}
