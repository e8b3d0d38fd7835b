package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/microhost/internal/domain/assets"
	"github.com/GriffinCanCode/microhost/internal/domain/container"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

func newPrefetchHost(t *testing.T) (*testHost, *assets.Scheduler) {
	t.Helper()
	s := newSite()
	logger := logging.NewNop()
	cache := assets.NewCache(s.fetch, logger)
	scheduler, err := assets.NewScheduler(cache, assets.SchedulerConfig{Workers: 1, MaxRetries: 1}, logger)
	require.NoError(t, err)
	t.Cleanup(scheduler.Stop)

	m := NewManager(Deps{Cache: cache, Scheduler: scheduler, Logger: logger})
	page := container.NewPage(logger)
	page.Observe(m)
	t.Cleanup(func() {
		_ = m.UnmountAll(context.Background(), types.UnmountOptions{Destroy: true})
	})
	return &testHost{site: s, manager: m, page: page}, scheduler
}

func waitIdle(t *testing.T, scheduler *assets.Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Wait(ctx))
}

func TestPrefetchWarmsAndMountsFromCache(t *testing.T) {
	h, scheduler := newPrefetchHost(t)

	err := h.manager.Prefetch(context.Background(), []PrefetchItem{{Name: "Alpha", URL: alphaURL}})
	require.NoError(t, err)
	waitIdle(t, scheduler)

	info, ok := h.manager.Get("alpha")
	require.True(t, ok)
	assert.True(t, info.IsPrefetch)
	assert.Equal(t, types.StateLoading, info.State)
	assert.Empty(t, h.manager.ListActive(false), "prefetch-only apps are not active")
	assert.Equal(t, 1, h.site.hitCount(alphaURL+"main.js"))

	el, rec := h.mount(t, alpha())
	assert.NotContains(t, rec.list(), types.EventCreated, "the prefetched instance is reused")
	assert.Contains(t, el.InnerHTML(), "hello alpha")

	info, _ = h.manager.Get("alpha")
	assert.False(t, info.IsPrefetch)
	assert.Equal(t, types.StateMounted, info.State)
	assert.Equal(t, 1, h.site.hitCount(alphaURL), "entry served from cache")
	assert.Equal(t, 1, h.site.hitCount(alphaURL+"main.js"))
}

func TestPrefetchSkipsRegisteredAndInvalid(t *testing.T) {
	h, scheduler := newPrefetchHost(t)
	h.mount(t, alpha())
	before, _ := h.manager.Get("alpha")

	err := h.manager.Prefetch(context.Background(), []PrefetchItem{
		{Name: "alpha", URL: betaURL},
		{Name: "???", URL: betaURL},
		{Name: "beta", URL: betaURL},
	})
	assert.Error(t, err, "invalid entry is reported")
	waitIdle(t, scheduler)

	after, _ := h.manager.Get("alpha")
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, types.StateMounted, after.State)

	_, ok := h.manager.Get("beta")
	assert.True(t, ok)
}

func TestPrefetchFailureLeavesRetryableInstance(t *testing.T) {
	h, scheduler := newPrefetchHost(t)
	h.site.remove(betaURL)

	require.NoError(t, h.manager.Prefetch(context.Background(), []PrefetchItem{{Name: "beta", URL: betaURL}}))
	waitIdle(t, scheduler)

	info, _ := h.manager.Get("beta")
	assert.Equal(t, types.StateLoadFailed, info.State)

	h.site.set(betaURL, `<html><body><p>late</p></body></html>`)
	el, _ := h.mount(t, map[string]string{"name": "beta", "url": betaURL})
	assert.Contains(t, el.InnerHTML(), "late")
}

func TestPrefetchDestroy(t *testing.T) {
	h, scheduler := newPrefetchHost(t)
	require.NoError(t, h.manager.Prefetch(context.Background(), []PrefetchItem{{Name: "beta", URL: betaURL}}))
	waitIdle(t, scheduler)

	ok, err := h.manager.UnmountApp(context.Background(), "beta", types.UnmountOptions{})
	require.NoError(t, err)
	assert.True(t, ok)
	_, found := h.manager.Get("beta")
	assert.True(t, found)

	ok, err = h.manager.UnmountApp(context.Background(), "beta", types.UnmountOptions{Destroy: true})
	require.NoError(t, err)
	assert.True(t, ok)
	_, found = h.manager.Get("beta")
	assert.False(t, found)
}

func TestPreloadGlobalAssets(t *testing.T) {
	h, scheduler := newPrefetchHost(t)
	h.site.set("http://cdn.test/reset.css?v=1", `.reset { margin: 0 }`)
	h.site.set("http://cdn.test/polyfill.js", `window.polyfilled = true;`)

	err := h.manager.PreloadGlobalAssets(context.Background(), []string{
		"http://cdn.test/reset.css?v=1",
		"http://cdn.test/polyfill.js",
		"http://cdn.test/polyfill.js",
	})
	require.NoError(t, err)
	waitIdle(t, scheduler)

	styles, scripts := h.manager.GlobalAssets()
	assert.Equal(t, []string{"http://cdn.test/reset.css?v=1"}, styles)
	assert.Equal(t, []string{"http://cdn.test/polyfill.js"}, scripts)

	el, _ := h.mount(t, alpha())
	assert.Contains(t, el.InnerHTML(), "micro-app[name=alpha] .reset")
	assert.Equal(t, true, h.eval(t, "alpha", "window.polyfilled"))
	assert.Equal(t, 1, h.site.hitCount("http://cdn.test/polyfill.js"))
}
