/*
Package assets provides the shared asset cache and the idle-time prefetch
scheduler.

# Overview

Every static resource an application needs (entry HTML, style sheets,
scripts) is requested through Cache.Get. The cache is read-through: a hit
returns immediately, a miss fetches and stores the result. Concurrent
requests for the same URL share one underlying fetch, whichever application
(or global-asset preload) asked first. A failed fetch is recorded on the
entry but does not stick: the next request fetches again.

# Fetching

The fetch function is pluggable per request. When none is given the cache
uses its default, normally an HTTPFetcher (resty over a retryablehttp
transport, guarded by one circuit breaker per origin and an optional rate
limit).

# Prefetch

The Scheduler loads assets for applications that are not mounted yet. It
only works while the host is idle: foreground operations bracket
themselves with Busy(), and workers wait until no foreground work has run
for the configured idle window before taking the next URL.

# Usage

	cache := assets.NewCache(fetcher.Fetch, logger)
	entry, err := cache.Get(ctx, "http://localhost:3001/index.html", nil)

	sched, _ := assets.NewScheduler(cache, assets.SchedulerConfig{Workers: 2}, logger)
	sched.Enqueue(assets.Job{Name: "reports", URLs: urls})
*/
package assets
