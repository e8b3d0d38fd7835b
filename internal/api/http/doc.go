// Package http provides the host API for the micro-frontend orchestrator.
//
// Endpoints:
//   - Health: / and /health
//   - Apps: /api/apps, /api/apps/:name, /api/active
//   - Lifecycle: /api/apps/:name/mount, /api/apps/:name/unmount,
//     /api/apps/:name/hide, /api/unmount-all, /api/prefetch
//   - Bus: /api/bus/global, /api/bus/apps/:name
//
// Mounting creates a container in the host page and attaches it, so the
// request runs the same path a container inserted by the page would.
//
// Example Usage:
//
//	handlers := http.NewHandlers(manager, page, fetcher, scheduler, http.NewHandlerMetrics(metrics), logger)
//	handlers.Register(router)
package http
