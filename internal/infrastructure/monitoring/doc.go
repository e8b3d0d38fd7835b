/*
Package monitoring provides Prometheus metrics for the microhost runtime.

# Overview

Each Metrics value owns a private registry, so an orchestrator created in a
test never collides with another one. All recording methods accept a nil
receiver, which lets components run without metrics wired in.

# Tracked

- Host API requests (count, latency)
- Application lifecycle (created, destroyed, mounted, transitions)
- Sandbox script errors per application
- Asset cache hits, misses and underlying fetches
- Idle prefetch jobs
- Communication bus publications
- Bus websocket connections

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
