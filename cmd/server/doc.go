// Package main runs the micro-frontend host as a standalone service.
//
// The server owns a virtual host page. Posting to the control API attaches
// <micro-app> containers to it, which loads, sandboxes and mounts the
// application. Every application gets its own script sandbox, scoped
// styles and a data channel that is also reachable over WebSocket.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags, which override the environment
//   - An optional YAML or TOML manifest declaring apps, idle prefetch
//     entries and global assets
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -manifest apps.yaml -watch
//
//	# Development mode (console logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown. Every application is destroyed
//     before the process exits.
package main
