// Package types provides shared data structures for the microhost runtime.
//
// This package defines the enums and option structs passed between the
// lifecycle orchestrator, the sandbox, the asset layer and the host API,
// so none of those packages has to import another just for a type.
//
// Core Types:
//   - LifecycleState: created, loading, mounted, unmount
//   - KeepAliveState: none, hidden, shown
//   - AppOptions: per-application configuration surface
//   - UnmountOptions: host-requested teardown flags
//   - AppInfo: read-only snapshot of an application for the host API
//
// Example Usage:
//
//	opts := types.AppOptions{
//	    Name:      types.FormatAppName("Dashboard"),
//	    URL:       "http://localhost:3001/",
//	    KeepAlive: true,
//	}
package types
