// Package registry provides the process-wide application registry.
//
// The registry maps a normalized application name to its single live
// instance and remembers insertion order, which batch operations rely on.
// It never fetches, renders or tears anything down; only the lifecycle
// orchestrator mutates it.
//
// Components:
//   - Registry: name -> instance mapping with ordered listing
//   - Stateful: the view of an instance the registry needs for filtering
//
// Example Usage:
//
//	reg := registry.New[*app.Application]()
//	reg.LoadOrStore("dashboard", inst)
//	names := reg.Active(true) // mounted, not prefetch, not hidden
package registry
