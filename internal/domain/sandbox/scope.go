package sandbox

import (
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultEscapeGlobals are written through to the shared host store by
// every application
var DefaultEscapeGlobals = []string{
	"location",
	"history",
	"__MICRO_APP_SHARED__",
}

// SharedGlobals is the host global store every Scope falls back to
type SharedGlobals struct {
	mu     sync.RWMutex
	values map[string]interface{} // Protected by mu
}

// NewSharedGlobals creates an empty host global store
func NewSharedGlobals() *SharedGlobals {
	return &SharedGlobals{values: make(map[string]interface{})}
}

// boundValue is a value written by application code. It keeps the VM
// value so the writing VM reads back the identical object, while every
// other reader sees the exported Go value.
type boundValue struct {
	owner  interface{}
	value  interface{}
	export interface{}
}

// Get returns a host global
func (g *SharedGlobals) Get(key string) (interface{}, bool) {
	v, ok := g.lookup(key)
	if b, isBound := v.(*boundValue); isBound {
		return b.export, ok
	}
	return v, ok
}

func (g *SharedGlobals) lookup(key string) (interface{}, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.values[key]
	return v, ok
}

// Set writes a host global
func (g *SharedGlobals) Set(key string, v interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[key] = v
}

// Delete removes a host global
func (g *SharedGlobals) Delete(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.values, key)
}

// Keys returns the host global names, sorted
func (g *SharedGlobals) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]string, 0, len(g.values))
	for k := range g.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scope resolves globals for one application: the local overlay first,
// then the shared host store. Writes stay local unless the name matches
// the escape allow-list.
type Scope struct {
	shared *SharedGlobals
	escape []string

	mu    sync.RWMutex
	local map[string]interface{} // Protected by mu
}

// NewScope creates a scope over shared. escape holds extra allow-listed
// names or doublestar patterns on top of DefaultEscapeGlobals.
func NewScope(shared *SharedGlobals, escape []string) *Scope {
	if shared == nil {
		shared = NewSharedGlobals()
	}
	patterns := make([]string, 0, len(DefaultEscapeGlobals)+len(escape))
	patterns = append(patterns, DefaultEscapeGlobals...)
	for _, p := range escape {
		if p != "" && doublestar.ValidatePattern(p) {
			patterns = append(patterns, p)
		}
	}
	return &Scope{
		shared: shared,
		escape: patterns,
		local:  make(map[string]interface{}),
	}
}

// Shared returns the host store this scope falls back to
func (s *Scope) Shared() *SharedGlobals {
	return s.shared
}

// Escapes reports whether writes to key go to the shared store
func (s *Scope) Escapes(key string) bool {
	for _, p := range s.escape {
		if p == key {
			return true
		}
		if ok, _ := doublestar.Match(p, key); ok {
			return true
		}
	}
	return false
}

// Get resolves key: local overlay, then shared store
func (s *Scope) Get(key string) (interface{}, bool) {
	if !s.Escapes(key) {
		s.mu.RLock()
		v, ok := s.local[key]
		s.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return s.shared.lookup(key)
}

// Set binds key in the local overlay, or in the shared store for
// allow-listed names
func (s *Scope) Set(key string, v interface{}) {
	if s.Escapes(key) {
		s.shared.Set(key, v)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[key] = v
}

// Delete unbinds key where Set would have written it
func (s *Scope) Delete(key string) {
	if s.Escapes(key) {
		s.shared.Delete(key)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.local, key)
}

// Has reports whether key resolves in either tier
func (s *Scope) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// HasLocal reports whether the application bound key itself
func (s *Scope) HasLocal(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.local[key]
	return ok
}

// Keys returns every resolvable name, sorted
func (s *Scope) Keys() []string {
	seen := make(map[string]struct{})
	for _, k := range s.shared.Keys() {
		seen[k] = struct{}{}
	}
	s.mu.RLock()
	for k := range s.local {
		seen[k] = struct{}{}
	}
	s.mu.RUnlock()

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset clears the local overlay. The shared store is untouched.
func (s *Scope) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = make(map[string]interface{})
}
