package registry

import (
	"sync"

	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

// Stateful is the instance view used to compute active applications
type Stateful interface {
	State() types.LifecycleState
	KeepAliveState() types.KeepAliveState
	IsPrefetch() bool
}

// Registry maps application names to their live instance
type Registry[T Stateful] struct {
	mu    sync.RWMutex
	items map[string]T // Protected by mu
	order []string     // Protected by mu
}

// New creates an empty registry
func New[T Stateful]() *Registry[T] {
	return &Registry[T]{
		items: make(map[string]T),
	}
}

// Get retrieves the instance registered under name
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.items[name]
	return inst, ok
}

// LoadOrStore registers inst under name unless an instance is already
// registered. It returns the registered instance and whether it was
// already there.
func (r *Registry[T]) LoadOrStore(name string, inst T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, exists := r.items[name]; exists {
		return cur, true
	}
	r.items[name] = inst
	r.order = append(r.order, name)
	return inst, false
}

// Delete removes name; deleting an unknown name is a no-op
func (r *Registry[T]) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; !exists {
		return
	}
	delete(r.items, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Names returns every registered name in insertion order
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of registered instances
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Active returns names whose state is not unmounted and which are not
// prefetch-only, optionally skipping hidden keep-alive instances.
func (r *Registry[T]) Active(excludeHidden bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]string, 0, len(r.order))
	for _, name := range r.order {
		inst := r.items[name]
		if !isActive(inst) {
			continue
		}
		if excludeHidden && inst.KeepAliveState() == types.KeepAliveHidden {
			continue
		}
		active = append(active, name)
	}
	return active
}

// Each calls fn for every instance in insertion order until fn returns false
func (r *Registry[T]) Each(fn func(name string, inst T) bool) {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	items := make([]T, len(names))
	for i, n := range names {
		items[i] = r.items[n]
	}
	r.mu.RUnlock()

	for i, name := range names {
		if !fn(name, items[i]) {
			return
		}
	}
}

func isActive(inst Stateful) bool {
	switch inst.State() {
	case types.StateUnmount, types.StateLoadFailed:
		return false
	}
	return !inst.IsPrefetch()
}
