package app

import (
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/GriffinCanCode/microhost/internal/domain/bus"
	"github.com/GriffinCanCode/microhost/internal/domain/container"
	"github.com/GriffinCanCode/microhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/microhost/internal/domain/source"
	"github.com/GriffinCanCode/microhost/internal/shared/id"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

// Application is one registered micro application
type Application struct {
	id        string
	name      string
	createdAt time.Time

	// op serializes lifecycle operations on this application
	op sync.Mutex

	mu        sync.RWMutex
	options   types.AppOptions     // Protected by mu
	state     types.LifecycleState // Protected by mu
	keepAlive types.KeepAliveState // Protected by mu
	prefetch  bool                 // Protected by mu
	container *container.Element   // Protected by mu
	sandbox   *sandbox.Context     // Protected by mu
	channel   *bus.Channel         // Protected by mu
	source    *source.Source       // Protected by mu
	preserved []*html.Node         // Protected by mu
	umdReady  bool                 // Protected by mu
	mountedAt *time.Time           // Protected by mu
	lastErr   error                // Protected by mu
}

func newApplication(opts types.AppOptions, prefetch bool) *Application {
	return &Application{
		id:        id.NewAppID().String(),
		name:      opts.Name,
		createdAt: time.Now(),
		options:   opts,
		state:     types.StateCreated,
		prefetch:  prefetch,
	}
}

// ID returns the instance identifier
func (a *Application) ID() string {
	return a.id
}

// Name returns the normalized application name
func (a *Application) Name() string {
	return a.name
}

// URL returns the entry URL
func (a *Application) URL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.options.URL
}

// Options returns a copy of the application options
func (a *Application) Options() types.AppOptions {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.options
}

// State implements registry.Stateful
func (a *Application) State() types.LifecycleState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// KeepAliveState implements registry.Stateful
func (a *Application) KeepAliveState() types.KeepAliveState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.keepAlive
}

// IsPrefetch implements registry.Stateful
func (a *Application) IsPrefetch() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.prefetch
}

// Container returns the current container, nil if none
func (a *Application) Container() *container.Element {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.container
}

// Sandbox returns the sandbox context, nil when none was created
func (a *Application) Sandbox() *sandbox.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sandbox
}

// Channel returns the application's bus channel
func (a *Application) Channel() *bus.Channel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.channel
}

// Err returns the last load or script error
func (a *Application) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// Info returns a read-only snapshot
func (a *Application) Info() types.AppInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	info := types.AppInfo{
		ID:         a.id,
		Name:       a.name,
		URL:        a.options.URL,
		State:      a.state,
		KeepAlive:  a.keepAlive,
		IsPrefetch: a.prefetch,
		Sandboxed:  !a.options.DisableSandbox,
		CreatedAt:  a.createdAt,
	}
	if a.mountedAt != nil {
		t := *a.mountedAt
		info.MountedAt = &t
	}
	return info
}

func (a *Application) setState(state types.LifecycleState) types.LifecycleState {
	a.mu.Lock()
	defer a.mu.Unlock()
	from := a.state
	a.state = state
	if state == types.StateMounted {
		now := time.Now()
		a.mountedAt = &now
	}
	return from
}

func (a *Application) setKeepAlive(state types.KeepAliveState) {
	a.mu.Lock()
	a.keepAlive = state
	a.mu.Unlock()
}

func (a *Application) setContainer(el *container.Element) {
	a.mu.Lock()
	a.container = el
	a.mu.Unlock()
}

func (a *Application) setErr(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}

// takePreserved returns and clears the DOM kept while hidden
func (a *Application) takePreserved() []*html.Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	nodes := a.preserved
	a.preserved = nil
	return nodes
}

func (a *Application) hooks() types.LifecycleHooks {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.options.Hooks
}

// snapshot is a consistent view used by teardown decisions
type snapshot struct {
	state     types.LifecycleState
	keepAlive types.KeepAliveState
	prefetch  bool
	container *container.Element
}

func (a *Application) snapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{
		state:     a.state,
		keepAlive: a.keepAlive,
		prefetch:  a.prefetch,
		container: a.container,
	}
}
