package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/microhost/internal/domain/assets"
	"github.com/GriffinCanCode/microhost/internal/domain/bus"
	"github.com/GriffinCanCode/microhost/internal/domain/container"
	"github.com/GriffinCanCode/microhost/internal/domain/registry"
	"github.com/GriffinCanCode/microhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

var (
	// ErrAlreadyMounted is returned when a name is attached while mounted elsewhere
	ErrAlreadyMounted = errors.New("application already mounted in another container")
	// ErrNotFound is returned for unknown application names
	ErrNotFound = errors.New("application not found")
)

// Deps are the collaborators a Manager needs
type Deps struct {
	Cache     *assets.Cache
	Scheduler *assets.Scheduler
	Events    *bus.EventCenter
	Shared    *sandbox.SharedGlobals
	Pool      *sandbox.Pool
	Sandbox   sandbox.Config
	Logger    *logging.Logger
}

// Manager orchestrates app lifecycle
type Manager struct {
	registry  *registry.Registry[*Application]
	cache     *assets.Cache
	scheduler *assets.Scheduler
	events    *bus.EventCenter
	shared    *sandbox.SharedGlobals
	pool      *sandbox.Pool
	sbConfig  sandbox.Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	mu            sync.RWMutex
	declared      map[string]types.AppOptions // Protected by mu
	globalStyles  []string                    // Protected by mu
	globalScripts []string                    // Protected by mu
}

// NewManager creates a new app manager
func NewManager(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = bus.NewEventCenter(logger)
	}
	shared := deps.Shared
	if shared == nil {
		shared = sandbox.NewSharedGlobals()
	}
	cache := deps.Cache
	if cache == nil {
		cache = assets.NewCache(nil, logger)
	}
	sbConfig := deps.Sandbox
	if sbConfig.Timeout == 0 {
		sbConfig = sandbox.DefaultConfig()
	}

	return &Manager{
		registry:  registry.New[*Application](),
		cache:     cache,
		scheduler: deps.Scheduler,
		events:    events,
		shared:    shared,
		pool:      deps.Pool,
		sbConfig:  sbConfig,
		logger:    logger.Named("orchestrator"),
		declared:  make(map[string]types.AppOptions),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Events returns the communication bus
func (m *Manager) Events() *bus.EventCenter {
	return m.events
}

// Shared returns the host-wide globals store
func (m *Manager) Shared() *sandbox.SharedGlobals {
	return m.shared
}

// Declare registers base options for a name. Containers carrying that name
// start from these options, so hosts can supply a fetch function and hooks
// that attributes cannot express.
func (m *Manager) Declare(opts types.AppOptions) error {
	normalized, err := config.NormalizeOptions(opts)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.declared[normalized.Name] = normalized
	m.mu.Unlock()
	return nil
}

// Declared returns the base options registered for name
func (m *Manager) Declared(name string) (types.AppOptions, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	opts, ok := m.declared[types.FormatAppName(name)]
	return opts, ok
}

func (m *Manager) declaredOptions(name string) types.AppOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.declared[name]
}

// Get returns a snapshot of the named application
func (m *Manager) Get(name string) (types.AppInfo, bool) {
	inst, ok := m.registry.Get(types.FormatAppName(name))
	if !ok {
		return types.AppInfo{}, false
	}
	return inst.Info(), true
}

// Lookup returns the live application instance
func (m *Manager) Lookup(name string) (*Application, bool) {
	return m.registry.Get(types.FormatAppName(name))
}

// ListActive returns the names of applications that are neither unmounted
// nor prefetch-only. Hidden keep-alive apps are dropped when excludeHidden.
func (m *Manager) ListActive(excludeHidden bool) []string {
	return m.registry.Active(excludeHidden)
}

// ListAll returns every registered application
func (m *Manager) ListAll() []types.AppInfo {
	var infos []types.AppInfo
	m.registry.Each(func(_ string, inst *Application) bool {
		infos = append(infos, inst.Info())
		return true
	})
	return infos
}

// Stats returns orchestrator statistics
func (m *Manager) Stats() types.Stats {
	stats := types.Stats{CachedAssets: m.cache.Len()}
	m.registry.Each(func(_ string, inst *Application) bool {
		stats.TotalApps++
		snap := inst.snapshot()
		switch {
		case snap.keepAlive == types.KeepAliveHidden:
			stats.HiddenApps++
		case snap.prefetch:
			stats.PrefetchApps++
		case snap.state == types.StateMounted:
			stats.MountedApps++
		}
		return true
	})
	return stats
}

// Attach implements container.Observer. It creates, reuses, supersedes or
// reveals the application named by the container.
func (m *Manager) Attach(ctx context.Context, el *container.Element) error {
	name := types.FormatAppName(el.Name())
	opts, err := config.ParseContainerOptions(el, el.AttributeNames(), m.declaredOptions(name))
	if err != nil {
		m.logger.Warn("Invalid container configuration",
			zap.String("name", el.Name()),
			zap.Error(err),
		)
		el.Dispatch(container.Event{Type: types.EventError, App: name, Err: err})
		return err
	}

	inst, exists := m.registry.Get(opts.Name)
	if !exists {
		return m.create(ctx, opts, el)
	}

	snap := inst.snapshot()
	if snap.container != nil && snap.container != el && snap.container.Connected() {
		err := fmt.Errorf("%w: %s", ErrAlreadyMounted, opts.Name)
		m.logger.Warn("Application is already mounted", zap.String("app", opts.Name))
		el.Dispatch(container.Event{Type: types.EventError, App: opts.Name, Err: err})
		return err
	}

	sameURL := inst.URL() == opts.URL
	switch {
	case snap.keepAlive == types.KeepAliveHidden && sameURL:
		return m.show(ctx, inst, el)
	case !sameURL:
		m.logger.Info("Superseding application with new entry",
			zap.String("app", opts.Name),
			zap.String("old_url", inst.URL()),
			zap.String("new_url", opts.URL),
		)
		m.discard(inst)
		return m.create(ctx, opts, el)
	default:
		inst.mu.Lock()
		inst.prefetch = false
		fetch, hooks := opts.Fetch, opts.Hooks
		opts.Fetch, opts.Hooks = inst.options.Fetch, inst.options.Hooks
		if fetch != nil {
			opts.Fetch = fetch
		}
		if hasHooks(hooks) {
			opts.Hooks = hooks
		}
		inst.options = opts
		inst.mu.Unlock()
		return m.mount(ctx, inst, el)
	}
}

// Detach implements container.Observer. The teardown variant is chosen from
// the markers on the container at removal time.
func (m *Manager) Detach(ctx context.Context, el *container.Element) error {
	name := types.FormatAppName(el.Name())
	inst, ok := m.registry.Get(name)
	if !ok || inst.Container() != el {
		// Waiters keyed on this container still need a terminal event
		el.Dispatch(container.Event{Type: types.EventUnmount, App: name})
		return nil
	}

	destroy := el.HasAttribute(types.AttrDestroy) || el.HasAttribute(types.AttrDestory)
	keepAlive := markerEnabled(el, types.AttrKeepAlive) && !destroy
	clearData := el.HasAttribute(types.AttrClearData)

	inst.op.Lock()
	defer inst.op.Unlock()

	if inst.Container() != el {
		el.Dispatch(container.Event{Type: types.EventUnmount, App: name})
		return nil
	}

	if keepAlive && inst.State() == types.StateMounted {
		m.hide(inst, el)
		return nil
	}
	return m.unmount(ctx, inst, el, sandbox.StopOptions{ClearData: clearData, Destroy: destroy})
}

func (m *Manager) create(ctx context.Context, opts types.AppOptions, el *container.Element) error {
	inst := newApplication(opts, false)
	inst.channel = m.events.Channel(opts.Name)
	if _, loaded := m.registry.LoadOrStore(opts.Name, inst); loaded {
		// Another attach registered the name first; resolve against it
		return m.Attach(ctx, el)
	}
	m.metrics.IncAppsCreated()

	m.emit(inst, el, types.EventCreated, nil)
	return m.mount(ctx, inst, el)
}

// discard destroys a superseded or abandoned instance
func (m *Manager) discard(inst *Application) {
	inst.op.Lock()
	defer inst.op.Unlock()

	el := inst.Container()
	wasHidden := inst.KeepAliveState() == types.KeepAliveHidden
	m.destroy(inst)
	if wasHidden && el != nil {
		m.emit(inst, el, types.EventUnmount, nil)
	}
}

// destroy releases everything an instance owns. Callers hold inst.op.
func (m *Manager) destroy(inst *Application) {
	inst.mu.Lock()
	sb := inst.sandbox
	inst.sandbox = nil
	inst.channel = nil
	inst.preserved = nil
	inst.container = nil
	inst.source = nil
	inst.umdReady = false
	inst.keepAlive = types.KeepAliveNone
	from := inst.state
	inst.state = types.StateUnmount
	inst.mu.Unlock()

	if sb != nil {
		sb.Release()
	}

	if cur, ok := m.registry.Get(inst.name); ok && cur == inst {
		m.registry.Delete(inst.name)
		m.events.Remove(inst.name)
	}
	if from != types.StateUnmount {
		m.metrics.RecordTransition(string(from), string(types.StateUnmount))
	}
	m.metrics.IncAppsDestroyed()
	m.updateMounted()
	m.logger.Info("Application destroyed", zap.String("app", inst.name))
}

func (m *Manager) transition(inst *Application, to types.LifecycleState) {
	from := inst.setState(to)
	if from != to {
		m.metrics.RecordTransition(string(from), string(to))
	}
	m.updateMounted()
}

func (m *Manager) updateMounted() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetAppsMounted(m.Stats().MountedApps)
}

// emit dispatches a lifecycle event on el and invokes the matching hook
func (m *Manager) emit(inst *Application, el *container.Element, event string, err error) {
	if el != nil {
		el.Dispatch(container.Event{Type: event, App: inst.name, Err: err})
	}

	hooks := inst.hooks()
	var hook func(string)
	switch event {
	case types.EventCreated:
		hook = hooks.Created
	case types.EventBeforeMount:
		hook = hooks.BeforeMount
	case types.EventMounted:
		hook = hooks.Mounted
	case types.EventUnmount:
		hook = hooks.Unmount
	case types.EventBeforeShow:
		hook = hooks.BeforeShow
	case types.EventAfterShow:
		hook = hooks.AfterShow
	case types.EventAfterHidden:
		hook = hooks.AfterHidden
	case types.EventError:
		if hooks.Error != nil {
			m.safeHook(inst.name, event, func() { hooks.Error(inst.name, err) })
		}
		return
	}
	if hook != nil {
		m.safeHook(inst.name, event, func() { hook(inst.name) })
	}
}

func (m *Manager) safeHook(name, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Lifecycle hook panicked",
				zap.String("app", name),
				zap.String("event", event),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

// markerEnabled treats a present attribute as true unless its value is "false"
func markerEnabled(el *container.Element, attr string) bool {
	v, ok := el.GetAttribute(attr)
	return ok && v != "false"
}

func hasHooks(h types.LifecycleHooks) bool {
	return h.Created != nil || h.BeforeMount != nil || h.Mounted != nil ||
		h.Unmount != nil || h.Error != nil || h.BeforeShow != nil ||
		h.AfterShow != nil || h.AfterHidden != nil
}
