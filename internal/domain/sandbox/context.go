package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/microhost/internal/domain/bus"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/monitoring"
)

var ErrModuleScript = errors.New("module scripts are not supported")

// Env carries the collaborators a Context needs
type Env struct {
	Config  Config
	Shared  *SharedGlobals
	Channel *bus.Channel
	Global  *bus.Channel
	Pool    *Pool
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Context is the isolated execution, style and DOM scope of one
// application. All VM access is serialized on the context's own loop.
type Context struct {
	opts    Options
	config  Config
	scope   *Scope
	styles  *StyleScoper
	channel *bus.Channel
	global  *bus.Channel
	pool    *Pool
	logger  *logging.Logger
	metrics *monitoring.Metrics
	loop    *loop

	// Owned by the loop goroutine
	vm        *goja.Runtime
	window    *goja.Object
	timers    map[int64]*time.Timer
	nextTimer int64
	listeners []*listener

	mu       sync.Mutex
	dom      *DOMScope  // Protected by mu
	console  []LogEntry // Protected by mu
	started  bool       // Protected by mu
	released bool       // Protected by mu
}

// New creates a sandbox context. The VM is created by Start.
func New(opts Options, env Env) *Context {
	if env.Logger == nil {
		env.Logger = logging.NewNop()
	}
	if env.Config.Timeout <= 0 {
		env.Config = DefaultConfig()
	}

	escape := opts.EscapeGlobals
	if opts.Raw {
		escape = append(append([]string{}, escape...), "**")
	}

	logger := env.Logger.ForApp(opts.Name)
	return &Context{
		opts:    opts,
		config:  env.Config,
		scope:   NewScope(env.Shared, escape),
		styles:  NewStyleScoper(opts.Name, logger),
		channel: env.Channel,
		global:  env.Global,
		pool:    env.Pool,
		logger:  logger,
		metrics: env.Metrics,
		loop:    newLoop(),
		timers:  make(map[int64]*time.Timer),
	}
}

// Name returns the application name
func (c *Context) Name() string {
	return c.opts.Name
}

// Scope returns the two-tier global scope
func (c *Context) Scope() *Scope {
	return c.scope
}

// Styles returns the style scoper
func (c *Context) Styles() *StyleScoper {
	return c.styles
}

// Raw reports whether the context runs without global isolation
func (c *Context) Raw() bool {
	return c.opts.Raw
}

// SetDOM confines document lookups to dom
func (c *Context) SetDOM(dom *DOMScope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dom = dom
}

// DOM returns the current DOM scope, nil before render
func (c *Context) DOM() *DOMScope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dom
}

// Active reports whether the context is started
func (c *Context) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Released reports whether the context was released
func (c *Context) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Start prepares the VM. A VM kept by a UMD-mode Stop is reused.
func (c *Context) Start() error {
	var err error
	if !c.loop.call(func() { err = c.start() }) {
		return ErrReleased
	}
	return err
}

func (c *Context) start() error {
	if c.vm == nil {
		var vm *goja.Runtime
		if c.pool != nil {
			v, err := c.pool.Acquire()
			if err != nil {
				return fmt.Errorf("failed to acquire VM: %w", err)
			}
			vm = v
		} else {
			vm = newVM(c.config)
		}
		c.vm = vm
		if err := c.setupGlobals(); err != nil {
			c.vm = nil
			return err
		}
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

// Stop deactivates the context on unmount. Outside UMD mode the VM and the
// local overlay are discarded so the next mount starts clean.
func (c *Context) Stop(opts StopOptions) {
	c.loop.call(func() { c.stop(opts) })
}

func (c *Context) stop(opts StopOptions) {
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}

	keepVM := c.opts.UMD && !opts.Destroy
	if !keepVM || opts.ClearData {
		c.dropListeners()
	}
	if !keepVM {
		if c.vm != nil {
			if c.pool != nil {
				c.pool.Release(c.vm)
			}
			c.vm = nil
			c.window = nil
		}
		c.scope.Reset()
	}

	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
}

// Release destroys the context. It cannot be started again.
func (c *Context) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.mu.Unlock()

	c.loop.call(func() { c.stop(StopOptions{Destroy: true}) })
	c.loop.close()
}

// Execute runs one script inside the context. Failures, including
// timeouts and panics in host callbacks, come back as *ScriptError.
func (c *Context) Execute(ctx context.Context, script Script) (*Result, error) {
	var (
		result *Result
		err    error
	)
	if !c.loop.call(func() { result, err = c.execute(ctx, script) }) {
		return nil, ErrReleased
	}
	return result, err
}

func (c *Context) execute(ctx context.Context, script Script) (result *Result, err error) {
	if c.vm == nil {
		return nil, ErrNotStarted
	}

	name := script.URL
	if name == "" {
		name = "inline"
	}
	if script.Module {
		return nil, c.fail(name, ErrModuleScript)
	}

	start := time.Now()
	c.mu.Lock()
	c.console = []LogEntry{}
	c.mu.Unlock()

	val, runErr := c.guard(ctx, func() (goja.Value, error) {
		return c.vm.RunScript(name, c.wrap(script))
	})

	c.mu.Lock()
	result = &Result{
		Console:  append([]LogEntry{}, c.console...),
		Duration: time.Since(start),
	}
	c.mu.Unlock()

	if runErr != nil {
		return result, c.fail(name, runErr)
	}
	result.Value = exportValue(val)
	return result, nil
}

// Eval evaluates a single expression inside the context and returns its
// exported value
func (c *Context) Eval(ctx context.Context, expr string) (interface{}, error) {
	var (
		value interface{}
		err   error
	)
	ok := c.loop.call(func() {
		if c.vm == nil {
			err = ErrNotStarted
			return
		}
		src := "return (" + expr + ");"
		var val goja.Value
		val, err = c.guard(ctx, func() (goja.Value, error) {
			return c.vm.RunString(c.wrap(Script{Source: src}))
		})
		if err != nil {
			err = c.fail("eval", err)
			return
		}
		value = exportValue(val)
	})
	if !ok {
		return nil, ErrReleased
	}
	return value, err
}

// wrap binds the window aliases and document as parameters. Raw contexts
// write through to the shared store, so the same wrapper serves both.
func (c *Context) wrap(script Script) string {
	var b strings.Builder
	b.Grow(len(script.Source) + 192)
	b.WriteString("(function(window, self, globalThis, document){with(window){\n")
	b.WriteString(script.Source)
	b.WriteString("\n}}).call(__MICRO_APP_WINDOW__, __MICRO_APP_WINDOW__, __MICRO_APP_WINDOW__, __MICRO_APP_WINDOW__, document);")
	if script.Inline && script.URL != "" {
		b.WriteString("\n//# sourceURL=")
		b.WriteString(script.URL)
	}
	return b.String()
}

// guard runs fn with the timeout and ctx interrupt armed and converts
// panics into errors. Must run on the loop.
func (c *Context) guard(ctx context.Context, fn func() (goja.Value, error)) (val goja.Value, err error) {
	vm := c.vm
	timer := time.AfterFunc(c.config.Timeout, func() {
		vm.Interrupt(ErrScriptTimeout)
	})
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer func() {
		timer.Stop()
		stop()
		vm.ClearInterrupt()
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	val, err = fn()
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			err = cause
		}
	}
	return val, err
}

func (c *Context) fail(name string, err error) error {
	scriptErr := &ScriptError{App: c.opts.Name, Script: name, Err: err}
	c.logger.Error("Script execution failed",
		zap.String("script", name),
		zap.Error(err),
	)
	c.metrics.RecordScriptError(c.opts.Name)
	return scriptErr
}

// HasExport reports whether the application exposed a UMD lifecycle
// function called fn
func (c *Context) HasExport(fn string) bool {
	found := false
	c.loop.call(func() {
		if c.vm == nil {
			return
		}
		_, found = c.exportFunc(fn)
	})
	return found
}

// CallExport calls a UMD lifecycle export such as mount or unmount. A
// returned promise that is still pending counts as success.
func (c *Context) CallExport(ctx context.Context, fn string) (bool, error) {
	var (
		called bool
		err    error
	)
	if !c.loop.call(func() { called, err = c.callExport(ctx, fn) }) {
		return false, ErrReleased
	}
	return called, err
}

func (c *Context) callExport(ctx context.Context, fn string) (bool, error) {
	if c.vm == nil {
		return false, ErrNotStarted
	}
	callable, ok := c.exportFunc(fn)
	if !ok {
		return false, nil
	}

	val, err := c.guard(ctx, func() (goja.Value, error) {
		return callable(c.window)
	})
	if err != nil {
		return true, c.fail(fn, err)
	}
	if p, ok := exportValue(val).(*goja.Promise); ok && p.State() == goja.PromiseStateRejected {
		return true, c.fail(fn, fmt.Errorf("promise rejected: %v", p.Result()))
	}
	return true, nil
}

// exportFunc finds fn on the object a UMD bundle assigned to
// window["micro-app-<name>"] or window[<name>]
func (c *Context) exportFunc(fn string) (goja.Callable, bool) {
	for _, key := range []string{"micro-app-" + c.opts.Name, c.opts.Name} {
		v, ok := c.scope.Get(key)
		if !ok {
			continue
		}
		obj := c.toValue(v)
		if goja.IsUndefined(obj) || goja.IsNull(obj) {
			continue
		}
		o := obj.ToObject(c.vm)
		if f, ok := goja.AssertFunction(o.Get(fn)); ok {
			return f, true
		}
	}
	return nil, false
}

// invoke runs a JS callback on the loop. Errors are logged, never
// returned to whoever triggered the callback.
func (c *Context) invoke(fn goja.Callable, args ...interface{}) {
	c.loop.post(func() { c.call(fn, args...) })
}

// call must run on the loop
func (c *Context) call(fn goja.Callable, args ...interface{}) {
	if c.vm == nil {
		return
	}
	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = c.vm.ToValue(a)
	}
	if _, err := c.guard(context.Background(), func() (goja.Value, error) {
		return fn(c.window, values...)
	}); err != nil {
		_ = c.fail("callback", err)
	}
}

// Console returns console output captured by the last execution
func (c *Context) Console() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry{}, c.console...)
}
