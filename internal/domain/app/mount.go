package app

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/microhost/internal/domain/container"
	"github.com/GriffinCanCode/microhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/microhost/internal/domain/source"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

// fetchConcurrency bounds parallel asset fetches per mount
const fetchConcurrency = 6

type styleText struct {
	url  string
	text string
}

// bundle is an entry document with its assets resolved to text
type bundle struct {
	src     *source.Source
	styles  []styleText
	scripts []sandbox.Script
	errs    []error
}

// mount renders and runs inst inside el. Load failures leave the instance
// in LOAD_FAILED; script failures are reported but do not stop the mount.
func (m *Manager) mount(ctx context.Context, inst *Application, el *container.Element) error {
	if m.scheduler != nil {
		done := m.scheduler.Busy()
		defer done()
	}

	inst.op.Lock()
	defer inst.op.Unlock()

	timer := monitoring.NewTimer(m.metrics, "mount")
	logger := m.logger.ForApp(inst.name)

	if cur, ok := m.registry.Get(inst.name); !el.Connected() || !ok || cur != inst {
		timer.Stop("cancelled")
		return nil
	}

	inst.setContainer(el)
	m.emit(inst, el, types.EventBeforeMount, nil)
	m.transition(inst, types.StateLoading)

	b, err := m.load(ctx, inst)
	if err != nil {
		m.loadFailed(inst, el, err)
		timer.Stop("error")
		return err
	}
	for _, assetErr := range b.errs {
		inst.setErr(assetErr)
		m.emit(inst, el, types.EventError, assetErr)
	}

	sb := m.ensureSandbox(inst, b.src)
	if err := sb.Start(); err != nil {
		m.loadFailed(inst, el, err)
		timer.Stop("error")
		return err
	}

	opts := inst.Options()
	if err := el.SetContent(render(opts, sb.Styles(), b)); err != nil {
		m.loadFailed(inst, el, err)
		timer.Stop("error")
		return err
	}
	sb.SetDOM(sandbox.NewDOMScope(el.Selection(), el.Locker()))

	inst.mu.RLock()
	umdReady := inst.umdReady
	inst.mu.RUnlock()

	if !(opts.UMD && umdReady) {
		for _, script := range b.scripts {
			if _, err := sb.Execute(ctx, script); err != nil {
				inst.setErr(err)
				m.emit(inst, el, types.EventError, err)
			}
		}
	}
	if opts.UMD {
		called, err := sb.CallExport(ctx, "mount")
		if err != nil {
			inst.setErr(err)
			m.emit(inst, el, types.EventError, err)
		}
		inst.mu.Lock()
		inst.umdReady = called
		inst.mu.Unlock()
	}

	inst.setKeepAlive(types.KeepAliveNone)
	m.transition(inst, types.StateMounted)
	logger.Info("Application mounted",
		zap.String("url", opts.URL),
		zap.Int("scripts", len(b.scripts)),
		zap.Int("styles", len(b.styles)),
	)
	m.emit(inst, el, types.EventMounted, nil)
	timer.Stop("success")
	return nil
}

func (m *Manager) loadFailed(inst *Application, el *container.Element, err error) {
	inst.setErr(err)
	m.transition(inst, types.StateLoadFailed)
	m.logger.ForApp(inst.name).Error("Failed to load application", zap.Error(err))
	m.emit(inst, el, types.EventError, err)
}

// load fetches and extracts the entry document and resolves every asset.
// All fetches go through the shared cache.
func (m *Manager) load(ctx context.Context, inst *Application) (*bundle, error) {
	opts := inst.Options()

	inst.mu.RLock()
	src := inst.source
	inst.mu.RUnlock()

	if src == nil || src.URL != opts.URL {
		entry, err := m.cache.Get(ctx, opts.URL, opts.Fetch)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch entry: %w", err)
		}
		src, err = source.Extract(opts.URL, entry.Content, source.Options{
			SSR:     opts.SSR,
			Exclude: opts.ExcludeAssets,
		})
		if err != nil {
			return nil, err
		}
		inst.mu.Lock()
		inst.source = src
		inst.mu.Unlock()
	}

	m.mu.RLock()
	globalStyles := append([]string{}, m.globalStyles...)
	globalScripts := append([]string{}, m.globalScripts...)
	m.mu.RUnlock()

	urls := append(append(globalStyles, globalScripts...), src.AssetURLs()...)
	texts, errs := m.fetchAll(ctx, urls, opts.Fetch)

	b := &bundle{src: src}
	for _, u := range globalStyles {
		if text, ok := texts[u]; ok {
			b.styles = append(b.styles, styleText{url: u, text: text})
		}
	}
	for _, s := range src.Styles {
		if s.Inline() {
			b.styles = append(b.styles, styleText{text: s.Text})
			continue
		}
		if text, ok := texts[s.URL]; ok {
			b.styles = append(b.styles, styleText{url: s.URL, text: text})
		}
	}

	for _, u := range globalScripts {
		if text, ok := texts[u]; ok {
			b.scripts = append(b.scripts, sandbox.Script{URL: u, Source: text, Inline: opts.Inline})
		}
	}
	for i, s := range src.Scripts {
		script := sandbox.Script{URL: s.URL, Module: s.Module, Inline: opts.Inline}
		if s.Inline() {
			script.URL = fmt.Sprintf("%s#inline-script-%d", src.URL, i)
			script.Source = s.Text
			script.Inline = true
		} else {
			text, ok := texts[s.URL]
			if !ok {
				continue
			}
			script.Source = text
		}
		b.scripts = append(b.scripts, script)
	}

	b.errs = errs
	return b, nil
}

// fetchAll resolves urls through the cache. Failed assets are reported
// and left out of the result.
func (m *Manager) fetchAll(ctx context.Context, urls []string, fetch types.FetchFunc) (map[string]string, []error) {
	results := make([]string, len(urls))
	failures := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			entry, err := m.cache.Get(ctx, u, fetch)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = entry.Text()
			return nil
		})
	}
	_ = g.Wait()

	texts := make(map[string]string, len(urls))
	var errs []error
	for i, u := range urls {
		if failures[i] != nil {
			errs = append(errs, failures[i])
			continue
		}
		texts[u] = results[i]
	}
	return texts, errs
}

// ensureSandbox returns the retained context or creates one
func (m *Manager) ensureSandbox(inst *Application, src *source.Source) *sandbox.Context {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.sandbox != nil && !inst.sandbox.Released() {
		return inst.sandbox
	}
	if inst.channel == nil {
		inst.channel = m.events.Channel(inst.name)
	}

	opts := inst.options
	inst.sandbox = sandbox.New(sandbox.Options{
		Name:          inst.name,
		URL:           opts.URL,
		PublicPath:    src.PublicPath,
		BaseRoute:     opts.BaseRoute,
		EscapeGlobals: opts.EscapeGlobals,
		UMD:           opts.UMD,
		Raw:           opts.DisableSandbox,
	}, sandbox.Env{
		Config:  m.sbConfig,
		Shared:  m.shared,
		Channel: inst.channel,
		Global:  m.events.Global(),
		Pool:    m.pool,
		Logger:  m.logger,
		Metrics: m.metrics,
	})
	return inst.sandbox
}

// render builds the container content. Style sheets are scoped to the
// container unless scoping is disabled or shadow mode isolates them.
func render(opts types.AppOptions, scoper *sandbox.StyleScoper, b *bundle) string {
	var out strings.Builder
	out.WriteString("<" + sandbox.HeadTag + ">")
	for _, st := range b.styles {
		text := st.text
		if !opts.DisableScopeCSS && !opts.Shadow {
			text = scoper.Scope(text, st.url)
		}
		out.WriteString("<style")
		if st.url != "" {
			out.WriteString(` data-origin-href="` + html.EscapeString(st.url) + `"`)
		}
		out.WriteString(">")
		out.WriteString(text)
		out.WriteString("</style>")
	}
	out.WriteString(b.src.Head)
	out.WriteString("</" + sandbox.HeadTag + ">")
	out.WriteString("<" + sandbox.BodyTag + ">")
	out.WriteString(b.src.Body)
	out.WriteString("</" + sandbox.BodyTag + ">")
	return out.String()
}

// hide moves the rendered DOM out of el and keeps the instance alive.
// Callers hold inst.op.
func (m *Manager) hide(inst *Application, el *container.Element) {
	nodes := el.TakeChildren()

	inst.mu.Lock()
	inst.preserved = nodes
	inst.keepAlive = types.KeepAliveHidden
	inst.mu.Unlock()

	m.updateMounted()
	m.logger.ForApp(inst.name).Info("Application hidden")
	m.emit(inst, el, types.EventAfterHidden, nil)
}

// show reveals a hidden instance inside el without reloading it
func (m *Manager) show(ctx context.Context, inst *Application, el *container.Element) error {
	inst.op.Lock()
	if inst.KeepAliveState() != types.KeepAliveHidden {
		// Torn down while waiting for the lock
		inst.op.Unlock()
		if cur, ok := m.registry.Get(inst.name); !ok || cur != inst {
			return m.create(ctx, inst.Options(), el)
		}
		return m.mount(ctx, inst, el)
	}
	defer inst.op.Unlock()

	m.emit(inst, el, types.EventBeforeShow, nil)
	el.AdoptChildren(inst.takePreserved())
	inst.setContainer(el)
	if sb := inst.Sandbox(); sb != nil {
		sb.SetDOM(sandbox.NewDOMScope(el.Selection(), el.Locker()))
	}
	inst.setKeepAlive(types.KeepAliveShown)
	m.updateMounted()

	m.logger.ForApp(inst.name).Info("Application shown")
	m.emit(inst, el, types.EventAfterShow, nil)
	return nil
}

// unmount tears inst down after its container left the page. Callers hold
// inst.op.
func (m *Manager) unmount(ctx context.Context, inst *Application, el *container.Element, stop sandbox.StopOptions) error {
	timer := monitoring.NewTimer(m.metrics, "unmount")
	opts := inst.Options()

	if sb := inst.Sandbox(); sb != nil {
		if opts.UMD {
			if _, err := sb.CallExport(ctx, "unmount"); err != nil {
				m.emit(inst, el, types.EventError, err)
			}
		}
		sb.Stop(stop)
	}
	el.Clear()

	inst.mu.Lock()
	inst.preserved = nil
	inst.keepAlive = types.KeepAliveNone
	inst.container = nil
	if !opts.UMD || stop.Destroy {
		inst.umdReady = false
	}
	ch := inst.channel
	inst.mu.Unlock()

	if stop.ClearData && ch != nil {
		ch.ClearData()
	}
	m.transition(inst, types.StateUnmount)
	if stop.Destroy {
		m.destroy(inst)
	}

	m.logger.ForApp(inst.name).Info("Application unmounted",
		zap.Bool("destroy", stop.Destroy),
		zap.Bool("clear_data", stop.ClearData),
	)
	m.emit(inst, el, types.EventUnmount, nil)
	timer.Stop("success")
	return nil
}
