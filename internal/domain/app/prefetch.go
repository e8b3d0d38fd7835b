package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/microhost/internal/domain/assets"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

// PrefetchItem names an application to load during idle time
type PrefetchItem struct {
	Name            string `json:"name" binding:"required"`
	URL             string `json:"url" binding:"required"`
	DisableScopeCSS bool   `json:"disable_scope_css,omitempty"`
	DisableSandbox  bool   `json:"disable_sandbox,omitempty"`

	Fetch types.FetchFunc `json:"-"`
}

// Prefetch registers prefetch-only instances and queues their loads on
// the idle scheduler. Names that are already registered are skipped.
// It never waits for a load.
func (m *Manager) Prefetch(ctx context.Context, items []PrefetchItem) error {
	var errs []error
	for _, item := range items {
		base := m.declaredOptions(types.FormatAppName(item.Name))
		opts := base
		opts.Name = item.Name
		opts.URL = item.URL
		opts.DisableScopeCSS = item.DisableScopeCSS || base.DisableScopeCSS
		opts.DisableSandbox = item.DisableSandbox || base.DisableSandbox
		if item.Fetch != nil {
			opts.Fetch = item.Fetch
		}

		normalized, err := config.NormalizeOptions(opts)
		if err != nil {
			m.logger.Warn("Invalid prefetch entry", zap.String("name", item.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		inst := newApplication(normalized, true)
		inst.channel = m.events.Channel(normalized.Name)
		if _, loaded := m.registry.LoadOrStore(normalized.Name, inst); loaded {
			continue
		}
		m.metrics.IncAppsCreated()

		if err := m.schedule(ctx, assets.Job{
			Name: "prefetch:" + normalized.Name,
			Run: func(ctx context.Context) error {
				return m.preload(ctx, inst)
			},
		}); err != nil {
			errs = append(errs, fmt.Errorf("prefetch %s: %w", normalized.Name, err))
		}
	}
	return errors.Join(errs...)
}

// preload fetches an instance's entry and assets into the cache
func (m *Manager) preload(ctx context.Context, inst *Application) error {
	inst.op.Lock()
	defer inst.op.Unlock()

	if cur, ok := m.registry.Get(inst.name); !ok || cur != inst || !inst.IsPrefetch() {
		return nil
	}

	m.transition(inst, types.StateLoading)
	b, err := m.load(ctx, inst)
	if err != nil {
		inst.setErr(err)
		m.transition(inst, types.StateLoadFailed)
		m.logger.ForApp(inst.name).Warn("Prefetch failed", zap.Error(err))
		return err
	}
	m.logger.ForApp(inst.name).Debug("Application prefetched",
		zap.Int("scripts", len(b.scripts)),
		zap.Int("styles", len(b.styles)),
	)
	return nil
}

// PreloadGlobalAssets registers style sheets and scripts shared by every
// application and warms them during idle time. Sheets are told apart by
// their .css extension.
func (m *Manager) PreloadGlobalAssets(ctx context.Context, urls []string) error {
	var fresh []string

	m.mu.Lock()
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || slices.Contains(m.globalStyles, u) || slices.Contains(m.globalScripts, u) {
			continue
		}
		if isStyleSheet(u) {
			m.globalStyles = append(m.globalStyles, u)
		} else {
			m.globalScripts = append(m.globalScripts, u)
		}
		fresh = append(fresh, u)
	}
	m.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return m.schedule(ctx, assets.Job{Name: "global-assets", URLs: fresh})
}

// GlobalAssets returns the registered shared style sheets and scripts
func (m *Manager) GlobalAssets() (styles, scripts []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.globalStyles...), append([]string{}, m.globalScripts...)
}

// schedule queues job on the idle scheduler, or runs it in the background
// when the manager has none
func (m *Manager) schedule(ctx context.Context, job assets.Job) error {
	if m.scheduler != nil {
		return m.scheduler.Enqueue(job)
	}

	go func() {
		bg := context.WithoutCancel(ctx)
		if job.Run != nil {
			_ = job.Run(bg)
			return
		}
		for _, u := range job.URLs {
			_, _ = m.cache.Get(bg, u, job.Fetch)
		}
	}()
	return nil
}

func isStyleSheet(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".css")
}
