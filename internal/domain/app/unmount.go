package app

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/microhost/internal/domain/container"
	"github.com/GriffinCanCode/microhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

// UnmountApp tears down the named application as the host requests.
//
// An unknown name is logged and reported as (false, nil). Unmounted and
// prefetch-only instances are destroyed directly when opts.Destroy is set
// and are otherwise left alone. A hidden keep-alive instance is destroyed
// or has its alive state cleared, each time resolving only after the
// unmount event. A visible instance has its container removed with
// temporary markers applied; the call resolves on the unmount or
// afterhidden event.
func (m *Manager) UnmountApp(ctx context.Context, name string, opts types.UnmountOptions) (bool, error) {
	normalized := types.FormatAppName(name)
	inst, ok := m.registry.Get(normalized)
	if !ok {
		m.logger.Warn("Unmount requested for unknown application", zap.String("app", name))
		return false, nil
	}

	timer := monitoring.NewTimer(m.metrics, "unmount_app")
	err := m.unmountApp(ctx, inst, opts)
	if err != nil {
		timer.Stop("error")
		return true, err
	}
	timer.Stop("success")
	return true, nil
}

func (m *Manager) unmountApp(ctx context.Context, inst *Application, opts types.UnmountOptions) error {
	snap := inst.snapshot()

	switch {
	case snap.keepAlive == types.KeepAliveHidden:
		switch {
		case opts.Destroy:
			return m.awaitTerminal(ctx, snap.container, func() error {
				m.destroyHidden(inst)
				return nil
			})
		case opts.ClearAliveState:
			return m.awaitTerminal(ctx, snap.container, func() error {
				m.clearHidden(inst)
				return nil
			})
		}
		return nil

	case snap.container != nil && snap.container.Connected():
		el := snap.container
		restore := applyMarkers(el, opts)
		defer restore()
		return m.awaitTerminal(ctx, el, func() error {
			return removeContainer(ctx, inst, el)
		})

	default:
		// Unmounted, prefetch-only or failed instances have no container
		// to remove. Destroy waits behind any in-flight load.
		if opts.Destroy {
			inst.op.Lock()
			if cur, ok := m.registry.Get(inst.name); ok && cur == inst {
				m.destroy(inst)
			}
			inst.op.Unlock()
		}
		return nil
	}
}

// UnmountAll unmounts every registered application one at a time, in
// registration order. The first error is returned after all were tried.
func (m *Manager) UnmountAll(ctx context.Context, opts types.UnmountOptions) error {
	var first error
	for _, name := range m.registry.Names() {
		if _, err := m.UnmountApp(ctx, name, opts); err != nil {
			m.logger.Warn("Unmount failed", zap.String("app", name), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// destroyHidden destroys a hidden keep-alive instance
func (m *Manager) destroyHidden(inst *Application) {
	inst.op.Lock()
	defer inst.op.Unlock()

	el := inst.Container()
	if inst.KeepAliveState() != types.KeepAliveHidden {
		m.emit(inst, el, types.EventUnmount, nil)
		return
	}
	if sb := inst.Sandbox(); sb != nil && inst.Options().UMD {
		if _, err := sb.CallExport(context.Background(), "unmount"); err != nil {
			m.emit(inst, el, types.EventError, err)
		}
	}
	m.destroy(inst)
	m.logger.ForApp(inst.name).Info("Hidden application destroyed")
	m.emit(inst, el, types.EventUnmount, nil)
}

// clearHidden drops the preserved state of a hidden keep-alive instance.
// The registry entry and its sandbox context survive.
func (m *Manager) clearHidden(inst *Application) {
	inst.op.Lock()
	defer inst.op.Unlock()

	el := inst.Container()
	if inst.KeepAliveState() != types.KeepAliveHidden {
		m.emit(inst, el, types.EventUnmount, nil)
		return
	}

	opts := inst.Options()
	if sb := inst.Sandbox(); sb != nil {
		if opts.UMD {
			if _, err := sb.CallExport(context.Background(), "unmount"); err != nil {
				m.emit(inst, el, types.EventError, err)
			}
		}
		sb.Stop(sandbox.StopOptions{})
	}

	inst.mu.Lock()
	inst.preserved = nil
	inst.keepAlive = types.KeepAliveNone
	inst.container = nil
	if !opts.UMD {
		inst.umdReady = false
	}
	inst.mu.Unlock()

	if el != nil {
		el.RemoveAttribute(types.AttrKeepAlive)
	}
	m.transition(inst, types.StateUnmount)
	m.logger.ForApp(inst.name).Info("Keep-alive state cleared")
	m.emit(inst, el, types.EventUnmount, nil)
}

// errDetached reports that the container was removed by someone else
// and that removal has already finished its teardown
var errDetached = errors.New("container already detached")

// removeContainer removes el. If a concurrent caller got there first its
// terminal event may have fired before anyone listened, so wait for that
// teardown to release the instance and report errDetached.
func removeContainer(ctx context.Context, inst *Application, el *container.Element) error {
	err := el.Remove(ctx)
	if errors.Is(err, container.ErrNotConnected) {
		inst.op.Lock()
		inst.op.Unlock()
		return errDetached
	}
	return err
}

// awaitTerminal runs trigger and waits for the unmount or afterhidden
// event on el. A nil el has nothing to wait on.
func (m *Manager) awaitTerminal(ctx context.Context, el *container.Element, trigger func() error) error {
	if el == nil {
		return trigger()
	}

	done := make(chan struct{})
	var once sync.Once
	fire := func(container.Event) {
		once.Do(func() { close(done) })
	}
	unmountID := el.AddEventListener(types.EventUnmount, fire)
	hiddenID := el.AddEventListener(types.EventAfterHidden, fire)
	defer func() {
		el.RemoveEventListener(types.EventUnmount, unmountID)
		el.RemoveEventListener(types.EventAfterHidden, hiddenID)
	}()

	// The trigger may block behind an in-flight operation
	errCh := make(chan error, 1)
	go func() { errCh <- trigger() }()

	for {
		select {
		case <-done:
			return nil
		case err := <-errCh:
			if errors.Is(err, errDetached) {
				return nil
			}
			if err != nil {
				return err
			}
			errCh = nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type marker struct {
	name    string
	value   string
	present bool
}

// applyMarkers sets the teardown markers opts asks for and returns a
// function restoring every marker to its value before the call
func applyMarkers(el *container.Element, opts types.UnmountOptions) func() {
	names := []string{types.AttrDestroy, types.AttrDestory, types.AttrKeepAlive, types.AttrClearData}
	saved := make([]marker, 0, len(names))
	for _, name := range names {
		v, ok := el.GetAttribute(name)
		saved = append(saved, marker{name: name, value: v, present: ok})
	}

	if opts.Destroy {
		el.SetAttribute(types.AttrDestroy, "")
	}
	if opts.ClearAliveState {
		el.RemoveAttribute(types.AttrKeepAlive)
	}
	if opts.ClearData {
		el.SetAttribute(types.AttrClearData, "")
	}

	return func() {
		for _, mk := range saved {
			if mk.present {
				el.SetAttribute(mk.name, mk.value)
			} else {
				el.RemoveAttribute(mk.name)
			}
		}
	}
}
