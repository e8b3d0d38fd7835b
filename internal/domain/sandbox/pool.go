package sandbox

import (
	"errors"
	"sync"

	"github.com/dop251/goja"
)

var ErrPoolClosed = errors.New("sandbox pool is closed")

// Pool keeps hardened VMs ready so a mount does not pay VM start-up.
// VMs are never reused across applications: Release discards the VM and
// refills the pool with a fresh one.
type Pool struct {
	config Config
	vms    chan *goja.Runtime
	size   int

	mu     sync.RWMutex
	closed bool // Protected by mu
}

// NewPool creates a VM pool
func NewPool(config Config, size int) *Pool {
	if size <= 0 {
		size = 4
	}

	pool := &Pool{
		config: config,
		vms:    make(chan *goja.Runtime, size),
		size:   size,
	}
	for i := 0; i < size; i++ {
		pool.vms <- newVM(config)
	}
	return pool
}

// Acquire returns a ready VM, creating one if the pool is empty
func (p *Pool) Acquire() (*goja.Runtime, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	select {
	case vm := <-p.vms:
		return vm, nil
	default:
		return newVM(p.config), nil
	}
}

// Release discards a used VM and tops the pool back up
func (p *Pool) Release(vm *goja.Runtime) {
	if vm != nil {
		vm.Interrupt("released")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.vms <- newVM(p.config):
	default:
	}
}

// Close drops all pooled VMs
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.vms)
	for range p.vms {
	}
}

// Stats returns pool statistics
func (p *Pool) Stats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]interface{}{
		"size":      p.size,
		"available": len(p.vms),
		"closed":    p.closed,
	}
}

// newVM creates a VM with host-only globals removed
func newVM(config Config) *goja.Runtime {
	vm := goja.New()
	if config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStack)
	}

	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())
	return vm
}
