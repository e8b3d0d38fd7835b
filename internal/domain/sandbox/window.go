package sandbox

import (
	"github.com/dop251/goja"
)

// selfNames resolve to the window object itself
var selfNames = map[string]bool{
	"window":     true,
	"self":       true,
	"globalThis": true,
	"top":        true,
	"parent":     true,
}

// window backs the goja window object with a Scope. Names the VM already
// provides (builtins, injected host objects) resolve from the VM global
// unless the application rebinds them, so that a with-block falls through
// to them; any other name is claimed by the window so writes land in the
// scope instead of the VM global.
type window struct {
	c *Context
}

func (w *window) Get(key string) goja.Value {
	if selfNames[key] {
		return w.c.window
	}
	if v, ok := w.c.scope.Get(key); ok {
		return w.c.toValue(v)
	}
	return w.c.vm.GlobalObject().Get(key)
}

func (w *window) Set(key string, val goja.Value) bool {
	if selfNames[key] {
		return false
	}
	if w.c.scope.Escapes(key) {
		w.c.scope.Set(key, &boundValue{owner: w.c.vm, value: val, export: exportValue(val)})
		return true
	}
	w.c.scope.Set(key, val)
	return true
}

func (w *window) Has(key string) bool {
	if selfNames[key] || w.c.scope.Has(key) {
		return true
	}
	return w.c.vm.GlobalObject().Get(key) == nil
}

func (w *window) Delete(key string) bool {
	w.c.scope.Delete(key)
	return true
}

func (w *window) Keys() []string {
	return w.c.scope.Keys()
}

// toValue converts a scope value for this VM. Values bound by this VM are
// returned as is; values from the shared store are re-wrapped.
func (c *Context) toValue(v interface{}) goja.Value {
	switch vv := v.(type) {
	case goja.Value:
		return vv
	case *boundValue:
		if vv.owner == c.vm {
			return vv.value.(goja.Value)
		}
		return c.vm.ToValue(vv.export)
	}
	return c.vm.ToValue(v)
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
