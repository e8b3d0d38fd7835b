package sandbox

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/microhost/internal/domain/bus"
)

// listener is a bus subscription made by application code
type listener struct {
	channel *bus.Channel
	fn      goja.Value
	unsub   bus.Unsubscribe
}

// setupGlobals installs the host objects on a fresh VM. Must run on the
// loop.
func (c *Context) setupGlobals() error {
	vm := c.vm
	c.window = vm.NewDynamicObject(&window{c: c})

	globals := map[string]interface{}{
		"__MICRO_APP_WINDOW__":      c.window,
		"__MICRO_APP_ENVIRONMENT__": true,
		"__MICRO_APP_NAME__":        c.opts.Name,
		"__MICRO_APP_PUBLIC_PATH__": c.opts.PublicPath,
		"__MICRO_APP_BASE_ROUTE__":  c.opts.BaseRoute,
		"setTimeout":                c.makeTimerFunc(false),
		"setInterval":               c.makeTimerFunc(true),
		"clearTimeout":              c.clearTimer,
		"clearInterval":             c.clearTimer,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return err
		}
	}

	if c.config.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			_ = console.Set(level, c.makeConsoleFunc(level))
		}
		if err := vm.Set("console", console); err != nil {
			return err
		}
	}

	if err := vm.Set("document", c.makeDocument()); err != nil {
		return err
	}
	return vm.Set("microApp", c.makeMicroApp())
}

// makeConsoleFunc creates a console function
func (c *Context) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		c.mu.Lock()
		c.console = append(c.console, LogEntry{
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
		c.mu.Unlock()

		switch level {
		case "error":
			c.logger.Error(msg, zap.String("source", "console"))
		case "warn":
			c.logger.Warn(msg, zap.String("source", "console"))
		default:
			c.logger.Debug(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

func (c *Context) makeTimerFunc(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return goja.Undefined()
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		var args []interface{}
		for _, a := range call.Arguments[min(2, len(call.Arguments)):] {
			args = append(args, a)
		}

		c.nextTimer++
		id := c.nextTimer
		var fire func()
		fire = func() {
			c.loop.post(func() {
				if _, ok := c.timers[id]; !ok {
					return
				}
				if repeat {
					c.timers[id] = time.AfterFunc(delay, fire)
				} else {
					delete(c.timers, id)
				}
				c.call(fn, args...)
			})
		}
		c.timers[id] = time.AfterFunc(delay, fire)
		return c.vm.ToValue(id)
	}
}

func (c *Context) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	return goja.Undefined()
}

// makeMicroApp builds the bus bridge exposed to application code
func (c *Context) makeMicroApp() *goja.Object {
	vm := c.vm
	obj := vm.NewObject()
	_ = obj.Set("appName", c.opts.Name)

	if c.channel != nil {
		_ = obj.Set("getData", func() interface{} {
			data, _ := c.channel.Last(bus.DataEvent)
			return data
		})
		_ = obj.Set("addDataListener", c.makeSubscribe(c.channel, bus.DataEvent))
		_ = obj.Set("removeDataListener", c.makeUnsubscribe(c.channel))
		_ = obj.Set("clearDataListener", func() { c.dropChannelListeners(c.channel) })
		_ = obj.Set("dispatch", func(data goja.Value) {
			c.channel.Publish(bus.DispatchEvent, exportValue(data))
		})
	}

	if c.global != nil {
		_ = obj.Set("getGlobalData", func() interface{} {
			data, _ := c.global.Last(bus.DataEvent)
			return data
		})
		_ = obj.Set("addGlobalDataListener", c.makeSubscribe(c.global, bus.DataEvent))
		_ = obj.Set("removeGlobalDataListener", c.makeUnsubscribe(c.global))
		_ = obj.Set("clearGlobalDataListener", func() { c.dropChannelListeners(c.global) })
		_ = obj.Set("setGlobalData", func(data goja.Value) {
			c.global.Publish(bus.DataEvent, exportValue(data))
		})
	}
	return obj
}

func (c *Context) makeSubscribe(ch *bus.Channel, event string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fnValue := call.Argument(0)
		fn, ok := goja.AssertFunction(fnValue)
		if !ok {
			panic(c.vm.NewTypeError("listener must be a function"))
		}
		l := &listener{channel: ch, fn: fnValue}
		c.listeners = append(c.listeners, l)
		l.unsub = ch.Subscribe(event, func(data interface{}) {
			c.invoke(fn, data)
		})
		return goja.Undefined()
	}
}

func (c *Context) makeUnsubscribe(ch *bus.Channel) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		target := call.Argument(0)
		kept := c.listeners[:0]
		for _, l := range c.listeners {
			if l.channel == ch && l.fn.SameAs(target) {
				l.unsub()
				continue
			}
			kept = append(kept, l)
		}
		c.listeners = kept
		return goja.Undefined()
	}
}

func (c *Context) dropChannelListeners(ch *bus.Channel) {
	kept := c.listeners[:0]
	for _, l := range c.listeners {
		if l.channel == ch {
			l.unsub()
			continue
		}
		kept = append(kept, l)
	}
	c.listeners = kept
}

func (c *Context) dropListeners() {
	for _, l := range c.listeners {
		l.unsub()
	}
	c.listeners = nil
}

// ListenerCount returns the number of bus listeners application code holds
func (c *Context) ListenerCount() int {
	n := 0
	c.loop.call(func() { n = len(c.listeners) })
	return n
}

// makeDocument builds a document whose lookups stay inside the container
func (c *Context) makeDocument() *goja.Object {
	vm := c.vm
	doc := vm.NewObject()

	query := func(find func(d *DOMScope, arg string) *goquery.Selection, all bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			d := c.DOM()
			if d == nil || len(call.Arguments) == 0 {
				return goja.Null()
			}
			arg := call.Argument(0).String()
			return c.elements(d, arg, find(d, arg), all)
		}
	}

	_ = doc.Set("querySelector", query((*DOMScope).Query, false))
	_ = doc.Set("querySelectorAll", query((*DOMScope).QueryAll, true))
	_ = doc.Set("getElementById", query((*DOMScope).ByID, false))
	_ = doc.Set("getElementsByClassName", query((*DOMScope).ByClass, true))
	_ = doc.Set("getElementsByTagName", query((*DOMScope).ByTag, true))

	for name, find := range map[string]func(d *DOMScope) *goquery.Selection{
		"head": (*DOMScope).Head,
		"body": (*DOMScope).Body,
		"documentElement": func(d *DOMScope) *goquery.Selection {
			return d.Root()
		},
	} {
		find := find
		getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
			d := c.DOM()
			if d == nil {
				return goja.Null()
			}
			return c.elements(d, name, find(d), false)
		})
		_ = doc.DefineAccessorProperty(name, getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
	return doc
}

func (c *Context) elements(d *DOMScope, selector string, sel *goquery.Selection, all bool) goja.Value {
	if !all {
		if sel == nil || sel.Length() == 0 {
			return goja.Null()
		}
		return c.elementProxy(d, selector, sel.First())
	}
	items := make([]interface{}, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		items = append(items, c.elementProxy(d, selector, s))
	})
	return c.vm.ToValue(items)
}

// elementProxy exposes one element to application code
func (c *Context) elementProxy(d *DOMScope, selector string, sel *goquery.Selection) goja.Value {
	vm := c.vm
	obj := vm.NewObject()

	tag := ""
	if node := sel.Get(0); node != nil {
		tag = strings.ToUpper(node.Data)
	}
	id, _ := d.Attr(sel, "id")
	class, _ := d.Attr(sel, "class")
	_ = obj.Set("tagName", tag)
	_ = obj.Set("id", id)
	_ = obj.Set("className", class)

	_ = obj.Set("getAttribute", func(name string) interface{} {
		if v, ok := d.Attr(sel, name); ok {
			return v
		}
		return nil
	})
	_ = obj.Set("setAttribute", func(name, value string) {
		d.SetAttr(sel, selector, name, value)
	})
	_ = obj.Set("querySelector", func(s string) goja.Value {
		return c.elements(d, s, d.within(sel, s).First(), false)
	})
	_ = obj.Set("querySelectorAll", func(s string) goja.Value {
		return c.elements(d, s, d.within(sel, s), true)
	})

	_ = obj.DefineAccessorProperty("textContent",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(d.Text(sel)) }),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			d.SetText(sel, selector, call.Argument(0).String())
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = obj.DefineAccessorProperty("innerHTML",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(d.HTML(sel)) }),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			d.SetHTML(sel, selector, call.Argument(0).String())
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	return obj
}
