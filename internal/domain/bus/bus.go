package bus

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/monitoring"
)

// GlobalChannel is the name of the channel shared by every application
const GlobalChannel = "__global__"

// DataEvent is the event the host uses to push data to one application
const DataEvent = "data"

// DispatchEvent is the event an application uses to send data to the host
const DispatchEvent = "dispatch"

// Callback receives a published payload
type Callback func(data interface{})

// Unsubscribe removes the subscription it was returned for. Calling it
// more than once is safe.
type Unsubscribe func()

type subscriber struct {
	id   string
	fn   Callback
	once bool
}

// Channel is a publish/subscribe channel with replay of the last payload
type Channel struct {
	name    string
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu          sync.Mutex
	subscribers map[string][]*subscriber // Protected by mu
	last        map[string]interface{}   // Protected by mu
}

func newChannel(name string, logger *logging.Logger, metrics *monitoring.Metrics) *Channel {
	return &Channel{
		name:        name,
		logger:      logger,
		metrics:     metrics,
		subscribers: make(map[string][]*subscriber),
		last:        make(map[string]interface{}),
	}
}

// Name returns the channel name
func (c *Channel) Name() string {
	return c.name
}

// Publish stores data as the latest payload for event and delivers it to
// current subscribers in subscription order.
func (c *Channel) Publish(event string, data interface{}) {
	c.mu.Lock()
	c.last[event] = data
	subs := append([]*subscriber(nil), c.subscribers[event]...)
	c.dropOnce(event)
	c.mu.Unlock()

	c.metrics.RecordPublish(c.name)
	for _, sub := range subs {
		c.deliver(event, sub, data)
	}
}

// Subscribe registers fn for event. If a payload was already published it
// is delivered to fn before Subscribe returns.
func (c *Channel) Subscribe(event string, fn Callback) Unsubscribe {
	return c.subscribe(event, fn, false)
}

// SubscribeOnce registers fn for a single delivery. A stored payload counts
// as that delivery.
func (c *Channel) SubscribeOnce(event string, fn Callback) Unsubscribe {
	return c.subscribe(event, fn, true)
}

func (c *Channel) subscribe(event string, fn Callback, once bool) Unsubscribe {
	sub := &subscriber{id: uuid.NewString(), fn: fn, once: once}

	c.mu.Lock()
	data, replay := c.last[event]
	if !(once && replay) {
		c.subscribers[event] = append(c.subscribers[event], sub)
	}
	c.mu.Unlock()

	if replay {
		c.deliver(event, sub, data)
	}

	return func() { c.remove(event, sub.id) }
}

// UnsubscribeAll removes every subscriber of event, whoever registered it,
// and reports how many were removed. The stored payload is kept.
func (c *Channel) UnsubscribeAll(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.subscribers[event])
	delete(c.subscribers, event)
	return n
}

// Last returns the latest payload published for event
func (c *Channel) Last(event string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.last[event]
	return data, ok
}

// Events returns the names of events that have a stored payload
func (c *Channel) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.last))
	for name := range c.last {
		names = append(names, name)
	}
	return names
}

// SubscriberCount returns the number of subscribers for event
func (c *Channel) SubscriberCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers[event])
}

// ClearListeners drops all subscribers but keeps stored payloads
func (c *Channel) ClearListeners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = make(map[string][]*subscriber)
}

// ClearData drops stored payloads but keeps subscribers
func (c *Channel) ClearData() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]interface{})
}

// Clear drops subscribers and stored payloads
func (c *Channel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = make(map[string][]*subscriber)
	c.last = make(map[string]interface{})
}

func (c *Channel) remove(event, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subscribers[event]
	for i, sub := range subs {
		if sub.id == id {
			c.subscribers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(c.subscribers[event]) == 0 {
		delete(c.subscribers, event)
	}
}

// dropOnce must be called with mu held
func (c *Channel) dropOnce(event string) {
	subs := c.subscribers[event]
	kept := subs[:0:0]
	for _, sub := range subs {
		if !sub.once {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(c.subscribers, event)
		return
	}
	c.subscribers[event] = kept
}

func (c *Channel) deliver(event string, sub *subscriber, data interface{}) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Bus subscriber panicked",
				zap.String("channel", c.name),
				zap.String("event", event),
				zap.Any("panic", r),
			)
		}
	}()
	sub.fn(data)
}

// EventCenter owns every application channel plus the global channel
type EventCenter struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics
	global  *Channel

	mu       sync.RWMutex
	channels map[string]*Channel // Protected by mu
}

// NewEventCenter creates an event center
func NewEventCenter(logger *logging.Logger) *EventCenter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &EventCenter{
		logger:   logger,
		global:   newChannel(GlobalChannel, logger, nil),
		channels: make(map[string]*Channel),
	}
}

// WithMetrics adds metrics tracking to the event center
func (e *EventCenter) WithMetrics(metrics *monitoring.Metrics) *EventCenter {
	e.metrics = metrics
	e.global.metrics = metrics
	return e
}

// Global returns the shared channel
func (e *EventCenter) Global() *Channel {
	return e.global
}

// Channel returns the channel for an application, creating it on first use
func (e *EventCenter) Channel(name string) *Channel {
	e.mu.RLock()
	ch, ok := e.channels[name]
	e.mu.RUnlock()
	if ok {
		return ch
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok = e.channels[name]; ok {
		return ch
	}
	ch = newChannel(name, e.logger, e.metrics)
	e.channels[name] = ch
	return ch
}

// Lookup returns an existing channel without creating one
func (e *EventCenter) Lookup(name string) (*Channel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ch, ok := e.channels[name]
	return ch, ok
}

// Remove clears and forgets the channel of a destroyed application
func (e *EventCenter) Remove(name string) {
	e.mu.Lock()
	ch, ok := e.channels[name]
	delete(e.channels, name)
	e.mu.Unlock()

	if ok {
		ch.Clear()
	}
}
