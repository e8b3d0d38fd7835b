// Package bus provides the inter-application communication bus.
//
// Every application gets its own Channel plus access to one Global channel
// shared by all applications and the host. Publishing stores the payload as
// the latest value for that event, and a subscriber added later receives it
// immediately, so a late-mounting application sees state that the host or
// its siblings already established.
//
// Components:
//   - EventCenter: owns the per-application channels and the global one
//   - Channel: event name -> ordered subscribers + last payload
//
// Example Usage:
//
//	center := bus.NewEventCenter(logger)
//	center.Global().Publish("theme", "dark")
//	unsubscribe := center.Channel("shop").Subscribe(bus.DataEvent, func(data interface{}) {
//	    render(data)
//	})
//	defer unsubscribe()
package bus
